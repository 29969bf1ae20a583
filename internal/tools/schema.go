// Package tools provides the tool adapter registry and argument schemas.
package tools

import (
	"fmt"
	"math"
)

// Param types supported by tool schemas.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeBool   = "bool"
)

// Param describes one argument of a tool.
type Param struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// Definition describes a tool: its name and argument schema. The same schema
// validates fresh proposals and operator-edited arguments.
type Definition struct {
	Name        string
	Description string
	Params      []Param
}

// ValidationError reports malformed tool arguments. It is recoverable: the
// approval gate re-prompts instead of recording a decision.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// Validate checks args against the schema: required keys present, no unknown
// keys, values of the declared type.
func (d Definition) Validate(args map[string]interface{}) error {
	byName := make(map[string]Param, len(d.Params))
	for _, p := range d.Params {
		byName[p.Name] = p
	}

	for key, value := range args {
		p, ok := byName[key]
		if !ok {
			return &ValidationError{Tool: d.Name, Reason: fmt.Sprintf("unknown key %q", key)}
		}
		if err := checkType(p, value); err != nil {
			return &ValidationError{Tool: d.Name, Reason: err.Error()}
		}
	}
	for _, p := range d.Params {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			return &ValidationError{Tool: d.Name, Reason: fmt.Sprintf("missing required key %q", p.Name)}
		}
	}
	return nil
}

func checkType(p Param, value interface{}) error {
	switch p.Type {
	case TypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("key %q must be a string", p.Name)
		}
	case TypeInt:
		switch v := value.(type) {
		case int:
		case int64:
		case float64:
			// JSON numbers decode as float64; accept integral values only.
			if v != math.Trunc(v) {
				return fmt.Errorf("key %q must be an integer", p.Name)
			}
		default:
			return fmt.Errorf("key %q must be an integer", p.Name)
		}
	case TypeBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("key %q must be a boolean", p.Name)
		}
	default:
		return fmt.Errorf("key %q has unsupported schema type %q", p.Name, p.Type)
	}
	return nil
}

// Parameters renders the schema as a JSON-schema object for LLM tool
// definitions.
func (d Definition) Parameters() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Params))
	required := []string{}
	for _, p := range d.Params {
		jsonType := p.Type
		if jsonType == TypeInt {
			jsonType = "integer"
		}
		if jsonType == TypeBool {
			jsonType = "boolean"
		}
		properties[p.Name] = map[string]interface{}{
			"type":        jsonType,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// IntArg reads an integer argument with a default, tolerating JSON float64
// decoding.
func IntArg(args map[string]interface{}, key string, def int) int {
	value, ok := args[key]
	if !ok {
		return def
	}
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// StringArg reads a string argument with a default.
func StringArg(args map[string]interface{}, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

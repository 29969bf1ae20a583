package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Adapter is one external security-testing action. Invoke must honor context
// cancellation; adapters report operational failures through the error return
// and never panic by contract (the executor still recovers if one does).
type Adapter interface {
	Definition() Definition
	Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// Registry holds the tool adapters available to a session.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Duplicate names are a configuration bug.
func (r *Registry) Register(a Adapter) error {
	def := a.Definition()
	if def.Name == "" {
		return fmt.Errorf("adapter has an empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[def.Name]; ok {
		return fmt.Errorf("adapter already registered: %s", def.Name)
	}
	r.adapters[def.Name] = a
	return nil
}

// Get returns the adapter for name, or nil.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// Definitions returns all tool definitions sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.adapters))
	for _, a := range r.adapters {
		defs = append(defs, a.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ValidateArgs checks args against the named tool's schema. Unknown tools are
// a validation failure: the proposal references a tool this session cannot run.
func (r *Registry) ValidateArgs(tool string, args map[string]interface{}) error {
	a := r.Get(tool)
	if a == nil {
		return &ValidationError{Tool: tool, Reason: "unknown tool"}
	}
	return a.Definition().Validate(args)
}

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// ReportAdapter writes engagement reports into a confined output directory.
type ReportAdapter struct {
	OutputDir string
}

func (a *ReportAdapter) Definition() Definition {
	return Definition{
		Name:        "write_report",
		Description: "Write a report file into the engagement output directory.",
		Params: []Param{
			{Name: "filename", Type: TypeString, Required: true, Description: "Report filename, extension optional"},
			{Name: "content", Type: TypeString, Required: true, Description: "Report body"},
			{Name: "format", Type: TypeString, Description: "md, html or json (default md)"},
		},
	}
}

func (a *ReportAdapter) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	format := StringArg(args, "format", "md")
	switch format {
	case "md", "html", "json":
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	name := sanitizeFilename(StringArg(args, "filename", ""))
	if name == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if filepath.Ext(name) == "" {
		name += "." + format
	}

	outputDir := a.OutputDir
	if outputDir == "" {
		outputDir = "reports"
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(outputDir, name)
	if err := ensureWithin(path, outputDir); err != nil {
		return nil, err
	}

	content := StringArg(args, "content", "")
	if format == "json" {
		pretty, err := formatJSON(content)
		if err != nil {
			return nil, fmt.Errorf("content is not valid JSON: %w", err)
		}
		content = pretty
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	return map[string]interface{}{
		"path":  path,
		"bytes": len(content),
	}, nil
}

// sanitizeFilename strips directory components and characters outside the
// portable filename set.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "._")
}

// ensureWithin rejects paths escaping the output directory.
func ensureWithin(path, dir string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if absPath != absDir && !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		return fmt.Errorf("path escapes output directory: %s", path)
	}
	return nil
}

func formatJSON(content string) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(content), "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}

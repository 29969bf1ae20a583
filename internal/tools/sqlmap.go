package tools

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/wardensec/warden/internal/target"
)

// SqlmapAdapter runs sqlmap in non-interactive batch mode.
type SqlmapAdapter struct {
	BinaryPath string
}

func (a *SqlmapAdapter) Definition() Definition {
	return Definition{
		Name:        "sqlmap_tool",
		Description: "Run sqlmap against an authorized URL. Always runs with --batch.",
		Params: []Param{
			{Name: "url", Type: TypeString, Required: true, Description: "Target URL including any injectable parameters"},
			{Name: "arguments", Type: TypeString, Description: "Extra sqlmap arguments, e.g. \"--level 2 --risk 1\""},
		},
	}
}

func (a *SqlmapAdapter) buildArgv(binary, url, extra string) []string {
	argv := []string{binary, "-u", url, "--batch"}
	argv = append(argv, splitArgs(extra)...)
	return argv
}

func (a *SqlmapAdapter) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	url := StringArg(args, "url", "")
	if err := target.ValidateURL(url); err != nil {
		return nil, err
	}

	binary := a.BinaryPath
	if binary == "" {
		path, err := exec.LookPath("sqlmap")
		if err != nil {
			return nil, fmt.Errorf("sqlmap executable not found on PATH")
		}
		binary = path
	}

	result, err := runCommand(ctx, a.buildArgv(binary, url, StringArg(args, "arguments", "")))
	if err != nil {
		return nil, err
	}
	// sqlmap uses non-zero exit codes for some non-fatal conditions; report
	// the outcome and let the operator read the output.
	return map[string]interface{}{
		"command":    result.Command,
		"returncode": result.ReturnCode,
		"stdout":     result.Stdout,
		"stderr":     result.Stderr,
	}, nil
}

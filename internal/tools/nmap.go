package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/wardensec/warden/internal/target"
)

// NmapAdapter runs nmap scans with machine-readable XML output.
type NmapAdapter struct {
	// BinaryPath overrides PATH lookup, mainly for tests.
	BinaryPath string
}

func (a *NmapAdapter) Definition() Definition {
	return Definition{
		Name:        "nmap_tool",
		Description: "Run an nmap scan against an authorized target. Output includes the XML report.",
		Params: []Param{
			{Name: "target", Type: TypeString, Required: true, Description: "Host or CIDR range to scan"},
			{Name: "ports", Type: TypeString, Description: "Port spec, e.g. \"1433\" or \"1-1024\""},
			{Name: "arguments", Type: TypeString, Description: "Extra nmap arguments, e.g. \"-sV -O\""},
		},
	}
}

// buildArgv assembles the nmap command line. Ports go before extra arguments,
// extra arguments before the target.
func (a *NmapAdapter) buildArgv(binary, target, ports, extra, xmlPath string) []string {
	argv := []string{binary}
	if ports != "" {
		argv = append(argv, "-p", ports)
	}
	argv = append(argv, "-oX", xmlPath)
	argv = append(argv, splitArgs(extra)...)
	argv = append(argv, target)
	return argv
}

func (a *NmapAdapter) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	host := StringArg(args, "target", "")
	if err := target.ValidateHost(host); err != nil {
		return nil, err
	}

	binary := a.BinaryPath
	if binary == "" {
		path, err := exec.LookPath("nmap")
		if err != nil {
			return nil, fmt.Errorf("nmap executable not found on PATH")
		}
		binary = path
	}

	xmlFile, err := os.CreateTemp("", "nmap-*.xml")
	if err != nil {
		return nil, fmt.Errorf("create xml output file: %w", err)
	}
	xmlPath := xmlFile.Name()
	xmlFile.Close()
	defer os.Remove(xmlPath)

	argv := a.buildArgv(binary, host, StringArg(args, "ports", ""), StringArg(args, "arguments", ""), xmlPath)
	result, err := runCommand(ctx, argv)
	if err != nil {
		return nil, err
	}
	if result.ReturnCode != 0 {
		return nil, fmt.Errorf("nmap exited with code %d: %s", result.ReturnCode, result.Stderr)
	}

	xmlData, err := os.ReadFile(xmlPath)
	if err != nil {
		return nil, fmt.Errorf("read xml report: %w", err)
	}
	return map[string]interface{}{
		"command":    result.Command,
		"returncode": result.ReturnCode,
		"stdout":     result.Stdout,
		"stderr":     result.Stderr,
		"xml":        string(xmlData),
	}, nil
}

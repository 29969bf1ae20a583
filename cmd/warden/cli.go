// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run a supervised engagement session"`
	Replay   ReplayCmd   `cmd:"" help:"Replay a session's audit trail"`
	Validate ValidateCmd `cmd:"" help:"Validate configuration and target scope"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd runs one engagement session.
type RunCmd struct {
	Objective       string `arg:"" help:"Engagement objective, e.g. 'assess 10.0.0.5 for SQL injection'"`
	Config          string `help:"Config file path (default: ./warden.toml)"`
	ReportDir       string `help:"Report output directory (overrides config)"`
	ApprovalTimeout string `help:"Approval wait bound, e.g. '10m' (overrides config)"`
	Yes             bool   `short:"y" help:"Skip the authorization confirmation prompt"`
}

// ReplayCmd renders a recorded audit trail.
type ReplayCmd struct {
	Session string `arg:"" help:"Audit log file to replay"`
	Verbose bool   `short:"v" help:"Include full event payloads"`
}

// ValidateCmd checks a config file and an optional target.
type ValidateCmd struct {
	Config string `arg:"" optional:"" default:"warden.toml" help:"Config file path"`
	Target string `help:"Target host or URL to validate against scope rules"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}

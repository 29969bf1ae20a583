// Package main is the entry point for the warden CLI.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/vinayprograms/agentkit/credentials"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// globalCreds holds loaded credentials (file > env fallback happens in GetAPIKey)
var globalCreds *credentials.Credentials

func init() {
	if creds, _, err := credentials.Load(); err == nil && creds != nil {
		globalCreds = creds
	}

	// Load .env for any additional env vars
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("warden"),
		kong.Description("Human-supervised penetration testing orchestrator. Every tool invocation requires operator approval and is recorded in an append-only audit trail."),
		kong.UsageOnError(),
		kongVars(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

// Run implements the version command.
func (c *VersionCmd) Run() error {
	fmt.Printf("warden version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}

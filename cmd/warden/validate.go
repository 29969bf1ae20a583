package main

import (
	"fmt"

	"github.com/wardensec/warden/internal/config"
	"github.com/wardensec/warden/internal/phase"
	"github.com/wardensec/warden/internal/target"
)

// Run implements the validate command.
func (c *ValidateCmd) Run() error {
	cfg, err := config.LoadFile(c.Config)
	if err != nil {
		return err
	}
	if _, err := cfg.ApprovalTimeout(); err != nil {
		return err
	}
	if _, err := cfg.RetryBackoff(); err != nil {
		return err
	}
	pipeline := cfg.Engagement.Phases
	if len(pipeline) == 0 {
		pipeline = phase.DefaultPipeline
	}
	if _, err := phase.NewTracker(pipeline); err != nil {
		return err
	}

	if c.Target != "" {
		if hostErr := target.ValidateHost(c.Target); hostErr != nil {
			if urlErr := target.ValidateURL(c.Target); urlErr != nil {
				return fmt.Errorf("target invalid as host (%v) and as URL (%v)", hostErr, urlErr)
			}
		}
		fmt.Printf("target OK: %s\n", c.Target)
	}

	fmt.Printf("config OK: %s (%d phases)\n", c.Config, len(pipeline))
	return nil
}

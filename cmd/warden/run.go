package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/llm"

	"github.com/wardensec/warden/internal/approval"
	"github.com/wardensec/warden/internal/audit"
	"github.com/wardensec/warden/internal/config"
	"github.com/wardensec/warden/internal/executor"
	"github.com/wardensec/warden/internal/orchestrator"
	"github.com/wardensec/warden/internal/phase"
	"github.com/wardensec/warden/internal/planner"
	"github.com/wardensec/warden/internal/tools"
)

// Run implements the run command: wire one session and drive it to its end.
func (c *RunCmd) Run() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	if !c.Yes {
		if !confirmAuthorization(c.Objective) {
			return fmt.Errorf("authorization not confirmed")
		}
	}

	provider, err := createProvider(cfg)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	sessionID := uuid.New().String()
	log, err := audit.Open(cfg.Audit.Dir, sessionID)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer log.Close()

	pipeline := cfg.Engagement.Phases
	if len(pipeline) == 0 {
		pipeline = phase.DefaultPipeline
	}
	tracker, err := phase.NewTracker(pipeline)
	if err != nil {
		return err
	}

	approvalTimeout, err := cfg.ApprovalTimeout()
	if err != nil {
		return err
	}
	gate := approval.New(approval.Config{
		Validator:       registry,
		Timeout:         approvalTimeout,
		MaxInvalidEdits: cfg.Approval.MaxInvalidEdits,
	})

	prompter := newPrompter(gate, os.Stdin, os.Stdout)
	go prompter.loop()

	retryBackoff, err := cfg.RetryBackoff()
	if err != nil {
		return err
	}

	session := orchestrator.New(orchestrator.Config{
		SessionID: sessionID,
		Objective: c.Objective,
		Audit:     log,
		Phases:    tracker,
		Gate:      gate,
		Executor: executor.New(executor.Config{
			Registry:       registry,
			DefaultTimeout: cfg.DefaultToolTimeout(),
			ToolTimeouts:   cfg.ToolTimeouts(),
		}),
		Planner: planner.NewLLMPlanner(planner.LLMConfig{
			Provider:     provider,
			Registry:     registry,
			Objective:    c.Objective,
			Phases:       tracker.Snapshot(),
			MaxRetries:   cfg.LLM.MaxRetries,
			RetryBackoff: retryBackoff,
		}),
		Registry: registry,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("session %s started (audit: %s)\n\n", sessionID, log.Path())
	outcome, runErr := session.Run(ctx)
	fmt.Printf("\nsession ended: %s\n", outcome.Reason)
	if outcome.Summary != "" {
		fmt.Printf("summary: %s\n", outcome.Summary)
	}

	log.Close()
	if events, readErr := audit.ReadSession(log.Path()); readErr == nil {
		fmt.Println("\nevents:")
		printSummary(events)
	}
	return runErr
}

func (c *RunCmd) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if c.Config != "" {
		cfg, err = config.LoadFile(c.Config)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if c.ReportDir != "" {
		cfg.Engagement.ReportDir = c.ReportDir
	}
	if c.ApprovalTimeout != "" {
		cfg.Approval.Timeout = c.ApprovalTimeout
	}
	return cfg, nil
}

// createProvider creates the planning LLM provider.
func createProvider(cfg *config.Config) (llm.Provider, error) {
	providerName := cfg.LLM.Provider
	if providerName == "" {
		providerName = llm.InferProviderFromModel(cfg.LLM.Model)
	}
	if providerName == "" && cfg.LLM.Model == "" {
		return nil, fmt.Errorf("LLM model not configured")
	}

	apiKey := ""
	if globalCreds != nil {
		apiKey = globalCreds.GetAPIKey(providerName)
	}
	if apiKey == "" {
		apiKey = cfg.GetAPIKey()
	}

	provider, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  providerName,
		Model:     cfg.LLM.Model,
		APIKey:    apiKey,
		MaxTokens: cfg.LLM.MaxTokens,
		BaseURL:   cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	return provider, nil
}

// buildRegistry registers the engagement tool suite.
func buildRegistry(cfg *config.Config) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	adapters := []tools.Adapter{
		&tools.NmapAdapter{BinaryPath: cfg.Tools.NmapPath},
		&tools.SqlmapAdapter{BinaryPath: cfg.Tools.SqlmapPath},
		&tools.MSSQLAdapter{MaxRows: cfg.Tools.MSSQLMaxRows},
		&tools.MSSQLCredentialAdapter{},
		&tools.ReportAdapter{OutputDir: cfg.Engagement.ReportDir},
	}
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// confirmAuthorization makes the operator attest to target authorization
// before anything runs.
func confirmAuthorization(objective string) bool {
	fmt.Printf("Objective: %s\n", objective)
	fmt.Print("Confirm you are authorized to test the targets in scope [yes/no]: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

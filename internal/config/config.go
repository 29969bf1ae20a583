// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the warden configuration.
type Config struct {
	Engagement EngagementConfig `toml:"engagement"`
	LLM        LLMConfig        `toml:"llm"`
	Audit      AuditConfig      `toml:"audit"`
	Approval   ApprovalConfig   `toml:"approval"`
	Timeouts   TimeoutsConfig   `toml:"timeouts"`
	Tools      ToolsConfig      `toml:"tools"`
}

// EngagementConfig identifies the engagement and its pipeline.
type EngagementConfig struct {
	// Phases overrides the default pipeline when non-empty.
	Phases []string `toml:"phases"`
	// ReportDir is where write_report output lands.
	ReportDir string `toml:"report_dir"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"`      // Custom API endpoint
	MaxRetries   int    `toml:"max_retries"`   // Max chat attempts (default 3)
	RetryBackoff string `toml:"retry_backoff"` // Initial backoff duration (default "500ms")
}

// AuditConfig contains audit trail settings.
type AuditConfig struct {
	// Dir is the directory audit logs are written to. Default "audit".
	Dir string `toml:"dir"`
}

// ApprovalConfig governs the human decision gate.
type ApprovalConfig struct {
	// Timeout bounds the wait for a decision; empty means wait forever.
	Timeout string `toml:"timeout"`
	// MaxInvalidEdits bounds rejected edits per proposal before abort.
	MaxInvalidEdits int `toml:"max_invalid_edits"`
}

// TimeoutsConfig contains tool execution timeouts in seconds.
type TimeoutsConfig struct {
	Default int            `toml:"default"` // default 600
	PerTool map[string]int `toml:"per_tool"`
}

// ToolsConfig configures the tool adapters.
type ToolsConfig struct {
	NmapPath   string `toml:"nmap_path"`
	SqlmapPath string `toml:"sqlmap_path"`
	// MSSQLMaxRows truncates query output. Default 1000.
	MSSQLMaxRows int `toml:"mssql_max_rows"`
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Engagement: EngagementConfig{
			ReportDir: "reports",
		},
		LLM: LLMConfig{
			MaxTokens:    4096,
			MaxRetries:   3,
			RetryBackoff: "500ms",
		},
		Audit: AuditConfig{
			Dir: "audit",
		},
		Approval: ApprovalConfig{
			MaxInvalidEdits: 3,
		},
		Timeouts: TimeoutsConfig{
			Default: 600,
		},
		Tools: ToolsConfig{
			MSSQLMaxRows: 1000,
		},
	}
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from warden.toml in the current directory,
// falling back to defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, "warden.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}

// ApprovalTimeout parses the configured approval timeout. Empty means no
// timeout.
func (c *Config) ApprovalTimeout() (time.Duration, error) {
	if c.Approval.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Approval.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid approval timeout %q: %w", c.Approval.Timeout, err)
	}
	return d, nil
}

// RetryBackoff parses the configured chat retry backoff.
func (c *Config) RetryBackoff() (time.Duration, error) {
	if c.LLM.RetryBackoff == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.LLM.RetryBackoff)
	if err != nil {
		return 0, fmt.Errorf("invalid retry backoff %q: %w", c.LLM.RetryBackoff, err)
	}
	return d, nil
}

// ToolTimeouts converts the per-tool second counts to durations.
func (c *Config) ToolTimeouts() map[string]time.Duration {
	if len(c.Timeouts.PerTool) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(c.Timeouts.PerTool))
	for tool, secs := range c.Timeouts.PerTool {
		out[tool] = time.Duration(secs) * time.Second
	}
	return out
}

// DefaultToolTimeout returns the default execution timeout.
func (c *Config) DefaultToolTimeout() time.Duration {
	if c.Timeouts.Default <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Timeouts.Default) * time.Second
}

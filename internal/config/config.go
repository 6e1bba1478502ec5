// Package config loads and validates the engine configuration: provider
// credentials, default budgets, recursion policy, interpreter sessions,
// retrieval, and the agent loop. Files are YAML or JSON5, support
// $include composition, and expand ${ENV} references before parsing.
package config

import (
	"fmt"
	"time"
)

// Config is the full configuration surface.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Budgets   BudgetConfig    `yaml:"budgets"`
	Tools     ToolConfig      `yaml:"tools"`
	SubCalls  SubCallConfig   `yaml:"sub_calls"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Agent     AgentConfig     `yaml:"agent"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ProviderConfig selects and authenticates the LLM adapter.
type ProviderConfig struct {
	// Name is the adapter: "anthropic" or "openai".
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Model is the default model for completions.
	Model string `yaml:"model"`

	// MaxTokensPerCall caps output tokens per provider call.
	MaxTokensPerCall int `yaml:"max_tokens_per_call"`

	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// BudgetConfig holds the default per-completion limits.
type BudgetConfig struct {
	MaxDepth       int     `yaml:"max_depth"`
	TokenBudget    int     `yaml:"token_budget"`
	CostBudgetUSD  float64 `yaml:"cost_budget_usd"`
	ToolBudget     int     `yaml:"tool_budget"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// ToolConfig controls tool dispatch.
type ToolConfig struct {
	Parallel    bool `yaml:"parallel"`
	MaxParallel int  `yaml:"max_parallel"`
}

// SubCallConfig is the recursion policy.
type SubCallConfig struct {
	Enabled           bool    `yaml:"enabled"`
	MaxPerTurn        int     `yaml:"max_per_turn"`
	BudgetInheritance float64 `yaml:"budget_inheritance"`

	// MaxCostPerSession caps accumulated sub-call spend per top-level
	// completion. Zero means uncapped.
	MaxCostPerSession float64 `yaml:"max_cost_per_session"`
}

// SessionConfig bounds the interpreter session manager.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxSessions   int           `yaml:"max_sessions"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// CacheSize is the interpreter memoization cache size. Zero disables.
	CacheSize int `yaml:"cache_size"`
}

// AgentConfig holds the agent-loop defaults. The runner applies its own
// hard caps on top of whatever is configured here.
type AgentConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	CostLimitUSD  float64 `yaml:"cost_limit_usd"`
	AutoContext   bool    `yaml:"auto_context"`
	ContextBudget int     `yaml:"context_budget"`

	// TrajectoryLog is a JSONL file path; empty disables event logging.
	TrajectoryLog string `yaml:"trajectory_log"`
}

// RetrievalConfig points at the documentation-retrieval service.
type RetrievalConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	ProjectSlug string        `yaml:"project_slug"`
	AuthToken   string        `yaml:"auth_token"`
	Timeout     time.Duration `yaml:"timeout"`

	// MemoryEnabled additionally registers the memory store/recall tools.
	MemoryEnabled bool `yaml:"memory_enabled"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name: "anthropic",
		},
		Budgets: BudgetConfig{
			MaxDepth:       3,
			TokenBudget:    100_000,
			CostBudgetUSD:  1.00,
			ToolBudget:     50,
			TimeoutSeconds: 300,
		},
		Tools: ToolConfig{
			Parallel:    true,
			MaxParallel: 4,
		},
		SubCalls: SubCallConfig{
			Enabled:           true,
			MaxPerTurn:        5,
			BudgetInheritance: 0.5,
		},
		Sessions: SessionConfig{
			TTL:           30 * time.Minute,
			MaxSessions:   100,
			SweepInterval: time.Minute,
			CacheSize:     256,
		},
		Agent: AgentConfig{
			MaxIterations: 10,
			CostLimitUSD:  1.00,
			ContextBudget: 4000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
	}
}

// applyDefaults fills zero values from Default. Booleans keep whatever
// the file decoded; there is no way to tell "false" from "absent", so
// defaults that are true (parallel tools, sub-calls) apply only when the
// whole section is missing, which the loader preserves via merge order.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Provider.Name == "" {
		c.Provider.Name = d.Provider.Name
	}
	if c.Budgets.MaxDepth == 0 {
		c.Budgets.MaxDepth = d.Budgets.MaxDepth
	}
	if c.Budgets.TokenBudget == 0 {
		c.Budgets.TokenBudget = d.Budgets.TokenBudget
	}
	if c.Budgets.CostBudgetUSD == 0 {
		c.Budgets.CostBudgetUSD = d.Budgets.CostBudgetUSD
	}
	if c.Budgets.ToolBudget == 0 {
		c.Budgets.ToolBudget = d.Budgets.ToolBudget
	}
	if c.Budgets.TimeoutSeconds == 0 {
		c.Budgets.TimeoutSeconds = d.Budgets.TimeoutSeconds
	}
	if c.Tools.MaxParallel == 0 {
		c.Tools.MaxParallel = d.Tools.MaxParallel
	}
	if c.SubCalls.MaxPerTurn == 0 {
		c.SubCalls.MaxPerTurn = d.SubCalls.MaxPerTurn
	}
	if c.SubCalls.BudgetInheritance == 0 {
		c.SubCalls.BudgetInheritance = d.SubCalls.BudgetInheritance
	}
	if c.Sessions.TTL == 0 {
		c.Sessions.TTL = d.Sessions.TTL
	}
	if c.Sessions.MaxSessions == 0 {
		c.Sessions.MaxSessions = d.Sessions.MaxSessions
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = d.Sessions.SweepInterval
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = d.Agent.MaxIterations
	}
	if c.Agent.CostLimitUSD == 0 {
		c.Agent.CostLimitUSD = d.Agent.CostLimitUSD
	}
	if c.Agent.ContextBudget == 0 {
		c.Agent.ContextBudget = d.Agent.ContextBudget
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = d.Metrics.ListenAddr
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: unknown provider %q (anthropic, openai)", c.Provider.Name)
	}
	if c.Budgets.MaxDepth < 0 {
		return fmt.Errorf("config: max_depth must be >= 0")
	}
	if c.Budgets.TokenBudget < 0 || c.Budgets.CostBudgetUSD < 0 || c.Budgets.ToolBudget < 0 {
		return fmt.Errorf("config: budgets must be >= 0")
	}
	if f := c.SubCalls.BudgetInheritance; f <= 0 || f > 1 {
		return fmt.Errorf("config: budget_inheritance must be in (0, 1], got %v", f)
	}
	if c.SubCalls.MaxCostPerSession < 0 {
		return fmt.Errorf("config: max_cost_per_session must be >= 0")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	if c.Retrieval.Enabled && c.Retrieval.BaseURL == "" {
		return fmt.Errorf("config: retrieval.base_url is required when retrieval is enabled")
	}
	return nil
}

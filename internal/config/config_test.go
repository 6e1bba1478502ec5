package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "recurse.yaml", `
provider:
  name: openai
  api_key: sk-test
  model: gpt-4o
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "openai" || cfg.Provider.Model != "gpt-4o" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.Budgets.TokenBudget != 100_000 {
		t.Errorf("token_budget default = %d", cfg.Budgets.TokenBudget)
	}
	if cfg.Budgets.TimeoutSeconds != 300 {
		t.Errorf("timeout default = %d", cfg.Budgets.TimeoutSeconds)
	}
	if cfg.Sessions.TTL != 30*time.Minute {
		t.Errorf("session ttl default = %v", cfg.Sessions.TTL)
	}
	if cfg.SubCalls.BudgetInheritance != 0.5 {
		t.Errorf("budget_inheritance default = %v", cfg.SubCalls.BudgetInheritance)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("RECURSE_TEST_KEY", "sk-from-env")
	dir := t.TempDir()
	path := writeFile(t, dir, "recurse.yaml", `
provider:
  name: anthropic
  api_key: ${RECURSE_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q", cfg.Provider.APIKey)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
provider:
  name: anthropic
budgets:
  token_budget: 50000
  cost_budget_usd: 2.5
`)
	path := writeFile(t, dir, "recurse.yaml", `
$include: base.yaml
budgets:
  token_budget: 80000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// The including file overrides; untouched keys survive the merge.
	if cfg.Budgets.TokenBudget != 80000 {
		t.Errorf("token_budget = %d, want the override", cfg.Budgets.TokenBudget)
	}
	if cfg.Budgets.CostBudgetUSD != 2.5 {
		t.Errorf("cost_budget_usd = %v, want the included value", cfg.Budgets.CostBudgetUSD)
	}
}

func TestLoadIncludeList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "provider.yaml", "provider:\n  name: openai\n")
	writeFile(t, dir, "budgets.yaml", "budgets:\n  token_budget: 12000\n")
	path := writeFile(t, dir, "recurse.yaml", `
$include:
  - provider.yaml
  - budgets.yaml
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "openai" || cfg.Budgets.TokenBudget != 12000 {
		t.Errorf("merged config = %+v %+v", cfg.Provider, cfg.Budgets)
	}
}

func TestLoadJSON5Config(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "recurse.json5", `{
  // comments are allowed
  provider: {name: "anthropic", api_key: "sk-test"},
  budgets: {token_budget: 9000},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Budgets.TokenBudget != 9000 {
		t.Errorf("token_budget = %d, want 9000", cfg.Budgets.TokenBudget)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("want cycle error, got %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "recurse.yaml", `
provider:
  name: anthropic
budgets:
  token_budgte: 1000
`)

	if _, err := Load(path); err == nil {
		t.Error("typo in a budget key must fail the load")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Provider.Name = "llamacpp" }},
		{"inheritance over 1", func(c *Config) { c.SubCalls.BudgetInheritance = 1.5 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"retrieval without url", func(c *Config) { c.Retrieval.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("want validation error")
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

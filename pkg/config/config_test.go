package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tiermind/tiermind/pkg/tier"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		t.Fatalf("default config catalog: %v", err)
	}
	light, err := catalog.Get(tier.Light)
	if err != nil {
		t.Fatal(err)
	}
	if light.CostWeight != 1.0 {
		t.Errorf("light cost weight = %v, want 1.0 baseline", light.CostWeight)
	}
}

func TestDefaultOverrides(t *testing.T) {
	cfg := Default()
	overrides := cfg.Overrides()

	if got := overrides["classification"]; got != tier.Light {
		t.Errorf("classification override = %v, want light", got)
	}
	if got := overrides["safety_verification"]; got != tier.Heavy {
		t.Errorf("safety_verification override = %v, want heavy", got)
	}
	if cfg.DefaultTier() != tier.Standard {
		t.Errorf("default tier = %v, want standard", cfg.DefaultTier())
	}
}

func TestLoad(t *testing.T) {
	content := `
tiers:
  light:
    backend: mock
    model: mock-1
    cost_weight: 1.0
  standard:
    backend: mock
    model: mock-1
    cost_weight: 4.0
  heavy:
    backend: mock
    model: mock-1
    cost_weight: 20.0
routing:
  task_overrides:
    classification: light
  default_tier: standard
budgets:
  default:
    daily_tokens: 1000
    monthly_tokens: 20000
  tenants:
    acme:
      daily_tokens: 5000
      monthly_tokens: 100000
reasoning:
  escalate_below: 0.5
`
	path := filepath.Join(t.TempDir(), "tiermind.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BudgetFor("acme").DailyTokens != 5000 {
		t.Errorf("acme daily budget = %d, want 5000", cfg.BudgetFor("acme").DailyTokens)
	}
	if cfg.BudgetFor("unknown").DailyTokens != 1000 {
		t.Errorf("fallback daily budget = %d, want 1000", cfg.BudgetFor("unknown").DailyTokens)
	}
	if cfg.Reasoning.EscalateBelow != 0.5 {
		t.Errorf("escalate_below = %v, want 0.5", cfg.Reasoning.EscalateBelow)
	}
	// Untouched knobs pick up defaults.
	if cfg.Reasoning.MaxDepth != 3 {
		t.Errorf("max_depth default = %d, want 3", cfg.Reasoning.MaxDepth)
	}
	if cfg.Retry.MaxAttemptsPerTier != 1 {
		t.Errorf("retry default = %d, want 1", cfg.Retry.MaxAttemptsPerTier)
	}
}

func TestLoadRejectsBadTier(t *testing.T) {
	content := `
tiers:
  light:
    backend: mock
    model: mock-1
    cost_weight: 1.0
  standard:
    backend: mock
    model: mock-1
    cost_weight: 4.0
  heavy:
    backend: mock
    model: mock-1
    cost_weight: 20.0
routing:
  task_overrides:
    classification: turbo
`
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown override tier")
	}
}

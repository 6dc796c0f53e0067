package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tiermind/tiermind/pkg/tier"
)

// Config holds the full startup configuration: the tier catalog, the
// task-type override table, tenant budget ceilings and reasoning policy.
// It is read once at startup and never mutated by the core.
type Config struct {
	Tiers     map[string]TierSettings `yaml:"tiers"`
	Routing   RoutingSettings         `yaml:"routing"`
	Retry     RetrySettings           `yaml:"retry,omitempty"`
	Budgets   BudgetSettings          `yaml:"budgets,omitempty"`
	Reasoning ReasoningSettings       `yaml:"reasoning,omitempty"`
	Store     StoreSettings           `yaml:"store,omitempty"`
}

// TierSettings defines one tier of the catalog.
type TierSettings struct {
	Backend          string  `yaml:"backend"`
	Model            string  `yaml:"model"`
	CostWeight       float64 `yaml:"cost_weight"`
	MaxContextTokens int     `yaml:"max_context_tokens,omitempty"`
}

// RoutingSettings holds the task-type override table and the default tier
// used when neither an override nor a recommendation applies.
type RoutingSettings struct {
	// TaskOverrides hard-pins task types to a tier regardless of the
	// complexity score.
	TaskOverrides map[string]string `yaml:"task_overrides,omitempty"`
	// DefaultTier backs unregistered task types so routing never fails in
	// a correctly configured deployment.
	DefaultTier string `yaml:"default_tier,omitempty"`
}

// RetrySettings tunes the fallback chain: how many attempts each tier
// gets before escalating, and the backoff between attempts. Escalating to
// a higher tier is the retry mechanism; per-tier attempts default to one.
type RetrySettings struct {
	MaxAttemptsPerTier int `yaml:"max_attempts_per_tier,omitempty"`
	BaseBackoffMs      int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs       int `yaml:"max_backoff_ms,omitempty"`
}

// BudgetSettings holds per-tenant token ceilings.
type BudgetSettings struct {
	Default TenantBudget            `yaml:"default,omitempty"`
	Tenants map[string]TenantBudget `yaml:"tenants,omitempty"`
}

// TenantBudget defines daily and monthly token ceilings for one tenant.
// Zero means unlimited.
type TenantBudget struct {
	DailyTokens   int64 `yaml:"daily_tokens,omitempty"`
	MonthlyTokens int64 `yaml:"monthly_tokens,omitempty"`
}

// ReasoningSettings tunes the reasoning protocol.
type ReasoningSettings struct {
	// StepFloor is the lower clamp applied to the product of step
	// confidences.
	StepFloor float64 `yaml:"step_floor,omitempty"`
	// EscalateBelow is the confidence under which a run resolves to
	// ESCALATED instead of ACCEPTED.
	EscalateBelow float64 `yaml:"escalate_below,omitempty"`
	// CriticalCeiling caps adjusted confidence when an adversarial check
	// surfaces a critical finding.
	CriticalCeiling float64 `yaml:"critical_ceiling,omitempty"`
	MaxThinkSteps   int     `yaml:"max_think_steps,omitempty"`
	// MaxDepth bounds first-principles decomposition so it terminates.
	MaxDepth       int      `yaml:"max_depth,omitempty"`
	PhaseTimeoutMs int      `yaml:"phase_timeout_ms,omitempty"`
	ToolTimeoutMs  int      `yaml:"tool_timeout_ms,omitempty"`
	Tools          []string `yaml:"tools,omitempty"`
}

// StoreSettings configures the optional persistence sink.
type StoreSettings struct {
	// Path is the sqlite database path. Empty disables persistence.
	Path string `yaml:"path,omitempty"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default configuration: a three-tier catalog, the
// standard override table and conservative reasoning policy.
func Default() *Config {
	cfg := &Config{
		Tiers: map[string]TierSettings{
			"light": {
				Backend:          "openai",
				Model:            "gpt-5.2-instant",
				CostWeight:       1.0,
				MaxContextTokens: 16384,
			},
			"standard": {
				Backend:          "anthropic",
				Model:            "claude-sonnet-4-20250514",
				CostWeight:       5.0,
				MaxContextTokens: 65536,
			},
			"heavy": {
				Backend:          "anthropic",
				Model:            "claude-opus-4-20250514",
				CostWeight:       25.0,
				MaxContextTokens: 131072,
			},
		},
		Routing: RoutingSettings{
			TaskOverrides: map[string]string{
				"classification":      "light",
				"summarize":           "light",
				"extraction":          "light",
				"safety_verification": "heavy",
				"security_review":     "heavy",
				"compliance_review":   "heavy",
			},
			DefaultTier: "standard",
		},
		Budgets: BudgetSettings{
			Default: TenantBudget{DailyTokens: 500_000, MonthlyTokens: 10_000_000},
		},
	}

	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Retry.MaxAttemptsPerTier == 0 {
		cfg.Retry.MaxAttemptsPerTier = 1
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.Routing.DefaultTier == "" {
		cfg.Routing.DefaultTier = "standard"
	}
	if cfg.Reasoning.StepFloor == 0 {
		cfg.Reasoning.StepFloor = 0.05
	}
	if cfg.Reasoning.EscalateBelow == 0 {
		cfg.Reasoning.EscalateBelow = 0.4
	}
	if cfg.Reasoning.CriticalCeiling == 0 {
		cfg.Reasoning.CriticalCeiling = 0.3
	}
	if cfg.Reasoning.MaxThinkSteps == 0 {
		cfg.Reasoning.MaxThinkSteps = 8
	}
	if cfg.Reasoning.MaxDepth == 0 {
		cfg.Reasoning.MaxDepth = 3
	}
	if cfg.Reasoning.PhaseTimeoutMs == 0 {
		cfg.Reasoning.PhaseTimeoutMs = 60_000
	}
	if cfg.Reasoning.ToolTimeoutMs == 0 {
		cfg.Reasoning.ToolTimeoutMs = 60_000
	}
	if cfg.Reasoning.Tools == nil {
		cfg.Reasoning.Tools = []string{"redteam", "council", "first_principles"}
	}
}

// Validate checks that the configuration describes a routable system.
// Catalog and override errors are fatal at startup, not at request time.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("no tiers configured")
	}
	if _, err := c.Catalog(); err != nil {
		return err
	}
	if _, err := tier.Parse(c.Routing.DefaultTier); err != nil {
		return fmt.Errorf("routing.default_tier: %w", err)
	}
	for taskType, name := range c.Routing.TaskOverrides {
		if _, err := tier.Parse(name); err != nil {
			return fmt.Errorf("routing.task_overrides[%s]: %w", taskType, err)
		}
	}
	if c.Reasoning.StepFloor < 0 || c.Reasoning.StepFloor > 1 {
		return fmt.Errorf("reasoning.step_floor must be in [0,1]")
	}
	if c.Reasoning.EscalateBelow < 0 || c.Reasoning.EscalateBelow > 1 {
		return fmt.Errorf("reasoning.escalate_below must be in [0,1]")
	}
	if c.Reasoning.CriticalCeiling < 0 || c.Reasoning.CriticalCeiling > 1 {
		return fmt.Errorf("reasoning.critical_ceiling must be in [0,1]")
	}
	return nil
}

// Catalog builds the tier catalog from the configuration.
func (c *Config) Catalog() (*tier.Catalog, error) {
	configs := make([]tier.Config, 0, len(c.Tiers))
	for name, settings := range c.Tiers {
		t, err := tier.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("tiers: %w", err)
		}
		configs = append(configs, tier.Config{
			Tier:             t,
			Backend:          settings.Backend,
			Model:            settings.Model,
			CostWeight:       settings.CostWeight,
			MaxContextTokens: settings.MaxContextTokens,
		})
	}
	return tier.NewCatalog(configs)
}

// Overrides returns the task-type override table as parsed tiers.
func (c *Config) Overrides() map[string]tier.Tier {
	overrides := make(map[string]tier.Tier, len(c.Routing.TaskOverrides))
	for taskType, name := range c.Routing.TaskOverrides {
		t, err := tier.Parse(name)
		if err != nil {
			continue
		}
		overrides[taskType] = t
	}
	return overrides
}

// DefaultTier returns the parsed default routing tier.
func (c *Config) DefaultTier() tier.Tier {
	t, err := tier.Parse(c.Routing.DefaultTier)
	if err != nil {
		return tier.Standard
	}
	return t
}

// BudgetFor returns the ceilings for a tenant, falling back to the
// default budget when the tenant has no explicit entry.
func (c *Config) BudgetFor(tenantID string) TenantBudget {
	if b, ok := c.Budgets.Tenants[tenantID]; ok {
		return b
	}
	return c.Budgets.Default
}

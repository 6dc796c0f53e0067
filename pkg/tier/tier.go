package tier

import (
	"fmt"
	"strings"
)

// Tier is a capability/cost level of the generation backend. Tiers are
// totally ordered: Light < Standard < Heavy in both cost weight and,
// typically, latency.
type Tier int

const (
	Light Tier = iota
	Standard
	Heavy
)

// All lists every tier in ascending capability order.
func All() []Tier {
	return []Tier{Light, Standard, Heavy}
}

// String returns the canonical lowercase name of the tier.
func (t Tier) String() string {
	switch t {
	case Light:
		return "light"
	case Standard:
		return "standard"
	case Heavy:
		return "heavy"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Valid reports whether the tier is a known value.
func (t Tier) Valid() bool {
	return t >= Light && t <= Heavy
}

// Parse converts a tier name to a Tier.
func Parse(name string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "light":
		return Light, nil
	case "standard":
		return Standard, nil
	case "heavy":
		return Heavy, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", name)
	}
}

// Config describes one tier of the catalog: which backend serves it, which
// model to request, its relative cost weight (Light is the 1.0 baseline)
// and the declared capability ceiling in context tokens.
type Config struct {
	Tier             Tier
	Backend          string
	Model            string
	CostWeight       float64
	MaxContextTokens int
}

// Catalog is the static tier registry. It is built once at startup and
// read-only afterwards, so it needs no synchronization.
type Catalog struct {
	configs map[Tier]Config
}

// NewCatalog builds a catalog from per-tier configs. Every tier must be
// present with a positive cost weight.
func NewCatalog(configs []Config) (*Catalog, error) {
	byTier := make(map[Tier]Config, len(configs))
	for _, cfg := range configs {
		if !cfg.Tier.Valid() {
			return nil, fmt.Errorf("invalid tier %d in catalog", int(cfg.Tier))
		}
		if cfg.Backend == "" || cfg.Model == "" {
			return nil, fmt.Errorf("tier %s: backend and model are required", cfg.Tier)
		}
		if cfg.CostWeight <= 0 {
			return nil, fmt.Errorf("tier %s: cost weight must be positive", cfg.Tier)
		}
		if _, dup := byTier[cfg.Tier]; dup {
			return nil, fmt.Errorf("tier %s configured twice", cfg.Tier)
		}
		byTier[cfg.Tier] = cfg
	}
	for _, t := range All() {
		if _, ok := byTier[t]; !ok {
			return nil, fmt.Errorf("tier %s missing from catalog", t)
		}
	}
	return &Catalog{configs: byTier}, nil
}

// Get returns the config for a tier.
func (c *Catalog) Get(t Tier) (Config, error) {
	cfg, ok := c.configs[t]
	if !ok {
		return Config{}, fmt.Errorf("tier %s not configured", t)
	}
	return cfg, nil
}

// From returns the configured tiers at or above t, in ascending order.
// This is the escalation path the fallback chain walks.
func (c *Catalog) From(t Tier) []Tier {
	var tiers []Tier
	for _, candidate := range All() {
		if candidate >= t {
			tiers = append(tiers, candidate)
		}
	}
	return tiers
}

// CostWeight returns the cost weight for a tier, or 0 if unconfigured.
func (c *Catalog) CostWeight(t Tier) float64 {
	return c.configs[t].CostWeight
}

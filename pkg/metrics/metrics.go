// Package metrics records routing decisions and derives tier-distribution
// and savings reports. It is read-side only: recording never blocks or
// fails the routing path, and aggregation errors are swallowed and logged.
package metrics

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiermind/tiermind/pkg/router"
	"github.com/tiermind/tiermind/pkg/tier"
)

// Sink optionally persists decisions for durability. The collector works
// fully in-memory when no sink is configured, and keeps working when the
// sink fails.
type Sink interface {
	SaveDecision(decision router.Decision) error
}

// SavingsReport estimates cost saved by tiered routing versus sending
// everything to the heavy tier.
type SavingsReport struct {
	TenantID        string        `json:"tenant_id"`
	Period          time.Duration `json:"period"`
	Decisions       int           `json:"decisions"`
	TotalTokens     int64         `json:"total_tokens"`
	ActualCost      float64       `json:"actual_cost"`
	BaselineCost    float64       `json:"baseline_cost"`
	Savings         float64       `json:"savings"`
	SavingsFraction float64       `json:"savings_fraction"`
}

// Collector accumulates routing decisions in memory.
type Collector struct {
	mu        sync.RWMutex
	decisions []router.Decision

	catalog *tier.Catalog
	sink    Sink
	logger  *zap.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithSink attaches a persistence sink.
func WithSink(sink Sink) Option {
	return func(c *Collector) {
		c.sink = sink
	}
}

// WithLogger sets the collector's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// NewCollector creates a collector. The catalog supplies cost weights for
// savings estimates.
func NewCollector(catalog *tier.Catalog, opts ...Option) *Collector {
	c := &Collector{
		catalog: catalog,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordDecision appends a decision. It never returns an error: a failing
// sink is logged and ignored so the routing path cannot be disturbed.
func (c *Collector) RecordDecision(decision router.Decision) {
	c.mu.Lock()
	c.decisions = append(c.decisions, decision)
	c.mu.Unlock()

	if c.sink == nil {
		return
	}
	if err := c.sink.SaveDecision(decision); err != nil {
		c.logger.Warn("metrics sink failed", zap.Error(err))
	}
}

// TierDistribution returns, per tier, the fraction of the tenant's
// decisions within the period that selected it.
func (c *Collector) TierDistribution(tenantID string, period time.Duration) map[tier.Tier]float64 {
	decisions := c.within(tenantID, period)
	distribution := make(map[tier.Tier]float64, len(tier.All()))
	if len(decisions) == 0 {
		return distribution
	}

	counts := make(map[tier.Tier]int)
	for _, d := range decisions {
		counts[d.SelectedTier]++
	}
	for t, count := range counts {
		distribution[t] = float64(count) / float64(len(decisions))
	}
	return distribution
}

// SavingsEstimate reports weighted spend against an everything-on-heavy
// baseline for the tenant's decisions within the period.
func (c *Collector) SavingsEstimate(tenantID string, period time.Duration) SavingsReport {
	decisions := c.within(tenantID, period)
	report := SavingsReport{
		TenantID:  tenantID,
		Period:    period,
		Decisions: len(decisions),
	}

	heavyWeight := c.catalog.CostWeight(tier.Heavy)
	for _, d := range decisions {
		tokens := float64(d.TotalTokens)
		report.TotalTokens += d.TotalTokens
		report.ActualCost += tokens * c.catalog.CostWeight(d.SelectedTier)
		report.BaselineCost += tokens * heavyWeight
	}
	report.Savings = report.BaselineCost - report.ActualCost
	if report.BaselineCost > 0 {
		report.SavingsFraction = report.Savings / report.BaselineCost
	}
	return report
}

// within returns the tenant's decisions newer than period ago. A zero
// period means all decisions.
func (c *Collector) within(tenantID string, period time.Duration) []router.Decision {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var cutoff time.Time
	if period > 0 {
		cutoff = time.Now().Add(-period)
	}

	var out []router.Decision
	for _, d := range c.decisions {
		if d.TenantID != tenantID {
			continue
		}
		if period > 0 && d.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, d)
	}
	return out
}

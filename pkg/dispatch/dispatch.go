// Package dispatch runs one unit of work end to end: estimate its
// complexity, route it to a tier, reserve budget, execute against the
// tier's backend with upward fallback, then settle budget and record the
// decision.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tiermind/tiermind/pkg/backend"
	"github.com/tiermind/tiermind/pkg/budget"
	"github.com/tiermind/tiermind/pkg/complexity"
	"github.com/tiermind/tiermind/pkg/fallback"
	"github.com/tiermind/tiermind/pkg/metrics"
	"github.com/tiermind/tiermind/pkg/router"
	"github.com/tiermind/tiermind/pkg/tier"
)

// ErrBudgetExhausted is returned when every eligible tier was denied by
// the tenant's token budget.
var ErrBudgetExhausted = errors.New("tenant token budget exhausted")

// reserveOutputTokens is the output allowance added to the input estimate
// when reserving budget ahead of a call. The reservation is settled to
// actual usage on completion.
const reserveOutputTokens = 512

// Request is one unit of work to route and execute.
type Request struct {
	TenantID      string
	TaskType      string
	Prompt        string
	ContextLength int
	Capabilities  []string
	HistoryLength int
	// Preference is an optional caller tier preference. Overrides still
	// win over it.
	Preference *tier.Tier
}

// Result reports the outcome of one dispatched request.
type Result struct {
	Response     *backend.Response
	Score        complexity.Score
	RoutedTier   tier.Tier
	TierUsed     tier.Tier
	Rule         router.Rule
	FallbackUsed bool
	Attempts     int
	Latency      time.Duration
}

// Dispatcher owns the routing pipeline. It is safe for concurrent use:
// all mutable state lives in the budget manager and metrics collector,
// which synchronize internally.
type Dispatcher struct {
	estimator *complexity.Estimator
	router    *router.Router
	budget    *budget.Manager
	chain     *fallback.Chain
	backends  map[string]backend.Backend
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(d *Dispatcher) {
		d.metrics = collector
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// New creates a dispatcher. backends maps the catalog's backend names to
// implementations; every tier's backend must be present.
func New(rtr *router.Router, budgetMgr *budget.Manager, chain *fallback.Chain, backends map[string]backend.Backend, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		estimator: complexity.NewEstimator(),
		router:    rtr,
		budget:    budgetMgr,
		chain:     chain,
		backends:  backends,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Estimate scores a request without executing it.
func (d *Dispatcher) Estimate(req Request) complexity.Score {
	return d.estimator.Estimate(req.Prompt, req.ContextLength, req.Capabilities, req.HistoryLength)
}

// Route selects a tier for a request without executing it.
func (d *Dispatcher) Route(req Request) (tier.Config, router.Rule, error) {
	score := d.Estimate(req)
	return d.router.RouteWithRule(req.TaskType, &score, req.Preference)
}

// Dispatch executes a request. Budget is reserved before each tier
// attempt and settled to actual usage afterwards; a tier denied by budget
// escalates like a transient failure, and exhaustion of every tier on
// budget alone surfaces as ErrBudgetExhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	score := d.Estimate(req)
	cfg, rule, err := d.router.RouteWithRule(req.TaskType, &score, req.Preference)
	if err != nil {
		return nil, err
	}

	estimate := estimateTokens(req)
	resp, used, attempts, err := d.chain.ExecuteWithReport(ctx, func(ctx context.Context, tierCfg tier.Config) (*backend.Response, error) {
		return d.callTier(ctx, req, tierCfg, estimate)
	}, tier.All(), cfg.Tier)

	result := &Result{
		Score:      score,
		RoutedTier: cfg.Tier,
		Rule:       rule,
		Attempts:   len(attempts),
		Latency:    time.Since(start),
	}
	for _, a := range attempts {
		if a.Fallback {
			result.FallbackUsed = true
		}
	}

	if err != nil {
		if errors.Is(err, fallback.ErrBudgetDenied) {
			d.logger.Info("request denied by budget at every tier",
				zap.String("tenant", req.TenantID),
				zap.String("task_type", req.TaskType))
			return result, fmt.Errorf("tenant %s: %w", req.TenantID, ErrBudgetExhausted)
		}
		return result, err
	}

	result.Response = resp
	result.TierUsed = used
	d.record(req, result)
	return result, nil
}

// callTier is one fallback attempt: reserve budget, call the tier's
// backend, then commit actual usage or release the reservation.
func (d *Dispatcher) callTier(ctx context.Context, req Request, cfg tier.Config, estimate int64) (*backend.Response, error) {
	be, ok := d.backends[cfg.Backend]
	if !ok {
		// A missing backend is a configuration fault, not a transient
		// failure; it must not burn through higher tiers.
		return nil, fmt.Errorf("tier %s: backend %q not registered", cfg.Tier, cfg.Backend)
	}

	if !d.budget.Reserve(req.TenantID, estimate) {
		return nil, fmt.Errorf("tier %s: %w", cfg.Tier, fallback.ErrBudgetDenied)
	}

	resp, err := be.Complete(ctx, cfg.Model, req.Prompt)
	if err != nil {
		d.budget.Release(req.TenantID, estimate)
		return nil, err
	}

	usage := resp.Usage.Normalize()
	d.budget.Commit(req.TenantID, estimate, cfg.Tier, usage.InputTokens, usage.OutputTokens)
	return resp, nil
}

func (d *Dispatcher) record(req Request, result *Result) {
	if d.metrics == nil {
		return
	}
	usage := result.Response.Usage.Normalize()
	d.metrics.RecordDecision(router.Decision{
		Timestamp:    time.Now(),
		TenantID:     req.TenantID,
		TaskType:     req.TaskType,
		Score:        result.Score.Value,
		Factors:      result.Score.Factors,
		SelectedTier: result.TierUsed,
		Rule:         result.Rule,
		FallbackUsed: result.FallbackUsed,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
		Latency:      result.Latency,
	})
}

// estimateTokens approximates the tokens a request will consume, for the
// budget reservation. Prompt text is counted at four characters per token.
func estimateTokens(req Request) int64 {
	promptTokens := int64(len(req.Prompt)+3) / 4
	return promptTokens + int64(req.ContextLength) + reserveOutputTokens
}

package router

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tiermind/tiermind/pkg/complexity"
	"github.com/tiermind/tiermind/pkg/tier"
)

// Rule names the routing rule that selected a tier.
type Rule string

const (
	RuleOverride       Rule = "override"
	RulePreference     Rule = "preference"
	RuleRecommendation Rule = "recommendation"
	RuleDefault        Rule = "default"
)

// UnknownTaskTypeError is returned when a task type is not registered and
// no preference or default tier exists. Callers configure a default tier
// at startup to make this unreachable in practice.
type UnknownTaskTypeError struct {
	TaskType string
}

func (e *UnknownTaskTypeError) Error() string {
	return fmt.Sprintf("unknown task type %q and no default tier configured", e.TaskType)
}

// Router maps (task type, complexity score, optional caller preference) to
// a tier config. The override table and catalog are fixed at construction
// and read-only afterwards, so Route is safe for concurrent use.
type Router struct {
	catalog     *tier.Catalog
	overrides   map[string]tier.Tier
	defaultTier tier.Tier
	hasDefault  bool
	logger      *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithDefaultTier sets the tier used for unregistered task types.
func WithDefaultTier(t tier.Tier) Option {
	return func(r *Router) {
		r.defaultTier = t
		r.hasDefault = true
	}
}

// WithLogger sets the router's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// New creates a router over a catalog and a task-type override table.
func New(catalog *tier.Catalog, overrides map[string]tier.Tier, opts ...Option) *Router {
	r := &Router{
		catalog:   catalog,
		overrides: overrides,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route selects a tier config. Rules apply in priority order: a task-type
// override wins unconditionally, then an explicit caller preference, then
// the score's recommendation, then the configured default. A nil score
// means no estimate was made for this call.
func (r *Router) Route(taskType string, score *complexity.Score, preference *tier.Tier) (tier.Config, error) {
	cfg, _, err := r.RouteWithRule(taskType, score, preference)
	return cfg, err
}

// RouteWithRule selects a tier config and reports which rule fired.
func (r *Router) RouteWithRule(taskType string, score *complexity.Score, preference *tier.Tier) (tier.Config, Rule, error) {
	selected, rule, err := r.selectTier(taskType, score, preference)
	if err != nil {
		return tier.Config{}, rule, err
	}

	cfg, err := r.catalog.Get(selected)
	if err != nil {
		return tier.Config{}, rule, err
	}

	r.logger.Debug("routed task",
		zap.String("task_type", taskType),
		zap.String("tier", selected.String()),
		zap.String("rule", string(rule)))

	return cfg, rule, nil
}

func (r *Router) selectTier(taskType string, score *complexity.Score, preference *tier.Tier) (tier.Tier, Rule, error) {
	if pinned, ok := r.overrides[taskType]; ok {
		return pinned, RuleOverride, nil
	}
	if preference != nil && preference.Valid() {
		return *preference, RulePreference, nil
	}
	if score != nil {
		return score.RecommendedTier, RuleRecommendation, nil
	}
	if r.hasDefault {
		return r.defaultTier, RuleDefault, nil
	}
	return 0, "", &UnknownTaskTypeError{TaskType: taskType}
}

// Registered reports whether a task type has an override entry.
func (r *Router) Registered(taskType string) bool {
	_, ok := r.overrides[taskType]
	return ok
}

// Overrides returns a copy of the override table for display.
func (r *Router) Overrides() map[string]tier.Tier {
	out := make(map[string]tier.Tier, len(r.overrides))
	for taskType, t := range r.overrides {
		out[taskType] = t
	}
	return out
}

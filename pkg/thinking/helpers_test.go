package thinking

import (
	"context"
	"testing"

	"github.com/tiermind/tiermind/pkg/backend"
	"github.com/tiermind/tiermind/pkg/budget"
	"github.com/tiermind/tiermind/pkg/config"
	"github.com/tiermind/tiermind/pkg/dispatch"
	"github.com/tiermind/tiermind/pkg/fallback"
	"github.com/tiermind/tiermind/pkg/reasoning"
	"github.com/tiermind/tiermind/pkg/router"
	"github.com/tiermind/tiermind/pkg/tier"
)

// funcBackend answers every completion through a single function.
type funcBackend struct {
	respond func(prompt string) (string, error)
}

func (b *funcBackend) Name() string     { return "func" }
func (b *funcBackend) Models() []string { return []string{"mock-1"} }
func (b *funcBackend) Complete(_ context.Context, model, prompt string) (*backend.Response, error) {
	content, err := b.respond(prompt)
	if err != nil {
		return nil, err
	}
	return &backend.Response{
		Content: content,
		Model:   model,
		Backend: "func",
		Usage:   backend.Usage{InputTokens: 10, OutputTokens: 10, TotalTokens: 20},
	}, nil
}

func newTestDispatcher(t *testing.T, respond func(prompt string) (string, error)) *dispatch.Dispatcher {
	t.Helper()

	catalog, err := tier.NewCatalog([]tier.Config{
		{Tier: tier.Light, Backend: "func", Model: "mock-1", CostWeight: 1.0},
		{Tier: tier.Standard, Backend: "func", Model: "mock-1", CostWeight: 5.0},
		{Tier: tier.Heavy, Backend: "func", Model: "mock-1", CostWeight: 25.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	rtr := router.New(catalog, nil, router.WithDefaultTier(tier.Standard))
	budgetMgr := budget.NewManager(func(string) config.TenantBudget { return config.TenantBudget{} })
	chain := fallback.NewChain(catalog, config.RetrySettings{MaxAttemptsPerTier: 1})
	return dispatch.New(rtr, budgetMgr, chain, map[string]backend.Backend{"func": &funcBackend{respond: respond}})
}

func testSettings() config.ReasoningSettings {
	return config.Default().Reasoning
}

// testTrace builds a trace with a settled step confidence, the shape
// tools see after the core phases.
func testTrace(confidence float64, safetyCritical bool) *reasoning.Trace {
	trace := reasoning.NewTrace("acme", "should we roll back the deploy?", safetyCritical)
	trace.Steps = []reasoning.Step{
		{Claim: "the deploy caused the regression", Evidence: []string{"timing"}, Confidence: 0.9},
		{Claim: "rolling back restores service", Evidence: []string{"previous incident"}, Confidence: 0.9},
	}
	trace.Verdict = reasoning.VerdictConsistent
	trace.Confidence = confidence
	return trace
}

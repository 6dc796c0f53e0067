package reasoning

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/tiermind/tiermind/pkg/backend"
	"github.com/tiermind/tiermind/pkg/budget"
	"github.com/tiermind/tiermind/pkg/config"
	"github.com/tiermind/tiermind/pkg/dispatch"
	"github.com/tiermind/tiermind/pkg/fallback"
	"github.com/tiermind/tiermind/pkg/router"
	"github.com/tiermind/tiermind/pkg/tier"
)

// scriptedBackend answers each protocol phase from a script keyed on the
// phase's instruction line.
type scriptedBackend struct {
	observe string
	think   string
	verify  string
}

func (b *scriptedBackend) Name() string      { return "scripted" }
func (b *scriptedBackend) Models() []string  { return []string{"mock-1"} }
func (b *scriptedBackend) Complete(_ context.Context, model, prompt string) (*backend.Response, error) {
	var content string
	switch {
	case strings.Contains(prompt, "known facts"):
		content = b.observe
	case strings.Contains(prompt, "step by step"):
		content = b.think
	case strings.Contains(prompt, "consistent with"):
		content = b.verify
	default:
		return nil, fmt.Errorf("unexpected prompt: %s", prompt)
	}
	return &backend.Response{
		Content: content,
		Model:   model,
		Backend: "scripted",
		Usage:   backend.Usage{InputTokens: 10, OutputTokens: 10, TotalTokens: 20},
	}, nil
}

var (
	goodObserve = `{"facts": ["the cache hit rate dropped at 09:00"], "unknowns": ["deploy timing"]}`
	goodThink   = `{"steps": [
		{"claim": "a deploy invalidated the cache", "evidence": ["hit rate drop"], "confidence": 0.9},
		{"claim": "latency will recover as the cache warms", "evidence": ["historical pattern"], "confidence": 0.9}
	]}`
	goodVerify = `{"verdict": "consistent"}`
)

func newTestEngine(t *testing.T, be backend.Backend, limits config.TenantBudget, opts ...Option) *Engine {
	t.Helper()

	catalog, err := tier.NewCatalog([]tier.Config{
		{Tier: tier.Light, Backend: "scripted", Model: "mock-1", CostWeight: 1.0},
		{Tier: tier.Standard, Backend: "scripted", Model: "mock-1", CostWeight: 5.0},
		{Tier: tier.Heavy, Backend: "scripted", Model: "mock-1", CostWeight: 25.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	rtr := router.New(catalog, nil, router.WithDefaultTier(tier.Standard))
	budgetMgr := budget.NewManager(func(string) config.TenantBudget { return limits })
	chain := fallback.NewChain(catalog, config.RetrySettings{MaxAttemptsPerTier: 1})
	d := dispatch.New(rtr, budgetMgr, chain, map[string]backend.Backend{"scripted": be})

	return NewEngine(d, config.Default().Reasoning, opts...)
}

func TestRunAcceptsConsistentConfidentReasoning(t *testing.T) {
	be := &scriptedBackend{observe: goodObserve, think: goodThink, verify: goodVerify}
	engine := newTestEngine(t, be, config.TenantBudget{})

	trace, err := engine.Run(context.Background(), Request{TenantID: "acme", Question: "why did latency spike?"})
	if err != nil {
		t.Fatal(err)
	}
	if trace.State != StateAccepted {
		t.Fatalf("state = %v (%s), want accepted", trace.State, trace.Explanation)
	}
	if trace.RequiresHumanReview {
		t.Error("accepted run must not require review")
	}
	if trace.Verdict != VerdictConsistent {
		t.Errorf("verdict = %v", trace.Verdict)
	}
	// 0.9 * 0.9 with evidence on both steps.
	if trace.Confidence < 0.80 || trace.Confidence > 0.82 {
		t.Errorf("confidence = %v, want ~0.81", trace.Confidence)
	}
	if len(trace.Observation.Facts) != 1 || len(trace.Steps) != 2 {
		t.Errorf("trace = %+v", trace)
	}
	if trace.ID == "" {
		t.Error("trace must have an id")
	}
}

func TestRunMalformedThinkOutputDegradesNotFails(t *testing.T) {
	be := &scriptedBackend{
		observe: goodObserve,
		think:   "Well, let me ponder this question at length...",
		verify:  goodVerify,
	}
	engine := newTestEngine(t, be, config.TenantBudget{})

	trace, err := engine.Run(context.Background(), Request{TenantID: "acme", Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if trace.State != StateEscalated {
		t.Errorf("state = %v, want escalated on degraded parse", trace.State)
	}
	if len(trace.Steps) != 1 || trace.Steps[0].Claim == "" {
		t.Errorf("degraded run should keep the raw output as a step: %+v", trace.Steps)
	}
	if trace.Confidence > 0.5 {
		t.Errorf("confidence = %v, want capped after degraded parse", trace.Confidence)
	}
}

func TestRunSafetyCriticalInconsistentVerdictEscalates(t *testing.T) {
	be := &scriptedBackend{observe: goodObserve, think: goodThink, verify: `{"verdict": "inconsistent"}`}
	engine := newTestEngine(t, be, config.TenantBudget{})

	trace, err := engine.Run(context.Background(), Request{
		TenantID:     "acme",
		Question:     "is this change safe to ship?",
		Capabilities: []string{"safety_verification"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !trace.SafetyCritical {
		t.Fatal("run should be marked safety-critical")
	}
	if trace.State != StateEscalated || !trace.RequiresHumanReview {
		t.Errorf("state=%v review=%v, want escalated with review", trace.State, trace.RequiresHumanReview)
	}
	if trace.Explanation == "" {
		t.Error("escalation must carry an explanation")
	}
}

func TestRunInconsistentVerdictPenalizesConfidence(t *testing.T) {
	be := &scriptedBackend{observe: goodObserve, think: goodThink, verify: `{"verdict": "inconsistent"}`}
	engine := newTestEngine(t, be, config.TenantBudget{})

	trace, err := engine.Run(context.Background(), Request{TenantID: "acme", Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if trace.Confidence >= 0.81 {
		t.Errorf("confidence = %v, want penalized below the step product", trace.Confidence)
	}
}

func TestRunBudgetExhaustedMidRunEscalates(t *testing.T) {
	be := &scriptedBackend{observe: goodObserve, think: goodThink, verify: goodVerify}
	engine := newTestEngine(t, be, config.TenantBudget{DailyTokens: 10})

	trace, err := engine.Run(context.Background(), Request{TenantID: "broke", Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if trace.State != StateEscalated || !trace.RequiresHumanReview {
		t.Errorf("state=%v review=%v, want escalated with review", trace.State, trace.RequiresHumanReview)
	}
	if !strings.Contains(trace.Explanation, "budget") {
		t.Errorf("explanation = %q, want budget exhaustion named", trace.Explanation)
	}
}

type stubTool struct {
	name   string
	output ToolOutput
	err    error
}

func (s *stubTool) Name() string { return s.name }
func (s *stubTool) Evaluate(context.Context, *Trace) (ToolOutput, error) {
	return s.output, s.err
}

func TestRunToolReviewForcesEscalation(t *testing.T) {
	be := &scriptedBackend{observe: goodObserve, think: goodThink, verify: goodVerify}
	tool := &stubTool{name: "stub", output: ToolOutput{
		Invoked:             true,
		RequiresHumanReview: true,
		AdjustedConfidence:  0.2,
		Findings:            []Finding{{Description: "fatal flaw", Severity: SeverityCritical}},
	}}
	engine := newTestEngine(t, be, config.TenantBudget{}, WithTools(tool))

	trace, err := engine.Run(context.Background(), Request{TenantID: "acme", Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if trace.State != StateEscalated || !trace.RequiresHumanReview {
		t.Errorf("state=%v review=%v, want escalated with review", trace.State, trace.RequiresHumanReview)
	}
	if trace.Confidence != 0.2 {
		t.Errorf("confidence = %v, want tool-adjusted 0.2", trace.Confidence)
	}
	if !trace.HasCritical() {
		t.Error("critical finding should be visible on the trace")
	}
}

func TestRunToolFailureEscalates(t *testing.T) {
	be := &scriptedBackend{observe: goodObserve, think: goodThink, verify: goodVerify}
	broken := &stubTool{name: "broken", err: fmt.Errorf("tool crashed")}
	engine := newTestEngine(t, be, config.TenantBudget{}, WithTools(broken))

	trace, err := engine.Run(context.Background(), Request{TenantID: "acme", Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if trace.State != StateEscalated || !trace.RequiresHumanReview {
		t.Errorf("state=%v review=%v, want escalated with review on tool failure",
			trace.State, trace.RequiresHumanReview)
	}
	if !strings.Contains(trace.Explanation, "broken") {
		t.Errorf("explanation = %q, want the failed tool named", trace.Explanation)
	}
	if len(trace.ToolOutputs) != 1 || trace.ToolOutputs[0].Invoked {
		t.Errorf("failed tool should record an uninvoked output: %+v", trace.ToolOutputs)
	}
}

func TestRunOneFailedToolOutweighsACleanOne(t *testing.T) {
	be := &scriptedBackend{observe: goodObserve, think: goodThink, verify: goodVerify}
	clean := &stubTool{name: "clean", output: ToolOutput{Invoked: true, AdjustedConfidence: 0.85}}
	broken := &stubTool{name: "broken", err: fmt.Errorf("tool crashed")}
	engine := newTestEngine(t, be, config.TenantBudget{}, WithTools(clean, broken))

	trace, err := engine.Run(context.Background(), Request{TenantID: "acme", Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if trace.State != StateEscalated {
		t.Errorf("state = %v, want escalated when any tool fails", trace.State)
	}
}

type memorySink struct {
	saved []*Trace
	err   error
}

func (s *memorySink) SaveTrace(trace *Trace) error {
	s.saved = append(s.saved, trace)
	return s.err
}

func TestRunPersistsTraceAndSurvivesSinkFailure(t *testing.T) {
	be := &scriptedBackend{observe: goodObserve, think: goodThink, verify: goodVerify}
	sink := &memorySink{err: fmt.Errorf("disk full")}
	engine := newTestEngine(t, be, config.TenantBudget{}, WithSink(sink))

	trace, err := engine.Run(context.Background(), Request{TenantID: "acme", Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if trace.State != StateAccepted {
		t.Errorf("state = %v, want accepted despite failing sink", trace.State)
	}
	if len(sink.saved) != 1 {
		t.Errorf("sink received %d traces, want 1", len(sink.saved))
	}
}

package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tiermind/tiermind/pkg/complexity"
	"github.com/tiermind/tiermind/pkg/config"
	"github.com/tiermind/tiermind/pkg/dispatch"
)

// Request is one question to reason about.
type Request struct {
	TenantID      string
	Question      string
	ContextLength int
	Capabilities  []string
	HistoryLength int
}

// Sink optionally persists completed traces. Sink failures are logged and
// swallowed; persistence never changes an outcome.
type Sink interface {
	SaveTrace(trace *Trace) error
}

// Engine runs the observe/think/verify protocol. Each phase is one routed
// dispatch; thinking tools run concurrently after the phases complete.
type Engine struct {
	dispatcher *dispatch.Dispatcher
	settings   config.ReasoningSettings
	tools      []Tool
	sink       Sink
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTools sets the thinking tools applied after the core phases.
func WithTools(tools ...Tool) Option {
	return func(e *Engine) {
		e.tools = tools
	}
}

// WithSink attaches a trace persistence sink.
func WithSink(sink Sink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine over a dispatcher.
func NewEngine(dispatcher *dispatch.Dispatcher, settings config.ReasoningSettings, opts ...Option) *Engine {
	e := &Engine{
		dispatcher: dispatcher,
		settings:   settings,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one reasoning run to a terminal trace. A run that cannot
// complete a phase escalates; it never errors out of an outcome and never
// silently accepts.
func (e *Engine) Run(ctx context.Context, req Request) (*Trace, error) {
	trace := NewTrace(req.TenantID, req.Question, complexity.IsSafetyCritical(req.Capabilities))
	degradedParse := false

	// OBSERVE
	content, err := e.phase(ctx, req, "reasoning_observe", observePrompt(req.Question))
	if err != nil {
		return e.escalate(trace, phaseFailure(PhaseObserve, err)), nil
	}
	obs, ok := ParseObservation(content)
	if !ok {
		degradedParse = true
	}
	trace.Observation = obs

	// THINK
	content, err = e.phase(ctx, req, "reasoning_think", thinkPrompt(req.Question, obs))
	if err != nil {
		return e.escalate(trace, phaseFailure(PhaseThink, err)), nil
	}
	steps, ok := ParseSteps(content, e.settings.MaxThinkSteps)
	if !ok {
		degradedParse = true
	}
	trace.Steps = steps

	// VERIFY
	content, err = e.phase(ctx, req, "reasoning_verify", verifyPrompt(req.Question, obs, steps))
	if err != nil {
		return e.escalate(trace, phaseFailure(PhaseVerify, err)), nil
	}
	verdict, ok := ParseVerdict(content)
	if !ok {
		degradedParse = true
	}
	trace.Verdict = verdict

	confidence := StepConfidence(trace.Steps, e.settings.StepFloor)
	if verdict == VerdictInconsistent {
		confidence *= inconsistentPenalty
	}
	if degradedParse && confidence > degradedParseCap {
		confidence = degradedParseCap
	}
	trace.Confidence = clampFloor(confidence, e.settings.StepFloor)

	var failedTools []string
	trace.ToolOutputs, failedTools = e.applyTools(ctx, trace)
	confidence, review := AggregateToolOutputs(trace.Confidence, trace.ToolOutputs)
	trace.Confidence = clampFloor(confidence, e.settings.StepFloor)
	trace.RequiresHumanReview = review

	switch {
	case trace.SafetyCritical && verdict == VerdictInconsistent:
		e.escalate(trace, "verification found the conclusion inconsistent on safety-critical work")
	case len(failedTools) > 0:
		e.escalate(trace, fmt.Sprintf("thinking tool %s did not complete; the conclusion lacks its scrutiny",
			strings.Join(failedTools, ", ")))
	case review:
		e.escalate(trace, "a thinking tool flagged the conclusion for human review")
	case trace.Confidence < e.settings.EscalateBelow:
		e.escalate(trace, fmt.Sprintf("confidence %.2f below acceptance bar %.2f", trace.Confidence, e.settings.EscalateBelow))
	default:
		trace.State = StateAccepted
		e.persist(trace)
	}
	return trace, nil
}

// phase runs one protocol phase through the dispatcher under the phase
// timeout.
func (e *Engine) phase(ctx context.Context, req Request, taskType, prompt string) (string, error) {
	phaseCtx := ctx
	if e.settings.PhaseTimeoutMs > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, time.Duration(e.settings.PhaseTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	result, err := e.dispatcher.Dispatch(phaseCtx, dispatch.Request{
		TenantID:      req.TenantID,
		TaskType:      taskType,
		Prompt:        prompt,
		ContextLength: req.ContextLength,
		Capabilities:  req.Capabilities,
		HistoryLength: req.HistoryLength,
	})
	if err != nil {
		return "", err
	}
	return result.Response.Content, nil
}

// applyTools evaluates every configured tool concurrently, each under its
// own timeout. A failing tool leaves an uninvoked output on the trace and
// is reported back so the run escalates: a conclusion that missed part of
// its scrutiny must not pass silently.
func (e *Engine) applyTools(ctx context.Context, trace *Trace) ([]ToolOutput, []string) {
	if len(e.tools) == 0 {
		return nil, nil
	}

	toolTimeout := time.Duration(e.settings.ToolTimeoutMs) * time.Millisecond
	outputs := make([]ToolOutput, len(e.tools))
	failures := make([]string, len(e.tools))

	g, gctx := errgroup.WithContext(ctx)
	for i, tool := range e.tools {
		g.Go(func() error {
			toolCtx := gctx
			if toolTimeout > 0 {
				var cancel context.CancelFunc
				toolCtx, cancel = context.WithTimeout(gctx, toolTimeout)
				defer cancel()
			}
			out, err := tool.Evaluate(toolCtx, trace)
			if err != nil {
				e.logger.Warn("thinking tool failed",
					zap.String("tool", tool.Name()),
					zap.String("trace", trace.ID),
					zap.Error(err))
				outputs[i] = ToolOutput{Tool: tool.Name()}
				failures[i] = tool.Name()
				return nil
			}
			out.Tool = tool.Name()
			outputs[i] = out
			return nil
		})
	}
	g.Wait()

	var failed []string
	for _, name := range failures {
		if name != "" {
			failed = append(failed, name)
		}
	}
	return outputs, failed
}

// escalate marks the trace for human review and persists it.
func (e *Engine) escalate(trace *Trace, explanation string) *Trace {
	trace.State = StateEscalated
	trace.RequiresHumanReview = true
	trace.Explanation = explanation
	if trace.Confidence == 0 || trace.Confidence > e.settings.EscalateBelow {
		trace.Confidence = clampFloor(e.settings.StepFloor, e.settings.StepFloor)
	}
	e.logger.Info("reasoning run escalated",
		zap.String("trace", trace.ID),
		zap.String("tenant", trace.TenantID),
		zap.String("reason", explanation))
	e.persist(trace)
	return trace
}

func (e *Engine) persist(trace *Trace) {
	if e.sink == nil {
		return
	}
	if err := e.sink.SaveTrace(trace); err != nil {
		e.logger.Warn("trace sink failed",
			zap.String("trace", trace.ID),
			zap.Error(err))
	}
}

func phaseFailure(phase Phase, err error) string {
	if errors.Is(err, dispatch.ErrBudgetExhausted) {
		return fmt.Sprintf("token budget exhausted during %s phase", phase)
	}
	return fmt.Sprintf("%s phase failed after fallback: %v", phase, err)
}

func observePrompt(question string) string {
	return strings.Join([]string{
		"List the known facts, working assumptions and open unknowns relevant to the question below.",
		`Respond with JSON only: {"facts": [...], "assumptions": [...], "unknowns": [...]}.`,
		"",
		"Question: " + question,
	}, "\n")
}

func thinkPrompt(question string, obs Observation) string {
	var b strings.Builder
	b.WriteString("Reason step by step toward an answer. For each step give a claim,\n")
	b.WriteString("the evidence it rests on, and your confidence in it from 0 to 1.\n")
	b.WriteString(`Respond with JSON only: {"steps": [{"claim": "...", "evidence": [...], "confidence": 0.9}]}.`)
	b.WriteString("\n\nQuestion: " + question + "\n")
	writeList(&b, "Facts", obs.Facts)
	writeList(&b, "Assumptions", obs.Assumptions)
	writeList(&b, "Unknowns", obs.Unknowns)
	return b.String()
}

func verifyPrompt(question string, obs Observation, steps []Step) string {
	var b strings.Builder
	b.WriteString("Check whether the reasoning below is consistent with the observed\n")
	b.WriteString("facts and actually answers the question.\n")
	b.WriteString(`Respond with JSON only: {"verdict": "consistent"} or {"verdict": "inconsistent"}.`)
	b.WriteString("\n\nQuestion: " + question + "\n")
	writeList(&b, "Facts", obs.Facts)
	claims := make([]string, 0, len(steps))
	for _, s := range steps {
		claims = append(claims, s.Claim)
	}
	writeList(&b, "Claims", claims)
	return b.String()
}

func writeList(b *strings.Builder, header string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(header + ":\n")
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
}

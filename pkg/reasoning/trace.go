// Package reasoning implements a structured observe/think/verify protocol
// over the routed dispatch pipeline. Every run produces a trace: what was
// observed, the reasoning steps with per-step confidence, the verification
// verdict, any thinking-tool output, and an accepted-or-escalated outcome.
// A run never fails silently into acceptance: anything that undermines the
// result escalates it for human review instead.
package reasoning

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Phase names one stage of the protocol.
type Phase string

const (
	PhaseObserve Phase = "observe"
	PhaseThink   Phase = "think"
	PhaseVerify  Phase = "verify"
)

// State is the terminal outcome of a run.
type State string

const (
	// StateAccepted means the conclusion met the confidence bar and passed
	// verification.
	StateAccepted State = "accepted"
	// StateEscalated means the conclusion needs human review: low
	// confidence, failed verification, a critical finding, or a phase that
	// could not complete.
	StateEscalated State = "escalated"
)

// Verdict is the verification phase's consistency judgment.
type Verdict string

const (
	VerdictConsistent   Verdict = "consistent"
	VerdictInconsistent Verdict = "inconsistent"
)

// Observation is the OBSERVE phase output: what is known, what is
// assumed, and what is not known.
type Observation struct {
	Facts       []string `json:"facts"`
	Assumptions []string `json:"assumptions,omitempty"`
	Unknowns    []string `json:"unknowns,omitempty"`
}

// Step is one THINK-phase reasoning step. Confidence is the model's own
// estimate in [0,1]; a step without evidence is capped when scored.
type Step struct {
	Claim      string   `json:"claim"`
	Evidence   []string `json:"evidence,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Severity grades a thinking-tool finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding is one issue surfaced by a thinking tool.
type Finding struct {
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// ToolOutput is the result of applying one thinking tool to a trace.
type ToolOutput struct {
	Tool string `json:"tool"`
	// Invoked is false when the tool judged itself inapplicable; such an
	// output contributes nothing to aggregation.
	Invoked             bool      `json:"invoked"`
	Findings            []Finding `json:"findings,omitempty"`
	RequiresHumanReview bool      `json:"requires_human_review"`
	// AdjustedConfidence is the tool's revision of the trace confidence it
	// was handed. Aggregation takes the minimum across invoked tools.
	AdjustedConfidence float64 `json:"adjusted_confidence"`
}

// Tool is a pluggable thinking strategy applied after the core phases.
type Tool interface {
	Name() string
	// Evaluate inspects the trace and returns its output. The trace is
	// read-only for tools; an inapplicable tool returns Invoked false.
	Evaluate(ctx context.Context, trace *Trace) (ToolOutput, error)
}

// Trace is the full record of one reasoning run.
type Trace struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	Question       string       `json:"question"`
	SafetyCritical bool         `json:"safety_critical"`
	CreatedAt      time.Time    `json:"created_at"`
	Observation    Observation  `json:"observation"`
	Steps          []Step       `json:"steps"`
	Verdict        Verdict      `json:"verdict,omitempty"`
	ToolOutputs    []ToolOutput `json:"tool_outputs,omitempty"`

	// Confidence is the aggregate confidence after steps, verdict and
	// tools. It is never zero: the configured floor is its lower bound.
	Confidence          float64 `json:"confidence"`
	State               State   `json:"state"`
	RequiresHumanReview bool    `json:"requires_human_review"`
	// Explanation says why a run escalated. Empty on acceptance.
	Explanation string `json:"explanation,omitempty"`
}

// NewTrace starts a trace for one question.
func NewTrace(tenantID, question string, safetyCritical bool) *Trace {
	return &Trace{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Question:       question,
		SafetyCritical: safetyCritical,
		CreatedAt:      time.Now().UTC(),
		Confidence:     1.0,
	}
}

// HasCritical reports whether any tool surfaced a critical finding.
func (t *Trace) HasCritical() bool {
	for _, out := range t.ToolOutputs {
		if !out.Invoked {
			continue
		}
		for _, f := range out.Findings {
			if f.Severity == SeverityCritical {
				return true
			}
		}
	}
	return false
}

// AggregateToolOutputs folds tool outputs into a base confidence. Invoked
// and review flags OR together; confidence is the minimum of the base and
// every invoked tool's adjustment. With no invoked tools the base passes
// through unchanged.
func AggregateToolOutputs(base float64, outputs []ToolOutput) (confidence float64, requiresReview bool) {
	confidence = base
	for _, out := range outputs {
		if !out.Invoked {
			continue
		}
		if out.RequiresHumanReview {
			requiresReview = true
		}
		if out.AdjustedConfidence < confidence {
			confidence = out.AdjustedConfidence
		}
	}
	return confidence, requiresReview
}

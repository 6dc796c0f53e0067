// Package thinking implements the pluggable thinking tools applied to
// reasoning traces: adversarial red-teaming, a multi-perspective council,
// and first-principles decomposition. An individual check that cannot run
// contributes no finding, but a tool that cannot complete at all returns
// an error and the engine escalates the run it was meant to scrutinize.
package thinking

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/tiermind/tiermind/pkg/config"
	"github.com/tiermind/tiermind/pkg/dispatch"
	"github.com/tiermind/tiermind/pkg/reasoning"
)

// warningPenalty is the per-warning confidence multiplier applied by
// tools that surface non-critical findings.
const warningPenalty = 0.9

// redTeamChallenges are the adversarial angles each run is probed from.
var redTeamChallenges = []string{
	"What assumptions does this reasoning make that could be wrong, and what breaks if they are?",
	"What failure modes or edge cases does this conclusion ignore?",
	"How could a malicious or adversarial actor exploit a decision based on this conclusion?",
}

// RedTeam attacks a trace's conclusion from fixed adversarial angles. It
// only engages on safety-critical work; a critical finding caps the run's
// confidence and forces human review.
type RedTeam struct {
	dispatcher *dispatch.Dispatcher
	settings   config.ReasoningSettings
	logger     *zap.Logger
}

// NewRedTeam creates the red-team tool.
func NewRedTeam(dispatcher *dispatch.Dispatcher, settings config.ReasoningSettings, logger *zap.Logger) *RedTeam {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedTeam{dispatcher: dispatcher, settings: settings, logger: logger}
}

// Name returns the tool identifier.
func (r *RedTeam) Name() string { return "redteam" }

// Evaluate runs each adversarial challenge as its own routed call. A
// challenge that fails or returns unparseable output yields no finding.
func (r *RedTeam) Evaluate(ctx context.Context, trace *reasoning.Trace) (reasoning.ToolOutput, error) {
	if !trace.SafetyCritical {
		return reasoning.ToolOutput{}, nil
	}

	output := reasoning.ToolOutput{
		Invoked:            true,
		AdjustedConfidence: trace.Confidence,
	}

	for _, challenge := range redTeamChallenges {
		result, err := r.dispatcher.Dispatch(ctx, dispatch.Request{
			TenantID:     trace.TenantID,
			TaskType:     "security_review",
			Prompt:       challengePrompt(trace, challenge),
			Capabilities: []string{"security_analysis"},
		})
		if err != nil {
			r.logger.Warn("red-team challenge failed",
				zap.String("trace", trace.ID),
				zap.Error(err))
			continue
		}
		findings, ok := reasoning.ParseFindings(result.Response.Content)
		if !ok {
			continue
		}
		output.Findings = append(output.Findings, findings...)
	}

	critical := false
	warnings := 0
	for _, f := range output.Findings {
		switch f.Severity {
		case reasoning.SeverityCritical:
			critical = true
		case reasoning.SeverityWarning:
			warnings++
		}
	}

	if critical {
		output.RequiresHumanReview = true
		output.AdjustedConfidence = math.Min(output.AdjustedConfidence, r.settings.CriticalCeiling)
	} else if warnings > 0 {
		output.AdjustedConfidence *= math.Pow(warningPenalty, float64(warnings))
	}
	return output, nil
}

func challengePrompt(trace *reasoning.Trace, challenge string) string {
	var b strings.Builder
	b.WriteString("You are reviewing a conclusion adversarially.\n")
	b.WriteString(challenge + "\n")
	b.WriteString(`Respond with JSON only: {"findings": [{"description": "...", "severity": "info|warning|critical"}]}. Return an empty list if the reasoning holds.`)
	b.WriteString("\n\nQuestion: " + trace.Question + "\n")
	for i, step := range trace.Steps {
		fmt.Fprintf(&b, "Claim %d: %s\n", i+1, step.Claim)
	}
	return b.String()
}

package thinking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tiermind/tiermind/pkg/config"
	"github.com/tiermind/tiermind/pkg/dispatch"
	"github.com/tiermind/tiermind/pkg/reasoning"
)

// councilSkipAbove is the confidence above which the council does not
// engage: a near-certain conclusion has nothing to debate.
const councilSkipAbove = 0.9

// splitPenalty scales confidence when the perspectives disagree but a
// synthesis is still possible.
const splitPenalty = 0.7

// councilPerspectives are the three stances the question is argued from.
var councilPerspectives = []struct {
	name   string
	stance string
}{
	{"proponent", "Argue the strongest case FOR the conclusion."},
	{"skeptic", "Argue the strongest case AGAINST the conclusion."},
	{"pragmatist", "Weigh what acting on the conclusion costs if it is wrong versus right."},
}

// Council debates a trace's conclusion in three rounds: independent
// perspectives, a cross-critique where each member reviews the others'
// positions, then synthesis. An irreconcilable split forces human review.
type Council struct {
	dispatcher *dispatch.Dispatcher
	settings   config.ReasoningSettings
	logger     *zap.Logger
}

// NewCouncil creates the council tool.
func NewCouncil(dispatcher *dispatch.Dispatcher, settings config.ReasoningSettings, logger *zap.Logger) *Council {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Council{dispatcher: dispatcher, settings: settings, logger: logger}
}

// Name returns the tool identifier.
func (c *Council) Name() string { return "council" }

// synthesis is the arbiter's structured judgment over the three positions.
type synthesis struct {
	Agreement  string              `json:"agreement"`
	Confidence float64             `json:"confidence"`
	Findings   []reasoning.Finding `json:"findings"`
}

// Evaluate fans the perspectives out concurrently, has each perspective
// critique the others' positions, then runs a synthesis pass over both
// rounds.
func (c *Council) Evaluate(ctx context.Context, trace *reasoning.Trace) (reasoning.ToolOutput, error) {
	if trace.Confidence >= councilSkipAbove || len(trace.Steps) == 0 {
		return reasoning.ToolOutput{}, nil
	}

	positions := make([]string, len(councilPerspectives))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range councilPerspectives {
		g.Go(func() error {
			result, err := c.dispatcher.Dispatch(gctx, dispatch.Request{
				TenantID: trace.TenantID,
				TaskType: "council_perspective",
				Prompt:   perspectivePrompt(trace, p.name, p.stance),
			})
			if err != nil {
				return fmt.Errorf("%s perspective: %w", p.name, err)
			}
			positions[i] = result.Response.Content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// A council missing a member cannot deliberate.
		return reasoning.ToolOutput{}, err
	}

	critiques := make([]string, len(councilPerspectives))
	g, gctx = errgroup.WithContext(ctx)
	for i, p := range councilPerspectives {
		g.Go(func() error {
			result, err := c.dispatcher.Dispatch(gctx, dispatch.Request{
				TenantID: trace.TenantID,
				TaskType: "council_critique",
				Prompt:   critiquePrompt(trace, i, positions),
			})
			if err != nil {
				return fmt.Errorf("%s critique: %w", p.name, err)
			}
			critiques[i] = result.Response.Content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reasoning.ToolOutput{}, err
	}

	result, err := c.dispatcher.Dispatch(ctx, dispatch.Request{
		TenantID: trace.TenantID,
		TaskType: "council_synthesis",
		Prompt:   synthesisPrompt(trace, positions, critiques),
	})
	if err != nil {
		return reasoning.ToolOutput{}, err
	}

	output := reasoning.ToolOutput{
		Invoked:            true,
		AdjustedConfidence: trace.Confidence,
	}

	var synth synthesis
	raw := reasoning.ExtractJSON(result.Response.Content)
	if raw == "" || json.Unmarshal([]byte(raw), &synth) != nil {
		// Unparseable synthesis reads as a split: proceed, discounted.
		output.AdjustedConfidence *= splitPenalty
		return output, nil
	}

	output.Findings = synth.Findings
	switch strings.ToLower(strings.TrimSpace(synth.Agreement)) {
	case "consensus":
		if synth.Confidence > 0 && synth.Confidence < output.AdjustedConfidence {
			output.AdjustedConfidence = synth.Confidence
		}
	case "irreconcilable":
		output.RequiresHumanReview = true
		output.AdjustedConfidence *= splitPenalty
		output.Findings = append(output.Findings, reasoning.Finding{
			Description: "council perspectives could not be reconciled",
			Severity:    reasoning.SeverityWarning,
		})
	default: // split
		output.AdjustedConfidence *= splitPenalty
	}
	return output, nil
}

func perspectivePrompt(trace *reasoning.Trace, name, stance string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s on a review council. %s\n", name, stance)
	b.WriteString("Answer in three sentences or fewer.\n\n")
	b.WriteString("Question: " + trace.Question + "\n")
	for i, step := range trace.Steps {
		fmt.Fprintf(&b, "Claim %d: %s\n", i+1, step.Claim)
	}
	return b.String()
}

func critiquePrompt(trace *reasoning.Trace, member int, positions []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s on a review council. Critique the other members' positions below:\n", councilPerspectives[member].name)
	b.WriteString("say where each is strongest and where it fails. Three sentences or fewer.\n\n")
	b.WriteString("Question: " + trace.Question + "\n")
	fmt.Fprintf(&b, "Your position:\n%s\n\n", positions[member])
	for i, pos := range positions {
		if i == member {
			continue
		}
		fmt.Fprintf(&b, "%s position:\n%s\n\n", councilPerspectives[i].name, pos)
	}
	return b.String()
}

func synthesisPrompt(trace *reasoning.Trace, positions, critiques []string) string {
	var b strings.Builder
	b.WriteString("Three council members reviewed a conclusion and critiqued each other. Synthesize the debate.\n")
	b.WriteString(`Respond with JSON only: {"agreement": "consensus|split|irreconcilable", "confidence": 0.0, "findings": [{"description": "...", "severity": "info|warning|critical"}]}.`)
	b.WriteString("\n\nQuestion: " + trace.Question + "\n")
	for i, pos := range positions {
		fmt.Fprintf(&b, "%s position:\n%s\n\n", councilPerspectives[i].name, pos)
	}
	for i, critique := range critiques {
		fmt.Fprintf(&b, "%s critique of the others:\n%s\n\n", councilPerspectives[i].name, critique)
	}
	return b.String()
}

package thinking

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/tiermind/tiermind/pkg/config"
	"github.com/tiermind/tiermind/pkg/dispatch"
	"github.com/tiermind/tiermind/pkg/reasoning"
)

// maxSubclaimsPerLevel bounds how wide each decomposition level fans out.
const maxSubclaimsPerLevel = 3

// FirstPrinciples decomposes a trace's conclusion into the assumptions it
// rests on, recursively to a configured depth, and flags every assumption
// the model cannot verify.
type FirstPrinciples struct {
	dispatcher *dispatch.Dispatcher
	settings   config.ReasoningSettings
	logger     *zap.Logger
}

// NewFirstPrinciples creates the first-principles tool.
func NewFirstPrinciples(dispatcher *dispatch.Dispatcher, settings config.ReasoningSettings, logger *zap.Logger) *FirstPrinciples {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirstPrinciples{dispatcher: dispatcher, settings: settings, logger: logger}
}

// Name returns the tool identifier.
func (f *FirstPrinciples) Name() string { return "first_principles" }

// decomposition is one level of the breakdown.
type decomposition struct {
	Assumptions []struct {
		Statement string `json:"statement"`
		Verified  bool   `json:"verified"`
	} `json:"assumptions"`
	Subclaims []string `json:"subclaims"`
}

// Evaluate decomposes the final claim of the trace. The final claim is
// the conclusion; earlier steps are its scaffolding.
func (f *FirstPrinciples) Evaluate(ctx context.Context, trace *reasoning.Trace) (reasoning.ToolOutput, error) {
	if len(trace.Steps) == 0 {
		return reasoning.ToolOutput{}, nil
	}
	conclusion := trace.Steps[len(trace.Steps)-1].Claim

	output := reasoning.ToolOutput{
		Invoked:            true,
		AdjustedConfidence: trace.Confidence,
	}

	unverified := f.decompose(ctx, trace, conclusion, 1, &output)
	if unverified > 0 {
		output.AdjustedConfidence *= math.Pow(warningPenalty, float64(unverified))
	}
	return output, nil
}

// decompose breaks one claim down and recurses into its subclaims until
// the depth bound. It returns the count of unverified assumptions found.
func (f *FirstPrinciples) decompose(ctx context.Context, trace *reasoning.Trace, claim string, depth int, output *reasoning.ToolOutput) int {
	if depth > f.settings.MaxDepth {
		return 0
	}

	result, err := f.dispatcher.Dispatch(ctx, dispatch.Request{
		TenantID: trace.TenantID,
		TaskType: "decomposition",
		Prompt:   decomposePrompt(claim),
	})
	if err != nil {
		f.logger.Warn("decomposition failed",
			zap.String("trace", trace.ID),
			zap.Int("depth", depth),
			zap.Error(err))
		return 0
	}

	var dec decomposition
	raw := reasoning.ExtractJSON(result.Response.Content)
	if raw == "" || json.Unmarshal([]byte(raw), &dec) != nil {
		return 0
	}

	unverified := 0
	for _, a := range dec.Assumptions {
		if strings.TrimSpace(a.Statement) == "" {
			continue
		}
		if !a.Verified {
			unverified++
			output.Findings = append(output.Findings, reasoning.Finding{
				Description: "unverified assumption: " + a.Statement,
				Severity:    reasoning.SeverityWarning,
			})
		}
	}

	subclaims := dec.Subclaims
	if len(subclaims) > maxSubclaimsPerLevel {
		subclaims = subclaims[:maxSubclaimsPerLevel]
	}
	for _, sub := range subclaims {
		if strings.TrimSpace(sub) == "" {
			continue
		}
		unverified += f.decompose(ctx, trace, sub, depth+1, output)
	}
	return unverified
}

func decomposePrompt(claim string) string {
	return fmt.Sprintf(`Break the claim below into the fundamental assumptions it rests on.
Mark each assumption verified only if it is directly supported by well-established fact.
List subclaims that themselves need decomposition.
Respond with JSON only: {"assumptions": [{"statement": "...", "verified": true}], "subclaims": ["..."]}.

Claim: %s`, claim)
}

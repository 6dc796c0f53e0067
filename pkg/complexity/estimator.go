// Package complexity scores units of work on a 0-1 scale from textual and
// structural features. The estimator is deterministic and pure: identical
// inputs always produce identical scores, and it never touches the network
// or storage.
package complexity

import (
	"strings"

	"github.com/tiermind/tiermind/pkg/tier"
)

// Signal weights. They sum to 1.0 so the clamped score stays in [0,1].
const (
	weightMessage    = 0.30
	weightContext    = 0.15
	weightCapability = 0.25
	weightDepth      = 0.10
	weightKeyword    = 0.20
)

// Tier recommendation boundaries.
const (
	lightBelow = 0.3
	heavyAbove = 0.7
)

// contextSaturationTokens is the context length at which the context-size
// signal saturates. Requests needing more than ~2k tokens of context are
// treated as maximally context-hungry.
const contextSaturationTokens = 2048

// historySaturationTurns is the conversation depth at which the depth
// signal saturates.
const historySaturationTurns = 20

// complexityKeywords indicate demanding work when present in the message.
var complexityKeywords = []string{
	"analyze", "analyse", "architecture", "design", "security",
	"compliance", "optimize", "refactor", "prove", "verify", "debug",
	"concurrency", "distributed", "trade-off", "implications",
	"vulnerability", "audit", "migrate",
}

// safetyCriticalCapabilities force the capability-criticality signal to its
// maximum when any is present on the requesting agent.
var safetyCriticalCapabilities = []string{
	"security_analysis", "compliance_analysis", "safety_verification",
	"incident_response", "audit",
}

// Score is the result of one estimation. It is immutable once produced and
// recomputed fresh per unit of work, never cached across requests.
type Score struct {
	// Value is the clamped 0-1 complexity score.
	Value float64
	// Factors maps each signal to its weighted contribution.
	Factors map[string]float64
	// RecommendedTier is the tier the score maps to.
	RecommendedTier tier.Tier
}

// Estimator computes complexity scores. The zero value is ready to use.
type Estimator struct{}

// NewEstimator creates an estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Estimate scores a unit of work. It never fails: degenerate inputs degrade
// signal quality, not availability.
func (e *Estimator) Estimate(message string, contextLength int, capabilities []string, historyLength int) Score {
	factors := map[string]float64{
		"message":    weightMessage * messageSignal(message),
		"context":    weightContext * contextSignal(contextLength),
		"capability": weightCapability * capabilitySignal(capabilities),
		"depth":      weightDepth * depthSignal(historyLength),
		"keyword":    weightKeyword * keywordSignal(message),
	}

	// Sum in a fixed order: ranging over the map lets Go's randomized
	// iteration order perturb the float result in its last bit, breaking
	// the determinism guarantee.
	total := factors["message"] + factors["context"] + factors["capability"] +
		factors["depth"] + factors["keyword"]
	total = clamp01(total)

	return Score{
		Value:           total,
		Factors:         factors,
		RecommendedTier: RecommendTier(total),
	}
}

// RecommendTier maps a score to a tier: below 0.3 is light, above 0.7 is
// heavy, everything between (inclusive) is standard.
func RecommendTier(score float64) tier.Tier {
	switch {
	case score < lightBelow:
		return tier.Light
	case score > heavyAbove:
		return tier.Heavy
	default:
		return tier.Standard
	}
}

// messageSignal combines length and vocabulary richness. Richness is
// discounted for very short messages so a one-word prompt does not read as
// lexically rich.
func messageSignal(message string) float64 {
	words := tokenize(message)
	if len(words) == 0 {
		return 0
	}

	length := minFloat(float64(len(words))/40.0, 1.0)

	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	richness := float64(len(unique)) / float64(len(words))
	richness *= minFloat(float64(len(words))/8.0, 1.0)

	return clamp01(0.5*length + 0.5*richness)
}

func contextSignal(contextLength int) float64 {
	if contextLength <= 0 {
		return 0
	}
	return minFloat(float64(contextLength)/contextSaturationTokens, 1.0)
}

// IsSafetyCritical reports whether any capability is on the
// safety-critical list. Safety-critical work always gets verification and
// adversarial review downstream.
func IsSafetyCritical(capabilities []string) bool {
	for _, cap := range capabilities {
		normalized := strings.ToLower(strings.TrimSpace(cap))
		for _, critical := range safetyCriticalCapabilities {
			if normalized == critical {
				return true
			}
		}
	}
	return false
}

func capabilitySignal(capabilities []string) float64 {
	if len(capabilities) == 0 {
		return 0
	}
	if IsSafetyCritical(capabilities) {
		return 1.0
	}
	return minFloat(0.15*float64(len(capabilities)), 0.6)
}

func depthSignal(historyLength int) float64 {
	if historyLength <= 0 {
		return 0
	}
	return minFloat(float64(historyLength)/historySaturationTurns, 1.0)
}

// keywordSignal saturates at three distinct keyword hits.
func keywordSignal(message string) float64 {
	lower := strings.ToLower(message)
	matches := 0
	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			matches++
		}
	}
	return minFloat(float64(matches)/3.0, 1.0)
}

func tokenize(message string) []string {
	lower := strings.ToLower(message)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

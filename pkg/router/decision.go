package router

import (
	"time"

	"github.com/tiermind/tiermind/pkg/tier"
)

// Decision records one completed routing event. Decisions are created
// after each call finishes, never mutated, and appended for metrics.
type Decision struct {
	Timestamp    time.Time          `json:"timestamp"`
	TenantID     string             `json:"tenant_id"`
	TaskType     string             `json:"task_type"`
	Score        float64            `json:"score"`
	Factors      map[string]float64 `json:"factors,omitempty"`
	SelectedTier tier.Tier          `json:"selected_tier"`
	Rule         Rule               `json:"rule"`
	FallbackUsed bool               `json:"fallback_used"`
	InputTokens  int64              `json:"input_tokens"`
	OutputTokens int64              `json:"output_tokens"`
	TotalTokens  int64              `json:"total_tokens"`
	Latency      time.Duration      `json:"latency"`
}

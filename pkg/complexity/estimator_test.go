package complexity

import (
	"testing"

	"github.com/tiermind/tiermind/pkg/tier"
)

func TestEstimateDeterminism(t *testing.T) {
	e := NewEstimator()

	message := "Refactor the payment service to remove the shared mutable cache"
	caps := []string{"code_generation", "testing"}

	first := e.Estimate(message, 1024, caps, 5)
	for i := 0; i < 10; i++ {
		again := e.Estimate(message, 1024, caps, 5)
		if again.Value != first.Value {
			t.Fatalf("estimate not deterministic: %v != %v", again.Value, first.Value)
		}
		if again.RecommendedTier != first.RecommendedTier {
			t.Fatalf("tier not deterministic: %v != %v", again.RecommendedTier, first.RecommendedTier)
		}
	}
}

func TestEstimateSimpleGreeting(t *testing.T) {
	e := NewEstimator()

	score := e.Estimate("Hello", 0, nil, 0)
	if score.Value >= 0.3 {
		t.Errorf("greeting score = %v, want < 0.3", score.Value)
	}
	if score.RecommendedTier != tier.Light {
		t.Errorf("greeting tier = %v, want light", score.RecommendedTier)
	}
}

func TestEstimateSecurityArchitecture(t *testing.T) {
	e := NewEstimator()

	score := e.Estimate(
		"analyze the security implications of this architecture",
		2048,
		[]string{"security_analysis"},
		0,
	)
	if score.Value <= 0.7 {
		t.Errorf("security analysis score = %v, want > 0.7", score.Value)
	}
	if score.RecommendedTier != tier.Heavy {
		t.Errorf("security analysis tier = %v, want heavy", score.RecommendedTier)
	}
}

func TestEstimateScoreClamped(t *testing.T) {
	e := NewEstimator()

	long := ""
	for i := 0; i < 200; i++ {
		long += "analyze architecture security compliance distributed concurrency audit design "
	}
	score := e.Estimate(long, 1<<20, []string{"security_analysis", "compliance_analysis"}, 1000)
	if score.Value < 0 || score.Value > 1 {
		t.Fatalf("score %v outside [0,1]", score.Value)
	}
	if score.RecommendedTier != tier.Heavy {
		t.Errorf("maximal input tier = %v, want heavy", score.RecommendedTier)
	}
}

func TestRecommendTierBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  tier.Tier
	}{
		{score: 0.0, want: tier.Light},
		{score: 0.29, want: tier.Light},
		{score: 0.3, want: tier.Standard},
		{score: 0.5, want: tier.Standard},
		{score: 0.7, want: tier.Standard},
		{score: 0.71, want: tier.Heavy},
		{score: 1.0, want: tier.Heavy},
	}

	for _, tt := range tests {
		if got := RecommendTier(tt.score); got != tt.want {
			t.Errorf("RecommendTier(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestFactorsSumToScore(t *testing.T) {
	e := NewEstimator()

	score := e.Estimate("debug the race condition in the scheduler", 512, []string{"code_generation"}, 3)
	var sum float64
	for _, contribution := range score.Factors {
		sum += contribution
	}
	if diff := score.Value - sum; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("factors sum %v != score %v", sum, score.Value)
	}
}

func TestCapabilityCriticality(t *testing.T) {
	e := NewEstimator()

	plain := e.Estimate("check this", 0, []string{"formatting"}, 0)
	critical := e.Estimate("check this", 0, []string{"security_analysis"}, 0)
	if critical.Value <= plain.Value {
		t.Errorf("safety-critical capability should raise the score: %v <= %v", critical.Value, plain.Value)
	}
}

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tiermind/tiermind/pkg/router"
	"github.com/tiermind/tiermind/pkg/tier"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tiermind.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadDecisions(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	d := router.Decision{
		Timestamp:    now,
		TenantID:     "acme",
		TaskType:     "chat",
		Score:        0.42,
		SelectedTier: tier.Standard,
		Rule:         router.RuleRecommendation,
		FallbackUsed: true,
		InputTokens:  100,
		OutputTokens: 50,
		TotalTokens:  150,
		Latency:      250 * time.Millisecond,
	}
	if err := s.SaveDecision(d); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Decisions("acme", now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d decisions, want 1", len(loaded))
	}
	got := loaded[0]
	if got.SelectedTier != tier.Standard || got.Rule != router.RuleRecommendation {
		t.Errorf("loaded decision = %+v", got)
	}
	if !got.FallbackUsed || got.TotalTokens != 150 {
		t.Errorf("loaded decision = %+v", got)
	}
}

func TestDecisionsFilterByTenantAndTime(t *testing.T) {
	s := openTestStore(t)

	old := router.Decision{Timestamp: time.Now().Add(-48 * time.Hour), TenantID: "acme", TaskType: "chat", SelectedTier: tier.Light}
	recent := router.Decision{Timestamp: time.Now(), TenantID: "acme", TaskType: "chat", SelectedTier: tier.Heavy}
	other := router.Decision{Timestamp: time.Now(), TenantID: "other", TaskType: "chat", SelectedTier: tier.Light}
	for _, d := range []router.Decision{old, recent, other} {
		if err := s.SaveDecision(d); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := s.Decisions("acme", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].SelectedTier != tier.Heavy {
		t.Errorf("loaded = %+v, want only the recent acme decision", loaded)
	}
}

func TestSaveAndLoadTrace(t *testing.T) {
	s := openTestStore(t)

	rec := TraceRecord{
		ID:             "run-1",
		TenantID:       "acme",
		State:          "escalated",
		Confidence:     0.2,
		RequiresReview: true,
		CreatedAt:      time.Now().UTC(),
		Payload:        MarshalTracePayload(map[string]string{"reason": "verification failed"}),
	}
	if err := s.SaveTrace(rec); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Trace("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.State != "escalated" || !loaded.RequiresReview {
		t.Errorf("loaded trace = %+v", loaded)
	}
	if len(loaded.Payload) == 0 {
		t.Error("payload not persisted")
	}
}

func TestTraceNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Trace("missing"); err == nil {
		t.Fatal("expected error for missing trace")
	}
}

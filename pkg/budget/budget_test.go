package budget

import (
	"sync"
	"testing"
	"time"

	"github.com/tiermind/tiermind/pkg/config"
	"github.com/tiermind/tiermind/pkg/tier"
)

func fixedLimits(daily, monthly int64) func(string) config.TenantBudget {
	return func(string) config.TenantBudget {
		return config.TenantBudget{DailyTokens: daily, MonthlyTokens: monthly}
	}
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestCheckAgainstDailyCeiling(t *testing.T) {
	m := NewManager(fixedLimits(1000, 0))

	m.Record("tenant-a", tier.Light, 900, 50)

	if m.Check("tenant-a", 100) {
		t.Error("Check(100) with 950 consumed of 1000 should be false")
	}
	if !m.Check("tenant-a", 40) {
		t.Error("Check(40) with 950 consumed of 1000 should be true")
	}
}

func TestCheckAgainstMonthlyCeiling(t *testing.T) {
	m := NewManager(fixedLimits(0, 500))

	m.Record("tenant-a", tier.Standard, 400, 50)

	if m.Check("tenant-a", 100) {
		t.Error("monthly ceiling should deny")
	}
	if !m.Check("tenant-a", 50) {
		t.Error("monthly ceiling should allow exact fit")
	}
}

func TestZeroCeilingIsUnlimited(t *testing.T) {
	m := NewManager(fixedLimits(0, 0))

	m.Record("tenant-a", tier.Heavy, 1<<40, 0)
	if !m.Check("tenant-a", 1<<40) {
		t.Error("zero ceilings should never deny")
	}
}

func TestReserveIsAtomic(t *testing.T) {
	m := NewManager(fixedLimits(1000, 0))
	m.Record("tenant-a", tier.Light, 950, 0)

	// Two concurrent 40-token reservations together exceed the ceiling;
	// exactly one may pass.
	const workers = 2
	results := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.Reserve("tenant-a", 40)
		}()
	}
	wg.Wait()
	close(results)

	granted := 0
	for ok := range results {
		if ok {
			granted++
		}
	}
	if granted != 1 {
		t.Errorf("granted %d concurrent reservations, want exactly 1", granted)
	}
}

func TestCommitReplacesReservation(t *testing.T) {
	m := NewManager(fixedLimits(1000, 0))

	if !m.Reserve("tenant-a", 200) {
		t.Fatal("reserve failed")
	}
	m.Commit("tenant-a", 200, tier.Standard, 60, 40)

	status := m.Snapshot("tenant-a")
	if status.DailyUsed != 100 {
		t.Errorf("daily used = %d after commit, want 100", status.DailyUsed)
	}
}

func TestReleaseReturnsReservation(t *testing.T) {
	m := NewManager(fixedLimits(1000, 0))

	if !m.Reserve("tenant-a", 200) {
		t.Fatal("reserve failed")
	}
	m.Release("tenant-a", 200)

	status := m.Snapshot("tenant-a")
	if status.DailyUsed != 0 {
		t.Errorf("daily used = %d after release, want 0", status.DailyUsed)
	}
}

func TestLazyDailyRollover(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)}
	m := NewManager(fixedLimits(1000, 0), WithClock(clock.Now))

	m.Record("tenant-a", tier.Light, 900, 0)
	if m.Check("tenant-a", 200) {
		t.Fatal("should deny before midnight")
	}

	// Idle across midnight; the first post-midnight access sees zero.
	clock.Set(time.Date(2026, 3, 15, 0, 5, 0, 0, time.UTC))
	if !m.Check("tenant-a", 200) {
		t.Error("daily counter should reset after day boundary")
	}
	if used := m.Snapshot("tenant-a").DailyUsed; used != 0 {
		t.Errorf("daily used = %d after rollover, want 0", used)
	}
}

func TestMonthlyRolloverIndependentOfDaily(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	m := NewManager(fixedLimits(0, 1000), WithClock(clock.Now))

	m.Record("tenant-a", tier.Light, 900, 0)

	// Next day, same month: monthly counter persists.
	clock.Set(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	if m.Check("tenant-a", 200) {
		t.Error("monthly counter should survive a day boundary")
	}

	// New month: monthly counter resets.
	clock.Set(time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC))
	if !m.Check("tenant-a", 200) {
		t.Error("monthly counter should reset after month boundary")
	}
}

func TestRolloverHappensExactlyOnce(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)}
	m := NewManager(fixedLimits(1000, 0), WithClock(clock.Now))

	m.Record("tenant-a", tier.Light, 500, 0)

	clock.Set(time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC))
	m.Record("tenant-a", tier.Light, 100, 0)
	// A second access on the same day must not reset the fresh usage.
	if used := m.Snapshot("tenant-a").DailyUsed; used != 100 {
		t.Errorf("daily used = %d, want 100 (reset applied once)", used)
	}
}

func TestTenantsAreIndependent(t *testing.T) {
	m := NewManager(fixedLimits(1000, 0))

	m.Record("tenant-a", tier.Heavy, 1000, 0)
	if m.Check("tenant-a", 1) {
		t.Error("tenant-a should be exhausted")
	}
	if !m.Check("tenant-b", 1000) {
		t.Error("tenant-b should be unaffected by tenant-a's consumption")
	}
}

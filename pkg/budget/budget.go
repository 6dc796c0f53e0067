// Package budget tracks per-tenant token consumption against daily and
// monthly ceilings. Window rollover is lazy: counters reset on the first
// access after a calendar boundary, never via a background job, so an idle
// tenant crossing midnight sees a correct zero on their next request.
package budget

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiermind/tiermind/pkg/config"
	"github.com/tiermind/tiermind/pkg/tier"
)

// Status reports a tenant's current consumption against its ceilings.
type Status struct {
	TenantID         string    `json:"tenant_id"`
	DailyUsed        int64     `json:"daily_used"`
	DailyLimit       int64     `json:"daily_limit"`
	DailyRemaining   int64     `json:"daily_remaining"`
	MonthlyUsed      int64     `json:"monthly_used"`
	MonthlyLimit     int64     `json:"monthly_limit"`
	MonthlyRemaining int64     `json:"monthly_remaining"`
	DayStart         time.Time `json:"day_start"`
	MonthStart       time.Time `json:"month_start"`
}

// tenantState holds one tenant's counters. Each tenant has its own lock so
// concurrent runs for different tenants never block each other.
type tenantState struct {
	mu         sync.Mutex
	daily      int64
	monthly    int64
	dayStart   time.Time
	monthStart time.Time
}

// Manager gates and records token consumption. It is the only state shared
// across concurrent reasoning runs; all check-then-act paths are atomic
// with respect to other accesses for the same tenant.
type Manager struct {
	mu      sync.RWMutex
	tenants map[string]*tenantState

	limits func(tenantID string) config.TenantBudget
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a budget manager. limits supplies per-tenant ceilings;
// a zero ceiling means unlimited.
func NewManager(limits func(tenantID string) config.TenantBudget, opts ...Option) *Manager {
	m := &Manager{
		tenants: make(map[string]*tenantState),
		limits:  limits,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// state returns the tenant's state, creating it lazily on first access.
func (m *Manager) state(tenantID string) *tenantState {
	m.mu.RLock()
	s, ok := m.tenants[tenantID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.tenants[tenantID]; ok {
		return s
	}
	now := m.now().UTC()
	s = &tenantState{
		dayStart:   startOfDay(now),
		monthStart: startOfMonth(now),
	}
	m.tenants[tenantID] = s
	return s
}

// roll resets whichever window the current time has crossed out of.
// Callers must hold s.mu.
func (m *Manager) roll(s *tenantState) {
	now := m.now().UTC()
	if day := startOfDay(now); day.After(s.dayStart) {
		s.daily = 0
		s.dayStart = day
	}
	if month := startOfMonth(now); month.After(s.monthStart) {
		s.monthly = 0
		s.monthStart = month
	}
}

// Check reports whether the estimated consumption fits under both ceilings.
// A denial is a boolean, not an error: callers decide whether to deny,
// degrade or queue.
func (m *Manager) Check(tenantID string, estimatedTokens int64) bool {
	s := m.state(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m.roll(s)
	return m.fits(tenantID, s, estimatedTokens)
}

// Reserve atomically checks the ceilings and, when the estimate fits,
// provisionally consumes it. Concurrent reservations for the same tenant
// cannot both pass for consumption that together would exceed a ceiling.
// Every successful Reserve must be followed by Commit or Release.
func (m *Manager) Reserve(tenantID string, estimatedTokens int64) bool {
	s := m.state(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m.roll(s)
	if !m.fits(tenantID, s, estimatedTokens) {
		m.logger.Debug("budget reservation denied",
			zap.String("tenant", tenantID),
			zap.Int64("estimated_tokens", estimatedTokens),
			zap.Int64("daily_used", s.daily),
			zap.Int64("monthly_used", s.monthly))
		return false
	}
	s.daily += estimatedTokens
	s.monthly += estimatedTokens
	return true
}

// Commit replaces a reservation with the actual recorded usage. Both
// counters are adjusted as a single unit under the tenant lock.
func (m *Manager) Commit(tenantID string, reservedTokens int64, t tier.Tier, inputTokens, outputTokens int64) {
	actual := inputTokens + outputTokens
	s := m.state(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m.roll(s)
	s.daily = nonNegative(s.daily - reservedTokens + actual)
	s.monthly = nonNegative(s.monthly - reservedTokens + actual)
	m.logger.Debug("budget usage committed",
		zap.String("tenant", tenantID),
		zap.String("tier", t.String()),
		zap.Int64("input_tokens", inputTokens),
		zap.Int64("output_tokens", outputTokens))
}

// Release returns an unused reservation after a failed call.
func (m *Manager) Release(tenantID string, reservedTokens int64) {
	s := m.state(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m.roll(s)
	s.daily = nonNegative(s.daily - reservedTokens)
	s.monthly = nonNegative(s.monthly - reservedTokens)
}

// Record adds completed usage directly, for callers that do not reserve.
// It does not deduplicate; double-invocation prevention is the caller's
// responsibility.
func (m *Manager) Record(tenantID string, t tier.Tier, inputTokens, outputTokens int64) {
	m.Commit(tenantID, 0, t, inputTokens, outputTokens)
}

// Snapshot returns the tenant's current status after rollover.
func (m *Manager) Snapshot(tenantID string) Status {
	limits := m.limits(tenantID)
	s := m.state(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m.roll(s)
	return Status{
		TenantID:         tenantID,
		DailyUsed:        s.daily,
		DailyLimit:       limits.DailyTokens,
		DailyRemaining:   remaining(limits.DailyTokens, s.daily),
		MonthlyUsed:      s.monthly,
		MonthlyLimit:     limits.MonthlyTokens,
		MonthlyRemaining: remaining(limits.MonthlyTokens, s.monthly),
		DayStart:         s.dayStart,
		MonthStart:       s.monthStart,
	}
}

// fits checks both ceilings. Callers must hold s.mu.
func (m *Manager) fits(tenantID string, s *tenantState, estimated int64) bool {
	limits := m.limits(tenantID)
	if limits.DailyTokens > 0 && s.daily+estimated > limits.DailyTokens {
		return false
	}
	if limits.MonthlyTokens > 0 && s.monthly+estimated > limits.MonthlyTokens {
		return false
	}
	return true
}

func remaining(limit, used int64) int64 {
	if limit <= 0 {
		return -1
	}
	return nonNegative(limit - used)
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

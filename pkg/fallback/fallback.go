// Package fallback executes a unit of work against a preferred tier and
// escalates to higher tiers on failure. Escalation is strictly upward:
// a cheaper tier is never tried after a failure, so a correctness failure
// is never masked by a possibly-also-wrong cheaper answer.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tiermind/tiermind/pkg/backend"
	"github.com/tiermind/tiermind/pkg/config"
	"github.com/tiermind/tiermind/pkg/tier"
)

// ErrBudgetDenied marks a budget denial at one tier. The chain escalates
// past it like a transient backend failure.
var ErrBudgetDenied = errors.New("budget denied")

// CallFunc executes the unit of work against one tier.
type CallFunc func(ctx context.Context, cfg tier.Config) (*backend.Response, error)

// Attempt records one try against one tier.
type Attempt struct {
	Tier     tier.Tier
	Err      error
	Duration time.Duration
	Fallback bool
}

// ExhaustedError is the terminal error after every tier in the chain has
// failed. The chain never silently returns a partial result.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d tier attempts failed: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Chain escalates work across tiers using a catalog for tier configs.
type Chain struct {
	catalog *tier.Catalog
	retry   config.RetrySettings
	logger  *zap.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the chain's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// NewChain creates a fallback chain.
func NewChain(catalog *tier.Catalog, retry config.RetrySettings, opts ...Option) *Chain {
	if retry.MaxAttemptsPerTier < 1 {
		retry.MaxAttemptsPerTier = 1
	}
	c := &Chain{
		catalog: catalog,
		retry:   retry,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs the call against the preferred tier, escalating upward
// through tiers until one succeeds or all are exhausted.
func (c *Chain) Execute(ctx context.Context, call CallFunc, tiers []tier.Tier, preferred tier.Tier) (*backend.Response, tier.Tier, error) {
	resp, used, _, err := c.ExecuteWithReport(ctx, call, tiers, preferred)
	return resp, used, err
}

// ExecuteWithReport runs the call and additionally returns the attempt
// log. tiers must be ordered ascending; entries below the preferred tier
// are skipped.
func (c *Chain) ExecuteWithReport(ctx context.Context, call CallFunc, tiers []tier.Tier, preferred tier.Tier) (*backend.Response, tier.Tier, []Attempt, error) {
	var attempts []Attempt
	var lastErr error

	eligible := atOrAbove(tiers, preferred)
	if len(eligible) == 0 {
		return nil, 0, nil, fmt.Errorf("no tiers at or above %s", preferred)
	}

	for idx, t := range eligible {
		cfg, err := c.catalog.Get(t)
		if err != nil {
			return nil, 0, attempts, err
		}

		for attempt := 1; attempt <= c.retry.MaxAttemptsPerTier; attempt++ {
			start := time.Now()
			resp, err := call(ctx, cfg)
			record := Attempt{
				Tier:     t,
				Err:      err,
				Duration: time.Since(start),
				Fallback: idx > 0,
			}
			attempts = append(attempts, record)

			if err == nil {
				return resp, t, attempts, nil
			}
			lastErr = err

			if errors.Is(err, ErrBudgetDenied) {
				// Budget denial cannot succeed on retry at the same tier.
				c.logger.Debug("budget denied at tier, escalating",
					zap.String("tier", t.String()))
				break
			}
			if !escalatable(err) {
				// Fatal errors bypass fallback entirely.
				return nil, 0, attempts, err
			}

			c.logger.Warn("tier attempt failed",
				zap.String("tier", t.String()),
				zap.Int("attempt", attempt),
				zap.Bool("fallback", idx > 0),
				zap.Error(err))

			if attempt < c.retry.MaxAttemptsPerTier {
				if err := c.backoff(ctx, attempt); err != nil {
					return nil, 0, attempts, err
				}
			}
		}
	}

	return nil, 0, attempts, &ExhaustedError{Attempts: len(attempts), LastErr: lastErr}
}

// escalatable reports whether a failure should advance the chain.
// Timeouts and 5xx-equivalents are; malformed requests are not.
func escalatable(err error) bool {
	if errors.Is(err, ErrBudgetDenied) {
		return true
	}
	return backend.IsTransient(err)
}

func (c *Chain) backoff(ctx context.Context, attempt int) error {
	base := time.Duration(c.retry.BaseBackoffMs) * time.Millisecond
	max := time.Duration(c.retry.MaxBackoffMs) * time.Millisecond
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			d = max
			break
		}
	}
	if max > 0 && d > max {
		d = max
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func atOrAbove(tiers []tier.Tier, preferred tier.Tier) []tier.Tier {
	var out []tier.Tier
	for _, t := range tiers {
		if t >= preferred {
			out = append(out, t)
		}
	}
	return out
}

// Package retry runs remote operations with bounded exponential backoff.
//
// Errors are classified through the sentinels in internal/common. Transient
// failures and timeouts are retried. ErrAuthExpired triggers one credential
// refresh and an immediate retry. Other errors are returned unchanged. When
// the attempt budget runs out the last error is wrapped in *ExhaustedError.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/dmitrijs2005/docsync/internal/metrics"
	goretry "github.com/sethvargo/go-retry"
)

// Refresher renews credentials after an ErrAuthExpired failure.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Config bounds the retry schedule. Zero fields take the defaults.
type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	JitterPercent  uint64
	AttemptTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		BaseDelay:      500 * time.Millisecond,
		Multiplier:     2,
		MaxDelay:       30 * time.Second,
		JitterPercent:  0,
		AttemptTimeout: 0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	return c
}

// Delay returns the wait before retry n (1-based), without jitter.
func (c Config) Delay(n int) time.Duration {
	c = c.withDefaults()
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(n-1))
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// RetryHook observes each scheduled retry.
type RetryHook func(op string, attempt int, delay time.Duration, err error)

type Manager struct {
	cfg       Config
	refresher Refresher
	logger    logging.Logger
	onRetry   RetryHook
}

type Option func(*Manager)

func WithRefresher(r Refresher) Option { return func(m *Manager) { m.refresher = r } }

func WithRetryHook(h RetryHook) Option { return func(m *Manager) { m.onRetry = h } }

func NewManager(cfg Config, logger logging.Logger, opts ...Option) *Manager {
	m := &Manager{cfg: cfg.withDefaults(), logger: logger.With("module", "retry")}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

// Execute runs fn until it succeeds, fails terminally or exhausts the
// attempt budget.
func (m *Manager) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, m, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is the value-returning form of Manager.Execute.
func Do[T any](ctx context.Context, m *Manager, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result    T
		attempts  int
		refreshed bool
		lastErr   error
	)

	backoff := m.backoff(op, &attempts, &lastErr)

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		v, err := runAttempt(ctx, m.cfg.AttemptTimeout, fn)
		if err != nil && errors.Is(err, common.ErrAuthExpired) && !refreshed && m.refresher != nil {
			refreshed = true
			m.logger.Info(ctx, "credentials expired, refreshing", "op", op)
			if rerr := m.refresher.Refresh(ctx); rerr != nil {
				return fmt.Errorf("%s: refresh credentials: %w", op, rerr)
			}
			v, err = runAttempt(ctx, m.cfg.AttemptTimeout, fn)
		}

		if err == nil {
			result = v
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if Classify(err) == ClassRetryable {
			return goretry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		metrics.RetryAttempts.WithLabelValues(op, "success").Inc()
		return result, nil
	case ctx.Err() != nil:
		return result, ctx.Err()
	case Classify(err) == ClassRetryable && attempts >= m.cfg.MaxAttempts:
		metrics.RetryAttempts.WithLabelValues(op, "exhausted").Inc()
		m.logger.Warn(ctx, "retries exhausted", "op", op, "attempts", attempts, "error", err)
		return result, &ExhaustedError{Op: op, Attempts: attempts, Err: err}
	default:
		metrics.RetryAttempts.WithLabelValues(op, "terminal").Inc()
		return result, err
	}
}

// runAttempt applies the per-attempt timeout. An expired attempt counts as
// a transient failure as long as the caller's own context is still alive.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return v, fmt.Errorf("%w: attempt timed out after %s: %v", common.ErrNetworkTransient, timeout, err)
	}
	return v, err
}

// backoff builds the go-retry schedule: our exponential curve, capped,
// jittered, bounded to MaxAttempts-1 retries and observed by the hook.
func (m *Manager) backoff(op string, attempts *int, lastErr *error) goretry.Backoff {
	var n int
	var b goretry.Backoff = goretry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return m.cfg.Delay(n), false
	})
	b = goretry.WithCappedDuration(m.cfg.MaxDelay, b)
	if m.cfg.JitterPercent > 0 {
		b = goretry.WithJitterPercent(m.cfg.JitterPercent, b)
	}
	b = goretry.WithMaxRetries(uint64(m.cfg.MaxAttempts-1), b)

	return goretry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := b.Next()
		if stop {
			return 0, true
		}
		metrics.RetryAttempts.WithLabelValues(op, "retry").Inc()
		m.logger.Debug(context.Background(), "retrying", "op", op, "attempt", *attempts, "delay", d, "error", *lastErr)
		if m.onRetry != nil {
			m.onRetry(op, *attempts, d, *lastErr)
		}
		return d, false
	})
}

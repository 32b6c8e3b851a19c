// Package executor funnels every mutating API call through one chokepoint
// that paces calls under GitHub's secondary limits and aborts the build's
// remaining mutations once the primary quota is gone.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gallerist/gallerist/internal/github"
	"github.com/gallerist/gallerist/internal/log"
)

// ErrBudgetExhausted is returned once the primary rate limit is spent. It is
// fatal for the remainder of the build, not retryable per call.
var ErrBudgetExhausted = errors.New("rate limit budget exhausted")

// Budget tracks the remaining primary-quota calls for one build invocation.
// It is created fresh per run and must not be shared across builds: a
// long-lived watch process gets a new Budget every rebuild.
type Budget struct {
	mu        sync.Mutex
	remaining int
	known     bool
	aborted   bool
}

// NewBudget returns a budget with no quota information yet. The first
// observed response header seeds it.
func NewBudget() *Budget {
	return &Budget{}
}

// Observe records the x-ratelimit-remaining value from a response header.
func (b *Budget) Observe(remaining int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = remaining
	b.known = true
}

// Aborted reports whether the budget has been declared spent.
func (b *Budget) Aborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}

// take admits one mutation attempt, or trips the abort flag when the cached
// remaining counter has reached zero.
func (b *Budget) take() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aborted {
		return ErrBudgetExhausted
	}
	if b.known && b.remaining <= 0 {
		b.aborted = true
		return ErrBudgetExhausted
	}
	return nil
}

const (
	defaultDelay       = 500 * time.Millisecond
	defaultMaxRetries  = 3
	defaultBaseBackoff = 2 * time.Second
)

// Executor applies pacing, retry, and backoff policy around mutating calls.
type Executor struct {
	budget      *Budget
	delay       time.Duration
	maxRetries  int
	baseBackoff time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithDelay sets the fixed inter-call delay that keeps mutation rate under
// the secondary-limit threshold.
func WithDelay(d time.Duration) Option {
	return func(e *Executor) { e.delay = d }
}

// WithMaxRetries bounds retries per operation.
func WithMaxRetries(n int) Option {
	return func(e *Executor) { e.maxRetries = n }
}

// WithBaseBackoff sets the backoff unit used when the server sends no
// retry hint.
func WithBaseBackoff(d time.Duration) Option {
	return func(e *Executor) { e.baseBackoff = d }
}

// WithSleeper injects the sleep function (tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// New creates an executor bound to one build's budget.
func New(budget *Budget, opts ...Option) *Executor {
	e := &Executor{
		budget:      budget,
		delay:       defaultDelay,
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs one mutating call. Before each attempt the budget is checked;
// a spent budget fails fast and poisons all later calls in this build.
// Transient failures retry immediately on the first tier, then spaced.
// Secondary-limit failures back off by the server hint when present, else
// by an increasing multiple of the base backoff.
func (e *Executor) Do(ctx context.Context, label string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if err := e.budget.take(); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		if err := e.sleep(ctx, e.delay); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		switch {
		case github.IsSecondaryRateLimit(err):
			wait, ok := github.RetryAfterHint(err)
			if !ok {
				wait = e.baseBackoff * time.Duration(attempt+1)
			}
			log.Debug("secondary rate limit", "op", label, "attempt", attempt, "backoff", wait)
			if err := e.sleep(ctx, wait); err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
		case github.IsTransient(err):
			log.Debug("transient failure", "op", label, "attempt", attempt, "error", err)
			if attempt > 0 {
				if err := e.sleep(ctx, e.baseBackoff); err != nil {
					return fmt.Errorf("%s: %w", label, err)
				}
			}
		default:
			return fmt.Errorf("%s: %w", label, err)
		}
	}

	return fmt.Errorf("%s: retries exhausted: %w", label, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

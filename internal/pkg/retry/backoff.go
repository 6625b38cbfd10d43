package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/archon-research/oracle-pusher/internal/pkg/clock"
)

// Backoff is an explicit retry state machine: it counts attempts and tracks
// the earliest time the next attempt may start. Unlike Do it does not own the
// loop, so callers can interleave their own state transitions between attempts.
//
//	b := retry.NewBackoff(cfg, clock.Real{})
//	for {
//	    b.Begin()
//	    err := attempt()
//	    if err == nil || !retryable(err) {
//	        break
//	    }
//	    if _, ok := b.Fail(); !ok {
//	        break
//	    }
//	    if err := b.Wait(ctx); err != nil {
//	        break
//	    }
//	}
type Backoff struct {
	cfg   Config
	clock clock.Clock

	attempts     int
	delay        time.Duration
	nextEligible time.Time
}

// NewBackoff creates a Backoff. A nil clock uses the system clock.
func NewBackoff(cfg Config, clk clock.Clock) *Backoff {
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 10 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 100 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Backoff{
		cfg:          cfg,
		clock:        clk,
		delay:        cfg.InitialBackoff,
		nextEligible: clk.Now(),
	}
}

// Begin records the start of an attempt and returns its 1-indexed number.
func (b *Backoff) Begin() int {
	b.attempts++
	return b.attempts
}

// Attempts returns the number of attempts started so far.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Remaining returns how many more attempts may be started.
func (b *Backoff) Remaining() int {
	left := b.cfg.MaxRetries + 1 - b.attempts
	if left < 0 {
		return 0
	}
	return left
}

// Fail records that the current attempt failed and schedules the next one.
// It returns the delay before the next attempt, or false when the retry
// budget is exhausted.
func (b *Backoff) Fail() (time.Duration, bool) {
	if b.Remaining() == 0 {
		return 0, false
	}

	delay := b.delay
	if b.cfg.Jitter {
		delay += time.Duration(rand.Int63n(int64(b.delay)))
	}
	b.nextEligible = b.clock.Now().Add(delay)

	b.delay = time.Duration(float64(b.delay) * b.cfg.BackoffFactor)
	if b.delay > b.cfg.MaxBackoff {
		b.delay = b.cfg.MaxBackoff
	}
	return delay, true
}

// NextEligible returns the earliest time the next attempt may start.
func (b *Backoff) NextEligible() time.Time {
	return b.nextEligible
}

// Ready reports whether the next attempt may start now.
func (b *Backoff) Ready() bool {
	return !b.clock.Now().Before(b.nextEligible)
}

// Wait blocks until the next attempt is eligible or ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	wait := b.nextEligible.Sub(b.clock.Now())
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while backing off: %w", ctx.Err())
	case <-b.clock.After(wait):
		return nil
	}
}

// Package clock abstracts wall-clock time so that time-driven logic can be
// tested deterministically.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock provides the current time and timers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the system clock.
type Real struct{}

var _ Clock = Real{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a manually driven clock. Timers fire when Advance moves the clock
// past their deadline. With AutoAdvance set, After moves the clock forward by
// the requested duration and fires immediately.
type Fake struct {
	mu          sync.Mutex
	now         time.Time
	timers      []fakeTimer
	autoAdvance bool
	slept       time.Duration
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
}

var _ Clock = (*Fake)(nil)

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// NewAutoFake returns a Fake clock that advances itself on every After call.
func NewAutoFake(start time.Time) *Fake {
	return &Fake{now: start, autoAdvance: true}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	if f.autoAdvance {
		f.now = f.now.Add(d)
		f.slept += d
		f.fireLocked()
		ch <- f.now
		return ch
	}
	f.timers = append(f.timers, fakeTimer{deadline: f.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward and fires every timer that is due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.fireLocked()
}

// Set moves the clock to t. Moving backwards is allowed and fires nothing.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
	f.fireLocked()
}

// Slept returns the total duration consumed by After in auto-advance mode.
func (f *Fake) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}

// PendingTimers returns the number of timers that have not fired yet.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *Fake) fireLocked() {
	sort.Slice(f.timers, func(i, j int) bool { return f.timers[i].deadline.Before(f.timers[j].deadline) })
	remaining := f.timers[:0]
	for _, t := range f.timers {
		if !t.deadline.After(f.now) {
			t.ch <- f.now
			continue
		}
		remaining = append(remaining, t)
	}
	f.timers = remaining
}

// outcome_sink.go keeps the most recent submission outcomes in a bounded
// ring so the status endpoint can show them.
package memory

import (
	"context"
	"sync"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// Compile-time check that OutcomeSink implements outbound.OutcomeSink
var _ outbound.OutcomeSink = (*OutcomeSink)(nil)

// DefaultOutcomeCapacity is the ring size used when none is configured.
const DefaultOutcomeCapacity = 100

// OutcomeSink stores the last N published outcomes. All operations are
// thread-safe.
type OutcomeSink struct {
	mu     sync.RWMutex
	ring   []entity.SubmissionOutcome
	next   int
	count  int
	total  int
	closed bool

	// Callback for test assertions
	onPublish func(entity.SubmissionOutcome)
}

// NewOutcomeSink creates a sink retaining up to capacity outcomes.
func NewOutcomeSink(capacity int) *OutcomeSink {
	if capacity <= 0 {
		capacity = DefaultOutcomeCapacity
	}
	return &OutcomeSink{
		ring: make([]entity.SubmissionOutcome, capacity),
	}
}

// Publish stores the outcome, evicting the oldest when full.
func (s *OutcomeSink) Publish(ctx context.Context, outcome entity.SubmissionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.ring[s.next] = outcome
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	s.total++

	if s.onPublish != nil {
		s.onPublish(outcome)
	}
	return nil
}

// Close marks the sink as closed. Stored outcomes remain readable.
func (s *OutcomeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// RecentOutcomes returns up to limit outcomes, newest first. limit <= 0
// returns everything retained.
func (s *OutcomeSink) RecentOutcomes(limit int) []entity.SubmissionOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]entity.SubmissionOutcome, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out
}

// Total returns the number of outcomes published since creation.
func (s *OutcomeSink) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// OnPublish sets a callback to be called when an outcome is published.
func (s *OutcomeSink) OnPublish(fn func(entity.SubmissionOutcome)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPublish = fn
}

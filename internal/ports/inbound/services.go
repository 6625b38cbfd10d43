// Package inbound contains the primary/inbound ports.
// These interfaces define what the service exposes to inbound adapters.
package inbound

import "github.com/archon-research/oracle-pusher/internal/domain/entity"

// HealthChecker defines the interface for services that can report readiness and liveness.
//
// Implementations:
//   - poll_orchestrator.Service: ready after the first cycle with a successful fetch,
//     healthy while fetches keep succeeding within a few poll intervals
type HealthChecker interface {
	// IsReady returns true when the service is ready to handle traffic.
	IsReady() bool

	// IsHealthy returns true when the service is operating normally.
	IsHealthy() bool
}

// StatusReporter exposes the live state of the pusher for operators.
type StatusReporter interface {
	// InFlightNetworks returns the networks with a submission outstanding.
	InFlightNetworks() []string

	// RecentOutcomes returns the most recent submission outcomes, newest first.
	RecentOutcomes(limit int) []entity.SubmissionOutcome

	// ConfirmedStates returns the last confirmed price of every feed on every
	// network, ordered by network then feed id.
	ConfirmedStates() []entity.FeedNetworkState
}

// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"time"
)

// MetricsRecorder provides an interface for recording application metrics.
// This allows the services to record metrics without depending on
// specific telemetry implementations.
type MetricsRecorder interface {
	// RecordCycle records a finished poll cycle. status is "ok", "fetch_error" or "timeout".
	RecordCycle(ctx context.Context, status string, duration time.Duration)

	// RecordFetch records the latency of one price source request.
	RecordFetch(ctx context.Context, duration time.Duration, err error)

	// RecordDecision records an update decision for a feed on a network.
	RecordDecision(ctx context.Context, network, reason string)

	// RecordNetworkSkipped records a network skipped because a submission is in flight.
	RecordNetworkSkipped(ctx context.Context, network string)

	// RecordSubmission records the terminal outcome of one plan.
	RecordSubmission(ctx context.Context, network, status, class string, attempts int, duration time.Duration)
}

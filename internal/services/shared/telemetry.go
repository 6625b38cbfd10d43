// Package shared provides shared utilities and instrumentation for application services.
package shared

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// Compile-time assertion that AppTelemetry implements MetricsRecorder.
var _ outbound.MetricsRecorder = (*AppTelemetry)(nil)

const (
	// instrumentationName is the name used for OpenTelemetry instrumentation.
	instrumentationName = "github.com/archon-research/oracle-pusher/internal/services"
)

// AppTelemetry provides OpenTelemetry metrics for pusher domain events.
type AppTelemetry struct {
	meter metric.Meter

	// Cycle metrics
	cyclesTotal   metric.Int64Counter
	fetchDuration metric.Float64Histogram

	// Evaluation metrics
	decisionsTotal metric.Int64Counter
	skippedTotal   metric.Int64Counter

	// Submission metrics
	submissionsTotal   metric.Int64Counter
	submissionAttempts metric.Int64Histogram
	submissionDuration metric.Float64Histogram
}

// NewAppTelemetry creates a new AppTelemetry instance with OpenTelemetry instrumentation.
// Uses the global meter provider by default.
func NewAppTelemetry() (*AppTelemetry, error) {
	return NewAppTelemetryWithProvider(otel.GetMeterProvider())
}

// NewAppTelemetryWithProvider creates a new AppTelemetry instance with a custom meter provider.
func NewAppTelemetryWithProvider(mp metric.MeterProvider) (*AppTelemetry, error) {
	meter := mp.Meter(instrumentationName)

	t := &AppTelemetry{
		meter: meter,
	}

	var err error

	t.cyclesTotal, err = meter.Int64Counter(
		"pusher.cycles.total",
		metric.WithDescription("Total number of poll cycles by terminal status"),
	)
	if err != nil {
		return nil, err
	}

	t.fetchDuration, err = meter.Float64Histogram(
		"pusher.fetch.duration",
		metric.WithDescription("Latency of price source fetches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	t.decisionsTotal, err = meter.Int64Counter(
		"pusher.decisions.total",
		metric.WithDescription("Update decisions per network and reason"),
	)
	if err != nil {
		return nil, err
	}

	t.skippedTotal, err = meter.Int64Counter(
		"pusher.networks.skipped.total",
		metric.WithDescription("Networks skipped because a submission was still in flight"),
	)
	if err != nil {
		return nil, err
	}

	t.submissionsTotal, err = meter.Int64Counter(
		"pusher.submissions.total",
		metric.WithDescription("Terminal submission outcomes per network"),
	)
	if err != nil {
		return nil, err
	}

	t.submissionAttempts, err = meter.Int64Histogram(
		"pusher.submission.attempts",
		metric.WithDescription("Attempts used per submitted plan"),
	)
	if err != nil {
		return nil, err
	}

	t.submissionDuration, err = meter.Float64Histogram(
		"pusher.submission.duration",
		metric.WithDescription("Time from building a plan to its terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordCycle records a finished poll cycle.
func (t *AppTelemetry) RecordCycle(ctx context.Context, status string, _ time.Duration) {
	t.cyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordFetch records the latency of one price source request.
func (t *AppTelemetry) RecordFetch(ctx context.Context, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	t.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordDecision records an update decision for a feed on a network.
func (t *AppTelemetry) RecordDecision(ctx context.Context, network, reason string) {
	t.decisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("network", network),
		attribute.String("reason", reason),
	))
}

// RecordNetworkSkipped records a network skipped because a submission is in flight.
func (t *AppTelemetry) RecordNetworkSkipped(ctx context.Context, network string) {
	t.skippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("network", network)))
}

// RecordSubmission records the terminal outcome of one plan.
func (t *AppTelemetry) RecordSubmission(ctx context.Context, network, status, class string, attempts int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("network", network),
		attribute.String("status", status),
		attribute.String("class", class),
	)
	t.submissionsTotal.Add(ctx, 1, attrs)
	t.submissionAttempts.Record(ctx, int64(attempts), metric.WithAttributes(attribute.String("network", network)))
	t.submissionDuration.Record(ctx, duration.Seconds(), attrs)
}

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records adapter-level call latencies: JSON-RPC calls per network
// and price source HTTP requests.
type Metrics struct {
	rpcDuration  metric.Float64Histogram
	httpDuration metric.Float64Histogram
}

// NewMetrics creates a new OpenTelemetry metrics recorder on the global
// meter provider.
func NewMetrics(meterName string) (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider(), meterName)
}

// NewMetricsWithProvider creates a recorder on a specific meter provider.
func NewMetricsWithProvider(mp metric.MeterProvider, meterName string) (*Metrics, error) {
	meter := mp.Meter(meterName)

	rpc, err := meter.Float64Histogram(
		"pusher.rpc.duration",
		metric.WithDescription("Latency of JSON-RPC calls per network and method"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pusher.rpc.duration histogram: %w", err)
	}

	httpLatency, err := meter.Float64Histogram(
		"pusher.http.duration",
		metric.WithDescription("Latency of price source HTTP requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pusher.http.duration histogram: %w", err)
	}

	return &Metrics{
		rpcDuration:  rpc,
		httpDuration: httpLatency,
	}, nil
}

// RecordRPC records one JSON-RPC call.
func (m *Metrics) RecordRPC(ctx context.Context, network, method string, duration time.Duration, err error) {
	m.rpcDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("network", network),
		attribute.String("method", method),
		attribute.String("status", statusOf(err)),
	))
}

// RecordHTTP records one price source request.
func (m *Metrics) RecordHTTP(ctx context.Context, endpoint string, duration time.Duration, err error) {
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", statusOf(err)),
	))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

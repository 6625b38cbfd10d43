package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_RecordsRPCAndHTTP(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetricsWithProvider(mp, "test")
	if err != nil {
		t.Fatalf("NewMetricsWithProvider: %v", err)
	}

	ctx := context.Background()
	m.RecordRPC(ctx, "base", "eth_sendRawTransaction", 20*time.Millisecond, nil)
	m.RecordRPC(ctx, "base", "eth_sendRawTransaction", 20*time.Millisecond, errors.New("boom"))
	m.RecordHTTP(ctx, "hermes", 150*time.Millisecond, nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	counts := map[string]int{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			h, ok := metric.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("%s has type %T", metric.Name, metric.Data)
			}
			counts[metric.Name] = len(h.DataPoints)
		}
	}
	if counts["pusher.rpc.duration"] != 2 {
		t.Errorf("rpc data points = %d, want one per status", counts["pusher.rpc.duration"])
	}
	if counts["pusher.http.duration"] != 1 {
		t.Errorf("http data points = %d, want 1", counts["pusher.http.duration"])
	}
}

func TestInitTracer_NoopWithoutExporter(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracerConfig{})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitMetrics_NoopWithoutEndpoint(t *testing.T) {
	shutdown, err := InitMetrics(context.Background(), MetricConfig{})
	if err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(1).Description(); got != "AlwaysOnSampler" {
		t.Errorf("sampler(1) = %s", got)
	}
	if got := sampler(0).Description(); got != "AlwaysOffSampler" {
		t.Errorf("sampler(0) = %s", got)
	}
}

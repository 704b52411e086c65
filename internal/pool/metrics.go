package pool

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/mtzanidakis/orca/internal/telemetry"
)

type metrics struct {
	calls    metric.Int64Counter
	retries  metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics() *metrics {
	meter := telemetry.Meter("github.com/mtzanidakis/orca/internal/pool")
	m := &metrics{}
	var err error
	if m.calls, err = meter.Int64Counter("orca.pool.calls",
		metric.WithDescription("Capability server call attempts")); err != nil {
		m.calls = noop.Int64Counter{}
	}
	if m.retries, err = meter.Int64Counter("orca.pool.retries",
		metric.WithDescription("Capability server call retries")); err != nil {
		m.retries = noop.Int64Counter{}
	}
	if m.duration, err = meter.Float64Histogram("orca.pool.call.duration",
		metric.WithDescription("Capability server call latency"),
		metric.WithUnit("ms")); err != nil {
		m.duration = noop.Float64Histogram{}
	}
	return m
}

func (m *metrics) call(ctx context.Context, server string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("server", server),
		attribute.Bool("ok", err == nil),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

func (m *metrics) retry(ctx context.Context, server string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("server", server)))
}

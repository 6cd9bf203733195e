// internal/common/observability/metrics.go
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability records sweep-level instruments through the otel metric SDK.
// A zero value is usable and records nothing.
type Observability struct {
	meterProvider *metric.MeterProvider
	sweepCounter  otelmetric.Int64Counter
	sweepDuration otelmetric.Float64Histogram
	sweepItems    otelmetric.Int64Counter
	retentionDel  otelmetric.Int64Counter
}

func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	return NewWithReader(serviceName, exporter)
}

// NewWithReader lets tests plug in a ManualReader.
func NewWithReader(serviceName string, reader metric.Reader) (*Observability, error) {
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	sweepCounter, err := meter.Int64Counter(
		"notification.sweeps",
		otelmetric.WithDescription("Completed scheduler sweeps"),
	)
	if err != nil {
		return nil, err
	}

	sweepDuration, err := meter.Float64Histogram(
		"notification.sweep.duration",
		otelmetric.WithDescription("Scheduler sweep duration"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	sweepItems, err := meter.Int64Counter(
		"notification.sweep.items",
		otelmetric.WithDescription("Notifications selected by scheduler sweeps"),
	)
	if err != nil {
		return nil, err
	}

	retentionDel, err := meter.Int64Counter(
		"notification.retention.deleted",
		otelmetric.WithDescription("Terminal notifications removed by retention"),
	)
	if err != nil {
		return nil, err
	}

	return &Observability{
		meterProvider: provider,
		sweepCounter:  sweepCounter,
		sweepDuration: sweepDuration,
		sweepItems:    sweepItems,
		retentionDel:  retentionDel,
	}, nil
}

func (o *Observability) RecordSweep(ctx context.Context, duration time.Duration, items int, status string) {
	if o == nil || o.sweepCounter == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("status", status))
	o.sweepCounter.Add(ctx, 1, attrs)
	o.sweepDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	o.sweepItems.Add(ctx, int64(items), attrs)
}

func (o *Observability) RecordRetention(ctx context.Context, deleted int64) {
	if o == nil || o.retentionDel == nil {
		return
	}
	o.retentionDel.Add(ctx, deleted)
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.meterProvider == nil {
		return nil
	}
	return o.meterProvider.Shutdown(ctx)
}

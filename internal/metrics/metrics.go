package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewMeterProvider builds an OpenTelemetry meter provider backed by the
// process-wide Prometheus registry, so instruments show up on /metrics.
func NewMeterProvider() (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)), nil
}

// Metrics carries the pipeline's instruments.
type Metrics struct {
	ticksIngested      metric.Int64Counter
	ticksRejected      metric.Int64Counter
	barsFinalized      metric.Int64Counter
	archiveFailures    metric.Int64Counter
	alertsTriggered    metric.Int64Counter
	subscribersDropped metric.Int64Counter
	activeSubscribers  metric.Int64UpDownCounter
}

func New(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.ticksIngested, err = meter.Int64Counter("ticks_ingested_total",
		metric.WithDescription("Ticks accepted by the ingestion pipeline")); err != nil {
		return nil, err
	}
	if m.ticksRejected, err = meter.Int64Counter("ticks_rejected_total",
		metric.WithDescription("Malformed feed events dropped at the ingestion boundary")); err != nil {
		return nil, err
	}
	if m.barsFinalized, err = meter.Int64Counter("bars_finalized_total",
		metric.WithDescription("Bars emitted by the resampler")); err != nil {
		return nil, err
	}
	if m.archiveFailures, err = meter.Int64Counter("archive_write_failures_total",
		metric.WithDescription("Bar persistence failures")); err != nil {
		return nil, err
	}
	if m.alertsTriggered, err = meter.Int64Counter("alerts_triggered_total",
		metric.WithDescription("Alerts produced by rule evaluation")); err != nil {
		return nil, err
	}
	if m.subscribersDropped, err = meter.Int64Counter("subscribers_dropped_total",
		metric.WithDescription("Subscribers removed after a failed send")); err != nil {
		return nil, err
	}
	if m.activeSubscribers, err = meter.Int64UpDownCounter("subscribers_active",
		metric.WithDescription("Currently connected subscribers")); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *Metrics) TickIngested(ctx context.Context, symbol string) {
	m.ticksIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *Metrics) TickRejected(ctx context.Context) {
	m.ticksRejected.Add(ctx, 1)
}

func (m *Metrics) BarFinalized(ctx context.Context, symbol, timeframe string) {
	m.barsFinalized.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("timeframe", timeframe),
	))
}

func (m *Metrics) ArchiveWriteFailed(ctx context.Context) {
	m.archiveFailures.Add(ctx, 1)
}

func (m *Metrics) AlertTriggered(ctx context.Context, symbol string) {
	m.alertsTriggered.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *Metrics) SubscriberAdded(ctx context.Context) {
	m.activeSubscribers.Add(ctx, 1)
}

func (m *Metrics) SubscriberRemoved(ctx context.Context, dropped bool) {
	m.activeSubscribers.Add(ctx, -1)
	if dropped {
		m.subscribersDropped.Add(ctx, 1)
	}
}

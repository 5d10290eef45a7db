package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "syncbridge"

// Metrics holds the sync engine's instruments. A nil *Metrics records
// nothing, so services can run without telemetry in tests.
type Metrics struct {
	Attempts        metric.Int64Counter
	Failures        metric.Int64Counter
	ConflictsOpened metric.Int64Counter
	Webhooks        metric.Int64Counter
	AttemptDuration metric.Float64Histogram
	AdapterDuration metric.Float64Histogram
	PassClaimed     metric.Int64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Attempts, err = meter.Int64Counter("syncbridge.sync.attempts",
		metric.WithDescription("Sync attempts by outcome status"))
	if err != nil {
		return nil, err
	}

	m.Failures, err = meter.Int64Counter("syncbridge.sync.failures",
		metric.WithDescription("Failed sync attempts by error kind"))
	if err != nil {
		return nil, err
	}

	m.ConflictsOpened, err = meter.Int64Counter("syncbridge.conflicts.opened",
		metric.WithDescription("Conflicts left open for operator resolution"))
	if err != nil {
		return nil, err
	}

	m.Webhooks, err = meter.Int64Counter("syncbridge.webhooks",
		metric.WithDescription("Webhook deliveries by disposition"))
	if err != nil {
		return nil, err
	}

	m.AttemptDuration, err = meter.Float64Histogram("syncbridge.sync.attempt.duration_seconds",
		metric.WithDescription("Sync attempt duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.AdapterDuration, err = meter.Float64Histogram("syncbridge.adapter.call.duration_seconds",
		metric.WithDescription("Vendor adapter call duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.PassClaimed, err = meter.Int64Histogram("syncbridge.pass.claimed",
		metric.WithDescription("Records claimed per scheduling pass"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordAttempt counts one finished attempt.
func (m *Metrics) RecordAttempt(ctx context.Context, entityType, systemID, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("external_system_id", systemID),
		attribute.String("status", status),
	)
	m.Attempts.Add(ctx, 1, attrs)
	m.AttemptDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordFailure counts a failure by kind (transient, permanent, configuration).
func (m *Metrics) RecordFailure(ctx context.Context, systemID, kind string) {
	if m == nil {
		return
	}
	m.Failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("external_system_id", systemID),
		attribute.String("kind", kind),
	))
}

// RecordConflict counts a conflict left open.
func (m *Metrics) RecordConflict(ctx context.Context, entityType, systemID string) {
	if m == nil {
		return
	}
	m.ConflictsOpened.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity_type", entityType),
		attribute.String("external_system_id", systemID),
	))
}

// RecordAdapterCall records the latency of one vendor call.
func (m *Metrics) RecordAdapterCall(ctx context.Context, systemID, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.AdapterDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("external_system_id", systemID),
		attribute.String("op", op),
		attribute.Bool("error", err != nil),
	))
}

// RecordWebhook counts one delivery by disposition.
func (m *Metrics) RecordWebhook(ctx context.Context, systemID, disposition string) {
	if m == nil {
		return
	}
	m.Webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("external_system_id", systemID),
		attribute.String("disposition", disposition),
	))
}

// RecordPass records how many records a scheduling pass claimed.
func (m *Metrics) RecordPass(ctx context.Context, claimed int) {
	if m == nil {
		return
	}
	m.PassClaimed.Record(ctx, int64(claimed))
}

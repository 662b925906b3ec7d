package shared

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl-logfeed/internal/ports/outbound"
)

// Compile-time assertion that AppTelemetry implements LogFeedRecorder.
var _ outbound.LogFeedRecorder = (*AppTelemetry)(nil)

const (
	// instrumentationName is the name used for OpenTelemetry instrumentation.
	instrumentationName = "github.com/archon-research/stl-logfeed/internal/services"
)

// AppTelemetry provides OpenTelemetry metrics for log feed domain events.
// Transport-level concerns (HTTP requests, WebSocket reconnects) are tracked by
// the adapters' own telemetry.
type AppTelemetry struct {
	ingestedTotal      metric.Int64Counter
	duplicateTotal     metric.Int64Counter
	pageFetchDuration  metric.Float64Histogram
	pageFetchErrors    metric.Int64Counter
	subscriptionErrors metric.Int64Counter
	networkChanges     metric.Int64Counter
}

// NewAppTelemetry creates an AppTelemetry using the global meter provider.
func NewAppTelemetry() (*AppTelemetry, error) {
	return NewAppTelemetryWithProvider(otel.GetMeterProvider())
}

// NewAppTelemetryWithProvider creates an AppTelemetry with a custom meter provider.
func NewAppTelemetryWithProvider(mp metric.MeterProvider) (*AppTelemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &AppTelemetry{}

	var err error
	t.ingestedTotal, err = meter.Int64Counter(
		"logfeed.records.ingested.total",
		metric.WithDescription("Total number of logs added to the list"),
	)
	if err != nil {
		return nil, err
	}

	t.duplicateTotal, err = meter.Int64Counter(
		"logfeed.records.duplicate.total",
		metric.WithDescription("Total number of received logs already present in the list"),
	)
	if err != nil {
		return nil, err
	}

	t.pageFetchDuration, err = meter.Float64Histogram(
		"logfeed.page.fetch.duration",
		metric.WithDescription("Duration of historical page requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	t.pageFetchErrors, err = meter.Int64Counter(
		"logfeed.page.fetch.errors.total",
		metric.WithDescription("Total number of failed historical page requests"),
	)
	if err != nil {
		return nil, err
	}

	t.subscriptionErrors, err = meter.Int64Counter(
		"logfeed.subscription.errors.total",
		metric.WithDescription("Total number of failed live subscription attempts"),
	)
	if err != nil {
		return nil, err
	}

	t.networkChanges, err = meter.Int64Counter(
		"logfeed.network.changes.total",
		metric.WithDescription("Total number of active network switches"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordIngested records added and duplicate log counts for one ingestion.
func (t *AppTelemetry) RecordIngested(ctx context.Context, network, source string, added, duplicates int) {
	attrs := metric.WithAttributes(
		attribute.String("network", network),
		attribute.String("source", source),
	)
	if added > 0 {
		t.ingestedTotal.Add(ctx, int64(added), attrs)
	}
	if duplicates > 0 {
		t.duplicateTotal.Add(ctx, int64(duplicates), attrs)
	}
}

// RecordPageFetch records one historical page request.
func (t *AppTelemetry) RecordPageFetch(ctx context.Context, network string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		t.pageFetchErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("network", network)))
	}
	t.pageFetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("network", network),
		attribute.String("status", status),
	))
}

// RecordSubscription records a live subscription attempt. Only failures are counted.
func (t *AppTelemetry) RecordSubscription(ctx context.Context, network string, err error) {
	if err == nil {
		return
	}
	t.subscriptionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("network", network)))
}

// RecordNetworkChange records a switch of the active network.
func (t *AppTelemetry) RecordNetworkChange(ctx context.Context, network string) {
	t.networkChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("network", network)))
}

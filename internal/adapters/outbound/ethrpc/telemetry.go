// telemetry.go provides OpenTelemetry instrumentation for the JSON-RPC adapters.
//
// HTTP Client metrics:
//   - ethrpc.client.request.duration: Histogram of request latencies
//   - ethrpc.client.requests.total: Counter of total requests by method/status
//   - ethrpc.client.retries.total: Counter of retry attempts
//   - ethrpc.client.window.shrinks.total: Counter of eth_getLogs windows halved after range errors
//
// WebSocket Subscriber metrics:
//   - ethrpc.subscriber.reconnections.total: Counter of reconnection events
//   - ethrpc.subscriber.logs.received.total: Counter of logs delivered
//   - ethrpc.subscriber.logs.removed.total: Counter of reorged-out logs skipped
//   - ethrpc.subscriber.connections: Gauge of open subscription connections
package ethrpc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// instrumentationName is the name used for OpenTelemetry instrumentation.
	instrumentationName = "github.com/archon-research/stl-logfeed/internal/adapters/outbound/ethrpc"
)

// Telemetry provides OpenTelemetry metrics and tracing for the JSON-RPC adapters.
type Telemetry struct {
	tracer trace.Tracer

	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	retriesTotal    metric.Int64Counter
	windowShrinks   metric.Int64Counter

	reconnectionsTotal metric.Int64Counter
	logsReceivedTotal  metric.Int64Counter
	logsRemovedTotal   metric.Int64Counter
	connections        metric.Int64UpDownCounter
}

// NewTelemetry creates a Telemetry using the global tracer and meter providers.
func NewTelemetry() (*Telemetry, error) {
	return NewTelemetryWithProviders(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewTelemetryWithProviders creates a Telemetry with custom providers.
func NewTelemetryWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &Telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	t.requestDuration, err = meter.Float64Histogram(
		"ethrpc.client.request.duration",
		metric.WithDescription("Duration of HTTP RPC requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	t.requestsTotal, err = meter.Int64Counter(
		"ethrpc.client.requests.total",
		metric.WithDescription("Total number of HTTP RPC requests"),
	)
	if err != nil {
		return nil, err
	}

	t.retriesTotal, err = meter.Int64Counter(
		"ethrpc.client.retries.total",
		metric.WithDescription("Total number of retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	t.windowShrinks, err = meter.Int64Counter(
		"ethrpc.client.window.shrinks.total",
		metric.WithDescription("Total number of eth_getLogs windows halved after a range error"),
	)
	if err != nil {
		return nil, err
	}

	t.reconnectionsTotal, err = meter.Int64Counter(
		"ethrpc.subscriber.reconnections.total",
		metric.WithDescription("Total number of WebSocket reconnections"),
	)
	if err != nil {
		return nil, err
	}

	t.logsReceivedTotal, err = meter.Int64Counter(
		"ethrpc.subscriber.logs.received.total",
		metric.WithDescription("Total number of logs received over subscriptions"),
	)
	if err != nil {
		return nil, err
	}

	t.logsRemovedTotal, err = meter.Int64Counter(
		"ethrpc.subscriber.logs.removed.total",
		metric.WithDescription("Total number of removed (reorged) logs skipped"),
	)
	if err != nil {
		return nil, err
	}

	t.connections, err = meter.Int64UpDownCounter(
		"ethrpc.subscriber.connections",
		metric.WithDescription("Number of open subscription connections"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// --- HTTP Client instrumentation ---

// StartSpan starts a new span for an RPC method call.
func (t *Telemetry) StartSpan(ctx context.Context, network, method string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "ethrpc."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", method),
			attribute.String("network", network),
		),
	)
}

// RecordRequest records metrics for an HTTP RPC request.
func (t *Telemetry) RecordRequest(ctx context.Context, network, method string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("network", network),
		attribute.String("status", status),
	)
	t.requestDuration.Record(ctx, duration.Seconds(), attrs)
	t.requestsTotal.Add(ctx, 1, attrs)
}

// RecordRetry records a retry attempt.
func (t *Telemetry) RecordRetry(ctx context.Context, network, method string, attempt int) {
	t.retriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("network", network),
		attribute.Int("attempt", attempt),
	))
}

// RecordWindowShrink records an eth_getLogs window being halved.
func (t *Telemetry) RecordWindowShrink(ctx context.Context, network string) {
	t.windowShrinks.Add(ctx, 1, metric.WithAttributes(attribute.String("network", network)))
}

// --- WebSocket Subscriber instrumentation ---

// RecordReconnection records a WebSocket reconnection event.
func (t *Telemetry) RecordReconnection(ctx context.Context, network string) {
	t.reconnectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("network", network)))
}

// RecordLogReceived records a log delivered to the subscriber's callback.
func (t *Telemetry) RecordLogReceived(ctx context.Context, network string) {
	t.logsReceivedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("network", network)))
}

// RecordLogRemoved records a removed log being skipped.
func (t *Telemetry) RecordLogRemoved(ctx context.Context, network string) {
	t.logsRemovedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("network", network)))
}

// RecordConnectionUp records a subscription connection being established.
func (t *Telemetry) RecordConnectionUp(ctx context.Context, network string) {
	t.connections.Add(ctx, 1, metric.WithAttributes(attribute.String("network", network)))
}

// RecordConnectionDown records a subscription connection being closed.
func (t *Telemetry) RecordConnectionDown(ctx context.Context, network string) {
	t.connections.Add(ctx, -1, metric.WithAttributes(attribute.String("network", network)))
}

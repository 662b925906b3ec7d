package log_list

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl-logfeed/internal/domain/entity"
	"github.com/archon-research/stl-logfeed/internal/ports/outbound"
	"github.com/archon-research/stl-logfeed/internal/services/shared"
)

const (
	// tracerName is the instrumentation name for this service.
	tracerName = "github.com/archon-research/stl-logfeed/internal/services/log_list"
)

// LiveFeed owns at most one live subscription at a time and forwards its
// deliveries into the Store.
//
// Every Activate and Deactivate starts a new generation. A delivery is only
// ingested while its subscription's generation is current, so nothing reaches
// the Store once Deactivate has returned, even if the transport is slow to stop.
type LiveFeed struct {
	subscriber outbound.LogSubscriber
	store      *Store
	lifecycle  *shared.Lifecycle
	metrics    outbound.LogFeedRecorder
	logger     *slog.Logger

	mu      sync.Mutex
	gen     uint64
	cancel  outbound.CancelFunc
	network string
}

// NewLiveFeed creates a LiveFeed writing into store. metrics may be nil.
func NewLiveFeed(
	subscriber outbound.LogSubscriber,
	store *Store,
	lifecycle *shared.Lifecycle,
	metrics outbound.LogFeedRecorder,
	logger *slog.Logger,
) *LiveFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveFeed{
		subscriber: subscriber,
		store:      store,
		lifecycle:  lifecycle,
		metrics:    metrics,
		logger:     logger.With("component", "live-feed"),
	}
}

// Activate opens a live subscription for network, releasing any previous one.
// Failures are logged and leave the feed inactive; there is no retry here.
//
// If teardown, another Activate/Deactivate or cancellation of ctx happens while
// the subscription is being established, the late handle is cancelled immediately.
func (f *LiveFeed) Activate(ctx context.Context, network string) {
	if f.lifecycle.Destroyed() {
		f.Deactivate()
		return
	}

	f.mu.Lock()
	previous := f.cancel
	f.cancel = nil
	f.network = ""
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	if previous != nil {
		previous()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "logfeed.subscribe",
		trace.WithAttributes(attribute.String("network", network)),
	)
	defer span.End()

	cancel, err := f.subscriber.SubscribeLogs(ctx, network, func(r entity.LogRecord) {
		f.deliver(ctx, gen, network, r)
	})
	if f.metrics != nil {
		f.metrics.RecordSubscription(ctx, network, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to subscribe to logs")
		f.logger.Warn("failed to subscribe to logs", "network", network, "error", err)
		return
	}

	f.mu.Lock()
	if f.gen != gen || f.lifecycle.Destroyed() || ctx.Err() != nil {
		f.mu.Unlock()
		span.SetAttributes(attribute.Bool("subscription.superseded", true))
		f.logger.Debug("releasing superseded subscription", "network", network)
		cancel()
		return
	}
	f.cancel = cancel
	f.network = network
	f.mu.Unlock()

	f.logger.Info("live subscription active", "network", network)
}

// Deactivate releases the current subscription, if any. It is idempotent.
func (f *LiveFeed) Deactivate() {
	f.mu.Lock()
	cancel := f.cancel
	network := f.network
	f.cancel = nil
	f.network = ""
	f.gen++
	f.mu.Unlock()

	// cancel may wait for the transport goroutine, which may be blocked in
	// deliver on f.mu, so it runs unlocked.
	if cancel != nil {
		cancel()
		f.logger.Info("live subscription released", "network", network)
	}
}

// Active reports whether a subscription is currently held.
func (f *LiveFeed) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel != nil
}

// Network returns the network of the held subscription, or "".
func (f *LiveFeed) Network() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.network
}

func (f *LiveFeed) deliver(ctx context.Context, gen uint64, network string, r entity.LogRecord) {
	if f.lifecycle.Destroyed() {
		return
	}

	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		return
	}
	added := f.store.IngestLive(r)
	f.mu.Unlock()

	if f.metrics != nil {
		if added {
			f.metrics.RecordIngested(ctx, network, outbound.SourceLive, 1, 0)
		} else {
			f.metrics.RecordIngested(ctx, network, outbound.SourceLive, 0, 1)
		}
	}
	if added {
		f.logger.Debug("live log ingested", "network", network, "key", r.Key().String())
	}
}

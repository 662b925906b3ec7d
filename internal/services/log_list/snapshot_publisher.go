package log_list

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/archon-research/stl-logfeed/internal/ports/outbound"
)

// SnapshotPublisherConfig holds configuration for the SnapshotPublisher.
type SnapshotPublisherConfig struct {
	// PublishTimeout bounds a single PublishSnapshot call.
	PublishTimeout time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger
}

// SnapshotPublisherConfigDefaults returns default configuration.
func SnapshotPublisherConfigDefaults() SnapshotPublisherConfig {
	return SnapshotPublisherConfig{
		PublishTimeout: 5 * time.Second,
		Logger:         slog.Default(),
	}
}

// SnapshotPublisher forwards list snapshots to a SnapshotSink from a single
// worker goroutine. Only the latest pending snapshot is kept, so a slow sink
// never holds up the Store.
type SnapshotPublisher struct {
	config SnapshotPublisherConfig
	sink   outbound.SnapshotSink
	logger *slog.Logger

	pending chan outbound.LogSnapshot
	offerMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSnapshotPublisher creates a SnapshotPublisher writing to sink.
func NewSnapshotPublisher(config SnapshotPublisherConfig, sink outbound.SnapshotSink) (*SnapshotPublisher, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	defaults := SnapshotPublisherConfigDefaults()
	if config.PublishTimeout == 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &SnapshotPublisher{
		config:  config,
		sink:    sink,
		logger:  config.Logger.With("component", "snapshot-publisher"),
		pending: make(chan outbound.LogSnapshot, 1),
	}, nil
}

// Offer queues snapshot for publication, replacing any snapshot not yet taken
// by the worker. It never blocks.
func (p *SnapshotPublisher) Offer(snapshot outbound.LogSnapshot) {
	p.offerMu.Lock()
	defer p.offerMu.Unlock()

	select {
	case <-p.pending:
	default:
	}
	p.pending <- snapshot
}

// Start launches the worker. It returns immediately.
func (p *SnapshotPublisher) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("snapshot publisher started", "timeout", p.config.PublishTimeout)
	return nil
}

// Stop stops the worker, publishes the last pending snapshot if any, and
// closes the sink.
func (p *SnapshotPublisher) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	select {
	case snapshot := <-p.pending:
		p.publish(context.Background(), snapshot)
	default:
	}

	if err := p.sink.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot sink: %w", err)
	}
	p.logger.Info("snapshot publisher stopped")
	return nil
}

func (p *SnapshotPublisher) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-p.pending:
			p.publish(ctx, snapshot)
		}
	}
}

func (p *SnapshotPublisher) publish(ctx context.Context, snapshot outbound.LogSnapshot) {
	// An empty network has nowhere to go.
	if snapshot.Network == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	if err := p.sink.PublishSnapshot(ctx, snapshot); err != nil {
		p.logger.Warn("failed to publish snapshot",
			"network", snapshot.Network,
			"records", len(snapshot.Records),
			"error", err)
		return
	}
	p.logger.Debug("snapshot published", "network", snapshot.Network, "records", len(snapshot.Records))
}

// snapshot_sink.go provides an in-memory implementation of SnapshotSink.
//
// Published snapshots are kept in order for inspection in tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/archon-research/stl-logfeed/internal/ports/outbound"
)

// Compile-time check that SnapshotSink implements outbound.SnapshotSink
var _ outbound.SnapshotSink = (*SnapshotSink)(nil)

// SnapshotSink is an in-memory implementation of the SnapshotSink port for testing.
type SnapshotSink struct {
	mu        sync.RWMutex
	snapshots []outbound.LogSnapshot
	closed    bool

	// Callback for test assertions
	onPublish func(outbound.LogSnapshot)
}

// NewSnapshotSink creates a new in-memory snapshot sink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{}
}

// PublishSnapshot stores the snapshot.
func (s *SnapshotSink) PublishSnapshot(ctx context.Context, snapshot outbound.LogSnapshot) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.snapshots = append(s.snapshots, snapshot)
	onPublish := s.onPublish
	s.mu.Unlock()

	if onPublish != nil {
		onPublish(snapshot)
	}
	return nil
}

// Close marks the sink as closed. Later snapshots are dropped.
func (s *SnapshotSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (s *SnapshotSink) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Snapshots returns every published snapshot in publication order.
func (s *SnapshotSink) Snapshots() []outbound.LogSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snapshots)
}

// Latest returns the most recent snapshot and whether there was one.
func (s *SnapshotSink) Latest() (outbound.LogSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return outbound.LogSnapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

// SetOnPublish registers a callback invoked after each stored snapshot.
func (s *SnapshotSink) SetOnPublish(fn func(outbound.LogSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPublish = fn
}

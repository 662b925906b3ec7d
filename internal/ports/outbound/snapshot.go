package outbound

import (
	"context"
	"time"

	"github.com/archon-research/stl-logfeed/internal/domain/entity"
)

// LogSnapshot is the full ordered log list of one network at a point in time.
type LogSnapshot struct {
	Network     string
	Records     []entity.LogRecord
	HasNextPage bool
	TakenAt     time.Time
}

// SnapshotSink hands log list snapshots to other processes.
// It is a publication channel, not a store: nothing is read back.
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, snapshot LogSnapshot) error
	Close() error
}

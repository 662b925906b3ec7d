// Package outbound contains the secondary/outbound ports.
// These interfaces describe what the log feed needs from the outside world.
package outbound

import (
	"context"

	"github.com/archon-research/stl-logfeed/internal/domain/entity"
)

// CancelFunc releases a live subscription. Implementations must be idempotent.
type CancelFunc func()

// LogSubscriber delivers newly produced logs for a network as they occur.
// This port is designed for WebSocket-based subscriptions like eth_subscribe("logs").
type LogSubscriber interface {
	// SubscribeLogs establishes a subscription and returns once the remote side
	// has confirmed it. onLog is invoked from a transport goroutine for every
	// delivered log until the returned CancelFunc is called.
	//
	// A non-nil error means no subscription exists and nothing needs releasing.
	SubscribeLogs(ctx context.Context, network string, onLog func(entity.LogRecord)) (CancelFunc, error)
}

// LogPage is one batch of historical logs plus the cursor of the next batch.
type LogPage struct {
	// Records are the logs of this batch, newest first.
	Records []entity.LogRecord

	// NextCursor resumes pagination after this batch.
	// Empty when the batch is empty or this is the final page.
	NextCursor string
}

// LogPager retrieves historical logs in bounded batches, newest first.
type LogPager interface {
	// GetLogs fetches at most limit logs strictly older than cursor.
	// An empty cursor starts from the chain head.
	GetLogs(ctx context.Context, network string, limit int, cursor string) (LogPage, error)
}

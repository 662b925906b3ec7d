package outbound

import (
	"context"
	"time"
)

// Record sources reported to LogFeedRecorder.
const (
	SourceLive = "live"
	SourcePage = "page"
)

// LogFeedRecorder records log feed domain metrics.
// All methods must be safe for concurrent use.
type LogFeedRecorder interface {
	// RecordIngested records how many logs were added to and rejected from the list.
	RecordIngested(ctx context.Context, network, source string, added, duplicates int)

	// RecordPageFetch records the duration and outcome of one historical page request.
	RecordPageFetch(ctx context.Context, network string, duration time.Duration, err error)

	// RecordSubscription records the outcome of a live subscription attempt.
	RecordSubscription(ctx context.Context, network string, err error)

	// RecordNetworkChange records a switch of the active network.
	RecordNetworkChange(ctx context.Context, network string)
}

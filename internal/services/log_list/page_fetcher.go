package log_list

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl-logfeed/internal/ports/outbound"
	"github.com/archon-research/stl-logfeed/internal/services/shared"
)

// PageFetcher requests historical pages and merges them into the Store.
type PageFetcher struct {
	pager     outbound.LogPager
	store     *Store
	lifecycle *shared.Lifecycle
	metrics   outbound.LogFeedRecorder
	logger    *slog.Logger
	pageSize  int
}

// NewPageFetcher creates a PageFetcher. metrics may be nil.
func NewPageFetcher(
	pager outbound.LogPager,
	store *Store,
	lifecycle *shared.Lifecycle,
	pageSize int,
	metrics outbound.LogFeedRecorder,
	logger *slog.Logger,
) *PageFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageFetcher{
		pager:     pager,
		store:     store,
		lifecycle: lifecycle,
		metrics:   metrics,
		logger:    logger.With("component", "page-fetcher"),
		pageSize:  pageSize,
	}
}

// FetchPage requests one page of at most pageSize logs older than cursor and
// merges it into the Store. An empty cursor requests the newest page.
//
// The result is discarded when teardown happened, ctx was cancelled, or the
// Store was reset while the request was in flight. Errors are logged and
// leave the Store untouched. It reports whether a page was ingested.
func (p *PageFetcher) FetchPage(ctx context.Context, network, cursor string) bool {
	return p.fetch(ctx, network, cursor, p.store.Epoch())
}

// FetchNextPage fetches the page after the Store's continuation cursor.
// It does nothing when no cursor is held.
func (p *PageFetcher) FetchNextPage(ctx context.Context, network string) bool {
	cursor, epoch := p.store.NextPage()
	if cursor == "" {
		return false
	}
	return p.fetch(ctx, network, cursor, epoch)
}

func (p *PageFetcher) fetch(ctx context.Context, network, cursor string, epoch uint64) bool {
	if p.lifecycle.Destroyed() {
		return false
	}

	done := p.lifecycle.BeginLoading()
	defer done()

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "logfeed.fetchPage",
		trace.WithAttributes(
			attribute.String("network", network),
			attribute.String("page.cursor", cursor),
			attribute.Int("page.size", p.pageSize),
		),
	)
	defer span.End()

	start := time.Now()
	page, err := p.pager.GetLogs(ctx, network, p.pageSize, cursor)
	if p.metrics != nil {
		p.metrics.RecordPageFetch(ctx, network, time.Since(start), err)
	}
	if err != nil && ctx.Err() != nil {
		span.SetAttributes(attribute.Bool("page.discarded", true))
		p.logger.Debug("log page request cancelled", "network", network, "cursor", cursor, "error", err)
		return false
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch log page")
		p.logger.Warn("failed to fetch log page", "network", network, "cursor", cursor, "error", err)
		return false
	}

	if p.lifecycle.Destroyed() || ctx.Err() != nil {
		span.SetAttributes(attribute.Bool("page.discarded", true))
		p.logger.Debug("discarding page that resolved after teardown", "network", network, "cursor", cursor)
		return false
	}

	added, ok := p.store.IngestPageAt(epoch, page.Records, page.NextCursor)
	if !ok {
		span.SetAttributes(attribute.Bool("page.discarded", true))
		p.logger.Debug("discarding page from a previous session", "network", network, "cursor", cursor)
		return false
	}

	duplicates := len(page.Records) - added
	span.SetAttributes(
		attribute.Int("page.records", len(page.Records)),
		attribute.Int("page.added", added),
		attribute.Bool("page.has_next", page.NextCursor != ""),
	)
	if p.metrics != nil {
		p.metrics.RecordIngested(ctx, network, outbound.SourcePage, added, duplicates)
	}
	p.logger.Debug("page ingested",
		"network", network,
		"cursor", cursor,
		"records", len(page.Records),
		"added", added,
		"nextCursor", page.NextCursor)
	return true
}

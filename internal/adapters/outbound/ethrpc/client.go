// Package ethrpc provides adapters for Ethereum JSON-RPC nodes: an HTTP client
// that pages through historical logs and a WebSocket subscriber for new logs.
package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/archon-research/stl-logfeed/internal/domain/entity"
	"github.com/archon-research/stl-logfeed/internal/pkg/hexutil"
	"github.com/archon-research/stl-logfeed/internal/pkg/networks"
	"github.com/archon-research/stl-logfeed/internal/pkg/retry"
	"github.com/archon-research/stl-logfeed/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.LogPager
var _ outbound.LogPager = (*Client)(nil)

// httpStatusError is a non-200 HTTP response.
type httpStatusError struct {
	StatusCode int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client pages backwards through a network's logs over HTTP JSON-RPC.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	telemetry  *Telemetry

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	nextID   atomic.Int64
}

// NewClient creates a new HTTP JSON-RPC client.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     config.Logger.With("component", "ethrpc-client"),
		telemetry:  config.Telemetry,
		limiters:   make(map[string]*rate.Limiter),
	}, nil
}

// BlockNumber returns the network's head block number.
func (c *Client) BlockNumber(ctx context.Context, network string) (uint64, error) {
	net, err := c.resolve(network)
	if err != nil {
		return 0, err
	}
	return c.blockNumber(ctx, net)
}

func (c *Client) blockNumber(ctx context.Context, net networks.Network) (uint64, error) {
	result, err := c.call(ctx, net, "eth_blockNumber")
	if err != nil {
		return 0, err
	}

	var hexNum string
	if err := json.Unmarshal(result, &hexNum); err != nil {
		return 0, fmt.Errorf("failed to parse block number: %w", err)
	}
	n, err := hexutil.ParseUint64(hexNum)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block number %q: %w", hexNum, err)
	}
	return n, nil
}

// FilterLogs returns the network's logs in [from, to] matching its filter,
// in node order.
func (c *Client) FilterLogs(ctx context.Context, network string, from, to uint64) ([]types.Log, error) {
	net, err := c.resolve(network)
	if err != nil {
		return nil, err
	}
	return c.filterLogs(ctx, net, from, to)
}

func (c *Client) filterLogs(ctx context.Context, net networks.Network, from, to uint64) ([]types.Log, error) {
	filter := newLogFilter(net.Filter).withRange(from, to)
	result, err := c.call(ctx, net, "eth_getLogs", filter)
	if err != nil {
		return nil, err
	}

	var logs []types.Log
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("failed to parse logs: %w", err)
	}
	return logs, nil
}

// GetLogs returns at most limit logs strictly before cursor, newest first.
// An empty cursor starts at the chain head.
//
// Blocks are scanned downward in windows of BlockRange blocks. The scan stops
// once limit logs were collected, at genesis, or after MaxScanBlocks blocks.
// The next cursor is the position of the last returned log when more logs are
// known to exist, the scanned window boundary when the budget ran out, and
// empty when the batch is empty or genesis was reached.
func (c *Client) GetLogs(ctx context.Context, network string, limit int, cursor string) (outbound.LogPage, error) {
	if limit <= 0 {
		return outbound.LogPage{}, fmt.Errorf("limit must be positive, got %d", limit)
	}
	net, err := c.resolve(network)
	if err != nil {
		return outbound.LogPage{}, err
	}

	var before entity.LogCursor
	if cursor == "" {
		head, err := c.blockNumber(ctx, net)
		if err != nil {
			return outbound.LogPage{}, fmt.Errorf("failed to get chain head: %w", err)
		}
		before = entity.CursorBeforeBlock(head + 1)
	} else {
		before, err = entity.ParseLogCursor(cursor)
		if err != nil {
			return outbound.LogPage{}, err
		}
	}

	// The newest block that can still hold logs before the cursor.
	var to uint64
	switch {
	case before.LogIndex > 0:
		to = before.BlockNumber
	case before.BlockNumber > 0:
		to = before.BlockNumber - 1
	default:
		return outbound.LogPage{}, nil
	}

	window := c.config.BlockRange
	var scanned uint64
	var collected []entity.LogRecord
	genesis := false

	for {
		from := uint64(0)
		if to+1 > window {
			from = to + 1 - window
		}

		logs, err := c.filterLogs(ctx, net, from, to)
		if err != nil {
			if isRangeError(err) && window > 1 {
				window /= 2
				if c.telemetry != nil {
					c.telemetry.RecordWindowShrink(ctx, net.Name)
				}
				c.logger.Debug("shrinking log window", "network", net.Name, "window", window, "error", err)
				continue
			}
			return outbound.LogPage{}, fmt.Errorf("failed to get logs for blocks %d-%d: %w", from, to, err)
		}

		for _, l := range logs {
			if l.Removed {
				continue
			}
			r := entity.NewLogRecord(l)
			if before.Includes(r) {
				collected = append(collected, r)
			}
		}
		scanned += to - from + 1

		if len(collected) >= limit {
			genesis = from == 0
			break
		}
		if from == 0 {
			genesis = true
			break
		}
		if scanned >= c.config.MaxScanBlocks {
			slices.SortFunc(collected, entity.CompareLogs)
			page := outbound.LogPage{Records: collected}
			if len(collected) > 0 {
				page.NextCursor = entity.CursorBeforeBlock(from).String()
			}
			c.logger.Debug("log scan budget exhausted",
				"network", net.Name, "scanned", scanned, "records", len(collected), "boundary", from)
			return page, nil
		}
		to = from - 1
	}

	slices.SortFunc(collected, entity.CompareLogs)
	page := outbound.LogPage{Records: collected}
	switch {
	case len(collected) > limit:
		page.Records = collected[:limit]
		page.NextCursor = collected[limit-1].Position().String()
	case len(collected) == limit && !genesis:
		page.NextCursor = collected[limit-1].Position().String()
	}
	return page, nil
}

// isRangeError reports whether a node rejected eth_getLogs because the block
// range or result set was too large.
func isRangeError(err error) bool {
	var rpcErr *jsonRPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.Code == -32005 {
		return true
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "block range") ||
		strings.Contains(msg, "range is too large") ||
		strings.Contains(msg, "more than")
}

func (c *Client) resolve(network string) (networks.Network, error) {
	net, err := c.config.Networks.Get(network)
	if err != nil {
		return networks.Network{}, fmt.Errorf("%w: %w", ErrUnknownNetwork, err)
	}
	if net.HTTPURL == "" {
		return networks.Network{}, fmt.Errorf("%w: %s has no HTTP endpoint", ErrUnknownNetwork, network)
	}
	return net, nil
}

func (c *Client) limiter(network string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[network]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.config.RequestsPerSecond), c.config.Burst)
		c.limiters[network] = l
	}
	return l
}

// call makes an HTTP JSON-RPC call with rate limiting and retry.
// HTTP 429, 5xx, transport and decode failures are retried; other HTTP
// statuses and JSON-RPC errors are returned as is.
func (c *Client) call(ctx context.Context, net networks.Network, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	ctx, span := c.startSpan(ctx, net.Name, method)
	defer span.End()

	onRetry := func(attempt int, err error, backoff time.Duration) {
		if c.telemetry != nil {
			c.telemetry.RecordRetry(ctx, net.Name, method, attempt)
		}
		c.logger.Debug("retrying RPC call",
			"network", net.Name, "method", method, "attempt", attempt, "backoff", backoff, "error", err)
	}

	limiter := c.limiter(net.Name)
	result, err := retry.Do(ctx, c.config.Retry, nil, onRetry, func() (json.RawMessage, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		return c.post(ctx, net.HTTPURL, reqBytes)
	})

	if c.telemetry != nil {
		c.telemetry.RecordRequest(ctx, net.Name, method, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}
	span.SetAttributes(attribute.Int("rpc.response.bytes", len(result)))
	return result, nil
}

func (c *Client) startSpan(ctx context.Context, network, method string) (context.Context, trace.Span) {
	if c.telemetry != nil {
		return c.telemetry.StartSpan(ctx, network, method)
	}
	return otel.Tracer(instrumentationName).Start(ctx, "ethrpc."+method, trace.WithSpanKind(trace.SpanKindClient))
}

func (c *Client) post(ctx context.Context, url string, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, retry.Permanent(err)
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
		return nil, &httpStatusError{StatusCode: httpResp.StatusCode}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, retry.Permanent(&httpStatusError{StatusCode: httpResp.StatusCode})
	}

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, retry.Permanent(rpcResp.Error)
	}
	return rpcResp.Result, nil
}

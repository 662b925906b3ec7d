// logfeed.go provides an in-memory implementation of LogSubscriber and LogPager.
//
// Each network is an independent log chain. Tests drive it with:
//   - AddLogs(): Appends logs to the history without notifying subscribers
//   - Publish(): Appends a log and pushes it to every live subscriber
//   - SetSubscribeError()/SetGetLogsError(): Inject transport failures
//   - SetGetLogsHook(): Block or observe a GetLogs call before it returns
//
// Pagination follows the same cursor format as the JSON-RPC adapter.
// All operations are thread-safe.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/archon-research/stl-logfeed/internal/domain/entity"
	"github.com/archon-research/stl-logfeed/internal/ports/outbound"
)

// Compile-time checks that LogFeed implements the log ports.
var (
	_ outbound.LogSubscriber = (*LogFeed)(nil)
	_ outbound.LogPager      = (*LogFeed)(nil)
)

// LogFeed is an in-memory log source for testing.
type LogFeed struct {
	mu     sync.Mutex
	chains map[string][]entity.LogRecord
	subs   map[string]map[int]func(entity.LogRecord)
	nextID int

	subscribeErr map[string]error
	getLogsErr   map[string]error
	getLogsHook  func(ctx context.Context, network, cursor string)

	subscribeCalls int
	cancelCalls    int
	getLogsCalls   int
}

// NewLogFeed creates an empty in-memory log feed.
func NewLogFeed() *LogFeed {
	return &LogFeed{
		chains:       make(map[string][]entity.LogRecord),
		subs:         make(map[string]map[int]func(entity.LogRecord)),
		subscribeErr: make(map[string]error),
		getLogsErr:   make(map[string]error),
	}
}

// AddLogs appends records to the network's history.
func (f *LogFeed) AddLogs(network string, records ...entity.LogRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addLocked(network, records...)
}

// Publish appends r to the history and delivers it to the network's subscribers
// on the calling goroutine.
func (f *LogFeed) Publish(network string, r entity.LogRecord) {
	f.mu.Lock()
	f.addLocked(network, r)
	handlers := make([]func(entity.LogRecord), 0, len(f.subs[network]))
	for _, h := range f.subs[network] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(r)
	}
}

// Deliver pushes r to the network's subscribers without recording it.
func (f *LogFeed) Deliver(network string, r entity.LogRecord) {
	f.mu.Lock()
	handlers := make([]func(entity.LogRecord), 0, len(f.subs[network]))
	for _, h := range f.subs[network] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(r)
	}
}

func (f *LogFeed) addLocked(network string, records ...entity.LogRecord) {
	chain := f.chains[network]
	for _, r := range records {
		if slices.ContainsFunc(chain, func(existing entity.LogRecord) bool { return entity.EqualLogs(existing, r) }) {
			continue
		}
		chain = append(chain, r)
	}
	slices.SortFunc(chain, entity.CompareLogs)
	f.chains[network] = chain
}

// SetSubscribeError makes SubscribeLogs fail for network. nil clears it.
func (f *LogFeed) SetSubscribeError(network string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr[network] = err
}

// SetGetLogsError makes GetLogs fail for network. nil clears it.
func (f *LogFeed) SetGetLogsError(network string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getLogsErr[network] = err
}

// SetGetLogsHook registers a callback run at the start of every GetLogs call,
// outside the feed's lock. Tests use it to hold a request in flight.
func (f *LogFeed) SetGetLogsHook(hook func(ctx context.Context, network, cursor string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getLogsHook = hook
}

// SubscribeLogs registers onLog for network.
func (f *LogFeed) SubscribeLogs(ctx context.Context, network string, onLog func(entity.LogRecord)) (outbound.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribeCalls++
	if err := f.subscribeErr[network]; err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", network, err)
	}

	if f.subs[network] == nil {
		f.subs[network] = make(map[int]func(entity.LogRecord))
	}
	id := f.nextID
	f.nextID++
	f.subs[network][id] = onLog

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.cancelCalls++
			delete(f.subs[network], id)
		})
	}, nil
}

// GetLogs returns up to limit logs strictly before cursor, newest first.
func (f *LogFeed) GetLogs(ctx context.Context, network string, limit int, cursor string) (outbound.LogPage, error) {
	f.mu.Lock()
	f.getLogsCalls++
	hook := f.getLogsHook
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, network, cursor)
	}
	if err := ctx.Err(); err != nil {
		return outbound.LogPage{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.getLogsErr[network]; err != nil {
		return outbound.LogPage{}, fmt.Errorf("failed to get logs for %s: %w", network, err)
	}
	if limit <= 0 {
		return outbound.LogPage{}, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var before *entity.LogCursor
	if cursor != "" {
		c, err := entity.ParseLogCursor(cursor)
		if err != nil {
			return outbound.LogPage{}, err
		}
		before = &c
	}

	var records []entity.LogRecord
	more := false
	for _, r := range f.chains[network] {
		if before != nil && !before.Includes(r) {
			continue
		}
		if len(records) == limit {
			more = true
			break
		}
		records = append(records, r)
	}

	page := outbound.LogPage{Records: records}
	if more {
		page.NextCursor = records[len(records)-1].Position().String()
	}
	return page, nil
}

// Subscribers returns the number of live subscriptions for network.
func (f *LogFeed) Subscribers(network string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[network])
}

// SubscribeCalls returns how many times SubscribeLogs was called.
func (f *LogFeed) SubscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

// CancelCalls returns how many subscriptions were released.
func (f *LogFeed) CancelCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalls
}

// GetLogsCalls returns how many times GetLogs was called.
func (f *LogFeed) GetLogsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getLogsCalls
}

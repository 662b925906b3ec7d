package log_list

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/archon-research/stl-logfeed/internal/ports/inbound"
	"github.com/archon-research/stl-logfeed/internal/ports/outbound"
	"github.com/archon-research/stl-logfeed/internal/services/shared"
)

// Compile-time checks that Service implements the inbound ports.
var (
	_ inbound.LogListReader = (*Service)(nil)
	_ inbound.HealthChecker = (*Service)(nil)
)

// Config holds configuration for the Service.
type Config struct {
	// PageSize is the number of logs requested per historical page.
	PageSize int

	// Logger is the structured logger.
	Logger *slog.Logger

	// Metrics is the metrics recorder for telemetry (optional).
	Metrics outbound.LogFeedRecorder
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		PageSize: 100,
		Logger:   slog.Default(),
	}
}

func (c *Config) applyDefaults() {
	defaults := ConfigDefaults()
	if c.PageSize == 0 {
		c.PageSize = defaults.PageSize
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}

// Validate checks the configuration after defaults were applied.
func (c Config) Validate() error {
	if c.PageSize < 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	return nil
}

// Service keeps one reconciled log list for the currently selected network.
//
// It is Inactive while no network is selected and Active otherwise. Each
// network gets its own session context, cancelled on the next change or on
// Destroy, so late responses of a previous network never reach the Store.
type Service struct {
	config Config

	store     *Store
	lifecycle *shared.Lifecycle
	live      *LiveFeed
	pages     *PageFetcher
	metrics   outbound.LogFeedRecorder
	logger    *slog.Logger

	root       context.Context
	rootCancel context.CancelFunc

	// changeMu serialises OnNetworkChange.
	changeMu sync.Mutex

	mu            sync.Mutex
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	changeSeq     uint64
	inflight      sync.WaitGroup

	network atomic.Value // string
	ready   atomic.Bool
}

// NewService creates a new Service. The returned service is Inactive until the
// first OnNetworkChange.
func NewService(config Config, subscriber outbound.LogSubscriber, pager outbound.LogPager) (*Service, error) {
	if subscriber == nil {
		return nil, fmt.Errorf("subscriber is required")
	}
	if pager == nil {
		return nil, fmt.Errorf("pager is required")
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger.With("component", "log-list-service")
	store := NewStore()
	lifecycle := &shared.Lifecycle{}
	root, rootCancel := context.WithCancel(context.Background())

	s := &Service{
		config:     config,
		store:      store,
		lifecycle:  lifecycle,
		live:       NewLiveFeed(subscriber, store, lifecycle, config.Metrics, config.Logger),
		pages:      NewPageFetcher(pager, store, lifecycle, config.PageSize, config.Metrics, config.Logger),
		metrics:    config.Metrics,
		logger:     logger,
		root:       root,
		rootCancel: rootCancel,
	}
	s.network.Store("")
	return s, nil
}

// Store returns the underlying Store for observers.
func (s *Service) Store() *Store {
	return s.store
}

// Network returns the selected network, or "" while Inactive.
func (s *Service) Network() string {
	return s.network.Load().(string)
}

// IsActive reports whether a network is selected.
func (s *Service) IsActive() bool {
	return s.Network() != ""
}

// Destroyed reports whether Destroy was called.
func (s *Service) Destroyed() bool {
	return s.lifecycle.Destroyed()
}

// OnNetworkChange switches the list to network. An empty network deactivates.
//
// The previous session is cancelled, the live feed released and the Store reset
// before anything of the new network is requested. After Destroy only the
// release happens and the Store keeps its content.
//
// Changes are applied one at a time, but a change never waits for the previous
// network's subscribe or first page: their session is cancelled on entry.
func (s *Service) OnNetworkChange(network string) {
	seq := s.supersede()

	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	ctx, ok := s.beginSession(network, seq)
	if !ok {
		s.live.Deactivate()
		return
	}
	defer s.inflight.Done()

	s.live.Deactivate()
	s.store.Reset()
	if s.metrics != nil {
		s.metrics.RecordNetworkChange(s.root, network)
	}

	if network == "" {
		s.logger.Info("no network selected, list inactive")
		return
	}

	s.logger.Info("network selected", "network", network)
	s.live.Activate(ctx, network)
	if s.pages.FetchPage(ctx, network, "") && ctx.Err() == nil {
		s.ready.Store(true)
		s.logger.Info("initial page loaded", "network", network, "records", s.store.Len())
	}
}

// supersede cancels the running session and returns the sequence number of
// the change that is about to be applied.
func (s *Service) supersede() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.changeSeq++
	if s.sessionCancel != nil {
		s.sessionCancel()
	}
	return s.changeSeq
}

// beginSession replaces the session context. It returns false after Destroy.
// On success the caller owns one inflight slot. When a later change is already
// waiting, the new session starts cancelled.
func (s *Service) beginSession(network string, seq uint64) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lifecycle.Destroyed() {
		return nil, false
	}
	s.inflight.Add(1)

	if s.sessionCancel != nil {
		s.sessionCancel()
	}
	s.sessionCtx, s.sessionCancel = nil, nil
	if network != "" {
		s.sessionCtx, s.sessionCancel = context.WithCancel(s.root)
		if seq != s.changeSeq {
			s.sessionCancel()
		}
	}
	s.network.Store(network)
	s.ready.Store(false)
	return s.sessionCtx, true
}

// FetchNextPage loads the page after the held cursor for the current network.
// ctx bounds the request in addition to the network session.
func (s *Service) FetchNextPage(ctx context.Context) {
	s.mu.Lock()
	if s.lifecycle.Destroyed() || s.sessionCtx == nil {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	session := s.sessionCtx
	network := s.Network()
	s.mu.Unlock()
	defer s.inflight.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(session, cancel)
	defer stop()

	s.pages.FetchNextPage(ctx, network)
}

// View returns the current list together with its paging state.
func (s *Service) View() inbound.LogListView {
	state := s.store.State()
	return inbound.LogListView{
		Network:     s.Network(),
		Records:     state.Records,
		HasNextPage: state.HasNextPage(),
		Loading:     s.lifecycle.Loading(),
	}
}

// Subscribe registers fn for every change of the list, tagged with the
// selected network. The current list is replayed immediately. fn runs under
// the Store lock and must not block.
func (s *Service) Subscribe(fn func(outbound.LogSnapshot)) (unsubscribe func()) {
	return s.store.Subscribe(func(state StoreState) {
		fn(outbound.LogSnapshot{
			Network:     s.Network(),
			Records:     state.Records,
			HasNextPage: state.HasNextPage(),
			TakenAt:     time.Now(),
		})
	})
}

// IsReady reports whether the first page of the selected network was ingested.
// While Inactive the service is ready.
func (s *Service) IsReady() bool {
	if s.lifecycle.Destroyed() {
		return false
	}
	if !s.IsActive() {
		return true
	}
	return s.ready.Load()
}

// IsHealthy reports whether the service was not torn down. A missing live
// subscription does not make it unhealthy; see HasLiveFeed.
func (s *Service) IsHealthy() bool {
	return !s.lifecycle.Destroyed()
}

// HasLiveFeed reports whether a live subscription for the selected network is
// held. It is true while Inactive.
func (s *Service) HasLiveFeed() bool {
	if s.lifecycle.Destroyed() {
		return false
	}
	network := s.Network()
	return network == "" || s.live.Network() == network
}

// Run applies network changes in order until ctx is done or changes is
// closed, then destroys the service.
func (s *Service) Run(ctx context.Context, changes <-chan string) {
	defer s.Destroy()

	for {
		select {
		case <-ctx.Done():
			return
		case network, ok := <-changes:
			if !ok {
				return
			}
			s.OnNetworkChange(network)
		}
	}
}

// Destroy tears the service down: no further subscription, fetch or Store
// mutation happens afterwards. It waits for in-flight handlers and is idempotent.
func (s *Service) Destroy() {
	s.mu.Lock()
	if !s.lifecycle.Destroy() {
		s.mu.Unlock()
		return
	}
	if s.sessionCancel != nil {
		s.sessionCancel()
	}
	s.mu.Unlock()

	s.rootCancel()
	s.live.Deactivate()
	s.inflight.Wait()
	// An Activate that was in flight cancels its own late handle, but release
	// again in case it completed between the two calls.
	s.live.Deactivate()

	s.logger.Info("log list destroyed", "network", s.Network(), "records", s.store.Len())
}

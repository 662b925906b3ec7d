package log_list

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/archon-research/stl-logfeed/internal/adapters/outbound/memory"
	"github.com/archon-research/stl-logfeed/internal/domain/entity"
	"github.com/archon-research/stl-logfeed/internal/ports/outbound"
	"github.com/archon-research/stl-logfeed/internal/services/shared"
)

// gatedSubscriber holds SubscribeLogs until release is closed.
type gatedSubscriber struct {
	*memory.LogFeed
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSubscriber() *gatedSubscriber {
	return &gatedSubscriber{
		LogFeed: memory.NewLogFeed(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedSubscriber) SubscribeLogs(ctx context.Context, network string, onLog func(entity.LogRecord)) (outbound.CancelFunc, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.LogFeed.SubscribeLogs(ctx, network, onLog)
}

func newTestLiveFeed(sub outbound.LogSubscriber) (*LiveFeed, *Store, *shared.Lifecycle) {
	store := NewStore()
	lifecycle := &shared.Lifecycle{}
	return NewLiveFeed(sub, store, lifecycle, nil, nil), store, lifecycle
}

func TestLiveFeed_ForwardsDeliveriesToStore(t *testing.T) {
	feed := memory.NewLogFeed()
	live, store, _ := newTestLiveFeed(feed)

	live.Activate(context.Background(), "mainnet")
	if !live.Active() {
		t.Fatal("expected feed to be active")
	}

	feed.Publish("mainnet", rec(2, 0))
	feed.Publish("mainnet", rec(3, 0))
	feed.Publish("mainnet", rec(2, 0))

	assertKeys(t, store.Records(), key(3, 0), key(2, 0))
}

func TestLiveFeed_ActivateReleasesPreviousSubscription(t *testing.T) {
	feed := memory.NewLogFeed()
	live, store, _ := newTestLiveFeed(feed)

	live.Activate(context.Background(), "mainnet")
	live.Activate(context.Background(), "sepolia")

	if feed.Subscribers("mainnet") != 0 {
		t.Errorf("expected mainnet subscription released, got %d", feed.Subscribers("mainnet"))
	}
	if feed.Subscribers("sepolia") != 1 {
		t.Errorf("expected one sepolia subscription, got %d", feed.Subscribers("sepolia"))
	}
	if live.Network() != "sepolia" {
		t.Errorf("expected network sepolia, got %q", live.Network())
	}

	feed.Publish("mainnet", rec(1, 0))
	if store.Len() != 0 {
		t.Error("expected no deliveries from the released subscription")
	}
}

func TestLiveFeed_DeactivateIsIdempotent(t *testing.T) {
	feed := memory.NewLogFeed()
	live, store, _ := newTestLiveFeed(feed)

	live.Deactivate()
	live.Activate(context.Background(), "mainnet")
	live.Deactivate()
	live.Deactivate()

	if feed.CancelCalls() != 1 {
		t.Errorf("expected exactly one cancel, got %d", feed.CancelCalls())
	}
	if live.Active() {
		t.Error("expected feed to be inactive")
	}

	feed.Publish("mainnet", rec(1, 0))
	if store.Len() != 0 {
		t.Error("expected no ingestion after deactivate")
	}
}

func TestLiveFeed_DeliveryAfterDeactivateIsDropped(t *testing.T) {
	// Keep a reference to the handler to simulate a transport that delivers late.
	var late func(entity.LogRecord)
	sub := &capturingSubscriber{LogFeed: memory.NewLogFeed(), capture: func(fn func(entity.LogRecord)) { late = fn }}
	live, store, _ := newTestLiveFeed(sub)

	live.Activate(context.Background(), "mainnet")
	live.Deactivate()
	late(rec(9, 9))

	if store.Len() != 0 {
		t.Errorf("expected late delivery to be dropped, got %d records", store.Len())
	}
}

type capturingSubscriber struct {
	*memory.LogFeed
	capture func(func(entity.LogRecord))
}

func (c *capturingSubscriber) SubscribeLogs(ctx context.Context, network string, onLog func(entity.LogRecord)) (outbound.CancelFunc, error) {
	c.capture(onLog)
	return c.LogFeed.SubscribeLogs(ctx, network, onLog)
}

func TestLiveFeed_SubscribeErrorLeavesFeedInactive(t *testing.T) {
	feed := memory.NewLogFeed()
	feed.SetSubscribeError("mainnet", errors.New("dial refused"))
	live, _, _ := newTestLiveFeed(feed)

	live.Activate(context.Background(), "mainnet")

	if live.Active() {
		t.Error("expected feed to stay inactive")
	}
	if feed.SubscribeCalls() != 1 {
		t.Errorf("expected one attempt and no retry, got %d", feed.SubscribeCalls())
	}
}

func TestLiveFeed_ActivateAfterDestroyDoesNotSubscribe(t *testing.T) {
	feed := memory.NewLogFeed()
	live, _, lifecycle := newTestLiveFeed(feed)
	lifecycle.Destroy()

	live.Activate(context.Background(), "mainnet")

	if feed.SubscribeCalls() != 0 {
		t.Errorf("expected no subscribe call, got %d", feed.SubscribeCalls())
	}
}

func TestLiveFeed_HandleArrivingAfterDestroyIsCancelled(t *testing.T) {
	sub := newGatedSubscriber()
	live, _, lifecycle := newTestLiveFeed(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		live.Activate(context.Background(), "mainnet")
	}()

	<-sub.entered
	lifecycle.Destroy()
	live.Deactivate()
	close(sub.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Activate did not return")
	}

	if live.Active() {
		t.Error("expected no retained subscription")
	}
	if sub.Subscribers("mainnet") != 0 {
		t.Errorf("expected late handle to be cancelled, got %d subscribers", sub.Subscribers("mainnet"))
	}
}

func TestLiveFeed_HandleArrivingAfterContextCancelIsReleased(t *testing.T) {
	sub := newGatedSubscriber()
	live, _, _ := newTestLiveFeed(sub)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		live.Activate(ctx, "mainnet")
	}()

	<-sub.entered
	cancel()
	close(sub.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Activate did not return")
	}

	if live.Active() {
		t.Error("expected a cancelled session to hold no subscription")
	}
	if sub.Subscribers("mainnet") != 0 {
		t.Errorf("expected the handle to be released, got %d subscribers", sub.Subscribers("mainnet"))
	}
}

func TestLiveFeed_DeliveryAfterDestroyIsDropped(t *testing.T) {
	feed := memory.NewLogFeed()
	live, store, lifecycle := newTestLiveFeed(feed)

	live.Activate(context.Background(), "mainnet")
	lifecycle.Destroy()
	feed.Deliver("mainnet", rec(1, 0))

	if store.Len() != 0 {
		t.Error("expected delivery after destroy to be dropped")
	}
}

//go:build integration

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container and returns a connected SnapshotSink
// together with a plain client for assertions.
func setupRedis(t *testing.T, ttl time.Duration) (*SnapshotSink, *goredis.Client, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	addr := fmt.Sprintf("%s:%s", host, port.Port())
	sink, err := NewSnapshotSink(Config{Addr: addr, TTL: ttl, KeyPrefix: "test"}, nil)
	if err != nil {
		t.Fatalf("failed to create snapshot sink: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := sink.Ping(ctx); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})

	cleanup := func() {
		client.Close()
		sink.Close()
		container.Terminate(ctx)
	}

	return sink, client, cleanup
}

func TestPublishSnapshot_StoresAndAnnounces(t *testing.T) {
	sink, client, cleanup := setupRedis(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	pubsub := client.Subscribe(ctx, "test:mainnet:logs:updates")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := sink.PublishSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatalf("PublishSnapshot failed: %v", err)
	}

	raw, err := client.Get(ctx, "test:mainnet:logs").Bytes()
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var payload snapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if len(payload.Records) != 2 || payload.Records[0].Key != "200-3" {
		t.Errorf("unexpected payload records: %+v", payload.Records)
	}

	select {
	case msg := <-pubsub.Channel():
		var notice snapshotNotice
		if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
			t.Fatalf("failed to decode notice: %v", err)
		}
		if notice.HeadKey != "200-3" || notice.Count != 2 {
			t.Errorf("unexpected notice: %+v", notice)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notice")
	}
}

func TestPublishSnapshot_SetsTTL(t *testing.T) {
	sink, client, cleanup := setupRedis(t, 2*time.Minute)
	defer cleanup()

	ctx := context.Background()
	if err := sink.PublishSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatalf("PublishSnapshot failed: %v", err)
	}

	ttl, err := client.TTL(ctx, "test:mainnet:logs").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > 2*time.Minute {
		t.Errorf("expected TTL within (0, 2m], got %v", ttl)
	}
}

func TestPublishSnapshot_OverwritesPrevious(t *testing.T) {
	sink, client, cleanup := setupRedis(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	snap := testSnapshot()
	if err := sink.PublishSnapshot(ctx, snap); err != nil {
		t.Fatalf("PublishSnapshot failed: %v", err)
	}

	snap.Records = snap.Records[:1]
	snap.HasNextPage = false
	if err := sink.PublishSnapshot(ctx, snap); err != nil {
		t.Fatalf("PublishSnapshot failed: %v", err)
	}

	raw, err := client.Get(ctx, "test:mainnet:logs").Bytes()
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var payload snapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if len(payload.Records) != 1 || payload.HasNextPage {
		t.Errorf("expected overwritten snapshot, got %+v", payload)
	}
}

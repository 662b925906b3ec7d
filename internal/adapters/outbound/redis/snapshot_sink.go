// Package redis provides a Redis implementation of the SnapshotSink port.
//
// Each published snapshot overwrites the key prefix:network:logs with the full
// ordered log list and then announces the change on the channel
// prefix:network:logs:updates. Other processes either read the key or listen on
// the channel. Nothing is read back by this process.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/redis/go-redis/v9"

	"github.com/archon-research/stl-logfeed/internal/domain/entity"
	"github.com/archon-research/stl-logfeed/internal/ports/outbound"
)

// Compile-time check that SnapshotSink implements outbound.SnapshotSink
var _ outbound.SnapshotSink = (*SnapshotSink)(nil)

// Config holds Redis snapshot sink configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// TTL is how long a snapshot key lives without being refreshed
	TTL time.Duration
	// KeyPrefix is prepended to all keys and channels
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for the Redis snapshot sink.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		TTL:       1 * time.Hour,
		KeyPrefix: "logfeed",
	}
}

// SnapshotSink writes log list snapshots to Redis.
type SnapshotSink struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewSnapshotSink creates a new Redis snapshot sink. It does not connect until
// the first command; call Ping to check reachability up front.
func NewSnapshotSink(cfg Config, logger *slog.Logger) (*SnapshotSink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "redis-snapshot-sink")

	return &SnapshotSink{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
	}, nil
}

// snapshotRecord is the JSON form of one log record.
type snapshotRecord struct {
	Key         string        `json:"key"`
	BlockNumber uint64        `json:"blockNumber"`
	LogIndex    uint64        `json:"logIndex"`
	BlockHash   string        `json:"blockHash"`
	TxHash      string        `json:"txHash"`
	TxIndex     uint          `json:"txIndex"`
	Address     string        `json:"address"`
	Topics      []string      `json:"topics"`
	Data        hexutil.Bytes `json:"data"`
}

// snapshotPayload is the value stored under the logs key.
type snapshotPayload struct {
	Network     string           `json:"network"`
	Records     []snapshotRecord `json:"records"`
	HasNextPage bool             `json:"hasNextPage"`
	TakenAt     time.Time        `json:"takenAt"`
}

// snapshotNotice is the message published on the updates channel.
type snapshotNotice struct {
	Network     string    `json:"network"`
	Key         string    `json:"key"`
	HeadKey     string    `json:"headKey,omitempty"`
	Count       int       `json:"count"`
	HasNextPage bool      `json:"hasNextPage"`
	TakenAt     time.Time `json:"takenAt"`
}

// PublishSnapshot stores the snapshot and announces it. Both commands are sent
// in a single MULTI/EXEC so listeners never see a notice before the value.
func (s *SnapshotSink) PublishSnapshot(ctx context.Context, snapshot outbound.LogSnapshot) error {
	if snapshot.Network == "" {
		return fmt.Errorf("snapshot network is required")
	}

	payload, err := json.Marshal(buildPayload(snapshot))
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := s.logsKey(snapshot.Network)
	notice, err := json.Marshal(buildNotice(key, snapshot))
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot notice: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, s.ttl)
		pipe.Publish(ctx, s.updatesChannel(snapshot.Network), notice)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	s.logger.Debug("snapshot published",
		"network", snapshot.Network,
		"records", len(snapshot.Records),
		"hasNextPage", snapshot.HasNextPage)
	return nil
}

// Ping checks the Redis connection.
func (s *SnapshotSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *SnapshotSink) Close() error {
	return s.client.Close()
}

// logsKey generates the snapshot key in the format prefix:network:logs
func (s *SnapshotSink) logsKey(network string) string {
	return fmt.Sprintf("%s:%s:logs", s.keyPrefix, network)
}

// updatesChannel generates the notice channel in the format prefix:network:logs:updates
func (s *SnapshotSink) updatesChannel(network string) string {
	return s.logsKey(network) + ":updates"
}

func buildPayload(snapshot outbound.LogSnapshot) snapshotPayload {
	records := make([]snapshotRecord, len(snapshot.Records))
	for i, r := range snapshot.Records {
		records[i] = toSnapshotRecord(r)
	}
	return snapshotPayload{
		Network:     snapshot.Network,
		Records:     records,
		HasNextPage: snapshot.HasNextPage,
		TakenAt:     snapshot.TakenAt.UTC(),
	}
}

func buildNotice(key string, snapshot outbound.LogSnapshot) snapshotNotice {
	notice := snapshotNotice{
		Network:     snapshot.Network,
		Key:         key,
		Count:       len(snapshot.Records),
		HasNextPage: snapshot.HasNextPage,
		TakenAt:     snapshot.TakenAt.UTC(),
	}
	if len(snapshot.Records) > 0 {
		notice.HeadKey = snapshot.Records[0].Key().String()
	}
	return notice
}

func toSnapshotRecord(r entity.LogRecord) snapshotRecord {
	topics := make([]string, len(r.Topics))
	for i, t := range r.Topics {
		topics[i] = t.Hex()
	}
	return snapshotRecord{
		Key:         r.Key().String(),
		BlockNumber: r.BlockNumber,
		LogIndex:    r.LogIndex,
		BlockHash:   r.BlockHash.Hex(),
		TxHash:      r.TxHash.Hex(),
		TxIndex:     r.TxIndex,
		Address:     r.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Bytes(r.Data),
	}
}

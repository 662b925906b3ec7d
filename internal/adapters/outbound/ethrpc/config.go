package ethrpc

import (
	"errors"
	"log/slog"
	"time"

	"github.com/archon-research/stl-logfeed/internal/pkg/networks"
	"github.com/archon-research/stl-logfeed/internal/pkg/retry"
)

// Default configuration values.
const (
	defaultTimeout           = 30 * time.Second
	defaultRequestsPerSecond = 10
	defaultBurst             = 5
	defaultBlockRange        = 2_000
	defaultMaxScanBlocks     = 200_000

	defaultInitialBackoff   = 1 * time.Second
	defaultMaxBackoff       = 60 * time.Second
	defaultBackoffFactor    = 2.0
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultReadTimeout      = 60 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
)

// NetworkResolver looks up a network's endpoints and log filter by name.
// *networks.Registry satisfies it.
type NetworkResolver interface {
	Get(name string) (networks.Network, error)
}

// ClientConfig holds configuration for the HTTP JSON-RPC client.
type ClientConfig struct {
	// Networks resolves network names to endpoints. Required.
	Networks NetworkResolver

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration

	// Retry controls retries of transient failures (HTTP 429, 5xx, transport errors).
	Retry retry.Config

	// RequestsPerSecond limits calls per network. Burst is the limiter's bucket size.
	RequestsPerSecond float64
	Burst             int

	// BlockRange is the block span of one eth_getLogs window.
	BlockRange uint64

	// MaxScanBlocks bounds how many blocks one GetLogs call scans before
	// returning a partial page.
	MaxScanBlocks uint64

	// Logger is the structured logger.
	Logger *slog.Logger

	// Telemetry records request metrics and spans (optional).
	Telemetry *Telemetry
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		Timeout:           defaultTimeout,
		Retry:             retry.DefaultConfig(),
		RequestsPerSecond: defaultRequestsPerSecond,
		Burst:             defaultBurst,
		BlockRange:        defaultBlockRange,
		MaxScanBlocks:     defaultMaxScanBlocks,
		Logger:            slog.Default(),
	}
}

// Validate checks that all required configuration fields are set.
func (c *ClientConfig) Validate() error {
	if c.Networks == nil {
		return errors.New("Networks is required")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("RequestsPerSecond must not be negative")
	}
	return nil
}

func (c *ClientConfig) applyDefaults() {
	defaults := ClientConfigDefaults()
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	if c.Retry == (retry.Config{}) {
		c.Retry = defaults.Retry
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if c.Burst == 0 {
		c.Burst = defaults.Burst
	}
	if c.BlockRange == 0 {
		c.BlockRange = defaults.BlockRange
	}
	if c.MaxScanBlocks == 0 {
		c.MaxScanBlocks = defaults.MaxScanBlocks
	}
	if c.MaxScanBlocks < c.BlockRange {
		c.MaxScanBlocks = c.BlockRange
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}

// SubscriberConfig holds configuration for the WebSocket log subscriber.
type SubscriberConfig struct {
	// Networks resolves network names to endpoints. Required.
	Networks NetworkResolver

	// InitialBackoff is the initial delay before reconnecting after a disconnect.
	// Defaults to 1 second if not set.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between reconnection attempts.
	// Defaults to 60 seconds if not set.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each failed attempt.
	// Defaults to 2.0 if not set.
	BackoffFactor float64

	// PingInterval is how often to send ping messages to keep the connection alive.
	PingInterval time.Duration

	// PongTimeout bounds the write of a ping control frame.
	PongTimeout time.Duration

	// ReadTimeout is the maximum time to wait for a message or pong before
	// considering the connection dead.
	ReadTimeout time.Duration

	// HandshakeTimeout bounds dialing plus the eth_subscribe round trip.
	HandshakeTimeout time.Duration

	// Logger is the structured logger for the subscriber.
	Logger *slog.Logger

	// Telemetry records connection metrics (optional).
	Telemetry *Telemetry
}

// Validate checks that all required configuration fields are set.
func (c *SubscriberConfig) Validate() error {
	if c.Networks == nil {
		return errors.New("Networks is required")
	}
	return nil
}

func (c *SubscriberConfig) applyDefaults() {
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = defaultBackoffFactor
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

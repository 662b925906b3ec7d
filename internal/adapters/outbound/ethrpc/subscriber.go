package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"

	"github.com/archon-research/stl-logfeed/internal/domain/entity"
	"github.com/archon-research/stl-logfeed/internal/pkg/networks"
	"github.com/archon-research/stl-logfeed/internal/ports/outbound"
)

// Compile-time check that Subscriber implements outbound.LogSubscriber
var _ outbound.LogSubscriber = (*Subscriber)(nil)

const subscribeRequestID = 1

// Subscriber opens eth_subscribe("logs") subscriptions over WebSocket.
// Every SubscribeLogs call owns its own connection.
type Subscriber struct {
	config    SubscriberConfig
	dialer    *websocket.Dialer
	logger    *slog.Logger
	telemetry *Telemetry
}

// NewSubscriber creates a new WebSocket log subscriber.
func NewSubscriber(config SubscriberConfig) (*Subscriber, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout

	return &Subscriber{
		config:    config,
		dialer:    &dialer,
		logger:    config.Logger.With("component", "ethrpc-subscriber"),
		telemetry: config.Telemetry,
	}, nil
}

// SubscribeLogs connects to the network's WebSocket endpoint and returns once
// the node confirmed the subscription. onLog runs on the subscription's read
// goroutine. Removed logs are skipped.
//
// The subscription reconnects with exponential backoff until the returned
// CancelFunc is called or ctx is done. Cancelling unsubscribes best-effort,
// closes the connection and waits for the read goroutine, so onLog is never
// invoked after it returns.
func (s *Subscriber) SubscribeLogs(ctx context.Context, network string, onLog func(entity.LogRecord)) (outbound.CancelFunc, error) {
	net, err := s.config.Networks.Get(network)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownNetwork, err)
	}
	if net.WebSocketURL == "" {
		return nil, fmt.Errorf("%w: %s has no WebSocket endpoint", ErrUnknownNetwork, network)
	}

	subCtx, cancel := context.WithCancel(ctx)
	conn, subID, err := s.connect(subCtx, net)
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &logSubscription{
		subscriber: s,
		network:    net,
		onLog:      onLog,
		ctx:        subCtx,
		cancel:     cancel,
		logger:     s.logger.With("network", net.Name),
		conn:       conn,
		subID:      subID,
		done:       make(chan struct{}),
	}
	go sub.run()

	sub.logger.Info("subscribed to logs", "subscription", subID)
	return sub.Cancel, nil
}

// connect dials the endpoint and performs the eth_subscribe handshake.
func (s *Subscriber) connect(ctx context.Context, net networks.Network) (*websocket.Conn, string, error) {
	conn, _, err := s.dialer.DialContext(ctx, net.WebSocketURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to %s: %w", net.Name, err)
	}

	// The handshake reads are bounded by deadlines only, so closing the
	// connection is what aborts them when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.SetReadDeadline(time.Now().Add(s.config.HandshakeTimeout)); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("failed to set read deadline: %w", err)
	}

	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      subscribeRequestID,
		Method:  "eth_subscribe",
		Params:  []any{"logs", newLogFilter(net.Filter)},
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("failed to send subscription request: %w", err)
	}

	for {
		var resp jsonRPCResponse
		if err := conn.ReadJSON(&resp); err != nil {
			conn.Close()
			return nil, "", fmt.Errorf("failed to read subscription response: %w", err)
		}
		if resp.ID != subscribeRequestID || resp.Method != "" {
			continue
		}
		if resp.Error != nil {
			conn.Close()
			return nil, "", fmt.Errorf("subscription failed: %w", resp.Error)
		}

		var subID string
		if err := json.Unmarshal(resp.Result, &subID); err != nil || subID == "" {
			conn.Close()
			return nil, "", fmt.Errorf("invalid subscription id %s", string(resp.Result))
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			conn.Close()
			return nil, "", fmt.Errorf("failed to set read deadline: %w", err)
		}
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		})

		if !stop() {
			conn.Close()
			return nil, "", fmt.Errorf("failed to subscribe on %s: %w", net.Name, ctx.Err())
		}
		if s.telemetry != nil {
			s.telemetry.RecordConnectionUp(ctx, net.Name)
		}
		return conn, subID, nil
	}
}

// logSubscription is one live subscription and its connection.
type logSubscription struct {
	subscriber *Subscriber
	network    networks.Network
	onLog      func(entity.LogRecord)
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *slog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	subID   string

	done       chan struct{}
	cancelOnce sync.Once
}

// Cancel stops the subscription. It is idempotent.
func (sub *logSubscription) Cancel() {
	sub.cancelOnce.Do(func() {
		sub.cancel()

		sub.mu.Lock()
		conn, subID := sub.conn, sub.subID
		sub.mu.Unlock()

		if conn != nil {
			sub.unsubscribe(conn, subID)
			conn.Close()
		}
		<-sub.done
		sub.logger.Info("log subscription cancelled")
	})
}

// unsubscribe sends eth_unsubscribe and a close frame without waiting for replies.
func (sub *logSubscription) unsubscribe(conn *websocket.Conn, subID string) {
	sub.writeMu.Lock()
	defer sub.writeMu.Unlock()

	deadline := time.Now().Add(time.Second)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      subscribeRequestID + 1,
		Method:  "eth_unsubscribe",
		Params:  []any{subID},
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

// run reads until the connection drops, then reconnects until cancelled.
func (sub *logSubscription) run() {
	defer close(sub.done)

	cfg := sub.subscriber.config
	telemetry := sub.subscriber.telemetry

	for {
		sub.mu.Lock()
		conn := sub.conn
		sub.mu.Unlock()

		err := sub.readLoop(conn)
		if telemetry != nil {
			telemetry.RecordConnectionDown(context.Background(), sub.network.Name)
		}
		if sub.ctx.Err() != nil {
			return
		}
		sub.logger.Warn("log subscription connection lost, reconnecting", "error", err)

		backoff := cfg.InitialBackoff
		for {
			timer := time.NewTimer(backoff)
			select {
			case <-sub.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			if telemetry != nil {
				telemetry.RecordReconnection(sub.ctx, sub.network.Name)
			}
			newConn, subID, err := sub.subscriber.connect(sub.ctx, sub.network)
			if err == nil {
				sub.mu.Lock()
				if sub.ctx.Err() != nil {
					sub.mu.Unlock()
					newConn.Close()
					return
				}
				sub.conn, sub.subID = newConn, subID
				sub.mu.Unlock()
				sub.logger.Info("log subscription re-established", "subscription", subID)
				break
			}

			sub.logger.Warn("failed to reconnect", "error", err, "backoff", backoff)
			backoff = min(time.Duration(float64(backoff)*cfg.BackoffFactor), cfg.MaxBackoff)
		}
	}
}

// readLoop delivers notifications from conn and pings it periodically.
// It closes conn and waits for its reader before returning.
func (sub *logSubscription) readLoop(conn *websocket.Conn) error {
	cfg := sub.subscriber.config

	sub.mu.Lock()
	subID := sub.subID
	sub.mu.Unlock()

	readErr := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			var msg jsonRPCResponse
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			if err := conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)); err != nil {
				readErr <- fmt.Errorf("failed to set read deadline: %w", err)
				return
			}
			if msg.Method != "eth_subscription" || msg.Params == nil {
				continue
			}
			sub.handleNotification(msg.Params, subID)
		}
	}()

	pingTicker := time.NewTicker(cfg.PingInterval)
	defer pingTicker.Stop()

	var err error
loop:
	for {
		select {
		case <-sub.ctx.Done():
			err = sub.ctx.Err()
			break loop
		case err = <-readErr:
			break loop
		case <-pingTicker.C:
			sub.writeMu.Lock()
			pingErr := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.PongTimeout))
			sub.writeMu.Unlock()
			if pingErr != nil {
				err = fmt.Errorf("ping failed: %w", pingErr)
				break loop
			}
		}
	}

	conn.Close()
	<-readerDone
	if err == nil {
		err = errors.New("connection closed")
	}
	return err
}

func (sub *logSubscription) handleNotification(raw json.RawMessage, subID string) {
	var params subscriptionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		sub.logger.Warn("failed to parse subscription params", "error", err)
		return
	}
	if params.Subscription != subID {
		return
	}

	var l types.Log
	if err := json.Unmarshal(params.Result, &l); err != nil {
		sub.logger.Warn("failed to parse log", "error", err)
		return
	}

	telemetry := sub.subscriber.telemetry
	if l.Removed {
		if telemetry != nil {
			telemetry.RecordLogRemoved(sub.ctx, sub.network.Name)
		}
		sub.logger.Debug("skipping removed log", "block", l.BlockNumber, "index", l.Index)
		return
	}
	if sub.ctx.Err() != nil {
		return
	}

	if telemetry != nil {
		telemetry.RecordLogReceived(sub.ctx, sub.network.Name)
	}
	sub.onLog(entity.NewLogRecord(l))
}

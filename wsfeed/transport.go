// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package wsfeed implements the storesync live-feed transport over a
// websocket connection to the authoritative service's realtime endpoint.
// Each subscription opens its own connection scoped to one channel; the
// channel name is the engine-provided unique identity, so a reconnect never
// collides with a stale server-side subscription.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/commercekit/storesync/storesync"
)

// Transport dials the realtime endpoint and manages subscription framing.
type Transport struct {
	URL    string
	Token  func(ctx context.Context) (string, error)
	HTTP   *http.Client
	logger *slog.Logger

	// EventBuffer sizes each subscription's delivery channel. Listeners
	// apply one event fully before the next, so a small buffer only
	// absorbs bursts; it never reorders.
	EventBuffer int
}

// NewTransport builds a transport for the given websocket URL.
func NewTransport(url string, token func(ctx context.Context) (string, error), logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		URL:         url,
		Token:       token,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		EventBuffer: 16,
	}
}

// clientFrame is what we send: subscribe/unsubscribe requests.
type clientFrame struct {
	Action   string               `json:"action"`
	Channel  string               `json:"channel"`
	Table    storesync.EntityType `json:"table,omitempty"`
	TenantID string               `json:"tenant_id,omitempty"`
}

// serverFrame is what we receive: the subscribe ack, change events, and
// periodic heartbeats.
type serverFrame struct {
	Type    string                 `json:"type"`
	Channel string                 `json:"channel,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Event   *storesync.ChangeEvent `json:"event,omitempty"`
}

// Subscribe opens a connection, registers the channel with the server, and
// returns once the subscription is acknowledged.
func (t *Transport) Subscribe(ctx context.Context, channel string, entity storesync.EntityType, tenantID string) (storesync.Subscription, error) {
	header := http.Header{}
	if t.Token != nil {
		token, err := t.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.Dial(ctx, t.URL, &websocket.DialOptions{
		HTTPClient: t.HTTP,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime endpoint: %w", err)
	}

	if err := wsjson.Write(ctx, conn, clientFrame{
		Action:   "subscribe",
		Channel:  channel,
		Table:    entity,
		TenantID: tenantID,
	}); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, fmt.Errorf("failed to send subscribe frame: %w", err)
	}

	var ack serverFrame
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, fmt.Errorf("failed to read subscribe ack: %w", err)
	}
	if ack.Type != "ack" || ack.Channel != channel {
		conn.Close(websocket.StatusPolicyViolation, "bad ack")
		if ack.Error != "" {
			return nil, fmt.Errorf("server rejected subscription: %s", ack.Error)
		}
		return nil, fmt.Errorf("unexpected ack frame type %q", ack.Type)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		conn:    conn,
		channel: channel,
		events:  make(chan storesync.ChangeEvent, t.EventBuffer),
		cancel:  cancel,
		logger:  t.logger,
	}
	go sub.readLoop(loopCtx)
	return sub, nil
}

// subscription is one live channel. Events closes when the stream ends.
type subscription struct {
	conn    *websocket.Conn
	channel string
	events  chan storesync.ChangeEvent
	cancel  context.CancelFunc
	logger  *slog.Logger

	mu        sync.Mutex
	streamErr error
	closeOnce sync.Once
	closeErr  error
}

func (s *subscription) Events() <-chan storesync.ChangeEvent { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamErr
}

// readLoop pumps server frames into the events channel until the
// connection drops or Close cancels the context.
func (s *subscription) readLoop(ctx context.Context) {
	defer close(s.events)

	for {
		var frame serverFrame
		if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
			// A deliberate Close or a server-initiated normal closure ends
			// the stream without it being an error.
			if ctx.Err() == nil &&
				websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				!errors.Is(err, context.Canceled) {
				s.mu.Lock()
				s.streamErr = err
				s.mu.Unlock()
			}
			return
		}

		switch frame.Type {
		case "event":
			if frame.Event == nil {
				s.logger.Warn("Event frame without event body", "channel", s.channel)
				continue
			}
			select {
			case s.events <- *frame.Event:
			case <-ctx.Done():
				return
			}
		case "heartbeat":
		default:
			s.logger.Debug("Ignoring unknown frame", "type", frame.Type, "channel", s.channel)
		}
	}
}

// Close detaches the channel server-side and releases the connection.
// Idempotent; concurrent with the read loop by websocket's one-reader/
// one-writer contract.
func (s *subscription) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		// Best effort: tell the server to drop the channel before closing.
		if err := wsjson.Write(ctx, s.conn, clientFrame{
			Action:  "unsubscribe",
			Channel: s.channel,
		}); err != nil {
			s.logger.Debug("Unsubscribe frame failed", "channel", s.channel, "error", err)
		}
		s.cancel()
		s.closeErr = s.conn.Close(websocket.StatusNormalClosure, "unsubscribe")
	})
	return s.closeErr
}

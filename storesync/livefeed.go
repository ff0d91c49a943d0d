// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SubscriptionState is the live-feed lifecycle state machine:
// Unsubscribed → Subscribing → Connected → Listening → Unsubscribed.
type SubscriptionState string

const (
	StateUnsubscribed SubscriptionState = "unsubscribed"
	StateSubscribing  SubscriptionState = "subscribing"
	StateConnected    SubscriptionState = "connected"
	StateListening    SubscriptionState = "listening"
)

// EventApplier applies one change event. ChangeEventHandler is the
// production implementation.
type EventApplier interface {
	Handle(ctx context.Context, ev ChangeEvent) error
}

// LiveFeedSubscriber owns the lifecycle of one persistent subscription for
// one entity type: connect, listen, apply, reconnect on demand, tear down.
type LiveFeedSubscriber struct {
	entity    EntityType
	transport FeedTransport
	applier   EventApplier
	config    *Config
	metrics   *Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	state    SubscriptionState
	channel  string
	sub      Subscription
	cancel   context.CancelFunc
	attempts int
	// gen identifies the current subscription attempt. A listen loop from a
	// superseded attempt must not mutate state owned by its successor.
	gen uint64

	listenWG  sync.WaitGroup
	cleanupWG sync.WaitGroup
}

// NewLiveFeedSubscriber builds a subscriber for one entity type.
func NewLiveFeedSubscriber(entity EntityType, transport FeedTransport, applier EventApplier, config *Config, metrics *Metrics, logger *slog.Logger) *LiveFeedSubscriber {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveFeedSubscriber{
		entity:    entity,
		transport: transport,
		applier:   applier,
		config:    config,
		metrics:   metrics,
		logger:    logger,
		state:     StateUnsubscribed,
	}
}

// Subscribe opens a fresh subscription for the tenant and starts the
// background listening loop. Idempotent: when already subscribed it is a
// no-op. Any stale state from a previous session is torn down first, and
// each attempt uses a fresh channel identity so it cannot collide with a
// lingering server-side subscription.
func (s *LiveFeedSubscriber) Subscribe(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	if s.state != StateUnsubscribed {
		s.mu.Unlock()
		return nil
	}
	s.teardownLocked()
	s.state = StateSubscribing
	s.gen++
	gen := s.gen
	channel := fmt.Sprintf("%s:%s:%d", tenantID, s.entity, time.Now().UnixNano())
	s.channel = channel
	if s.attempts > 0 {
		s.metrics.feedReconnect(s.entity)
	}
	s.attempts++
	s.mu.Unlock()

	sub, err := s.transport.Subscribe(ctx, channel, s.entity, tenantID)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateUnsubscribed
		}
		s.mu.Unlock()
		return &TransportError{Op: "subscribe", Entity: s.entity, Cause: err}
	}

	// The loop's lifetime is governed by Unsubscribe, not by the context
	// that happened to carry the Subscribe call.
	loopCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.gen != gen {
		// Superseded while connecting; this attempt's stream is stale.
		s.mu.Unlock()
		cancel()
		s.scheduleClose(sub)
		return nil
	}
	s.sub = sub
	s.cancel = cancel
	s.state = StateConnected
	s.mu.Unlock()

	s.logger.Debug("Live feed subscribed", "entity", s.entity, "channel", channel)

	s.listenWG.Add(1)
	go s.listen(loopCtx, sub, gen)
	return nil
}

// listen iterates the event stream until it ends or is cancelled, applying
// each event fully before awaiting the next. Cancellation is checked every
// iteration, not only at stream end.
func (s *LiveFeedSubscriber) listen(ctx context.Context, sub Subscription, gen uint64) {
	defer s.listenWG.Done()
	s.transition(gen, StateConnected, StateListening)
	defer s.transition(gen, StateListening, StateUnsubscribed)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					s.logger.Error("Live feed stream ended", "entity", s.entity, "error", err)
				} else {
					s.logger.Debug("Live feed stream closed", "entity", s.entity)
				}
				return
			}
			if err := s.applier.Handle(ctx, ev); err != nil {
				s.metrics.eventDropped(ev.Table, ev.Kind)
				s.logger.Warn("Dropping change event",
					"entity", ev.Table, "kind", ev.Kind, "event", ev.ID, "error", err)
				continue
			}
			s.metrics.eventApplied(ev.Table, ev.Kind)
		}
	}
}

// Unsubscribe cancels the listening loop and detaches the channel. Safe to
// call when already unsubscribed, and never blocks on network teardown:
// the transport-level close is fired and forgotten, tracked only so tests
// can drain it.
func (s *LiveFeedSubscriber) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.teardownLocked()
	s.state = StateUnsubscribed
}

// teardownLocked cancels the loop and schedules the network close. Callers
// hold s.mu.
func (s *LiveFeedSubscriber) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.sub == nil {
		return
	}
	sub := s.sub
	s.sub = nil
	s.scheduleClose(sub)
}

// scheduleClose fires the network teardown without blocking the caller,
// tracked so Drain can wait for it.
func (s *LiveFeedSubscriber) scheduleClose(sub Subscription) {
	s.cleanupWG.Add(1)
	go func() {
		defer s.cleanupWG.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), s.config.CleanupTimeout)
		defer cancel()
		if err := sub.Close(closeCtx); err != nil {
			s.logger.Debug("Live feed teardown failed", "entity", s.entity, "error", err)
		}
	}()
}

// transition moves the state machine from one state to another, skipping
// silently when the attempt was superseded or a concurrent teardown already
// moved it elsewhere.
func (s *LiveFeedSubscriber) transition(gen uint64, from, to SubscriptionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.state == from {
		s.state = to
	}
}

// State returns the current lifecycle state.
func (s *LiveFeedSubscriber) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Channel returns the identity of the current (or most recent) channel.
func (s *LiveFeedSubscriber) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Drain blocks until the listening loop and all fired-and-forgotten
// teardown tasks have finished. Test hook; production callers never need
// to wait.
func (s *LiveFeedSubscriber) Drain() {
	s.listenWG.Wait()
	s.cleanupWG.Wait()
}

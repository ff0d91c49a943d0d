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

// Engine bundles the full sync stack for one tenant: a shared mutation
// lock, one syncer and one live-feed subscriber per entity type, and the
// orchestrator. The UI reads the replica directly and never goes through
// the engine; the engine is the replica's only writer.
type Engine struct {
	tenantID string
	config   *Config
	lock     *MutationLock
	orch     *SyncOrchestrator
	syncers  map[EntityType]*EntitySyncer
	feeds    map[EntityType]*LiveFeedSubscriber
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// EngineOption customizes engine construction.
type EngineOption func(*engineOptions)

type engineOptions struct {
	metrics   *Metrics
	validator *PayloadValidator
	logger    *slog.Logger
}

// WithMetrics wires Prometheus collectors into the engine.
func WithMetrics(m *Metrics) EngineOption {
	return func(o *engineOptions) { o.metrics = m }
}

// WithPayloadValidator wires per-entity JSON schema validation of event
// payloads.
func WithPayloadValidator(v *PayloadValidator) EngineOption {
	return func(o *engineOptions) { o.validator = v }
}

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = l }
}

// NewEngine wires gateway, replica and feed transport into a ready engine.
func NewEngine(tenantID string, gateway RemoteGateway, replica LocalReplica, transport FeedTransport, config *Config, opts ...EngineOption) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	lock := NewMutationLock()
	lock.observeWait = o.metrics.lockWaitObserver()

	handler := NewChangeEventHandler(gateway, replica, lock, o.validator, config, o.metrics, o.logger)

	syncers := make(map[EntityType]*EntitySyncer, len(EntityTypes()))
	feeds := make(map[EntityType]*LiveFeedSubscriber, len(EntityTypes()))
	runners := make([]SyncRunner, 0, len(EntityTypes()))
	for _, entity := range EntityTypes() {
		syncer := NewEntitySyncer(entity, gateway, replica, lock, config, o.logger)
		syncers[entity] = syncer
		runners = append(runners, syncer)
		feeds[entity] = NewLiveFeedSubscriber(entity, transport, handler, config, o.metrics, o.logger)
	}

	return &Engine{
		tenantID: tenantID,
		config:   config,
		lock:     lock,
		orch:     NewSyncOrchestrator(runners, o.metrics, o.logger),
		syncers:  syncers,
		feeds:    feeds,
		logger:   o.logger,
	}
}

// Start subscribes every live feed and, when SyncInterval is set, runs an
// initial sweep followed by periodic ones until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	for entity, feed := range e.feeds {
		if err := feed.Subscribe(runCtx, e.tenantID); err != nil {
			e.logger.Error("Live feed subscribe failed", "entity", entity, "error", err)
		}
	}

	if e.config.SyncInterval > 0 {
		e.wg.Add(1)
		go e.sweepLoop(runCtx)
	}
	return nil
}

// sweepLoop runs SyncAll on the configured interval.
func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.SyncInterval)
	defer ticker.Stop()

	e.orch.SyncAll(ctx, e.tenantID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.orch.SyncAll(ctx, e.tenantID)
		}
	}
}

// Stop unsubscribes every feed and halts the periodic sweeps. Safe to call
// more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()

	for _, feed := range e.feeds {
		feed.Unsubscribe()
	}
	e.wg.Wait()
}

// SyncAll triggers a full sweep, superseding any sweep in flight.
func (e *Engine) SyncAll(ctx context.Context) {
	e.orch.SyncAll(ctx, e.tenantID)
}

// SyncEntity resyncs a single entity type, for ad hoc "refresh this screen"
// calls from the UI layer.
func (e *Engine) SyncEntity(ctx context.Context, entity EntityType) error {
	syncer, ok := e.syncers[entity]
	if !ok {
		return fmt.Errorf("unknown entity type %q", entity)
	}
	return syncer.Sync(ctx, e.tenantID)
}

// Resubscribe tears down and reopens one entity's live feed, for UI-driven
// reconnects after the app returns to the foreground.
func (e *Engine) Resubscribe(ctx context.Context, entity EntityType) error {
	feed, ok := e.feeds[entity]
	if !ok {
		return fmt.Errorf("unknown entity type %q", entity)
	}
	feed.Unsubscribe()
	return feed.Subscribe(ctx, e.tenantID)
}

// Syncing reports whether a full sweep is in flight.
func (e *Engine) Syncing() bool { return e.orch.Syncing() }

// LastSyncedAt returns the completion time of the most recent sweep.
func (e *Engine) LastSyncedAt() time.Time { return e.orch.LastSyncedAt() }

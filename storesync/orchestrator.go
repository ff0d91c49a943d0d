// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// SyncOrchestrator throttles and coordinates full-replica refreshes,
// fanning out to one SyncRunner per entity type. Callers observe
// completion through Syncing and LastSyncedAt rather than a return value:
// sweeps are fire-and-coordinate, not request/response.
type SyncOrchestrator struct {
	runners []SyncRunner
	metrics *Metrics
	logger  *slog.Logger

	mu           sync.Mutex
	syncing      bool
	generation   uint64
	cancel       context.CancelFunc
	lastSyncedAt time.Time
}

// NewSyncOrchestrator builds an orchestrator over the given runners.
func NewSyncOrchestrator(runners []SyncRunner, metrics *Metrics, logger *slog.Logger) *SyncOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncOrchestrator{
		runners: runners,
		metrics: metrics,
		logger:  logger,
	}
}

// SyncAll performs a full reconciliation sweep across all entity types and
// blocks until the sweep finishes or is superseded. If a previous sweep is
// still in flight it is cooperatively cancelled and this call proceeds; the
// syncing flag keeps two sweeps from being logically concurrent even when
// cancellation races.
//
// Sub-syncs run concurrently and independently: one entity type's failure
// is logged and absorbed, never aborting the others.
func (o *SyncOrchestrator) SyncAll(ctx context.Context, tenantID string) {
	o.mu.Lock()
	if o.cancel != nil {
		// Supersede the in-flight sweep; it observes cancellation at its
		// next checkpoint and finalizes without touching our state.
		o.cancel()
		o.metrics.sweepCancelled()
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.generation++
	generation := o.generation
	o.syncing = true
	o.mu.Unlock()

	o.metrics.sweepStarted()
	o.logger.Debug("Full sync sweep started", "tenant", tenantID)

	defer func() {
		cancel()
		o.mu.Lock()
		// Finalize unconditionally, but only for the newest sweep: a
		// superseded sweep must not clear the flag its successor set.
		if o.generation == generation {
			o.syncing = false
			o.cancel = nil
			o.lastSyncedAt = time.Now()
			o.metrics.sweepCompleted()
			o.logger.Debug("Full sync sweep finished", "tenant", tenantID)
		}
		o.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for _, runner := range o.runners {
		wg.Add(1)
		go func(r SyncRunner) {
			defer wg.Done()
			err := r.Sync(runCtx, tenantID)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				o.logger.Debug("Entity sync cancelled", "entity", r.Entity())
			default:
				o.metrics.syncError(r.Entity())
				o.logger.Error("Entity sync failed", "entity", r.Entity(), "error", err)
			}
		}(runner)
	}
	wg.Wait()
}

// Syncing reports whether a sweep is currently in flight.
func (o *SyncOrchestrator) Syncing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.syncing
}

// LastSyncedAt returns when the most recent sweep finalized, or the zero
// time if none has.
func (o *SyncOrchestrator) LastSyncedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSyncedAt
}

// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import (
	"context"
	"errors"
	"log/slog"
)

// SyncRunner is one entity type's full-sweep unit of work. The orchestrator
// fans out over runners; EntitySyncer is the production implementation.
type SyncRunner interface {
	Entity() EntityType
	Sync(ctx context.Context, tenantID string) error
}

// EntitySyncer pulls a windowed remote snapshot for one entity type and
// upserts it into the replica. The fetch and decode happen outside the
// mutation lock; only the apply-and-commit step holds it.
//
// Sweeps never prune local records absent from the snapshot: the remote
// window is filtered (active orders, capped customers), so absence does not
// imply deletion. Records leave the replica only through delete events.
type EntitySyncer struct {
	entity  EntityType
	gateway RemoteGateway
	replica LocalReplica
	lock    *MutationLock
	config  *Config
	logger  *slog.Logger
}

// NewEntitySyncer builds a syncer for one entity type.
func NewEntitySyncer(entity EntityType, gateway RemoteGateway, replica LocalReplica, lock *MutationLock, config *Config, logger *slog.Logger) *EntitySyncer {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitySyncer{
		entity:  entity,
		gateway: gateway,
		replica: replica,
		lock:    lock,
		config:  config,
		logger:  logger,
	}
}

// Entity returns the entity type this syncer reconciles.
func (s *EntitySyncer) Entity() EntityType { return s.entity }

// Sync fetches the remote snapshot for the tenant and reconciles it into
// the replica: existing records are replaced in place, absent ones are
// inserted, and the batch is committed once. Malformed remote records are
// logged and skipped; fetch or commit failures abort the pass with the
// replica left at its last committed state.
func (s *EntitySyncer) Sync(ctx context.Context, tenantID string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	raws, err := s.gateway.FetchAll(fetchCtx, s.entity, tenantID)
	cancel()
	if err != nil {
		return &TransportError{Op: "fetch all", Entity: s.entity, Cause: err}
	}

	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		rec, err := DecodeRecord(s.entity, raw)
		if err != nil {
			s.logger.Warn("Skipping malformed remote record",
				"entity", s.entity, "error", err)
			continue
		}
		records = append(records, rec)
	}

	if err := s.lock.Acquire(ctx); err != nil {
		return err
	}
	defer s.lock.Release()

	// Snapshots arrive most-recent-first while Insert claims the head
	// position, so apply oldest first to leave the newest at the head.
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		// Cancellation checkpoint between records so a superseding sweep
		// can take over promptly.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		existing, err := s.replica.FindByID(ctx, s.entity, rec.RecordID())
		switch {
		case err == nil && existing != nil:
			if err := s.replica.Replace(ctx, rec); err != nil {
				return &TransportError{Op: "replace", Entity: s.entity, Cause: err}
			}
		case errors.Is(err, ErrNotFound):
			s.resolveParents(ctx, rec)
			if err := s.replica.Insert(ctx, rec); err != nil {
				return &TransportError{Op: "insert", Entity: s.entity, Cause: err}
			}
		default:
			return &TransportError{Op: "find", Entity: s.entity, Cause: err}
		}
	}

	if err := s.replica.Commit(ctx); err != nil {
		return &TransportError{Op: "commit", Entity: s.entity, Cause: err}
	}
	return nil
}

// resolveParents looks up an order's location and customer references
// locally. A miss is tolerated: the remote service is eventually consistent
// and the parent may arrive with a later sweep or event, so the dangling
// reference is kept as-is.
func (s *EntitySyncer) resolveParents(ctx context.Context, rec Record) {
	order, ok := rec.(*OrderRecord)
	if !ok {
		return
	}

	if order.LocationID != nil {
		if _, err := s.replica.FindByID(ctx, EntityLocation, *order.LocationID); errors.Is(err, ErrNotFound) {
			s.logger.Debug("Order references location not yet replicated",
				"order", order.ID, "location", *order.LocationID)
		}
	}
	if order.CustomerID != nil {
		if _, err := s.replica.FindByID(ctx, EntityCustomer, *order.CustomerID); errors.Is(err, ErrNotFound) {
			s.logger.Debug("Order references customer not yet replicated",
				"order", order.ID, "customer", *order.CustomerID)
		}
	}
}

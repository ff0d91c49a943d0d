// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ChangeEventHandler decodes a raw change-event envelope, sanitizes its
// payload, and applies it to the replica under the mutation lock. Each
// event is applied as a single atomic step; the caller (a live-feed
// listening loop) processes one event fully before awaiting the next, which
// sequences remote fetches per feed and prevents a stale fetch result from
// overwriting a newer one for the same id.
type ChangeEventHandler struct {
	gateway   RemoteGateway
	replica   LocalReplica
	lock      *MutationLock
	validator *PayloadValidator
	config    *Config
	metrics   *Metrics
	logger    *slog.Logger
}

// NewChangeEventHandler builds a handler. validator and metrics may be nil.
func NewChangeEventHandler(gateway RemoteGateway, replica LocalReplica, lock *MutationLock, validator *PayloadValidator, config *Config, metrics *Metrics, logger *slog.Logger) *ChangeEventHandler {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeEventHandler{
		gateway:   gateway,
		replica:   replica,
		lock:      lock,
		validator: validator,
		config:    config,
		metrics:   metrics,
		logger:    logger,
	}
}

// Handle dispatches one event envelope. Decode and fetch failures come back
// as DecodeError/TransportError so the listening loop can log, count and
// drop the event without dying.
func (h *ChangeEventHandler) Handle(ctx context.Context, ev ChangeEvent) error {
	switch ev.Kind {
	case ChangeInsert:
		return h.handleInsert(ctx, ev)
	case ChangeUpdate:
		return h.handleUpdate(ctx, ev)
	case ChangeDelete:
		return h.handleDelete(ctx, ev)
	default:
		return &DecodeError{Entity: ev.Table, Cause: fmt.Errorf("unknown change kind %q", ev.Kind)}
	}
}

// handleInsert waits out the grace period (related child rows, e.g. order
// line items, are committed remotely in a separate transaction shortly
// after the parent), fetches the complete record, and applies it at the
// head of the replica ordering. The apply is an upsert: a replayed insert
// event after a reconnect replaces the existing record instead of
// duplicating the id.
func (h *ChangeEventHandler) handleInsert(ctx context.Context, ev ChangeEvent) error {
	id, err := payloadID(ev.Table, ev.Record)
	if err != nil {
		return err
	}
	if err := h.validator.Validate(ev.Table, ev.Record); err != nil {
		return err
	}

	select {
	case <-time.After(h.config.GracePeriod):
	case <-ctx.Done():
		return ctx.Err()
	}

	rec, err := h.fetchRecord(ctx, ev.Table, id)
	if err != nil {
		return err
	}

	return h.lock.Do(ctx, func() error {
		existing, err := h.replica.FindByID(ctx, ev.Table, id)
		switch {
		case err == nil && existing != nil:
			h.logger.Debug("Insert event for existing record, replacing",
				"entity", ev.Table, "id", id)
			if err := h.replica.Replace(ctx, rec); err != nil {
				return &TransportError{Op: "replace", Entity: ev.Table, Cause: err}
			}
		case errors.Is(err, ErrNotFound):
			if err := h.replica.Insert(ctx, rec); err != nil {
				return &TransportError{Op: "insert", Entity: ev.Table, Cause: err}
			}
		default:
			return &TransportError{Op: "find", Entity: ev.Table, Cause: err}
		}
		return h.commit(ctx, ev.Table)
	})
}

// handleUpdate fetches the complete record and replaces the local one in
// place. A record unknown locally is a no-op: it lives outside our synced
// window and the next sweep will bring it in if it matters.
func (h *ChangeEventHandler) handleUpdate(ctx context.Context, ev ChangeEvent) error {
	id, err := payloadID(ev.Table, ev.Record)
	if err != nil {
		return err
	}
	if err := h.validator.Validate(ev.Table, ev.Record); err != nil {
		return err
	}

	rec, err := h.fetchRecord(ctx, ev.Table, id)
	if err != nil {
		return err
	}

	return h.lock.Do(ctx, func() error {
		_, err := h.replica.FindByID(ctx, ev.Table, id)
		switch {
		case errors.Is(err, ErrNotFound):
			h.logger.Debug("Update event for record not replicated locally",
				"entity", ev.Table, "id", id)
			return nil
		case err != nil:
			return &TransportError{Op: "find", Entity: ev.Table, Cause: err}
		}
		if err := h.replica.Replace(ctx, rec); err != nil {
			return &TransportError{Op: "replace", Entity: ev.Table, Cause: err}
		}
		return h.commit(ctx, ev.Table)
	})
}

// handleDelete extracts the id from the old-record payload; no remote fetch
// is needed because the row is already gone upstream.
func (h *ChangeEventHandler) handleDelete(ctx context.Context, ev ChangeEvent) error {
	id, err := payloadID(ev.Table, ev.OldRecord)
	if err != nil {
		return err
	}

	return h.lock.Do(ctx, func() error {
		if err := h.replica.RemoveByID(ctx, ev.Table, id); err != nil {
			return &TransportError{Op: "remove", Entity: ev.Table, Cause: err}
		}
		return h.commit(ctx, ev.Table)
	})
}

// fetchRecord pulls the complete record from the gateway under the fetch
// timeout and decodes it.
func (h *ChangeEventHandler) fetchRecord(ctx context.Context, entity EntityType, id string) (Record, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, h.config.FetchTimeout)
	defer cancel()

	raw, err := h.gateway.FetchOne(fetchCtx, entity, id)
	if err != nil {
		return nil, &TransportError{Op: "fetch one", Entity: entity, Cause: err}
	}
	return DecodeRecord(entity, raw)
}

func (h *ChangeEventHandler) commit(ctx context.Context, entity EntityType) error {
	if err := h.replica.Commit(ctx); err != nil {
		return &TransportError{Op: "commit", Entity: entity, Cause: err}
	}
	return nil
}

// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import (
	"context"
	"encoding/json"
)

// RemoteGateway exposes the authoritative service's query surface, scoped
// by tenant. FetchAll returns a bounded window, not necessarily every
// record ever (active-only orders, capped customers); absence from a
// snapshot therefore does not imply deletion.
type RemoteGateway interface {
	FetchAll(ctx context.Context, entity EntityType, tenantID string) ([]json.RawMessage, error)
	FetchOne(ctx context.Context, entity EntityType, id string) (json.RawMessage, error)
}

// LocalReplica exposes the local read store's write primitives. All calls
// happen under the MutationLock; implementations do not need their own
// write coordination against the sync engine.
//
// Insert places a new record at the head of the store's ordering
// (most-recent-first for order feeds). Replace overwrites all mutable
// fields of the record matching the id. Commit flushes writes batched
// since the previous commit; a sync pass commits once per batch, event
// application commits per event.
type LocalReplica interface {
	FindByID(ctx context.Context, entity EntityType, id string) (Record, error)
	Insert(ctx context.Context, rec Record) error
	Replace(ctx context.Context, rec Record) error
	RemoveByID(ctx context.Context, entity EntityType, id string) error
	Commit(ctx context.Context) error
}

// Subscription is one live change-event stream. Events is closed when the
// stream ends; Err reports why, if anything went wrong. Close detaches the
// channel server-side and releases the stream.
type Subscription interface {
	Events() <-chan ChangeEvent
	Err() error
	Close(ctx context.Context) error
}

// FeedTransport opens live change-event subscriptions. The channel name
// must be unique per attempt so a stale server-side subscription from a
// previous session cannot collide with the new one.
type FeedTransport interface {
	Subscribe(ctx context.Context, channel string, entity EntityType, tenantID string) (Subscription, error)
}

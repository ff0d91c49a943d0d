// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import "time"

// Config holds tuning knobs for the sync engine.
type Config struct {
	// GracePeriod is how long an insert-event handler waits before fetching
	// the freshly inserted record, so related child rows written in a
	// separate remote transaction (order line items) have time to land.
	GracePeriod time.Duration

	// FetchTimeout bounds every RemoteGateway call so a hung fetch cannot
	// stall a sweep or an event handler indefinitely.
	FetchTimeout time.Duration

	// SyncInterval is the period of the engine's background full sweeps.
	// Zero disables periodic sweeps; SyncAll can still be called directly.
	SyncInterval time.Duration

	// CleanupTimeout bounds the fire-and-forget network teardown of a
	// live-feed subscription.
	CleanupTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		GracePeriod:    500 * time.Millisecond,
		FetchTimeout:   30 * time.Second,
		SyncInterval:   5 * time.Minute,
		CleanupTimeout: 5 * time.Second,
	}
}

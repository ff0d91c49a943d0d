// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by LocalReplica.FindByID and
// RemoteGateway.FetchOne when no record matches the id.
var ErrNotFound = errors.New("record not found")

// DecodeError marks a malformed event payload or remote record. The
// offending event/record is dropped and processing continues.
type DecodeError struct {
	Entity EntityType
	Cause  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Entity, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// TransportError marks a fetch, subscribe or commit failure. The current
// sync pass or event application aborts early; the replica stays at the
// last successfully committed state and the next sweep retries.
type TransportError struct {
	Op     string
	Entity EntityType
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import (
	"context"
	"sync"
	"time"
)

// MutationLock is the fair mutual-exclusion primitive guarding all writes
// to the local replica. Unlike sync.Mutex it guarantees strict FIFO
// hand-off: waiters are granted the lock in the order they called Acquire,
// so high-frequency live-feed traffic cannot starve a sweep. Blocked
// callers park on a channel and consume no scheduler time.
//
// Callers must call Release exactly once per successful Acquire, on every
// exit path, or the lock deadlocks permanently. Use the scoped idiom:
//
//	if err := lock.Acquire(ctx); err != nil {
//		return err
//	}
//	defer lock.Release()
//
// or Do, which enforces the pairing structurally.
type MutationLock struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}

	// observeWait, when set, receives the time each contended Acquire spent
	// queued. Wired to the lock-wait histogram by the engine.
	observeWait func(d time.Duration)
}

// NewMutationLock returns an unlocked MutationLock.
func NewMutationLock() *MutationLock {
	return &MutationLock{}
}

// Acquire suspends the caller until exclusive access is granted, or until
// ctx is done. A cancelled waiter leaves the queue without disturbing the
// order of those behind it.
func (l *MutationLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.locked && len(l.waiters) == 0 {
		l.locked = true
		l.mu.Unlock()
		return nil
	}

	grant := make(chan struct{})
	l.waiters = append(l.waiters, grant)
	l.mu.Unlock()

	start := time.Now()
	select {
	case <-grant:
		if l.observeWait != nil {
			l.observeWait(time.Since(start))
		}
		return nil
	case <-ctx.Done():
	}

	// Cancelled while queued. The releaser may have handed us the lock
	// concurrently; if so, pass it straight on instead of keeping it.
	l.mu.Lock()
	select {
	case <-grant:
		l.handOffLocked()
		l.mu.Unlock()
	default:
		for i, w := range l.waiters {
			if w == grant {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
	}
	return ctx.Err()
}

// Release hands the lock to the next waiter in arrival order, or clears it
// if nobody is waiting. Releasing an unheld lock is a programming error
// and panics rather than silently corrupting the invariant.
func (l *MutationLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked {
		panic("storesync: Release of unheld MutationLock")
	}
	l.handOffLocked()
}

// handOffLocked pops the head waiter and grants it the lock directly (the
// locked flag stays set), or clears the flag when the queue is empty.
// Callers hold l.mu.
func (l *MutationLock) handOffLocked() {
	if len(l.waiters) > 0 {
		grant := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(grant)
		return
	}
	l.locked = false
}

// Do runs fn under the lock, releasing on every exit path including panics.
func (l *MutationLock) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package storesync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// fakeGateway is an in-memory RemoteGateway for engine tests.
type fakeGateway struct {
	mu            sync.Mutex
	snapshots     map[EntityType][]json.RawMessage
	records       map[string]json.RawMessage // entity/id
	fetchAllErr   error
	fetchOneErr   error
	fetchOneHook  func(entity EntityType, id string) // runs before each FetchOne
	fetchOneCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		snapshots: make(map[EntityType][]json.RawMessage),
		records:   make(map[string]json.RawMessage),
	}
}

func (g *fakeGateway) setRecord(entity EntityType, id string, raw string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[string(entity)+"/"+id] = json.RawMessage(raw)
}

func (g *fakeGateway) FetchAll(ctx context.Context, entity EntityType, tenantID string) ([]json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchAllErr != nil {
		return nil, g.fetchAllErr
	}
	return g.snapshots[entity], nil
}

func (g *fakeGateway) FetchOne(ctx context.Context, entity EntityType, id string) (json.RawMessage, error) {
	g.mu.Lock()
	hook := g.fetchOneHook
	g.fetchOneCalls++
	g.mu.Unlock()
	if hook != nil {
		hook(entity, id)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchOneErr != nil {
		return nil, g.fetchOneErr
	}
	raw, ok := g.records[string(entity)+"/"+id]
	if !ok {
		return nil, ErrNotFound
	}
	return raw, nil
}

// fakeReplica is an in-memory LocalReplica keeping per-entity slices in
// most-recent-first order, the way the UI-facing store does.
type fakeReplica struct {
	mu      sync.Mutex
	rows    map[EntityType][]Record
	commits int
	findErr error
}

func newFakeReplica() *fakeReplica {
	return &fakeReplica{rows: make(map[EntityType][]Record)}
}

func (r *fakeReplica) FindByID(ctx context.Context, entity EntityType, id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, rec := range r.rows[entity] {
		if rec.RecordID() == id {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeReplica) Insert(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entity := rec.Entity()
	r.rows[entity] = append([]Record{rec}, r.rows[entity]...)
	return nil
}

func (r *fakeReplica) Replace(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entity := rec.Entity()
	for i, existing := range r.rows[entity] {
		if existing.RecordID() == rec.RecordID() {
			r.rows[entity][i] = rec
			return nil
		}
	}
	return fmt.Errorf("replace: no record %s/%s", entity, rec.RecordID())
}

func (r *fakeReplica) RemoveByID(ctx context.Context, entity EntityType, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.rows[entity]
	for i, rec := range rows {
		if rec.RecordID() == id {
			r.rows[entity] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *fakeReplica) Commit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits++
	return nil
}

func (r *fakeReplica) count(entity EntityType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows[entity])
}

func (r *fakeReplica) ids(entity EntityType) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rows[entity]))
	for _, rec := range r.rows[entity] {
		out = append(out, rec.RecordID())
	}
	return out
}

func (r *fakeReplica) get(entity EntityType, id string) Record {
	rec, err := r.FindByID(context.Background(), entity, id)
	if err != nil {
		return nil
	}
	return rec
}

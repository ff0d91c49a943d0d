// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitereplica

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/commercekit/storesync/storesync"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_InsertFindCommitRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order := &storesync.OrderRecord{ID: "ord_1", Number: "1001", Status: "open", Currency: "USD"}
	if err := store.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Uncommitted writes are invisible.
	if _, err := store.FindByID(ctx, storesync.EntityOrder, "ord_1"); err != storesync.ErrNotFound {
		t.Fatalf("expected ErrNotFound before commit, got %v", err)
	}

	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rec, err := store.FindByID(ctx, storesync.EntityOrder, "ord_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got := rec.(*storesync.OrderRecord)
	if got.Number != "1001" || got.Status != "open" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestStore_ListMostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"ord_1", "ord_2", "ord_3"} {
		if err := store.Insert(ctx, &storesync.OrderRecord{ID: id}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	records, err := store.List(ctx, storesync.EntityOrder)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"ord_3", "ord_2", "ord_1"}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i, rec := range records {
		if rec.RecordID() != want[i] {
			t.Fatalf("position %d: expected %s got %s", i, want[i], rec.RecordID())
		}
	}
}

func TestStore_InsertCollisionUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Insert(ctx, &storesync.OrderRecord{ID: "ord_1", Status: "open"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Insert(ctx, &storesync.OrderRecord{ID: "ord_1", Status: "completed"}); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	records, err := store.List(ctx, storesync.EntityOrder)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected single record after id collision, got %d", len(records))
	}
	if records[0].(*storesync.OrderRecord).Status != "completed" {
		t.Fatalf("expected upserted payload, got %+v", records[0])
	}
}

func TestStore_ReplaceAndRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Insert(ctx, &storesync.CustomerRecord{ID: "cust_1", TenantID: "t1", Email: "a@b.c"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := store.Replace(ctx, &storesync.CustomerRecord{ID: "cust_1", TenantID: "t1", Email: "new@b.c"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rec, err := store.FindByID(ctx, storesync.EntityCustomer, "cust_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.(*storesync.CustomerRecord).Email != "new@b.c" {
		t.Fatalf("replace did not overwrite: %+v", rec)
	}

	if err := store.RemoveByID(ctx, storesync.EntityCustomer, "cust_1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.FindByID(ctx, storesync.EntityCustomer, "cust_1"); err != storesync.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Removing an absent id stays a no-op.
	if err := store.RemoveByID(ctx, storesync.EntityCustomer, "cust_1"); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestStore_EntitiesAreDisjoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Insert(ctx, &storesync.LocationRecord{ID: "x", TenantID: "t1", Name: "Main St"}); err != nil {
		t.Fatalf("insert location: %v", err)
	}
	if err := store.Insert(ctx, &storesync.OrderRecord{ID: "x"}); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	loc, err := store.FindByID(ctx, storesync.EntityLocation, "x")
	if err != nil {
		t.Fatalf("find location: %v", err)
	}
	if _, ok := loc.(*storesync.LocationRecord); !ok {
		t.Fatalf("expected location record, got %T", loc)
	}
	ord, err := store.FindByID(ctx, storesync.EntityOrder, "x")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if _, ok := ord.(*storesync.OrderRecord); !ok {
		t.Fatalf("expected order record, got %T", ord)
	}
}

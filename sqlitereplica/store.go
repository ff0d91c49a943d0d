// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitereplica provides the SQLite-backed local replica behind the
// storesync engine. One database file holds one tenant's replica, the way a
// signed-in device keeps exactly one store's data.
//
// The store buffers Insert/Replace/RemoveByID calls and flushes them in a
// single transaction on Commit, so a full sync pass lands atomically and an
// event application is a one-statement transaction. Reads see committed
// state only. The engine's MutationLock serializes writers; the store adds
// its own write mutex only to protect the pending buffer itself.
package sqlitereplica

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/commercekit/storesync/storesync"
)

type opKind int

const (
	opInsert opKind = iota
	opReplace
	opRemove
)

type pendingOp struct {
	kind    opKind
	entity  storesync.EntityType
	id      string
	payload []byte
}

// Store implements storesync.LocalReplica on a SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	pending []pendingOp
}

// Open opens (or creates) the replica database at path and initializes the
// schema. Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica database: %w", err)
	}
	store, err := NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing database handle and initializes the schema.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize replica database: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// initializeDatabase enables WAL mode and creates the replica table. The
// position column carries the in-memory ordering contract: higher position
// sorts first, and inserts take max+1 so fresh records surface at the head.
func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS replica_records (
			entity     TEXT NOT NULL,
			id         TEXT NOT NULL,
			payload    TEXT NOT NULL,
			position   INTEGER NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (entity, id)
		)`,
		`CREATE INDEX IF NOT EXISTS replica_records_position
			ON replica_records (entity, position DESC)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create replica table: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// FindByID returns the committed record with the given id, or
// storesync.ErrNotFound.
func (s *Store) FindByID(ctx context.Context, entity storesync.EntityType, id string) (storesync.Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM replica_records WHERE entity = ? AND id = ?
	`, string(entity), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storesync.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record %s/%s: %w", entity, id, err)
	}
	return storesync.DecodeRecord(entity, payload)
}

// Insert queues the record for the next commit, to be placed at the head of
// the entity's ordering. An id collision upserts instead of duplicating.
func (s *Store) Insert(ctx context.Context, rec storesync.Record) error {
	return s.queue(opInsert, rec.Entity(), rec.RecordID(), rec)
}

// Replace queues a full-field overwrite of the record matching the id.
func (s *Store) Replace(ctx context.Context, rec storesync.Record) error {
	return s.queue(opReplace, rec.Entity(), rec.RecordID(), rec)
}

// RemoveByID queues removal of the record. Removing an absent id is a no-op.
func (s *Store) RemoveByID(ctx context.Context, entity storesync.EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, pendingOp{kind: opRemove, entity: entity, id: id})
	return nil
}

func (s *Store) queue(kind opKind, entity storesync.EntityType, id string, rec storesync.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s/%s: %w", entity, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, pendingOp{kind: kind, entity: entity, id: id, payload: payload})
	return nil
}

// Commit flushes all queued writes in one transaction. On failure the
// transaction rolls back and the queue is preserved for a retry.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	ops := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.requeue(ops)
		return fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
			s.requeue(ops)
		}
	}()

	for _, op := range ops {
		if err := applyOpInTx(ctx, tx, op); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replica transaction: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) requeue(ops []pendingOp) {
	s.mu.Lock()
	s.pending = append(ops, s.pending...)
	s.mu.Unlock()
}

func applyOpInTx(ctx context.Context, tx *sql.Tx, op pendingOp) error {
	switch op.kind {
	case opInsert:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO replica_records (entity, id, payload, position)
			VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM replica_records WHERE entity = ?))
			ON CONFLICT (entity, id) DO UPDATE SET
				payload = excluded.payload,
				updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		`, string(op.entity), op.id, op.payload, string(op.entity))
		if err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", op.entity, op.id, err)
		}
	case opReplace:
		_, err := tx.ExecContext(ctx, `
			UPDATE replica_records
			SET payload = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
			WHERE entity = ? AND id = ?
		`, op.payload, string(op.entity), op.id)
		if err != nil {
			return fmt.Errorf("failed to replace %s/%s: %w", op.entity, op.id, err)
		}
	case opRemove:
		_, err := tx.ExecContext(ctx, `
			DELETE FROM replica_records WHERE entity = ? AND id = ?
		`, string(op.entity), op.id)
		if err != nil {
			return fmt.Errorf("failed to remove %s/%s: %w", op.entity, op.id, err)
		}
	}
	return nil
}

// List returns all committed records of one entity type in
// most-recent-first order. This is the read path the UI layer consumes.
func (s *Store) List(ctx context.Context, entity storesync.EntityType) ([]storesync.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM replica_records WHERE entity = ? ORDER BY position DESC
	`, string(entity))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entity, err)
	}
	defer rows.Close()

	var records []storesync.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan %s payload: %w", entity, err)
		}
		rec, err := storesync.DecodeRecord(entity, payload)
		if err != nil {
			// A row we wrote ourselves should always decode; skip and log
			// rather than failing the whole read path.
			s.logger.Warn("Skipping undecodable replica row", "entity", entity, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

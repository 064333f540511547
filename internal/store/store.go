// Package store persists the pricing configuration, the formula audit trail and the
// quote log in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidFormula is returned when a formula configuration cannot be saved.
	ErrInvalidFormula = errors.New("invalid formula configuration")
	// ErrInvalidRate is returned when a rate or setting is out of range.
	ErrInvalidRate = errors.New("invalid rate")
)

// Store reads and writes pricing data.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New returns a Store backed by db. The schema is expected to be migrated.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

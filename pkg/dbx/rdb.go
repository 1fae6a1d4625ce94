// SPDX-License-Identifier: Apache-2.0

// Package dbx provides a retrying *sql.DB wrapper and the savepoint helpers
// shared by the migration executor and seed applier.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
)

const (
	lockNotAvailableErrorCode pq.ErrorCode = "55P03"
	maxBackoffDuration                     = 1 * time.Minute
	backoffInterval                        = 1 * time.Second
)

// DB is the subset of *sql.DB (plus retry/savepoint helpers) every
// Confiture component depends on, so callers can substitute a fake in
// tests without a live Postgres server.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error
	Close() error
}

// RDB wraps a *sql.DB and retries queries with exponential backoff on
// Postgres lock_not_available (55P03) errors.
type RDB struct {
	DB *sql.DB
}

// ExecContext wraps sql.DB.ExecContext, retrying on lock_timeout errors.
func (db *RDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		res, err := db.DB.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}

		pqErr := &pq.Error{}
		if errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return nil, err
			}
			continue
		}

		return nil, err
	}
}

// QueryContext wraps sql.DB.QueryContext, retrying on lock_timeout errors.
func (db *RDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		rows, err := db.DB.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}

		pqErr := &pq.Error{}
		if errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return nil, err
			}
			continue
		}

		return nil, err
	}
}

// QueryRowContext wraps sql.DB.QueryRowContext. Single-row queries aren't
// retried here since *sql.Row defers error inspection to Scan; callers
// needing retry semantics should use QueryContext directly.
func (db *RDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRowContext(ctx, query, args...)
}

// WithRetryableTransaction runs f in a transaction, retrying the whole
// transaction on lock_timeout errors.
func (db *RDB) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		tx, err := db.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		err = f(ctx, tx)
		if err == nil {
			return tx.Commit()
		}

		if errRollback := tx.Rollback(); errRollback != nil {
			return errRollback
		}

		pqErr := &pq.Error{}
		if errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return err
			}
			continue
		}

		return err
	}
}

func (db *RDB) Close() error {
	return db.DB.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ScanFirstValue scans the first column of the first row, assuming rows
// contains at most one row with one value.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}

// savepointName prefixes a migration version with "migration_" to form
// a SAVEPOINT name. The version is not sanitized; callers quote the
// result with pq.QuoteIdentifier.
func savepointName(version string) string {
	return fmt.Sprintf("migration_%s", version)
}

// Savepoint wraps tx.ExecContext calls for SAVEPOINT lifecycle management,
// used by the migration executor (one savepoint per migration) and the
// seed applier (one savepoint per seed file).
type Savepoint struct {
	tx   *sql.Tx
	name string
}

// NewSavepoint creates a SAVEPOINT named after version inside tx.
func NewSavepoint(ctx context.Context, tx *sql.Tx, version string) (*Savepoint, error) {
	name := savepointName(version)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SAVEPOINT %s", pq.QuoteIdentifier(name))); err != nil {
		return nil, fmt.Errorf("creating savepoint %s: %w", name, err)
	}
	return &Savepoint{tx: tx, name: name}, nil
}

// Release commits the savepoint's work into the enclosing transaction.
func (s *Savepoint) Release(ctx context.Context) error {
	_, err := s.tx.ExecContext(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", pq.QuoteIdentifier(s.name)))
	return err
}

// RollbackTo rolls the transaction back to the savepoint without aborting
// the enclosing transaction.
func (s *Savepoint) RollbackTo(ctx context.Context) error {
	_, err := s.tx.ExecContext(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", pq.QuoteIdentifier(s.name)))
	return err
}

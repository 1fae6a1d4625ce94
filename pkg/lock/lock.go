// SPDX-License-Identifier: Apache-2.0

// Package lock implements the distributed advisory lock that prevents
// concurrent migration runs against the same tracking table across
// processes or pods.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/lib/pq"

	"github.com/fraiseql/confiture/pkg/errs"
)

const advisoryLockErrorCode pq.ErrorCode = "55P03"

// Handle is a held advisory lock. Release must be called exactly once,
// on every exit path, to guarantee the lock is freed.
type Handle struct {
	conn    *sql.Conn
	key     int64
	noop    bool
	release func() error
}

// Release runs pg_advisory_unlock on the dedicated connection and then
// returns that connection to the pool (or is a no-op when the lock itself
// was a no-op). Returning a pooled connection does not end its session,
// so the explicit unlock is what frees the session-level advisory lock.
func (h *Handle) Release(ctx context.Context) error {
	if h.noop {
		return nil
	}
	if h.release != nil {
		return h.release()
	}
	return nil
}

// Locker acquires and releases the distributed lock. enabled=false yields
// a no-op handle on every Acquire call — documented by the caller as
// dangerous in multi-writer environments.
type Locker struct {
	DB        *sql.DB
	Enabled   bool
	TimeoutMs int
	// Key deterministically identifies the lock; callers derive it from
	// the tracking table's fully-qualified name via KeyFor.
	Key int64
}

// KeyFor derives a deterministic advisory lock key from the tracking
// table's fully-qualified name (e.g. "public.tb_confiture").
func KeyFor(trackingTableFQN string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("confiture:migration-lock:" + trackingTableFQN))
	return int64(h.Sum64())
}

// Acquire blocks (up to TimeoutMs, if >0) until the session-level advisory
// lock is obtained, returning a Handle whose Release must be deferred by
// the caller.
func (l *Locker) Acquire(ctx context.Context) (*Handle, error) {
	if !l.Enabled {
		return &Handle{noop: true}, nil
	}

	conn, err := l.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock connection: %w", err)
	}

	if l.TimeoutMs > 0 {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET lock_timeout = '%dms'", l.TimeoutMs)); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("setting lock_timeout: %w", err)
		}
	}

	_, err = conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.Key)
	if err != nil {
		_ = conn.Close()
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == advisoryLockErrorCode {
			return nil, errs.NewLockAcquisitionError(true, err)
		}
		return nil, errs.NewLockAcquisitionError(false, err)
	}

	key := l.Key
	return &Handle{
		conn: conn,
		key:  key,
		release: func() error {
			_, unlockErr := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key)
			closeErr := conn.Close()
			if unlockErr != nil {
				return unlockErr
			}
			return closeErr
		},
	}, nil
}

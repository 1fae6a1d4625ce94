// SPDX-License-Identifier: Apache-2.0

package lock_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fraiseql/confiture/pkg/errs"
	"github.com/fraiseql/confiture/pkg/lock"
)

const defaultPostgresVersion = "16-alpine"

func withContainerDB(t *testing.T, fn func(db *sql.DB)) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}
	ctx := context.Background()

	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(30 * time.Second)

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fn(db)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	withContainerDB(t, func(db *sql.DB) {
		l := &lock.Locker{DB: db, Enabled: true, Key: lock.KeyFor("public.tb_confiture")}
		ctx := context.Background()

		h, err := l.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, h.Release(ctx))
	})
}

func TestAcquireTimesOutWhenAlreadyHeld(t *testing.T) {
	withContainerDB(t, func(db *sql.DB) {
		ctx := context.Background()
		key := lock.KeyFor("public.tb_confiture")

		holder := &lock.Locker{DB: db, Enabled: true, Key: key}
		h1, err := holder.Acquire(ctx)
		require.NoError(t, err)
		defer h1.Release(ctx)

		contender := &lock.Locker{DB: db, Enabled: true, Key: key, TimeoutMs: 200}
		_, err = contender.Acquire(ctx)
		require.Error(t, err)

		var lockErr *errs.LockAcquisitionError
		require.ErrorAs(t, err, &lockErr)
		assert.True(t, lockErr.Timeout)
	})
}

// SPDX-License-Identifier: Apache-2.0

package dbx_test

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

	"github.com/fraiseql/confiture/pkg/dbx"
)

const defaultPostgresVersion = "16-alpine"

func withContainerDB(t *testing.T, fn func(rdb *dbx.RDB)) {
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

	sqlDB, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	fn(&dbx.RDB{DB: sqlDB})
}

func TestSavepointReleaseKeepsChanges(t *testing.T) {
	withContainerDB(t, func(rdb *dbx.RDB) {
		ctx := context.Background()

		err := rdb.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "CREATE TABLE widgets (id int)"); err != nil {
				return err
			}

			sp, err := dbx.NewSavepoint(ctx, tx, "001")
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO widgets VALUES (1)"); err != nil {
				return err
			}
			return sp.Release(ctx)
		})
		require.NoError(t, err)

		var count int64
		row := rdb.QueryRowContext(ctx, "SELECT count(*) FROM widgets")
		require.NoError(t, row.Scan(&count))
		assert.Equal(t, int64(1), count)
	})
}

func TestSavepointRollbackDiscardsChanges(t *testing.T) {
	withContainerDB(t, func(rdb *dbx.RDB) {
		ctx := context.Background()

		err := rdb.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "CREATE TABLE widgets (id int)"); err != nil {
				return err
			}

			sp, err := dbx.NewSavepoint(ctx, tx, "001")
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO widgets VALUES (1)"); err != nil {
				return err
			}
			if err := sp.RollbackTo(ctx); err != nil {
				return err
			}
			return sp.Release(ctx)
		})
		require.NoError(t, err)

		var count int64
		row := rdb.QueryRowContext(ctx, "SELECT count(*) FROM widgets")
		require.NoError(t, row.Scan(&count))
		assert.Equal(t, int64(0), count)
	})
}

func TestTableExists(t *testing.T) {
	withContainerDB(t, func(rdb *dbx.RDB) {
		ctx := context.Background()
		_, err := rdb.ExecContext(ctx, "CREATE TABLE present (id int)")
		require.NoError(t, err)

		exists, err := dbx.TableExists(ctx, rdb, "public", "present")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = dbx.TableExists(ctx, rdb, "public", "absent")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

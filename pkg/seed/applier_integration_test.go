// SPDX-License-Identifier: Apache-2.0

package seed_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fraiseql/confiture/pkg/seed"
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

func TestApplySequentialAppliesFilesInOrderAndCommits(t *testing.T) {
	withContainerDB(t, func(db *sql.DB) {
		ctx := context.Background()
		_, err := db.ExecContext(ctx, `CREATE TABLE widgets (id int, label text)`)
		require.NoError(t, err)

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "01_widgets.sql"),
			[]byte(`INSERT INTO widgets (id, label) VALUES (1, 'a');`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "02_more.sql"),
			[]byte(`INSERT INTO widgets (id, label) VALUES (2, 'b');`), 0o644))

		a := &seed.Applier{DB: db}
		result, err := a.ApplySequential(ctx, dir, false)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Succeeded)
		assert.Equal(t, 0, result.Failed)

		var count int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM widgets`).Scan(&count))
		assert.Equal(t, 2, count)
	})
}

func TestApplySequentialRollsBackOnlyTheFailingFile(t *testing.T) {
	withContainerDB(t, func(db *sql.DB) {
		ctx := context.Background()
		_, err := db.ExecContext(ctx, `CREATE TABLE widgets (id int PRIMARY KEY, label text)`)
		require.NoError(t, err)

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "01_ok.sql"),
			[]byte(`INSERT INTO widgets (id, label) VALUES (1, 'a');`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "02_bad.sql"),
			[]byte(`INSERT INTO nonexistent_table (id) VALUES (1);`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "03_ok.sql"),
			[]byte(`INSERT INTO widgets (id, label) VALUES (2, 'b');`), 0o644))

		a := &seed.Applier{DB: db}
		result, err := a.ApplySequential(ctx, dir, true)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Succeeded)
		assert.Equal(t, 1, result.Failed)
		require.Len(t, result.Failures, 1)
		assert.Contains(t, result.Failures[0].Path, "02_bad.sql")

		var count int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM widgets`).Scan(&count))
		assert.Equal(t, 2, count)
	})
}

func TestApplySeedsReturnsErrorOnFirstFailureWhenNotContinuing(t *testing.T) {
	withContainerDB(t, func(db *sql.DB) {
		ctx := context.Background()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "01_bad.sql"),
			[]byte(`INSERT INTO nonexistent_table (id) VALUES (1);`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "02_unreached.sql"),
			[]byte(`SELECT 1;`), 0o644))

		a := &seed.Applier{DB: db}
		err := a.ApplySeeds(ctx, dir)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "01_bad.sql")
	})
}

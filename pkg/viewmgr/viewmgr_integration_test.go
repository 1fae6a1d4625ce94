// SPDX-License-Identifier: Apache-2.0

package viewmgr_test

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

	"github.com/fraiseql/confiture/pkg/viewmgr"
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

	sqlDB, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	fn(sqlDB)
}

func TestSaveAndDropThenRecreateRoundTripsRegularView(t *testing.T) {
	withContainerDB(t, func(db *sql.DB) {
		ctx := context.Background()
		_, err := db.ExecContext(ctx, `
			CREATE TABLE widgets (id int PRIMARY KEY, sku text NOT NULL);
			CREATE VIEW widget_skus AS SELECT id, sku FROM widgets;
			COMMENT ON VIEW widget_skus IS 'catalog of widget skus';
		`)
		require.NoError(t, err)

		mgr := &viewmgr.Manager{DB: db}

		dropped, err := mgr.SaveAndDropDependentViews(ctx, []string{"public"})
		require.NoError(t, err)
		assert.Equal(t, 1, dropped)

		var exists bool
		require.NoError(t, db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_views WHERE viewname = 'widget_skus')`).Scan(&exists))
		assert.False(t, exists)

		_, err = db.ExecContext(ctx, `ALTER TABLE widgets ALTER COLUMN sku TYPE varchar(64)`)
		require.NoError(t, err)

		recreated, err := mgr.RecreateSavedViews(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, recreated)

		require.NoError(t, db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_views WHERE viewname = 'widget_skus')`).Scan(&exists))
		assert.True(t, exists)

		var comment sql.NullString
		require.NoError(t, db.QueryRowContext(ctx, `
			SELECT obj_description(c.oid) FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = 'public' AND c.relname = 'widget_skus'
		`).Scan(&comment))
		assert.Equal(t, "catalog of widget skus", comment.String)
	})
}

func TestSaveAndDropHandlesTransitiveViewOnView(t *testing.T) {
	withContainerDB(t, func(db *sql.DB) {
		ctx := context.Background()
		_, err := db.ExecContext(ctx, `
			CREATE TABLE widgets (id int PRIMARY KEY, sku text);
			CREATE VIEW widget_skus AS SELECT id, sku FROM widgets;
			CREATE VIEW widget_sku_upper AS SELECT id, upper(sku) AS sku FROM widget_skus;
		`)
		require.NoError(t, err)

		mgr := &viewmgr.Manager{DB: db}
		views, err := mgr.DiscoverDependentViews(ctx, []string{"public"})
		require.NoError(t, err)
		require.Len(t, views, 2)

		assert.Equal(t, "widget_sku_upper", views[0].Name)
		assert.Equal(t, "widget_skus", views[1].Name)

		dropped, err := mgr.SaveAndDropDependentViews(ctx, []string{"public"})
		require.NoError(t, err)
		assert.Equal(t, 2, dropped)

		recreated, err := mgr.RecreateSavedViews(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, recreated)

		var exists bool
		require.NoError(t, db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_views WHERE viewname = 'widget_sku_upper')`).Scan(&exists))
		assert.True(t, exists)
	})
}

func TestSaveAndDropRecreatesMaterializedViewWithIndexes(t *testing.T) {
	withContainerDB(t, func(db *sql.DB) {
		ctx := context.Background()
		_, err := db.ExecContext(ctx, `
			CREATE TABLE widgets (id int PRIMARY KEY, sku text);
			INSERT INTO widgets VALUES (1, 'abc');
			CREATE MATERIALIZED VIEW widget_sku_mv AS SELECT id, sku FROM widgets;
			CREATE UNIQUE INDEX idx_widget_sku_mv_id ON widget_sku_mv (id);
		`)
		require.NoError(t, err)

		mgr := &viewmgr.Manager{DB: db}
		dropped, err := mgr.SaveAndDropDependentViews(ctx, []string{"public"})
		require.NoError(t, err)
		assert.Equal(t, 1, dropped)

		recreated, err := mgr.RecreateSavedViews(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, recreated)

		var indexCount int
		require.NoError(t, db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM pg_indexes WHERE tablename = 'widget_sku_mv' AND indexname = 'idx_widget_sku_mv_id'
		`).Scan(&indexCount))
		assert.Equal(t, 1, indexCount)

		var rowCount int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM widget_sku_mv`).Scan(&rowCount))
		assert.Equal(t, 1, rowCount)
	})
}

func TestNoOpWhenNoDependentViewsExist(t *testing.T) {
	withContainerDB(t, func(db *sql.DB) {
		ctx := context.Background()
		_, err := db.ExecContext(ctx, `CREATE TABLE standalone (id int PRIMARY KEY)`)
		require.NoError(t, err)

		mgr := &viewmgr.Manager{DB: db}
		dropped, err := mgr.SaveAndDropDependentViews(ctx, []string{"public"})
		require.NoError(t, err)
		assert.Equal(t, 0, dropped)

		recreated, err := mgr.RecreateSavedViews(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, recreated)
	})
}

func TestInstallHelpersIsIdempotentAndDetectable(t *testing.T) {
	withContainerDB(t, func(db *sql.DB) {
		ctx := context.Background()
		mgr := &viewmgr.Manager{DB: db}

		installed, err := mgr.HelpersInstalled(ctx)
		require.NoError(t, err)
		assert.False(t, installed)

		require.NoError(t, mgr.InstallHelpers(ctx))
		require.NoError(t, mgr.InstallHelpers(ctx))

		installed, err = mgr.HelpersInstalled(ctx)
		require.NoError(t, err)
		assert.True(t, installed)
	})
}

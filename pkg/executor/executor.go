// SPDX-License-Identifier: Apache-2.0

// Package executor applies and rolls back migrations against the
// confiture tracking table, respecting hook phases, savepoints, and the
// checksum/strict-mode policies an environment configures.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/fraiseql/confiture/internal/logging"
	"github.com/fraiseql/confiture/pkg/checksum"
	"github.com/fraiseql/confiture/pkg/dbx"
	"github.com/fraiseql/confiture/pkg/errs"
	"github.com/fraiseql/confiture/pkg/migrations"
)

// Executor owns the tracking table lifecycle and the apply/rollback
// algorithms. One Executor is built per environment; DB is the raw
// connection pool (needed for direct transaction control around
// savepoints, which the retrying dbx.RDB wrapper does not expose).
type Executor struct {
	DB             *sql.DB
	TrackingTable  string // schema-qualified, e.g. "public.tb_confiture"
	StrictMode     bool
	ChecksumPolicy checksum.Policy
	Logger         logging.Logger
}

func (e *Executor) logger() logging.Logger {
	if e.Logger == nil {
		return logging.NoopLogger
	}
	return e.Logger
}

func (e *Executor) rdb() *dbx.RDB { return &dbx.RDB{DB: e.DB} }

func (e *Executor) trackingTableSQL() string {
	schema, table := dbx.SplitSchemaQualified(e.TrackingTable)
	return dbx.QuoteQualified(schema, table)
}

// Initialize creates the tracking table with the modern identity trinity
// (id/pk_migration/slug), or upgrades an existing legacy table in place.
// Idempotent: safe to call on every executor startup.
func (e *Executor) Initialize(ctx context.Context) error {
	schema, table := dbx.SplitSchemaQualified(e.TrackingTable)
	qualified := e.trackingTableSQL()

	if _, err := e.rdb().ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return errs.NewTrackingTableError("enabling uuid-ossp extension", err)
	}

	exists, err := dbx.TableExists(ctx, e.rdb(), schema, table)
	if err != nil {
		return errs.NewTrackingTableError("checking whether tracking table exists", err)
	}

	if !exists {
		return e.createTrackingTable(ctx, qualified, schema, table)
	}

	hasTrinity, err := dbx.ColumnExists(ctx, e.rdb(), schema, table, "pk_migration")
	if err != nil {
		return errs.NewTrackingTableError("checking tracking table schema version", err)
	}
	if hasTrinity {
		return nil
	}
	return e.upgradeLegacyTable(ctx, qualified, schema, table)
}

func (e *Executor) createTrackingTable(ctx context.Context, qualified, schema, table string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			pk_migration UUID NOT NULL DEFAULT uuid_generate_v4() UNIQUE,
			slug TEXT NOT NULL UNIQUE,
			version VARCHAR(255) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			execution_time_ms INTEGER,
			checksum VARCHAR(64)
		)`, qualified),
		fmt.Sprintf(`CREATE INDEX idx_%s_pk_migration ON %s(pk_migration)`, table, qualified),
		fmt.Sprintf(`CREATE INDEX idx_%s_slug ON %s(slug)`, table, qualified),
		fmt.Sprintf(`CREATE INDEX idx_%s_version ON %s(version)`, table, qualified),
		fmt.Sprintf(`CREATE INDEX idx_%s_applied_at ON %s(applied_at DESC)`, table, qualified),
	}
	for _, stmt := range stmts {
		if _, err := e.rdb().ExecContext(ctx, stmt); err != nil {
			return errs.NewTrackingTableError("creating tracking table", err)
		}
	}
	e.logger().Info("created tracking table", "table", qualified)
	return nil
}

func (e *Executor) upgradeLegacyTable(ctx context.Context, qualified, schema, table string) error {
	stmts := []string{
		fmt.Sprintf(`ALTER TABLE %s
			ADD COLUMN pk_migration UUID DEFAULT uuid_generate_v4() UNIQUE,
			ADD COLUMN slug TEXT,
			ALTER COLUMN id SET DATA TYPE BIGINT,
			ALTER COLUMN applied_at SET DATA TYPE TIMESTAMPTZ`, qualified),
		fmt.Sprintf(`UPDATE %s
			SET slug = name || '_' || to_char(applied_at, 'YYYYMMDD_HH24MISS')
			WHERE slug IS NULL`, qualified),
		fmt.Sprintf(`ALTER TABLE %s
			ALTER COLUMN slug SET NOT NULL,
			ADD CONSTRAINT %s_slug_unique UNIQUE (slug)`, qualified, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_pk_migration ON %s(pk_migration)`, table, qualified),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_slug ON %s(slug)`, table, qualified),
	}
	for _, stmt := range stmts {
		if _, err := e.rdb().ExecContext(ctx, stmt); err != nil {
			return errs.NewTrackingTableError("upgrading legacy tracking table", err)
		}
	}
	e.logger().Info("upgraded legacy tracking table", "table", qualified, "schema", schema)
	return nil
}

// isApplied reports whether version already has a tracking row.
func (e *Executor) isApplied(ctx context.Context, version string) (bool, error) {
	var count int
	row := e.rdb().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s WHERE version = $1`, e.trackingTableSQL()), version)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetAppliedVersions returns every applied migration version, ordered by
// applied_at ascending.
func (e *Executor) GetAppliedVersions(ctx context.Context) ([]string, error) {
	rows, err := e.rdb().QueryContext(ctx,
		fmt.Sprintf(`SELECT version FROM %s ORDER BY applied_at ASC`, e.trackingTableSQL()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Apply runs migration's forward direction, recording it in the tracking
// table. force re-applies even if already recorded, without inserting a
// second tracking row.
func (e *Executor) Apply(ctx context.Context, migration migrations.Migration, force bool) error {
	alreadyApplied, err := e.isApplied(ctx, migration.Version)
	if err != nil {
		return errs.NewMigrationError("MIGR_100", migration.Version, migration.Name, err)
	}
	if alreadyApplied && !force {
		return errs.NewMigrationError("MIGR_101", migration.Version, migration.Name, nil)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewMigrationError("MIGR_102", migration.Version, migration.Name, err)
	}

	sp, err := dbx.NewSavepoint(ctx, tx, migration.Version)
	if err != nil {
		_ = tx.Rollback()
		return errs.NewMigrationError("MIGR_102", migration.Version, migration.Name, err)
	}

	execErr := e.runApply(ctx, tx, migration, alreadyApplied)
	if execErr != nil {
		if err := sp.RollbackTo(ctx); err != nil {
			_ = tx.Rollback()
		} else if err := tx.Commit(); err != nil {
			_ = tx.Rollback()
		}

		e.runOnError(ctx, migration, "forward", execErr)

		if _, ok := execErr.(*errs.MigrationError); ok {
			return execErr
		}
		return errs.NewMigrationError("MIGR_102", migration.Version, migration.Name, execErr)
	}

	if err := sp.Release(ctx); err != nil {
		_ = tx.Rollback()
		return errs.NewMigrationError("MIGR_102", migration.Version, migration.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return errs.NewMigrationError("MIGR_102", migration.Version, migration.Name, err)
	}

	e.logger().Info("applied migration", "version", migration.Version, "name", migration.Name)
	return nil
}

// runApply executes the BEFORE_VALIDATION -> BEFORE_DDL -> DDL ->
// AFTER_DDL -> AFTER_VALIDATION -> CLEANUP phase sequence and, for a new
// (not already applied) migration, records the tracking row.
func (e *Executor) runApply(ctx context.Context, tx *sql.Tx, migration migrations.Migration, alreadyApplied bool) error {
	hooks := migration.Hooks()

	if err := runPhase(ctx, tx, hooks, migrations.PhaseBeforeValidation); err != nil {
		return err
	}
	if err := runPhase(ctx, tx, hooks, migrations.PhaseBeforeDDL); err != nil {
		return err
	}

	start := time.Now()
	if err := e.runUp(ctx, tx, migration); err != nil {
		return err
	}
	elapsedMs := int(time.Since(start).Milliseconds())

	if err := runPhase(ctx, tx, hooks, migrations.PhaseAfterDDL); err != nil {
		return err
	}
	if err := runPhase(ctx, tx, hooks, migrations.PhaseAfterValidation); err != nil {
		return err
	}
	if err := runPhase(ctx, tx, hooks, migrations.PhaseCleanup); err != nil {
		return err
	}

	if !alreadyApplied {
		if err := e.recordMigration(ctx, tx, migration, elapsedMs, ""); err != nil {
			return err
		}
	}
	return nil
}

// runUp executes migration's forward change: for a SQLPairSource, the raw
// contents of UpPath; for a ProcedureSource, the registered Go callable.
func (e *Executor) runUp(ctx context.Context, tx *sql.Tx, migration migrations.Migration) error {
	switch src := migration.Source.(type) {
	case migrations.SQLPairSource:
		return execSQLFile(ctx, tx, src.UpPath)
	case migrations.ProcedureSource:
		if src.Up == nil {
			return fmt.Errorf("migration %s (%s) has no Up procedure", migration.Version, migration.Name)
		}
		return src.Up(ctx, tx)
	default:
		return fmt.Errorf("migration %s (%s) has unrecognised source %T", migration.Version, migration.Name, migration.Source)
	}
}

func (e *Executor) runDown(ctx context.Context, tx *sql.Tx, migration migrations.Migration) error {
	switch src := migration.Source.(type) {
	case migrations.SQLPairSource:
		if src.DownPath == "" {
			return fmt.Errorf("migration %s (%s) has no rollback file", migration.Version, migration.Name)
		}
		return execSQLFile(ctx, tx, src.DownPath)
	case migrations.ProcedureSource:
		if src.Down == nil {
			return fmt.Errorf("migration %s (%s) has no Down procedure", migration.Version, migration.Name)
		}
		return src.Down(ctx, tx)
	default:
		return fmt.Errorf("migration %s (%s) has unrecognised source %T", migration.Version, migration.Name, migration.Source)
	}
}

func runPhase(ctx context.Context, tx *sql.Tx, hooks []migrations.Hook, phase migrations.Phase) error {
	for _, h := range hooks {
		if h.Phase != phase {
			continue
		}
		if err := h.Run(ctx, tx); err != nil {
			return fmt.Errorf("hook phase %s failed: %w", phase, err)
		}
	}
	return nil
}

// runOnError executes ON_ERROR hooks after a failed apply/rollback.
// Hook failures here are logged but never mask the original error, per
// spec.
func (e *Executor) runOnError(ctx context.Context, migration migrations.Migration, direction string, cause error) {
	hooks := migration.Hooks()
	if len(hooks) == 0 {
		return
	}
	onErrTx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.logger().Error("could not open ON_ERROR transaction", "version", migration.Version, "error", err)
		return
	}
	if err := runPhase(ctx, onErrTx, hooks, migrations.PhaseOnError); err != nil {
		e.logger().Error("ON_ERROR hook failed", "version", migration.Version, "direction", direction,
			"original_error", cause, "hook_error", err)
		_ = onErrTx.Rollback()
		return
	}
	_ = onErrTx.Commit()
}

func (e *Executor) recordMigration(ctx context.Context, tx *sql.Tx, migration migrations.Migration, elapsedMs int, reasonSuffix string) error {
	slug := slugFor(migration.Name, reasonSuffix)
	sum, err := checksumFor(migration)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (slug, version, name, execution_time_ms, checksum)
		VALUES ($1, $2, $3, $4, $5)`, e.trackingTableSQL()),
		slug, migration.Version, migration.Name, nullableInt(elapsedMs), sum)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return fmt.Errorf("recording migration %s: %s: %w", migration.Version, pqErr.Message, err)
		}
		return fmt.Errorf("recording migration %s: %w", migration.Version, err)
	}
	return nil
}

// nullableInt stores elapsed-ms as SQL NULL when zero, distinguishing
// "not timed" (mark_applied, baseline, reinit) from "timed at 0ms".
func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func slugFor(name, reasonSuffix string) string {
	ts := time.Now().Format("20060102_150405")
	if reasonSuffix == "" {
		return fmt.Sprintf("%s_%s", name, ts)
	}
	return fmt.Sprintf("%s_%s_%s", name, ts, reasonSuffix)
}

func checksumFor(migration migrations.Migration) (string, error) {
	if src, ok := migration.Source.(migrations.SQLPairSource); ok {
		sum, err := checksum.Compute(src.UpPath)
		if err != nil {
			return "", fmt.Errorf("computing checksum for %s: %w", src.UpPath, err)
		}
		return sum, nil
	}
	return "", nil
}

// Rollback reverses migration and deletes its tracking row. Fails if the
// migration was never applied.
func (e *Executor) Rollback(ctx context.Context, migration migrations.Migration) error {
	applied, err := e.isApplied(ctx, migration.Version)
	if err != nil {
		return errs.NewMigrationError("MIGR_103", migration.Version, migration.Name, err)
	}
	if !applied {
		return errs.NewMigrationError("MIGR_103", migration.Version, migration.Name, nil)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewMigrationError("MIGR_103", migration.Version, migration.Name, err)
	}

	hooks := migration.Hooks()
	execErr := func() error {
		if err := runPhase(ctx, tx, hooks, migrations.PhaseBeforeDDL); err != nil {
			return err
		}
		if err := e.runDown(ctx, tx, migration); err != nil {
			return err
		}
		if err := runPhase(ctx, tx, hooks, migrations.PhaseCleanup); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE version = $1`, e.trackingTableSQL()), migration.Version)
		return err
	}()

	if execErr != nil {
		_ = tx.Rollback()
		e.runOnError(ctx, migration, "backward", execErr)
		return errs.NewMigrationError("MIGR_103", migration.Version, migration.Name, execErr)
	}

	if err := tx.Commit(); err != nil {
		return errs.NewMigrationError("MIGR_103", migration.Version, migration.Name, err)
	}

	e.logger().Info("rolled back migration", "version", migration.Version, "name", migration.Name)
	return nil
}

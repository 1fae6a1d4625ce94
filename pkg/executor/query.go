// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"
	"sort"

	"github.com/fraiseql/confiture/pkg/checksum"
	"github.com/fraiseql/confiture/pkg/errs"
	"github.com/fraiseql/confiture/pkg/migrations"
)

// FindMigrationFiles loads every migration (SQL-pair and registered
// procedure) from dir, sorted by version.
func (e *Executor) FindMigrationFiles(dir string) (migrations.LoadResult, error) {
	return migrations.Load(dir)
}

// FindPending returns migrations present in dir but not yet recorded in
// the tracking table.
func (e *Executor) FindPending(ctx context.Context, dir string) ([]migrations.Migration, error) {
	result, err := migrations.Load(dir)
	if err != nil {
		return nil, err
	}
	applied, err := e.GetAppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	appliedSet := make(map[string]bool, len(applied))
	for _, v := range applied {
		appliedSet[v] = true
	}

	var pending []migrations.Migration
	for _, m := range result.Migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// ChecksumRecords joins the stored checksum of every applied migration
// recorded in the tracking table with its on-disk file path, for
// `verify`/`verify --fix` to pass to pkg/checksum. Migrations recorded
// without a checksum (mark_applied, baseline, reinit rows) or with no
// matching file on disk are skipped.
func (e *Executor) ChecksumRecords(ctx context.Context, dir string) ([]checksum.Record, error) {
	result, err := migrations.Load(dir)
	if err != nil {
		return nil, err
	}
	pathByVersion := make(map[string]string, len(result.Migrations))
	for _, m := range result.Migrations {
		if src, ok := m.Source.(migrations.SQLPairSource); ok {
			pathByVersion[m.Version] = src.UpPath
		}
	}

	rows, err := e.rdb().QueryContext(ctx, fmt.Sprintf(
		`SELECT version, name, checksum FROM %s WHERE checksum IS NOT NULL ORDER BY version ASC`,
		e.trackingTableSQL()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []checksum.Record
	for rows.Next() {
		var version, name, sum string
		if err := rows.Scan(&version, &name, &sum); err != nil {
			return nil, err
		}
		path, ok := pathByVersion[version]
		if !ok {
			continue
		}
		records = append(records, checksum.Record{Version: version, Name: name, FilePath: path, Stored: sum})
	}
	return records, rows.Err()
}

// UpdateChecksums persists the recomputed checksums produced by
// checksum.Fix, overwriting the stored value for each version.
func (e *Executor) UpdateChecksums(ctx context.Context, updated map[string]string) error {
	for version, sum := range updated {
		_, err := e.rdb().ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET checksum = $1 WHERE version = $2`, e.trackingTableSQL()),
			sum, version)
		if err != nil {
			return fmt.Errorf("updating checksum for %s: %w", version, err)
		}
	}
	return nil
}

// CheckDuplicates enforces spec.md's "duplicate scan runs before any
// write-side command" rule: any version declared by more than one source
// is a hard error (exit code 3), itemising every conflicting file.
func CheckDuplicates(result migrations.LoadResult) error {
	for version, files := range result.DuplicateVersions {
		if len(files) > 1 {
			return errs.NewMigrationConflictError(version, files)
		}
	}
	return nil
}

// MarkApplied inserts a tracking row for migration without executing its
// DDL. reason becomes the slug suffix ("baseline" or "reinit"), the only
// durable record of how the row entered the table.
func (e *Executor) MarkApplied(ctx context.Context, migration migrations.Migration, reason string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := e.recordMigration(ctx, tx, migration, 0, reason); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MigrateUpOptions configures a migrate-up run.
type MigrateUpOptions struct {
	Dir    string
	Target string // empty applies every pending migration
	Force  bool
}

// MigrateUp applies pending migrations (or, under Force, every migration
// regardless of recorded state) up to and including Target, returning the
// versions actually applied. Callers are responsible for acquiring the
// distributed lock and running the pre-write duplicate-version scan
// before calling MigrateUp, per spec.md's "no partial work is performed
// on a duplicate-version conflict" guarantee.
func (e *Executor) MigrateUp(ctx context.Context, opts MigrateUpOptions) ([]string, error) {
	result, err := migrations.Load(opts.Dir)
	if err != nil {
		return nil, err
	}
	if e.StrictMode && len(result.Orphans) > 0 {
		return nil, errs.New("MIGR_102", nil, map[string]any{"file": result.Orphans[0]})
	}

	policy := e.ChecksumPolicy
	if policy == "" {
		policy = checksum.PolicyFail
	}
	if policy != checksum.PolicyIgnore {
		records, err := e.ChecksumRecords(ctx, opts.Dir)
		if err != nil {
			return nil, err
		}
		if err := checksum.Verify(records, policy, e.logger()); err != nil {
			return nil, err
		}
	}

	var toApply []migrations.Migration
	if opts.Force {
		toApply = result.Migrations
	} else {
		toApply, err = e.FindPending(ctx, opts.Dir)
		if err != nil {
			return nil, err
		}
	}

	var applied []string
	for _, m := range toApply {
		if opts.Target != "" && migrations.CompareVersions(m.Version, opts.Target) > 0 {
			break
		}
		if err := e.Apply(ctx, m, opts.Force); err != nil {
			return applied, err
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

// MigrateDownOptions configures a migrate-down run.
type MigrateDownOptions struct {
	Dir   string
	Steps int // number of applied migrations to roll back, most recent first
}

// MigrateDown rolls back the Steps most recently applied migrations, in
// reverse version order, stopping early (and returning an error) on the
// first rollback that fails. Returns the versions actually rolled back.
func (e *Executor) MigrateDown(ctx context.Context, opts MigrateDownOptions) ([]string, error) {
	if opts.Steps <= 0 {
		return nil, nil
	}

	applied, err := e.GetAppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(applied, func(i, j int) bool {
		return migrations.CompareVersions(applied[i], applied[j]) > 0
	})
	if len(applied) > opts.Steps {
		applied = applied[:opts.Steps]
	}

	result, err := migrations.Load(opts.Dir)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]migrations.Migration, len(result.Migrations))
	for _, m := range result.Migrations {
		byVersion[m.Version] = m
	}

	var rolledBack []string
	for _, version := range applied {
		m, ok := byVersion[version]
		if !ok {
			return rolledBack, errs.New("MIGR_100", nil, map[string]any{"version": version})
		}
		if err := e.Rollback(ctx, m); err != nil {
			return rolledBack, err
		}
		rolledBack = append(rolledBack, version)
	}
	return rolledBack, nil
}

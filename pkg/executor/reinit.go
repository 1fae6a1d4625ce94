// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"

	"github.com/fraiseql/confiture/pkg/migrations"
)

// ReinitResult reports what Reinit did (or would do, under DryRun).
type ReinitResult struct {
	DeletedCount     int
	MigrationsMarked []string
}

// Reinit clears the tracking table and re-marks every migration with
// version <= through (or every migration, if through is empty) as
// applied, with slugs ending "_reinit". Runs atomically in a single
// transaction unless dryRun is set, in which case nothing is written and
// the result describes what would happen.
func (e *Executor) Reinit(ctx context.Context, through string, dryRun bool, dir string) (ReinitResult, error) {
	result, err := migrations.Load(dir)
	if err != nil {
		return ReinitResult{}, err
	}
	if err := CheckDuplicates(result); err != nil {
		return ReinitResult{}, err
	}

	var toMark []migrations.Migration
	for _, m := range result.Migrations {
		if through != "" && migrations.CompareVersions(m.Version, through) > 0 {
			continue
		}
		toMark = append(toMark, m)
	}

	existing, err := e.GetAppliedVersions(ctx)
	if err != nil {
		return ReinitResult{}, err
	}

	marked := make([]string, 0, len(toMark))
	for _, m := range toMark {
		marked = append(marked, m.Version)
	}

	if dryRun {
		return ReinitResult{DeletedCount: len(existing), MigrationsMarked: marked}, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReinitResult{}, err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, e.trackingTableSQL())); err != nil {
		_ = tx.Rollback()
		return ReinitResult{}, fmt.Errorf("clearing tracking table: %w", err)
	}

	for _, m := range toMark {
		if err := e.recordMigration(ctx, tx, m, 0, "reinit"); err != nil {
			_ = tx.Rollback()
			return ReinitResult{}, fmt.Errorf("marking %s as reinit: %w", m.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ReinitResult{}, err
	}

	e.logger().Info("reinitialised tracking table", "marked", len(marked), "deleted", len(existing))
	return ReinitResult{DeletedCount: len(existing), MigrationsMarked: marked}, nil
}

// BaselineResult reports what Baseline did (or would do, under DryRun).
type BaselineResult struct {
	MigrationsMarked []string
}

// Baseline marks every migration with version <= through that is not
// already applied, with slugs ending "_baseline". Unlike Reinit, the
// existing tracking table contents are left untouched.
func (e *Executor) Baseline(ctx context.Context, through string, dryRun bool, dir string) (BaselineResult, error) {
	result, err := migrations.Load(dir)
	if err != nil {
		return BaselineResult{}, err
	}
	if err := CheckDuplicates(result); err != nil {
		return BaselineResult{}, err
	}

	applied, err := e.GetAppliedVersions(ctx)
	if err != nil {
		return BaselineResult{}, err
	}
	appliedSet := make(map[string]bool, len(applied))
	for _, v := range applied {
		appliedSet[v] = true
	}

	var toMark []migrations.Migration
	for _, m := range result.Migrations {
		if migrations.CompareVersions(m.Version, through) > 0 {
			continue
		}
		if appliedSet[m.Version] {
			continue
		}
		toMark = append(toMark, m)
	}

	marked := make([]string, 0, len(toMark))
	for _, m := range toMark {
		marked = append(marked, m.Version)
	}

	if dryRun {
		return BaselineResult{MigrationsMarked: marked}, nil
	}

	for _, m := range toMark {
		if err := e.MarkApplied(ctx, m, "baseline"); err != nil {
			return BaselineResult{MigrationsMarked: marked}, fmt.Errorf("marking %s as baseline: %w", m.Version, err)
		}
	}

	e.logger().Info("baselined migrations", "marked", len(marked))
	return BaselineResult{MigrationsMarked: marked}, nil
}

// SPDX-License-Identifier: Apache-2.0

// Package seed applies seed SQL files to a database and converts
// literal-row INSERT statements to the faster COPY wire format.
package seed

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fraiseql/confiture/internal/logging"
	"github.com/fraiseql/confiture/pkg/dbx"
)

// Failure records one seed file's execution error.
type Failure struct {
	Path string
	Err  error
}

// Result reports the outcome of an ApplySequential run.
type Result struct {
	Succeeded int
	Failed    int
	Failures  []Failure
}

// Applier applies seed SQL files sequentially, one savepoint per file,
// inside a single outer transaction — concatenating every seed file into
// one statement trips the server's parser stack on large fixture sets,
// so each file gets its own small parse tree while still rolling back
// atomically with its neighbours on a fatal early exit.
type Applier struct {
	DB     *sql.DB
	Logger logging.Logger
}

func (a *Applier) logger() logging.Logger {
	if a.Logger == nil {
		return logging.NoopLogger
	}
	return a.Logger
}

// ApplySeeds satisfies executor.SeedApplier: runs ApplySequential with
// continueOnError=false and turns any file failure into a returned error.
func (a *Applier) ApplySeeds(ctx context.Context, seedsDir string) error {
	result, err := a.ApplySequential(ctx, seedsDir, false)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		first := result.Failures[0]
		return fmt.Errorf("seed apply: %d of %d file(s) failed, first failure in %s: %w",
			result.Failed, result.Succeeded+result.Failed, first.Path, first.Err)
	}
	return nil
}

// FindSeedFiles walks seedsDir and returns every .sql file in
// dependency-safe order: full path compared lexically, so numbered
// directories and filenames (01_tables/, 02_data/...) apply in the order
// their authors intended.
func FindSeedFiles(seedsDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(seedsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".sql") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ApplySequential executes every seed file under seedsDir in order, each
// wrapped in its own SAVEPOINT. A failing file rolls back to its
// savepoint only; the outer transaction always commits at the end, so
// every file that succeeded is preserved regardless of later failures.
// continueOnError controls whether a failure stops the run or is
// recorded and skipped.
func (a *Applier) ApplySequential(ctx context.Context, seedsDir string, continueOnError bool) (Result, error) {
	files, err := FindSeedFiles(seedsDir)
	if err != nil {
		return Result{}, err
	}

	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("starting seed apply transaction: %w", err)
	}

	var result Result
	for _, path := range files {
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			result.Failed++
			result.Failures = append(result.Failures, Failure{Path: path, Err: readErr})
			if !continueOnError {
				break
			}
			continue
		}

		sp, spErr := dbx.NewSavepoint(ctx, tx, savepointLabel(path))
		if spErr != nil {
			_ = tx.Rollback()
			return result, spErr
		}

		if _, execErr := tx.ExecContext(ctx, string(content)); execErr != nil {
			if rbErr := sp.RollbackTo(ctx); rbErr != nil {
				_ = tx.Rollback()
				return result, fmt.Errorf("rolling back savepoint for %s: %w", path, rbErr)
			}
			a.logger().Warn("seed file failed, rolled back to savepoint", "file", path, "error", execErr)
			result.Failed++
			result.Failures = append(result.Failures, Failure{Path: path, Err: execErr})
			if !continueOnError {
				break
			}
			continue
		}

		if relErr := sp.Release(ctx); relErr != nil {
			_ = tx.Rollback()
			return result, relErr
		}
		result.Succeeded++
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("committing seed apply transaction: %w", err)
	}
	return result, nil
}

// savepointLabel derives a valid SQL identifier from a seed file's
// basename for use as its savepoint name.
func savepointLabel(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".sql")
	var sb strings.Builder
	for _, r := range base {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

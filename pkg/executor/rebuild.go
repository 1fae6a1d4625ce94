// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/fraiseql/confiture/internal/config"
	"github.com/fraiseql/confiture/pkg/builder"
	"github.com/fraiseql/confiture/pkg/dbx"
	"github.com/fraiseql/confiture/pkg/migrations"
)

// excludedSchemaPrefixes lists the schema-name prefixes rebuild never
// drops, regardless of drop_schemas.
var excludedSchemaPrefixes = []string{"pg_", "information_schema", "pg_temp", "pg_toast"}

// SeedApplier lets Rebuild optionally apply seed files after the schema
// is recreated, without pkg/executor importing pkg/seed directly.
type SeedApplier interface {
	ApplySeeds(ctx context.Context, seedsDir string) error
}

// RebuildOptions configures a schema rebuild.
type RebuildOptions struct {
	DropSchemas    bool
	ApplySeeds     bool
	BackupTracking bool
	DryRun         bool
	SchemaDir      string
	MigrationsDir  string
	SeedsDir       string
	Seeds          SeedApplier
}

// RebuildResult reports what Rebuild did.
type RebuildResult struct {
	DroppedSchemas   []string
	MigrationsMarked []string
	SeedsApplied     bool
	BackupTable      string
}

// Rebuild is the nuclear option: drop every user schema, re-apply the
// concatenated DDL from scratch, re-initialise the tracking table, and
// re-mark every migration file on disk as applied. Transactional only
// where PostgreSQL permits — schema drops and DDL application run
// autocommit-style (one statement at a time against the raw connection
// pool), matching spec.md's "Rebuild safety" note.
func (e *Executor) Rebuild(ctx context.Context, opts RebuildOptions) (RebuildResult, error) {
	result, err := migrations.Load(opts.MigrationsDir)
	if err != nil {
		return RebuildResult{}, err
	}
	if err := CheckDuplicates(result); err != nil {
		return RebuildResult{}, err
	}

	marked := make([]string, 0, len(result.Migrations))
	for _, m := range result.Migrations {
		marked = append(marked, m.Version)
	}

	if opts.DryRun {
		return RebuildResult{MigrationsMarked: marked}, nil
	}

	var backupTable string
	if opts.BackupTracking {
		backupTable, err = e.backupTrackingTable(ctx)
		if err != nil {
			return RebuildResult{}, err
		}
	}

	var dropped []string
	if opts.DropSchemas {
		dropped, err = e.dropUserSchemas(ctx)
		if err != nil {
			return RebuildResult{BackupTable: backupTable}, err
		}
	}

	b := &builder.Builder{
		SortMode:  "alphabetical",
		Separator: config.Separator{Style: "block_comment"},
		Declarations: []builder.Declaration{{
			Directory: config.Directory{
				Path:         opts.SchemaDir,
				Recursive:    true,
				Include:      []string{"**/*.sql"},
				AutoDiscover: true,
			},
		}},
	}
	ddl, err := b.Build(builder.BuildOptions{SchemaOnly: true})
	if err != nil {
		return RebuildResult{DroppedSchemas: dropped, BackupTable: backupTable}, err
	}

	if err := e.applyDDLString(ctx, ddl); err != nil {
		return RebuildResult{DroppedSchemas: dropped, BackupTable: backupTable}, err
	}

	if err := e.Initialize(ctx); err != nil {
		return RebuildResult{DroppedSchemas: dropped, BackupTable: backupTable}, err
	}

	for _, m := range result.Migrations {
		if err := e.MarkApplied(ctx, m, "reinit"); err != nil {
			return RebuildResult{DroppedSchemas: dropped, MigrationsMarked: marked, BackupTable: backupTable},
				fmt.Errorf("marking %s after rebuild: %w", m.Version, err)
		}
	}

	seedsApplied := false
	if opts.ApplySeeds && opts.Seeds != nil {
		if err := opts.Seeds.ApplySeeds(ctx, opts.SeedsDir); err != nil {
			return RebuildResult{DroppedSchemas: dropped, MigrationsMarked: marked, BackupTable: backupTable},
				fmt.Errorf("applying seeds after rebuild: %w", err)
		}
		seedsApplied = true
	}

	e.logger().Info("rebuilt schema", "dropped_schemas", len(dropped), "migrations_marked", len(marked))
	return RebuildResult{
		DroppedSchemas:   dropped,
		MigrationsMarked: marked,
		SeedsApplied:     seedsApplied,
		BackupTable:      backupTable,
	}, nil
}

func (e *Executor) backupTrackingTable(ctx context.Context) (string, error) {
	schema, table := dbx.SplitSchemaQualified(e.TrackingTable)
	backupName := table + "_backup"
	qualifiedBackup := dbx.QuoteQualified(schema, backupName)

	exists, err := dbx.TableExists(ctx, e.rdb(), schema, table)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}

	stmt := fmt.Sprintf(`DROP TABLE IF EXISTS %s; CREATE TABLE %s AS TABLE %s`,
		qualifiedBackup, qualifiedBackup, e.trackingTableSQL())
	if _, err := e.rdb().ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("backing up tracking table: %w", err)
	}
	return schema + "." + backupName, nil
}

func (e *Executor) dropUserSchemas(ctx context.Context) ([]string, error) {
	rows, err := e.rdb().QueryContext(ctx, `SELECT schema_name FROM information_schema.schemata`)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		if isExcludedSchema(name) {
			continue
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, name := range names {
		if _, err := e.rdb().ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, pq.QuoteIdentifier(name))); err != nil {
			return names, fmt.Errorf("dropping schema %s: %w", name, err)
		}
	}

	if _, err := e.rdb().ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS public`); err != nil {
		return names, fmt.Errorf("recreating public schema: %w", err)
	}

	return names, nil
}

func isExcludedSchema(name string) bool {
	for _, prefix := range excludedSchemaPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// applyDDLString splits the concatenated schema on statement-terminating
// semicolons, strips a surrounding BEGIN/COMMIT pair (the executor
// supplies its own transactional discipline elsewhere), and tolerates
// CREATE EXTENSION failures as warnings rather than aborting the rebuild
// — extensions are frequently already present or unavailable in locked-down
// environments.
func (e *Executor) applyDDLString(ctx context.Context, ddl string) error {
	statements := splitStatements(ddl)
	for _, stmt := range statements {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		upper := strings.ToUpper(trimmed)
		if upper == "BEGIN" || upper == "COMMIT" {
			continue
		}

		if _, err := e.rdb().ExecContext(ctx, trimmed); err != nil {
			if strings.HasPrefix(upper, "CREATE EXTENSION") {
				e.logger().Warn("CREATE EXTENSION failed during rebuild, continuing", "statement", trimmed, "error", err)
				continue
			}
			return fmt.Errorf("applying DDL statement: %w\n%s", err, trimmed)
		}
	}
	return nil
}

// splitStatements performs a naive semicolon split, sufficient here because
// the schema builder already normalised and concatenated well-formed SQL
// files; it is not a general-purpose SQL statement splitter.
func splitStatements(ddl string) []string {
	return strings.Split(ddl, ";")
}

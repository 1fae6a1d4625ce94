// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/fraiseql/confiture/pkg/errs"
)

// verifyTableCount opens its own connection (the three-phase restore's
// subprocess-driven phases hold no connection of their own) and counts
// base tables in opts.MinTablesSchema via pg_catalog.pg_class, which is
// faster than information_schema.tables on large schemas.
func (r *Restorer) verifyTableCount(ctx context.Context, opts Options) (Result, error) {
	conninfo := fmt.Sprintf("host=%s port=%d dbname=%s", opts.Host, opts.Port, opts.TargetDB)
	if opts.Username != "" {
		conninfo += " user=" + opts.Username
	}

	db, err := sql.Open("postgres", conninfo)
	if err != nil {
		return Result{}, errs.NewRestoreError("cannot connect to " + opts.TargetDB + " for table count validation: " + err.Error())
	}
	defer db.Close()

	var count int
	row := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r'
		  AND n.nspname = $1
	`, opts.MinTablesSchema)
	if err := row.Scan(&count); err != nil {
		return Result{}, errs.NewRestoreError("cannot connect to " + opts.TargetDB + " for table count validation: " + err.Error())
	}

	if count < opts.MinTables {
		return Result{
			Success:         false,
			PhasesCompleted: []string{"pre-data", "data", "post-data"},
			TableCount:      &count,
			Errors: []string{fmt.Sprintf(
				"Post-restore validation failed: found %d tables in schema %q, expected at least %d",
				count, opts.MinTablesSchema, opts.MinTables)},
		}, nil
	}
	return Result{
		Success:         true,
		PhasesCompleted: []string{"pre-data", "data", "post-data"},
		TableCount:      &count,
	}, nil
}

// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/fraiseql/confiture/pkg/errs"
)

// execSQLFile reads path and executes its contents as one statement batch
// within tx. lib/pq's simple query protocol (used automatically for
// parameter-less Exec calls) accepts multiple semicolon-separated
// statements in a single round trip, so migration files are not split
// client-side.
func execSQLFile(ctx context.Context, tx *sql.Tx, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return errs.New("MIGR_102", err, map[string]any{"file": path})
	}
	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("executing %s: %w", path, err)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0

package dbx

import (
	"context"
	"database/sql"
)

// SplitSchemaQualified splits a possibly schema-qualified relation name
// ("public.tb_confiture") into (schema, name), defaulting schema to
// "public" when unqualified.
func SplitSchemaQualified(name string) (schema, relation string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:]
		}
	}
	return "public", name
}

// TableExists reports whether a table exists in the given schema.
func TableExists(ctx context.Context, db DB, schema, table string) (bool, error) {
	var exists bool
	row := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, schema, table)
	if err := row.Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

// ColumnExists reports whether a column exists on the given table.
func ColumnExists(ctx context.Context, db DB, schema, table, column string) (bool, error) {
	var exists bool
	row := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = $1 AND table_name = $2 AND column_name = $3
		)`, schema, table, column)
	if err := row.Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

// RowCount returns the number of rows in schema.table.
func RowCount(ctx context.Context, db DB, schema, table string) (int64, error) {
	var count int64
	row := db.QueryRowContext(ctx, `SELECT count(*) FROM `+QuoteQualified(schema, table))
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// QuoteQualified returns a double-quoted schema-qualified identifier,
// e.g. QuoteQualified("public", "tb_confiture") -> `"public"."tb_confiture"`.
func QuoteQualified(schema, name string) string {
	return quoteIdent(schema) + "." + quoteIdent(name)
}

func quoteIdent(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '"', '"')
			continue
		}
		out = append(out, s[i])
	}
	out = append(out, '"')
	return string(out)
}

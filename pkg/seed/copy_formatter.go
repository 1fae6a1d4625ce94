// SPDX-License-Identifier: Apache-2.0

package seed

import (
	"fmt"
	"strings"
)

// Row is one converted data row, column-aligned with the target table's
// column list; a nil entry represents SQL NULL.
type Row []*string

// formatCopyTable renders table, columns, and rows as a PostgreSQL COPY
// TEXT-format payload suitable for `COPY table (cols) FROM stdin;`.
func formatCopyTable(table string, columns []string, rows []Row) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "COPY %s (%s) FROM stdin;\n", table, strings.Join(columns, ", "))
	for _, row := range rows {
		values := make([]string, len(row))
		for i, v := range row {
			values[i] = escapeCopyValue(v)
		}
		sb.WriteString(strings.Join(values, "\t"))
		sb.WriteByte('\n')
	}
	sb.WriteString(`\.`)
	return sb.String()
}

// escapeCopyValue renders a single value in COPY TEXT format: backslash,
// tab, newline, and carriage return are backslash-escaped; nil becomes
// the NULL marker \N.
func escapeCopyValue(v *string) string {
	if v == nil {
		return `\N`
	}
	var sb strings.Builder
	for _, r := range *v {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\t':
			sb.WriteString(`\t`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

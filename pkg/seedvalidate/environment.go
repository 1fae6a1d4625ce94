// SPDX-License-Identifier: Apache-2.0

package seedvalidate

import (
	"fmt"
	"sort"
	"strings"
)

// EnvironmentComparator detects differences in seed data between two
// environments (dev/staging/prod): missing or extra tables, row-count
// mismatches, and value differences. Row comparison is order-independent —
// the same rows in a different order is not a difference.
type EnvironmentComparator struct{}

// Compare returns a violation for every table present in only one
// environment, every row-count mismatch, and every value-set mismatch
// between the two environments' seed data.
func (EnvironmentComparator) Compare(env1, env2 SeedData) []Violation {
	var violations []Violation

	allTables := make(map[string]bool)
	for t := range env1 {
		allTables[t] = true
	}
	for t := range env2 {
		allTables[t] = true
	}
	tableNames := make([]string, 0, len(allTables))
	for t := range allTables {
		tableNames = append(tableNames, t)
	}
	sort.Strings(tableNames)

	for _, tableName := range tableNames {
		rows1, in1 := env1[tableName]
		rows2, in2 := env2[tableName]

		if !in1 {
			violations = append(violations, Violation{
				Table:         tableName,
				ViolationType: "TABLE_EXTRA_IN_ENV2",
				Message:       fmt.Sprintf("table %s exists in environment 2 but not in environment 1", tableName),
				ActualCount:   intPtr(len(rows2)),
			})
			continue
		}
		if !in2 {
			violations = append(violations, Violation{
				Table:         tableName,
				ViolationType: "TABLE_MISSING_IN_ENV2",
				Message:       fmt.Sprintf("table %s exists in environment 1 but not in environment 2", tableName),
				ExpectedCount: intPtr(len(rows1)),
			})
			continue
		}

		if len(rows1) != len(rows2) {
			violations = append(violations, Violation{
				Table:         tableName,
				ViolationType: "ROW_COUNT_MISMATCH",
				Message: fmt.Sprintf("table %s has %d rows in environment 1 but %d rows in environment 2",
					tableName, len(rows1), len(rows2)),
				ExpectedCount: intPtr(len(rows1)),
				ActualCount:   intPtr(len(rows2)),
			})
			continue
		}

		if !rowSetsEqual(rows1, rows2) {
			violations = append(violations, Violation{
				Table:         tableName,
				ViolationType: "VALUE_MISMATCH",
				Message:       fmt.Sprintf("table %s has different values between environments", tableName),
			})
		}
	}

	return violations
}

func rowSetsEqual(rows1, rows2 []Row) bool {
	set1 := make(map[string]int, len(rows1))
	for _, r := range rows1 {
		set1[normalizeRow(r)]++
	}
	set2 := make(map[string]int, len(rows2))
	for _, r := range rows2 {
		set2[normalizeRow(r)]++
	}
	if len(set1) != len(set2) {
		return false
	}
	for k, v := range set1 {
		if set2[k] != v {
			return false
		}
	}
	return true
}

// normalizeRow renders a row as a sorted key=value string so two rows with
// identical contents compare equal regardless of map iteration order.
func normalizeRow(row Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := row[k]
		str := "NULL"
		if v != nil {
			str = fmt.Sprint(v)
		}
		parts = append(parts, k+"="+str)
	}
	return strings.Join(parts, "\x1f")
}

func intPtr(n int) *int { return &n }

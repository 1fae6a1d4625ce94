// SPDX-License-Identifier: Apache-2.0

package seedvalidate

import (
	"fmt"
	"strings"
)

// UniqueValidator detects duplicate values in single-column and composite
// UNIQUE constraints. NULLs never collide: a NULL in a single-column key is
// skipped, and a composite key with any NULL member is skipped entirely.
type UniqueValidator struct{}

// Validate reports one violation per duplicated value (or composite key)
// across every UNIQUE constraint declared in schema.
func (UniqueValidator) Validate(seedData SeedData, schema SchemaContext) []Violation {
	var violations []Violation

	for tableName, tableSchema := range schema {
		rows, ok := seedData[tableName]
		if !ok {
			continue
		}

		for columnName, col := range tableSchema.Columns {
			if col.Unique {
				violations = append(violations, validateUniqueColumn(tableName, columnName, rows)...)
			}
		}

		for _, constraint := range tableSchema.UniqueConstraints {
			if len(constraint.Columns) > 0 {
				violations = append(violations, validateCompositeUnique(tableName, constraint.Columns, rows)...)
			}
		}
	}

	return violations
}

func validateUniqueColumn(table, column string, rows []Row) []Violation {
	counts := countColumnValues(rows, column)
	return uniqueViolationsFromCounts(table, column, counts, "DUPLICATE_UNIQUE_VALUE")
}

func countColumnValues(rows []Row, column string) map[string]int {
	counts := make(map[string]int)
	for _, row := range rows {
		value, present := row[column]
		if !present || value == nil {
			continue
		}
		counts[fmt.Sprint(value)]++
	}
	return counts
}

func uniqueViolationsFromCounts(table, column string, counts map[string]int, violationType string) []Violation {
	var violations []Violation
	for value, count := range counts {
		if count > 1 {
			violations = append(violations, Violation{
				Table:          table,
				Column:         column,
				Value:          value,
				DuplicateCount: count,
				ViolationType:  violationType,
				Message: fmt.Sprintf("column %s.%s is UNIQUE but value %s appears %d times",
					table, column, value, count),
				Severity: "ERROR",
			})
		}
	}
	return violations
}

// compositeKeyCount tracks one distinct composite key's display parts and
// how many non-NULL rows produced it.
type compositeKeyCount struct {
	parts []string
	count int
}

func validateCompositeUnique(table string, columns []string, rows []Row) []Violation {
	counts := countCompositeKeys(rows, columns)
	colsStr := strings.Join(columns, ", ")

	var violations []Violation
	for _, entry := range counts {
		if entry.count > 1 {
			keyStr := strings.Join(entry.parts, " / ")
			violations = append(violations, Violation{
				Table:          table,
				Column:         colsStr,
				Value:          keyStr,
				DuplicateCount: entry.count,
				ViolationType:  "DUPLICATE_COMPOSITE_KEY",
				Message: fmt.Sprintf("composite UNIQUE constraint on %s(%s) violated: key (%s) appears %d times",
					table, colsStr, keyStr, entry.count),
				Severity: "ERROR",
			})
		}
	}
	return violations
}

// countCompositeKeys counts occurrences of each composite key, keyed
// internally by a NUL-joined form of the per-column string values (NUL
// can't appear in a seed literal, so it's a safe separator). Rows with any
// NULL member are skipped entirely, matching NULLs never colliding.
func countCompositeKeys(rows []Row, columns []string) map[string]*compositeKeyCount {
	counts := make(map[string]*compositeKeyCount)

	for _, row := range rows {
		parts := make([]string, 0, len(columns))
		hasNull := false
		for _, col := range columns {
			value, present := row[col]
			if !present || value == nil {
				hasNull = true
				break
			}
			parts = append(parts, fmt.Sprint(value))
		}
		if hasNull {
			continue
		}
		key := strings.Join(parts, "\x00")
		if entry, ok := counts[key]; ok {
			entry.count++
		} else {
			counts[key] = &compositeKeyCount{parts: parts, count: 1}
		}
	}

	return counts
}

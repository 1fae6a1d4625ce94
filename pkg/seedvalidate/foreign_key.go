// SPDX-License-Identifier: Apache-2.0

package seedvalidate

import "fmt"

// ForeignKeyValidator checks that every foreign key value in seed data
// actually exists in its referenced table's seed rows. NULL is allowed in
// any FK column; comparison is by string representation so UUID, numeric,
// and textual keys all compare consistently.
type ForeignKeyValidator struct{}

// Validate walks every table/column in schema that declares a ForeignKey
// and reports a violation for each row whose FK value has no match in the
// referenced table's seed data.
func (ForeignKeyValidator) Validate(seedData SeedData, schema SchemaContext) []Violation {
	var violations []Violation

	for tableName, tableSchema := range schema {
		rows, ok := seedData[tableName]
		if !ok {
			continue
		}

		for columnName, col := range tableSchema.Columns {
			if col.ForeignKey == nil {
				continue
			}
			violations = append(violations, validateForeignKeyColumn(
				tableName, columnName, col.ForeignKey.Table, col.ForeignKey.Column, rows, seedData)...)
		}
	}

	return violations
}

func validateForeignKeyColumn(table, column, refTable, refColumn string, rows []Row, seedData SeedData) []Violation {
	refRows, ok := seedData[refTable]
	if !ok {
		return missingTableViolations(table, column, refTable, refColumn, rows)
	}

	validRefs := buildReferenceSet(refRows, refColumn)

	var violations []Violation
	for _, row := range rows {
		value, present := row[column]
		if !present || value == nil {
			continue
		}
		strValue := fmt.Sprint(value)
		if !validRefs[strValue] {
			violations = append(violations, Violation{
				Table:            table,
				Column:           column,
				ReferencedTable:  refTable,
				ReferencedColumn: refColumn,
				Value:            strValue,
				ViolationType:    "MISSING_FOREIGN_KEY",
				Message: fmt.Sprintf("foreign key %s.%s = %s does not exist in %s.%s",
					table, column, strValue, refTable, refColumn),
				Severity: "ERROR",
			})
		}
	}
	return violations
}

func buildReferenceSet(rows []Row, column string) map[string]bool {
	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		value, present := row[column]
		if !present || value == nil {
			continue
		}
		set[fmt.Sprint(value)] = true
	}
	return set
}

func missingTableViolations(table, column, refTable, refColumn string, rows []Row) []Violation {
	var violations []Violation
	for _, row := range rows {
		value, present := row[column]
		if !present || value == nil {
			continue
		}
		strValue := fmt.Sprint(value)
		violations = append(violations, Violation{
			Table:            table,
			Column:           column,
			ReferencedTable:  refTable,
			ReferencedColumn: refColumn,
			Value:            strValue,
			ViolationType:    "MISSING_FOREIGN_KEY",
			Message: fmt.Sprintf("foreign key %s.%s = %s references missing table %s",
				table, column, strValue, refTable),
			Severity: "ERROR",
		})
	}
	return violations
}

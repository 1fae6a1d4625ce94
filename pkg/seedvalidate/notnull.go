// SPDX-License-Identifier: Apache-2.0

package seedvalidate

import "fmt"

// NotNullValidator checks that every column marked Required holds a value
// in every row. A missing key and an explicit nil both count as NULL.
type NotNullValidator struct{}

// Validate reports one violation per row whose required column is NULL.
func (NotNullValidator) Validate(seedData SeedData, schema SchemaContext) []Violation {
	var violations []Violation

	for tableName, tableSchema := range schema {
		rows, ok := seedData[tableName]
		if !ok {
			continue
		}

		for columnName, col := range tableSchema.Columns {
			if col.Required {
				violations = append(violations, validateRequiredColumn(tableName, columnName, rows)...)
			}
		}
	}

	return violations
}

func validateRequiredColumn(table, column string, rows []Row) []Violation {
	var violations []Violation
	for rowIndex, row := range rows {
		value, present := row[column]
		if present && value != nil {
			continue
		}
		violations = append(violations, Violation{
			Table:         table,
			Column:        column,
			RowIndex:      rowIndex,
			HasRowIndex:   true,
			ViolationType: "NULL_IN_REQUIRED_COLUMN",
			Message: fmt.Sprintf("column %s.%s is required but row %d has NULL value",
				table, column, rowIndex),
			Severity: "ERROR",
		})
	}
	return violations
}

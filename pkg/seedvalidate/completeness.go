// SPDX-License-Identifier: Apache-2.0

package seedvalidate

import "fmt"

// CompletenessValidator checks that every table schema marks Required is
// present in the seed data and meets its MinRows floor.
type CompletenessValidator struct{}

// Validate reports a MISSING_REQUIRED_TABLE violation for an absent
// required table, or a TABLE_TOO_SMALL violation when a present table has
// fewer than MinRows rows.
func (CompletenessValidator) Validate(seedData SeedData, schema SchemaContext) []Violation {
	var violations []Violation

	for tableName, tableSchema := range schema {
		rows, ok := seedData[tableName]
		if !ok {
			if tableSchema.Required {
				violations = append(violations, Violation{
					Table:         tableName,
					ViolationType: "MISSING_REQUIRED_TABLE",
					Message:       fmt.Sprintf("required table %s is missing from seed data", tableName),
					Severity:      "ERROR",
				})
			}
			continue
		}

		if tableSchema.MinRows != nil && len(rows) < *tableSchema.MinRows {
			expected := *tableSchema.MinRows
			actual := len(rows)
			violations = append(violations, Violation{
				Table:         tableName,
				ViolationType: "TABLE_TOO_SMALL",
				Message: fmt.Sprintf("table %s has %d rows but requires minimum %d rows",
					tableName, actual, expected),
				Severity:      "ERROR",
				ExpectedCount: &expected,
				ActualCount:   &actual,
			})
		}
	}

	return violations
}

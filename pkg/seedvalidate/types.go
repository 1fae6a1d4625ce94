// SPDX-License-Identifier: Apache-2.0

// Package seedvalidate runs the seed-data consistency checks (foreign key,
// uniqueness, not-null, completeness, cross-environment comparison) and the
// prep-seed static/dry-run validation levels described by the orchestrator.
package seedvalidate

// Row is one seed row keyed by column name. A missing key and an explicit
// nil both mean SQL NULL.
type Row map[string]any

// SeedData maps table name to its seed rows, mirroring how seed files are
// grouped for validation once parsed off disk.
type SeedData map[string][]Row

// ForeignKeyRef names the table and column a foreign key column points at.
type ForeignKeyRef struct {
	Table  string
	Column string
}

// ColumnInfo describes one column's constraints for validation purposes.
type ColumnInfo struct {
	Unique     bool
	Required   bool
	ForeignKey *ForeignKeyRef
}

// UniqueConstraint names a composite (possibly single-column) UNIQUE key.
type UniqueConstraint struct {
	Columns []string
}

// TableSchema is the validation-relevant slice of one table's schema.
type TableSchema struct {
	Required          bool
	MinRows           *int
	Columns           map[string]ColumnInfo
	UniqueConstraints []UniqueConstraint
}

// SchemaContext maps table name to the schema metadata validators check
// seed data against.
type SchemaContext map[string]TableSchema

// Violation is the single type every validator in this package reports
// through — cross-cutting consistency violations and prep-seed static/
// dry-run findings alike. Only the fields a given validator cares about are
// populated; the rest are left at their zero value.
type Violation struct {
	Table            string
	Column           string
	ReferencedTable  string
	ReferencedColumn string
	Value            string
	RowIndex         int
	HasRowIndex      bool
	DuplicateCount   int
	ExpectedCount    *int
	ActualCount      *int
	ViolationType    string
	Message          string
	Severity         string // "ERROR" or "WARNING"

	// Prep-seed (Level 1) extras.
	FilePath     string
	LineNumber   int
	Impact       string
	FixAvailable bool
	Suggestion   string
}

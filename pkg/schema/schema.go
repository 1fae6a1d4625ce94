// SPDX-License-Identifier: Apache-2.0

// Package schema reduces a parsed DDL tree into a comparable in-memory
// structure shared by the schema differ and the linter, so both walk the
// same table/column/constraint model instead of each re-parsing SQL their
// own way.
package schema

import "github.com/oapi-codegen/nullable"

// Column describes one table column as declared by CREATE TABLE or later
// amended by ALTER TABLE.
//
// Default is tri-state: the zero value (unspecified) means no DEFAULT
// clause was ever seen, nullable.NewNullNullable[string]() means the
// column was explicitly set to "DEFAULT NULL", and
// nullable.NewNullableWithValue(expr) carries a real default expression.
// Collapsing the first two into a single bool (as a plain *string would)
// loses the distinction a later "DROP DEFAULT" needs to detect.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  nullable.Nullable[string]
	Unique   bool
}

// HasDefault reports whether a DEFAULT clause of any kind, including an
// explicit DEFAULT NULL, was ever seen for this column.
func (c Column) HasDefault() bool {
	return c.Default.IsSpecified()
}

// DefaultExpr returns the column's default expression and whether it is a
// real (non-NULL) value. It returns ("", false) for both "no default" and
// "default NULL" — use HasDefault and Default.IsNull to tell those apart.
func (c Column) DefaultExpr() (string, bool) {
	v, err := c.Default.Get()
	if err != nil {
		return "", false
	}
	return v, true
}

// ForeignKey is one named FOREIGN KEY constraint, however it was declared
// (inline on the column, or via ALTER TABLE ADD CONSTRAINT).
type ForeignKey struct {
	Name           string
	Columns        []string
	ReferencedTable   string
	ReferencedColumns []string
}

// Index is one CREATE INDEX declaration.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// CheckConstraint is one named CHECK constraint.
type CheckConstraint struct {
	Name       string
	Expression string
}

// UniqueConstraint is one named table-level UNIQUE constraint (as opposed
// to a single column's Unique flag, which tracks an inline declaration).
type UniqueConstraint struct {
	Name    string
	Columns []string
}

// Table is one table's fully reduced shape after every CREATE/ALTER/COMMENT
// statement touching it has been applied, in source order.
type Table struct {
	Schema            string
	Name              string
	Columns           []Column
	PrimaryKey        []string
	ForeignKeys       []ForeignKey
	Indexes           []Index
	CheckConstraints  []CheckConstraint
	UniqueConstraints []UniqueConstraint
	Comment           string
}

// ColumnNames returns every column name, in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// QualifiedName returns "schema.name", or just "name" when Schema is empty.
func (t *Table) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ParsedSchema is the full set of tables reduced from one DDL snapshot,
// keyed by QualifiedName.
type ParsedSchema struct {
	Tables map[string]*Table
}

// TableNames returns every table's qualified name.
func (s *ParsedSchema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	return names
}

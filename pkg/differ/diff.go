// SPDX-License-Identifier: Apache-2.0

package differ

import (
	"sort"

	"github.com/fraiseql/confiture/pkg/schema"
)

// ChangeKind classifies one detected schema change.
type ChangeKind string

const (
	TableAdded            ChangeKind = "table_added"
	TableDropped           ChangeKind = "table_dropped"
	ColumnAdded            ChangeKind = "column_added"
	ColumnDropped          ChangeKind = "column_dropped"
	ColumnTypeChanged      ChangeKind = "column_type_changed"
	ColumnNullabilityChanged ChangeKind = "column_nullability_changed"
	ColumnDefaultChanged   ChangeKind = "column_default_changed"
	ConstraintAdded        ChangeKind = "constraint_added"
	ConstraintDropped      ChangeKind = "constraint_dropped"
	IndexAdded             ChangeKind = "index_added"
	IndexDropped           ChangeKind = "index_dropped"
)

// Change is one atomic difference between two schema snapshots.
type Change struct {
	Kind    ChangeKind
	Table   string
	Subject string
	Detail  string
}

// Diff compares two ParsedSchema snapshots and returns every change
// needed to go from "from" to "to", in a stable, deterministic order
// (tables, then within each table: columns, constraints, indexes).
func Diff(from, to *schema.ParsedSchema) []Change {
	var changes []Change

	for _, name := range sortedKeys(to.Tables) {
		if _, ok := from.Tables[name]; !ok {
			changes = append(changes, Change{Kind: TableAdded, Table: name})
		}
	}
	for _, name := range sortedKeys(from.Tables) {
		if _, ok := to.Tables[name]; !ok {
			changes = append(changes, Change{Kind: TableDropped, Table: name})
			continue
		}
		changes = append(changes, diffTable(name, from.Tables[name], to.Tables[name])...)
	}

	return changes
}

func diffTable(name string, from, to *schema.Table) []Change {
	var changes []Change

	fromCols := map[string]schema.Column{}
	for _, c := range from.Columns {
		fromCols[c.Name] = c
	}
	toCols := map[string]schema.Column{}
	for _, c := range to.Columns {
		toCols[c.Name] = c
	}

	for _, c := range to.Columns {
		fromCol, existed := fromCols[c.Name]
		if !existed {
			changes = append(changes, Change{Kind: ColumnAdded, Table: name, Subject: c.Name})
			continue
		}
		if fromCol.Type != c.Type {
			changes = append(changes, Change{Kind: ColumnTypeChanged, Table: name, Subject: c.Name,
				Detail: fromCol.Type + " -> " + c.Type})
		}
		if fromCol.Nullable != c.Nullable {
			changes = append(changes, Change{Kind: ColumnNullabilityChanged, Table: name, Subject: c.Name,
				Detail: boolToNullability(fromCol.Nullable) + " -> " + boolToNullability(c.Nullable)})
		}
		if detail, changed := defaultChangeDetail(fromCol, c); changed {
			changes = append(changes, Change{Kind: ColumnDefaultChanged, Table: name, Subject: c.Name, Detail: detail})
		}
	}
	for _, c := range from.Columns {
		if _, stillExists := toCols[c.Name]; !stillExists {
			changes = append(changes, Change{Kind: ColumnDropped, Table: name, Subject: c.Name})
		}
	}

	changes = append(changes, diffForeignKeys(name, from.ForeignKeys, to.ForeignKeys)...)
	changes = append(changes, diffIndexes(name, from.Indexes, to.Indexes)...)

	return changes
}

// defaultChangeDetail distinguishes "no default" from "default NULL" from
// a real default expression, so dropping a default and setting it to NULL
// are reported as different changes rather than both looking like "no
// default" collapsing into a no-op.
func defaultChangeDetail(from, to schema.Column) (string, bool) {
	fromState := defaultState(from)
	toState := defaultState(to)
	if fromState == toState {
		return "", false
	}
	return fromState + " -> " + toState, true
}

func defaultState(c schema.Column) string {
	if !c.HasDefault() {
		return "none"
	}
	if c.Default.IsNull() {
		return "null"
	}
	expr, _ := c.DefaultExpr()
	return expr
}

func boolToNullability(nullable bool) string {
	if nullable {
		return "nullable"
	}
	return "not null"
}

func diffForeignKeys(table string, from, to []schema.ForeignKey) []Change {
	var changes []Change
	fromNames := map[string]bool{}
	for _, fk := range from {
		fromNames[fk.Name] = true
	}
	toNames := map[string]bool{}
	for _, fk := range to {
		toNames[fk.Name] = true
	}
	for _, fk := range to {
		if !fromNames[fk.Name] {
			changes = append(changes, Change{Kind: ConstraintAdded, Table: table, Subject: fk.Name})
		}
	}
	for _, fk := range from {
		if !toNames[fk.Name] {
			changes = append(changes, Change{Kind: ConstraintDropped, Table: table, Subject: fk.Name})
		}
	}
	return changes
}

func diffIndexes(table string, from, to []schema.Index) []Change {
	var changes []Change
	fromNames := map[string]bool{}
	for _, idx := range from {
		fromNames[idx.Name] = true
	}
	toNames := map[string]bool{}
	for _, idx := range to {
		toNames[idx.Name] = true
	}
	for _, idx := range to {
		if !fromNames[idx.Name] {
			changes = append(changes, Change{Kind: IndexAdded, Table: table, Subject: idx.Name})
		}
	}
	for _, idx := range from {
		if !toNames[idx.Name] {
			changes = append(changes, Change{Kind: IndexDropped, Table: table, Subject: idx.Name})
		}
	}
	return changes
}

func sortedKeys(m map[string]*schema.Table) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SPDX-License-Identifier: Apache-2.0

package differ_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraiseql/confiture/pkg/differ"
	"github.com/fraiseql/confiture/pkg/schema"
)

func mustParse(t *testing.T, ddl string) *schema.ParsedSchema {
	t.Helper()
	parsed, err := schema.Parse(ddl)
	require.NoError(t, err)
	return parsed
}

func TestDiffDetectsAddedAndDroppedTables(t *testing.T) {
	from := mustParse(t, `CREATE TABLE customers (id int PRIMARY KEY);`)
	to := mustParse(t, `CREATE TABLE orders (id int PRIMARY KEY);`)

	changes := differ.Diff(from, to)

	assertHasChange(t, changes, differ.TableAdded, "orders", "")
	assertHasChange(t, changes, differ.TableDropped, "customers", "")
}

func TestDiffDetectsColumnAddedAndDropped(t *testing.T) {
	from := mustParse(t, `CREATE TABLE widgets (id int PRIMARY KEY, label text);`)
	to := mustParse(t, `CREATE TABLE widgets (id int PRIMARY KEY, weight numeric);`)

	changes := differ.Diff(from, to)

	assertHasChange(t, changes, differ.ColumnAdded, "widgets", "weight")
	assertHasChange(t, changes, differ.ColumnDropped, "widgets", "label")
}

func TestDiffDetectsColumnTypeChange(t *testing.T) {
	from := mustParse(t, `CREATE TABLE widgets (id int PRIMARY KEY, sku varchar);`)
	to := mustParse(t, `CREATE TABLE widgets (id int PRIMARY KEY, sku text);`)

	changes := differ.Diff(from, to)
	assertHasChange(t, changes, differ.ColumnTypeChanged, "widgets", "sku")
}

func TestDiffDetectsNullabilityChange(t *testing.T) {
	from := mustParse(t, `CREATE TABLE widgets (id int PRIMARY KEY, label text);`)
	to := mustParse(t, `CREATE TABLE widgets (id int PRIMARY KEY, label text NOT NULL);`)

	changes := differ.Diff(from, to)
	assertHasChange(t, changes, differ.ColumnNullabilityChanged, "widgets", "label")
}

func TestDiffDetectsIndexAddedAndDropped(t *testing.T) {
	from := mustParse(t, `
		CREATE TABLE widgets (id int PRIMARY KEY, sku text);
		CREATE INDEX idx_old ON widgets (sku);
	`)
	to := mustParse(t, `
		CREATE TABLE widgets (id int PRIMARY KEY, sku text);
		CREATE UNIQUE INDEX idx_new ON widgets (sku);
	`)

	changes := differ.Diff(from, to)
	assertHasChange(t, changes, differ.IndexAdded, "widgets", "idx_new")
	assertHasChange(t, changes, differ.IndexDropped, "widgets", "idx_old")
}

func TestDiffDetectsForeignKeyAddedAndDropped(t *testing.T) {
	from := mustParse(t, `
		CREATE TABLE customers (id int PRIMARY KEY);
		CREATE TABLE orders (id int PRIMARY KEY, customer_id int);
		ALTER TABLE orders ADD CONSTRAINT fk_old FOREIGN KEY (customer_id) REFERENCES customers (id);
	`)
	to := mustParse(t, `
		CREATE TABLE customers (id int PRIMARY KEY);
		CREATE TABLE orders (id int PRIMARY KEY, customer_id int);
		ALTER TABLE orders ADD CONSTRAINT fk_new FOREIGN KEY (customer_id) REFERENCES customers (id);
	`)

	changes := differ.Diff(from, to)
	assertHasChange(t, changes, differ.ConstraintAdded, "orders", "fk_new")
	assertHasChange(t, changes, differ.ConstraintDropped, "orders", "fk_old")
}

func TestDiffReturnsNoChangesForIdenticalSchemas(t *testing.T) {
	ddl := `CREATE TABLE widgets (id int PRIMARY KEY, label text);`
	from := mustParse(t, ddl)
	to := mustParse(t, ddl)

	assert.Empty(t, differ.Diff(from, to))
}

func assertHasChange(t *testing.T, changes []differ.Change, kind differ.ChangeKind, table, subject string) {
	t.Helper()
	for _, c := range changes {
		if c.Kind == kind && c.Table == table && (subject == "" || c.Subject == subject) {
			return
		}
	}
	t.Fatalf("expected a %s change for table=%q subject=%q, got %+v", kind, table, subject, changes)
}

// SPDX-License-Identifier: Apache-2.0

package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraiseql/confiture/pkg/schema"
)

func TestParseReducesCreateTableColumnsAndPrimaryKey(t *testing.T) {
	parsed, err := schema.Parse(`
		CREATE TABLE public.customers (
			id int PRIMARY KEY,
			name text NOT NULL,
			email text UNIQUE,
			created_at timestamp DEFAULT now()
		);
	`)
	require.NoError(t, err)

	tbl, ok := parsed.Tables["public.customers"]
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, tbl.PrimaryKey)

	nameCol, ok := tbl.Column("name")
	require.True(t, ok)
	assert.False(t, nameCol.Nullable)

	emailCol, ok := tbl.Column("email")
	require.True(t, ok)
	assert.True(t, emailCol.Unique)

	createdCol, ok := tbl.Column("created_at")
	require.True(t, ok)
	assert.True(t, createdCol.HasDefault())

	expr, hasValue := createdCol.DefaultExpr()
	assert.True(t, hasValue)
	assert.Equal(t, "now()", expr)
}

func TestParseDistinguishesSetDefaultNullFromDropDefault(t *testing.T) {
	parsed, err := schema.Parse(`
		CREATE TABLE widgets (id int PRIMARY KEY, note text);
		ALTER TABLE widgets ALTER COLUMN note SET DEFAULT NULL;
	`)
	require.NoError(t, err)

	col, ok := parsed.Tables["widgets"].Column("note")
	require.True(t, ok)
	assert.True(t, col.HasDefault())
	assert.True(t, col.Default.IsNull())

	parsed, err = schema.Parse(`
		CREATE TABLE widgets (id int PRIMARY KEY, note text DEFAULT 'x');
		ALTER TABLE widgets ALTER COLUMN note DROP DEFAULT;
	`)
	require.NoError(t, err)

	col, ok = parsed.Tables["widgets"].Column("note")
	require.True(t, ok)
	assert.False(t, col.HasDefault())
}

func TestParseAppliesForeignKeyConstraint(t *testing.T) {
	parsed, err := schema.Parse(`
		CREATE TABLE customers (id int PRIMARY KEY);
		CREATE TABLE orders (
			id int PRIMARY KEY,
			customer_id int
		);
		ALTER TABLE orders ADD CONSTRAINT fk_orders_customer FOREIGN KEY (customer_id) REFERENCES customers (id);
	`)
	require.NoError(t, err)

	orders := parsed.Tables["orders"]
	require.Len(t, orders.ForeignKeys, 1)
	assert.Equal(t, "customers", orders.ForeignKeys[0].ReferencedTable)
	assert.Equal(t, []string{"customer_id"}, orders.ForeignKeys[0].Columns)
	assert.Equal(t, []string{"id"}, orders.ForeignKeys[0].ReferencedColumns)
}

func TestParseAppliesAddAndDropColumn(t *testing.T) {
	parsed, err := schema.Parse(`
		CREATE TABLE widgets (id int PRIMARY KEY, label text);
		ALTER TABLE widgets ADD COLUMN weight numeric;
		ALTER TABLE widgets DROP COLUMN label;
	`)
	require.NoError(t, err)

	widgets := parsed.Tables["widgets"]
	_, hasLabel := widgets.Column("label")
	assert.False(t, hasLabel)
	_, hasWeight := widgets.Column("weight")
	assert.True(t, hasWeight)
}

func TestParseAppliesSetNotNull(t *testing.T) {
	parsed, err := schema.Parse(`
		CREATE TABLE widgets (id int PRIMARY KEY, label text);
		ALTER TABLE widgets ALTER COLUMN label SET NOT NULL;
	`)
	require.NoError(t, err)

	label, _ := parsed.Tables["widgets"].Column("label")
	assert.False(t, label.Nullable)
}

func TestParseAppliesCreateIndex(t *testing.T) {
	parsed, err := schema.Parse(`
		CREATE TABLE widgets (id int PRIMARY KEY, sku text);
		CREATE UNIQUE INDEX idx_widgets_sku ON widgets (sku);
	`)
	require.NoError(t, err)

	widgets := parsed.Tables["widgets"]
	require.Len(t, widgets.Indexes, 1)
	assert.Equal(t, "idx_widgets_sku", widgets.Indexes[0].Name)
	assert.True(t, widgets.Indexes[0].Unique)
	assert.Equal(t, []string{"sku"}, widgets.Indexes[0].Columns)
}

func TestParseAppliesTableComment(t *testing.T) {
	parsed, err := schema.Parse(`
		CREATE TABLE widgets (id int PRIMARY KEY);
		COMMENT ON TABLE widgets IS 'catalog of widgets';
	`)
	require.NoError(t, err)
	assert.Equal(t, "catalog of widgets", parsed.Tables["widgets"].Comment)
}

func TestParseReturnsDifferErrorOnSyntaxError(t *testing.T) {
	_, err := schema.Parse(`CREATE TABLE (((`)
	assert.Error(t, err)
}

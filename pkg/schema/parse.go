// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oapi-codegen/nullable"
	pgq "github.com/pganalyze/pg_query_go/v6"

	"github.com/fraiseql/confiture/pkg/errs"
)

// Parse reduces a full DDL snapshot (as produced by the schema builder) into
// a ParsedSchema by walking every statement in source order and applying
// its effect to the table it targets. Statements this package has no
// opinion about (CREATE FUNCTION, GRANT, CREATE SCHEMA, ...) are silently
// skipped: the differ and linter only reason about tables, columns,
// constraints, indexes, and comments.
func Parse(ddl string) (*ParsedSchema, error) {
	tree, err := pgq.Parse(ddl)
	if err != nil {
		return nil, errs.New("DIFFER_400", err, map[string]any{})
	}

	out := &ParsedSchema{Tables: map[string]*Table{}}

	for _, raw := range tree.GetStmts() {
		node := raw.GetStmt().GetNode()
		switch n := node.(type) {
		case *pgq.Node_CreateStmt:
			if err := applyCreateTable(out, n.CreateStmt); err != nil {
				return nil, err
			}
		case *pgq.Node_AlterTableStmt:
			if err := applyAlterTable(out, n.AlterTableStmt); err != nil {
				return nil, err
			}
		case *pgq.Node_IndexStmt:
			applyCreateIndex(out, n.IndexStmt)
		case *pgq.Node_CommentStmt:
			applyComment(out, n.CommentStmt)
		}
	}

	return out, nil
}

func qualifiedRangeVar(rv *pgq.RangeVar) string {
	if rv.GetSchemaname() != "" {
		return rv.GetSchemaname() + "." + rv.GetRelname()
	}
	return rv.GetRelname()
}

func applyCreateTable(out *ParsedSchema, stmt *pgq.CreateStmt) error {
	t := &Table{
		Schema: stmt.GetRelation().GetSchemaname(),
		Name:   stmt.GetRelation().GetRelname(),
	}

	for _, elt := range stmt.GetTableElts() {
		switch e := elt.GetNode().(type) {
		case *pgq.Node_ColumnDef:
			col, err := convertColumnDef(t, e.ColumnDef)
			if err != nil {
				return err
			}
			t.Columns = append(t.Columns, col)
		case *pgq.Node_Constraint:
			applyTableConstraint(t, e.Constraint)
		}
	}

	out.Tables[t.QualifiedName()] = t
	return nil
}

func convertColumnDef(t *Table, col *pgq.ColumnDef) (Column, error) {
	typeString, err := pgq.DeparseTypeName(col.GetTypeName())
	if err != nil {
		return Column{}, fmt.Errorf("deparsing type for column %s: %w", col.GetColname(), err)
	}

	c := Column{Name: col.GetColname(), Type: typeString, Nullable: true}

	if raw := col.GetRawDefault(); raw != nil {
		if expr, err := pgq.DeparseExpr(raw); err == nil {
			c.Default = nullable.NewNullableWithValue(expr)
		}
	}

	for _, cn := range col.GetConstraints() {
		constraint := cn.GetConstraint()
		switch constraint.GetContype() {
		case pgq.ConstrType_CONSTR_NOTNULL:
			c.Nullable = false
		case pgq.ConstrType_CONSTR_NULL:
			c.Nullable = true
		case pgq.ConstrType_CONSTR_UNIQUE:
			c.Unique = true
		case pgq.ConstrType_CONSTR_PRIMARY:
			c.Nullable = false
			t.PrimaryKey = append(t.PrimaryKey, c.Name)
		case pgq.ConstrType_CONSTR_DEFAULT:
			if expr, err := pgq.DeparseExpr(constraint.GetRawExpr()); err == nil {
				c.Default = nullable.NewNullableWithValue(expr)
			}
		case pgq.ConstrType_CONSTR_FOREIGN:
			t.ForeignKeys = append(t.ForeignKeys, foreignKeyFromInlineConstraint(c.Name, constraint))
		case pgq.ConstrType_CONSTR_CHECK:
			t.CheckConstraints = append(t.CheckConstraints, checkConstraintFrom(t.Name, c.Name, constraint))
		}
	}

	return c, nil
}

func foreignKeyFromInlineConstraint(column string, constraint *pgq.Constraint) ForeignKey {
	return ForeignKey{
		Name:              constraint.GetConname(),
		Columns:           []string{column},
		ReferencedTable:   qualifiedRangeVar(constraint.GetPktable()),
		ReferencedColumns: stringListFromKeys(constraint.GetPkAttrs()),
	}
}

func checkConstraintFrom(tableName, columnName string, constraint *pgq.Constraint) CheckConstraint {
	name := constraint.GetConname()
	if name == "" {
		name = tableName + "_" + columnName + "_check"
	}
	expr, _ := pgq.DeparseExpr(constraint.GetRawExpr())
	return CheckConstraint{Name: name, Expression: expr}
}

func stringListFromKeys(nodes []*pgq.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if s := n.GetString_(); s != nil {
			out = append(out, s.GetSval())
		}
	}
	return out
}

func applyTableConstraint(t *Table, constraint *pgq.Constraint) {
	switch constraint.GetContype() {
	case pgq.ConstrType_CONSTR_PRIMARY:
		t.PrimaryKey = append(t.PrimaryKey, stringListFromKeys(constraint.GetKeys())...)
	case pgq.ConstrType_CONSTR_UNIQUE:
		t.UniqueConstraints = append(t.UniqueConstraints, UniqueConstraint{
			Name:    constraint.GetConname(),
			Columns: stringListFromKeys(constraint.GetKeys()),
		})
	case pgq.ConstrType_CONSTR_FOREIGN:
		t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
			Name:              constraint.GetConname(),
			Columns:           stringListFromKeys(constraint.GetFkAttrs()),
			ReferencedTable:   qualifiedRangeVar(constraint.GetPktable()),
			ReferencedColumns: stringListFromKeys(constraint.GetPkAttrs()),
		})
	case pgq.ConstrType_CONSTR_CHECK:
		expr, _ := pgq.DeparseExpr(constraint.GetRawExpr())
		name := constraint.GetConname()
		if name == "" {
			name = t.Name + "_check"
		}
		t.CheckConstraints = append(t.CheckConstraints, CheckConstraint{Name: name, Expression: expr})
	}
}

func applyAlterTable(out *ParsedSchema, stmt *pgq.AlterTableStmt) error {
	if stmt.GetObjtype() != pgq.ObjectType_OBJECT_TABLE {
		return nil
	}
	t, ok := out.Tables[qualifiedRangeVar(stmt.GetRelation())]
	if !ok {
		return nil
	}

	for _, cmd := range stmt.GetCmds() {
		c := cmd.GetAlterTableCmd()
		if c == nil {
			continue
		}
		switch c.GetSubtype() {
		case pgq.AlterTableType_AT_AddColumn:
			if colDef := c.GetDef().GetColumnDef(); colDef != nil {
				col, err := convertColumnDef(t, colDef)
				if err != nil {
					return err
				}
				t.Columns = append(t.Columns, col)
			}
		case pgq.AlterTableType_AT_DropColumn:
			t.Columns = dropColumn(t.Columns, c.GetName())
		case pgq.AlterTableType_AT_SetNotNull:
			setNullable(t, c.GetName(), false)
		case pgq.AlterTableType_AT_DropNotNull:
			setNullable(t, c.GetName(), true)
		case pgq.AlterTableType_AT_AlterColumnType:
			if colDef := c.GetDef().GetColumnDef(); colDef != nil {
				if typeString, err := pgq.DeparseTypeName(colDef.GetTypeName()); err == nil {
					setType(t, c.GetName(), typeString)
				}
			}
		case pgq.AlterTableType_AT_ColumnDefault:
			applyColumnDefault(t, c)
		case pgq.AlterTableType_AT_AddConstraint:
			if constraint := c.GetDef().GetConstraint(); constraint != nil {
				applyTableConstraint(t, constraint)
			}
		}
	}
	return nil
}

func dropColumn(cols []Column, name string) []Column {
	out := cols[:0]
	for _, c := range cols {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}

func setNullable(t *Table, column string, nullable bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == column {
			t.Columns[i].Nullable = nullable
			return
		}
	}
}

func setType(t *Table, column, typeString string) {
	for i := range t.Columns {
		if t.Columns[i].Name == column {
			t.Columns[i].Type = typeString
			return
		}
	}
}

func applyColumnDefault(t *Table, cmd *pgq.AlterTableCmd) {
	for i := range t.Columns {
		if t.Columns[i].Name != cmd.GetName() {
			continue
		}
		if c := cmd.GetDef().GetAConst(); c != nil {
			if c.GetIsnull() {
				// ALTER COLUMN ... SET DEFAULT NULL: explicitly specified,
				// distinct from DROP DEFAULT below.
				t.Columns[i].Default = nullable.NewNullNullable[string]()
			} else {
				t.Columns[i].Default = nullable.NewNullableWithValue(constValueString(c))
			}
			return
		}
		// DROP DEFAULT: no default clause remains.
		t.Columns[i].Default = nullable.Nullable[string]{}
		return
	}
}

func constValueString(c *pgq.A_Const) string {
	if c.GetIsnull() {
		return ""
	}
	switch v := c.GetVal().(type) {
	case *pgq.A_Const_Sval:
		return v.Sval.GetSval()
	case *pgq.A_Const_Ival:
		return strconv.FormatInt(int64(v.Ival.GetIval()), 10)
	case *pgq.A_Const_Fval:
		return v.Fval.GetFval()
	case *pgq.A_Const_Boolval:
		return strconv.FormatBool(v.Boolval.GetBoolval())
	case *pgq.A_Const_Bsval:
		return v.Bsval.GetBsval()
	default:
		return ""
	}
}

func applyCreateIndex(out *ParsedSchema, stmt *pgq.IndexStmt) {
	t, ok := out.Tables[qualifiedRangeVar(stmt.GetRelation())]
	if !ok {
		return
	}

	cols := make([]string, 0, len(stmt.GetIndexParams()))
	for _, p := range stmt.GetIndexParams() {
		if name := p.GetIndexElem().GetName(); name != "" {
			cols = append(cols, name)
		}
	}

	t.Indexes = append(t.Indexes, Index{
		Name:    stmt.GetIdxname(),
		Columns: cols,
		Unique:  stmt.GetUnique(),
	})
}

func applyComment(out *ParsedSchema, stmt *pgq.CommentStmt) {
	if stmt.GetObjtype() != pgq.ObjectType_OBJECT_TABLE {
		return
	}
	list := stmt.GetObject().GetList()
	if list == nil {
		return
	}
	parts := stringListFromKeys(list.GetItems())
	name := strings.Join(parts, ".")
	for qname, t := range out.Tables {
		if qname == name || t.Name == name {
			t.Comment = stmt.GetComment()
			return
		}
	}
}

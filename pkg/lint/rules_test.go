// SPDX-License-Identifier: Apache-2.0

package lint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraiseql/confiture/pkg/errs"
	"github.com/fraiseql/confiture/pkg/lint"
	"github.com/fraiseql/confiture/pkg/schema"
)

func tableWithColumns(name string, cols ...schema.Column) *schema.Table {
	return &schema.Table{Name: name, Columns: cols}
}

func TestNamingConventionRuleDetectsCamelCaseTable(t *testing.T) {
	rule := lint.NamingConventionRule{}
	tables := []*schema.Table{{Name: "UserTable"}}

	violations := rule.Lint(tables, lint.RuleConfig{"style": "snake_case"})
	require.NotEmpty(t, violations)
	for _, v := range violations {
		assert.Equal(t, errs.SeverityError, v.Severity)
	}
}

func TestNamingConventionRuleDetectsCamelCaseColumns(t *testing.T) {
	rule := lint.NamingConventionRule{}
	tables := []*schema.Table{tableWithColumns("users",
		schema.Column{Name: "userId"}, schema.Column{Name: "firstName"})}

	violations := rule.Lint(tables, lint.RuleConfig{"style": "snake_case"})
	var messages []string
	for _, v := range violations {
		messages = append(messages, v.Message)
	}
	assert.Contains(t, messages, "Column 'userId' should use snake_case")
	assert.Contains(t, messages, "Column 'firstName' should use snake_case")
}

func TestNamingConventionRuleAcceptsSnakeCase(t *testing.T) {
	rule := lint.NamingConventionRule{}
	tables := []*schema.Table{tableWithColumns("users",
		schema.Column{Name: "user_id"}, schema.Column{Name: "first_name"})}

	assert.Empty(t, rule.Lint(tables, lint.RuleConfig{"style": "snake_case"}))
}

func TestNamingConventionRuleSuggestsFix(t *testing.T) {
	rule := lint.NamingConventionRule{}
	tables := []*schema.Table{{Name: "UserTable"}}

	violations := rule.Lint(tables, lint.RuleConfig{"style": "snake_case"})
	require.NotEmpty(t, violations)
	assert.Equal(t, "user_table", violations[0].SuggestedFix)
}

func TestPrimaryKeyRuleDetectsMissingPK(t *testing.T) {
	rule := lint.PrimaryKeyRule{}
	tables := []*schema.Table{{Name: "users"}}

	violations := rule.Lint(tables, lint.RuleConfig{})
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "PRIMARY KEY")
	assert.Equal(t, errs.SeverityError, violations[0].Severity)
}

func TestPrimaryKeyRuleAcceptsTableWithPK(t *testing.T) {
	rule := lint.PrimaryKeyRule{}
	tables := []*schema.Table{{Name: "users", PrimaryKey: []string{"id"}}}

	assert.Empty(t, rule.Lint(tables, lint.RuleConfig{}))
}

func TestPrimaryKeyRuleSkipsSystemTables(t *testing.T) {
	rule := lint.PrimaryKeyRule{}
	tables := []*schema.Table{{Name: "pg_stat_activity"}}

	assert.Empty(t, rule.Lint(tables, lint.RuleConfig{}))
}

func TestDocumentationRuleFlagsMissingComment(t *testing.T) {
	rule := lint.DocumentationRule{}
	tables := []*schema.Table{{Name: "users"}}

	violations := rule.Lint(tables, lint.RuleConfig{})
	require.Len(t, violations, 1)
	assert.Equal(t, errs.SeverityWarning, violations[0].Severity)
}

func TestDocumentationRuleAcceptsNonEmptyComment(t *testing.T) {
	rule := lint.DocumentationRule{}
	tables := []*schema.Table{{Name: "users", Comment: "registered users"}}

	assert.Empty(t, rule.Lint(tables, lint.RuleConfig{}))
}

func TestMultiTenantRuleFlagsMissingIdentifier(t *testing.T) {
	rule := lint.MultiTenantRule{}
	tables := []*schema.Table{tableWithColumns("customer_orders", schema.Column{Name: "id"})}

	violations := rule.Lint(tables, lint.RuleConfig{"identifier": "tenant_id"})
	require.Len(t, violations, 1)
	assert.Equal(t, errs.SeverityError, violations[0].Severity)
}

func TestMultiTenantRuleAcceptsTableWithIdentifier(t *testing.T) {
	rule := lint.MultiTenantRule{}
	tables := []*schema.Table{tableWithColumns("customer_orders",
		schema.Column{Name: "id"}, schema.Column{Name: "tenant_id"})}

	assert.Empty(t, rule.Lint(tables, lint.RuleConfig{"identifier": "tenant_id"}))
}

func TestMultiTenantRuleIgnoresUnrelatedTables(t *testing.T) {
	rule := lint.MultiTenantRule{}
	tables := []*schema.Table{tableWithColumns("widgets", schema.Column{Name: "id"})}

	assert.Empty(t, rule.Lint(tables, lint.RuleConfig{"identifier": "tenant_id"}))
}

func TestMissingIndexRuleFlagsUnindexedForeignKey(t *testing.T) {
	rule := lint.MissingIndexRule{}
	tables := []*schema.Table{{
		Name:        "orders",
		Columns:     []schema.Column{{Name: "customer_id"}},
		ForeignKeys: []schema.ForeignKey{{Name: "fk_customer", Columns: []string{"customer_id"}, ReferencedTable: "customers"}},
	}}

	violations := rule.Lint(tables, lint.RuleConfig{})
	require.Len(t, violations, 1)
	assert.Equal(t, errs.SeverityWarning, violations[0].Severity)
}

func TestMissingIndexRuleAcceptsIndexedForeignKey(t *testing.T) {
	rule := lint.MissingIndexRule{}
	tables := []*schema.Table{{
		Name:        "orders",
		Columns:     []schema.Column{{Name: "customer_id"}},
		ForeignKeys: []schema.ForeignKey{{Name: "fk_customer", Columns: []string{"customer_id"}, ReferencedTable: "customers"}},
		Indexes:     []schema.Index{{Name: "idx_orders_customer", Columns: []string{"customer_id"}}},
	}}

	assert.Empty(t, rule.Lint(tables, lint.RuleConfig{}))
}

func TestMissingIndexRuleRequiresColumnToLeadTheIndex(t *testing.T) {
	rule := lint.MissingIndexRule{}
	tables := []*schema.Table{{
		Name:        "orders",
		Columns:     []schema.Column{{Name: "customer_id"}},
		ForeignKeys: []schema.ForeignKey{{Name: "fk_customer", Columns: []string{"customer_id"}, ReferencedTable: "customers"}},
		Indexes:     []schema.Index{{Name: "idx_orders_created_customer", Columns: []string{"created_at", "customer_id"}}},
	}}

	violations := rule.Lint(tables, lint.RuleConfig{})
	assert.Len(t, violations, 1)
}

func TestSecurityRuleFlagsPlaintextPasswordColumn(t *testing.T) {
	rule := lint.SecurityRule{}
	tables := []*schema.Table{tableWithColumns("users", schema.Column{Name: "password", Type: "text"})}

	violations := rule.Lint(tables, lint.RuleConfig{})
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "hashed")
}

func TestSecurityRuleFlagsSensitiveColumnNames(t *testing.T) {
	rule := lint.SecurityRule{}
	tables := []*schema.Table{tableWithColumns("api_clients",
		schema.Column{Name: "api_token", Type: "text"},
		schema.Column{Name: "encryption_key", Type: "text"})}

	violations := rule.Lint(tables, lint.RuleConfig{})
	assert.Len(t, violations, 2)
	for _, v := range violations {
		assert.Contains(t, v.Message, "encrypted")
	}
}

func TestSecurityRuleIgnoresUnrelatedColumns(t *testing.T) {
	rule := lint.SecurityRule{}
	tables := []*schema.Table{tableWithColumns("users", schema.Column{Name: "email", Type: "text"})}

	assert.Empty(t, rule.Lint(tables, lint.RuleConfig{}))
}

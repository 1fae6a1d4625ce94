// SPDX-License-Identifier: Apache-2.0

package lint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fraiseql/confiture/pkg/errs"
	"github.com/fraiseql/confiture/pkg/schema"
)

// Rule is one pluggable structural check over a set of tables.
type Rule interface {
	Name() string
	Lint(tables []*schema.Table, config RuleConfig) []Violation
}

func defaultRules() map[string]Rule {
	return map[string]Rule{
		"naming_convention": NamingConventionRule{},
		"primary_key":       PrimaryKeyRule{},
		"documentation":     DocumentationRule{},
		"multi_tenant":      MultiTenantRule{},
		"missing_index":     MissingIndexRule{},
		"security":          SecurityRule{},
	}
}

// NamingConventionRule enforces snake_case on table and column names.
type NamingConventionRule struct{}

func (NamingConventionRule) Name() string { return "NamingConventionRule" }

var snakeCasePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
var camelBoundary1 = regexp.MustCompile(`([a-z0-9])([A-Z])`)
var camelBoundary2 = regexp.MustCompile(`(.)([A-Z][a-z]+)`)

func isValidName(name, style string) bool {
	if style == "snake_case" {
		return snakeCasePattern.MatchString(name)
	}
	return true
}

func suggestName(name, style string) string {
	if style != "snake_case" {
		return name
	}
	s1 := camelBoundary2.ReplaceAllString(name, "${1}_${2}")
	s2 := camelBoundary1.ReplaceAllString(s1, "${1}_${2}")
	return strings.ToLower(s2)
}

func (NamingConventionRule) Lint(tables []*schema.Table, config RuleConfig) []Violation {
	style := config.stringOr("style", "snake_case")
	var violations []Violation

	for _, t := range tables {
		if !isValidName(t.Name, style) {
			violations = append(violations, Violation{
				Rule:         "NamingConventionRule",
				Severity:     errs.SeverityError,
				Message:      fmt.Sprintf("Table '%s' should use %s", t.Name, style),
				Location:     "Table: " + t.Name,
				SuggestedFix: suggestName(t.Name, style),
			})
		}
		for _, c := range t.Columns {
			if !isValidName(c.Name, style) {
				violations = append(violations, Violation{
					Rule:         "NamingConventionRule",
					Severity:     errs.SeverityError,
					Message:      fmt.Sprintf("Column '%s' should use %s", c.Name, style),
					Location:     t.Name + "." + c.Name,
					SuggestedFix: suggestName(c.Name, style),
				})
			}
		}
	}
	return violations
}

// PrimaryKeyRule requires every non-system table to declare a primary key.
type PrimaryKeyRule struct{}

func (PrimaryKeyRule) Name() string { return "PrimaryKeyRule" }

func (PrimaryKeyRule) Lint(tables []*schema.Table, _ RuleConfig) []Violation {
	var violations []Violation
	for _, t := range tables {
		if strings.HasPrefix(t.Name, "pg_") {
			continue
		}
		if len(t.PrimaryKey) == 0 {
			violations = append(violations, Violation{
				Rule:         "PrimaryKeyRule",
				Severity:     errs.SeverityError,
				Message:      fmt.Sprintf("Table '%s' missing PRIMARY KEY", t.Name),
				Location:     "Table: " + t.Name,
				SuggestedFix: "Add PRIMARY KEY constraint",
			})
		}
	}
	return violations
}

// DocumentationRule requires every non-system table to carry a comment.
type DocumentationRule struct{}

func (DocumentationRule) Name() string { return "DocumentationRule" }

func (DocumentationRule) Lint(tables []*schema.Table, _ RuleConfig) []Violation {
	var violations []Violation
	for _, t := range tables {
		if strings.HasPrefix(t.Name, "pg_") {
			continue
		}
		if strings.TrimSpace(t.Comment) == "" {
			violations = append(violations, Violation{
				Rule:     "DocumentationRule",
				Severity: errs.SeverityWarning,
				Message:  fmt.Sprintf("Table '%s' missing documentation", t.Name),
				Location: "Table: " + t.Name,
				SuggestedFix: fmt.Sprintf(
					"Add: COMMENT ON TABLE %s IS 'Description...'", t.Name),
			})
		}
	}
	return violations
}

// MultiTenantRule requires tables whose name looks multi-tenant to
// carry a tenant identifier column.
type MultiTenantRule struct{}

func (MultiTenantRule) Name() string { return "MultiTenantRule" }

var multiTenantPatterns = []string{"customer", "tenant", "organization", "account", "workspace", "company"}

func (MultiTenantRule) Lint(tables []*schema.Table, config RuleConfig) []Violation {
	identifier := config.stringOr("identifier", "tenant_id")
	var violations []Violation

	for _, t := range tables {
		lower := strings.ToLower(t.Name)
		isMultiTenant := false
		for _, p := range multiTenantPatterns {
			if strings.Contains(lower, p) {
				isMultiTenant = true
				break
			}
		}
		if !isMultiTenant {
			continue
		}

		if _, ok := t.Column(identifier); !ok {
			violations = append(violations, Violation{
				Rule:     "MultiTenantRule",
				Severity: errs.SeverityError,
				Message:  fmt.Sprintf("Multi-tenant table '%s' missing '%s'", t.Name, identifier),
				Location: "Table: " + t.Name,
				SuggestedFix: fmt.Sprintf(
					"Add column: %s UUID REFERENCES tenants(id)", identifier),
			})
		}
	}
	return violations
}

// MissingIndexRule warns when a foreign key column does not lead any
// index on its table.
type MissingIndexRule struct{}

func (MissingIndexRule) Name() string { return "MissingIndexRule" }

func (MissingIndexRule) Lint(tables []*schema.Table, _ RuleConfig) []Violation {
	var violations []Violation
	for _, t := range tables {
		fkColumns := map[string]bool{}
		for _, fk := range t.ForeignKeys {
			for _, col := range fk.Columns {
				fkColumns[col] = true
			}
		}

		for col := range fkColumns {
			if !leadsAnyIndex(t, col) {
				violations = append(violations, Violation{
					Rule:     "MissingIndexRule",
					Severity: errs.SeverityWarning,
					Message:  fmt.Sprintf("Foreign key '%s' should be indexed", col),
					Location: t.Name + "." + col,
					SuggestedFix: fmt.Sprintf(
						"Add: CREATE INDEX ON %s(%s)", t.Name, col),
				})
			}
		}
	}
	return violations
}

func leadsAnyIndex(t *schema.Table, column string) bool {
	for _, idx := range t.Indexes {
		if len(idx.Columns) > 0 && idx.Columns[0] == column {
			return true
		}
	}
	return false
}

// SecurityRule flags columns that look like they hold sensitive data.
type SecurityRule struct{}

func (SecurityRule) Name() string { return "SecurityRule" }

var sensitiveWords = []string{"token", "secret", "key"}

func (SecurityRule) Lint(tables []*schema.Table, _ RuleConfig) []Violation {
	var violations []Violation
	for _, t := range tables {
		for _, c := range t.Columns {
			nameLower := strings.ToLower(c.Name)

			if strings.Contains(nameLower, "password") && isTextLikeType(c.Type) {
				violations = append(violations, Violation{
					Rule:         "SecurityRule",
					Severity:     errs.SeverityWarning,
					Message:      fmt.Sprintf("Column '%s' may contain passwords - should be hashed", c.Name),
					Location:     t.Name + "." + c.Name,
					SuggestedFix: "Use bcrypt/argon2 hashing, never store plain passwords",
				})
			}

			for _, word := range sensitiveWords {
				if strings.Contains(nameLower, word) {
					violations = append(violations, Violation{
						Rule:         "SecurityRule",
						Severity:     errs.SeverityWarning,
						Message:      fmt.Sprintf("Column '%s' contains sensitive data - should be encrypted", c.Name),
						Location:     t.Name + "." + c.Name,
						SuggestedFix: "Use encrypted column or external secrets manager",
					})
					break
				}
			}
		}
	}
	return violations
}

func isTextLikeType(t string) bool {
	upper := strings.ToUpper(t)
	for _, candidate := range []string{"VARCHAR", "TEXT", "CHAR"} {
		if strings.HasPrefix(upper, candidate) {
			return true
		}
	}
	return false
}

// SPDX-License-Identifier: Apache-2.0

package lint

import (
	"sort"
	"time"

	"github.com/fraiseql/confiture/pkg/errs"
	"github.com/fraiseql/confiture/pkg/schema"
)

// Linter runs every configured rule against a parsed schema and
// aggregates the result into a Report.
type Linter struct {
	Config Config
	rules  map[string]Rule
}

// NewLinter builds a Linter with the six built-in rules registered.
func NewLinter(config Config) *Linter {
	return &Linter{Config: config, rules: defaultRules()}
}

// Lint runs every rule named in l.Config.Rules against parsed,
// excluding any table named in l.Config.ExcludeTables.
func (l *Linter) Lint(schemaName string, parsed *schema.ParsedSchema) Report {
	start := time.Now()

	excluded := map[string]bool{}
	for _, name := range l.Config.ExcludeTables {
		excluded[name] = true
	}

	var tables []*schema.Table
	for _, name := range sortedTableNames(parsed) {
		if excluded[name] {
			continue
		}
		tables = append(tables, parsed.Tables[name])
	}

	var all []Violation
	for ruleName, rule := range l.rules {
		config, enabled := l.Config.Rules[ruleName]
		if !enabled {
			continue
		}
		all = append(all, rule.Lint(tables, config)...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Location != all[j].Location {
			return all[i].Location < all[j].Location
		}
		return all[i].Rule < all[j].Rule
	})

	columnsChecked := 0
	for _, t := range tables {
		columnsChecked += len(t.Columns)
	}

	errorsCount, warningsCount, infoCount := 0, 0, 0
	for _, v := range all {
		switch v.Severity {
		case errs.SeverityError, errs.SeverityCritical:
			errorsCount++
		case errs.SeverityWarning:
			warningsCount++
		case errs.SeverityInfo:
			infoCount++
		}
	}

	return Report{
		Violations:     all,
		SchemaName:     schemaName,
		TablesChecked:  len(tables),
		ColumnsChecked: columnsChecked,
		ErrorsCount:    errorsCount,
		WarningsCount:  warningsCount,
		InfoCount:      infoCount,
		ExecutionTime:  time.Since(start),
	}
}

func sortedTableNames(parsed *schema.ParsedSchema) []string {
	names := parsed.TableNames()
	sort.Strings(names)
	return names
}

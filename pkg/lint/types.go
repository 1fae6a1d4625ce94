// SPDX-License-Identifier: Apache-2.0

// Package lint runs fast structural checks over a parsed schema
// snapshot (see pkg/schema), flagging naming, documentation, security,
// and indexing problems before they reach production.
package lint

import (
	"time"

	"github.com/fraiseql/confiture/pkg/errs"
)

// Violation is one rule finding against one table or column.
type Violation struct {
	Rule         string
	Severity     errs.Severity
	Message      string
	Location     string
	SuggestedFix string
}

// RuleConfig holds one rule's free-form settings (e.g. naming style,
// the multi-tenant identifier column name).
type RuleConfig map[string]any

func (c RuleConfig) stringOr(key, fallback string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// Config selects which rules run and with what settings. A rule only
// runs when its name has an entry in Rules, mirroring the reference
// linter's "skip if not in config" gate — this is how a rule is
// disabled, rather than a separate boolean flag.
type Config struct {
	Rules         map[string]RuleConfig
	ExcludeTables []string
}

// DefaultConfig enables all six built-in rules with their default
// settings.
func DefaultConfig() Config {
	return Config{
		Rules: map[string]RuleConfig{
			"naming_convention": {"style": "snake_case"},
			"primary_key":       {},
			"documentation":     {},
			"multi_tenant":      {"identifier": "tenant_id"},
			"missing_index":     {},
			"security":          {},
		},
	}
}

// Report aggregates every violation found by one Lint run, plus counts
// and timing for the CLI/JSON output.
type Report struct {
	Violations     []Violation
	SchemaName     string
	TablesChecked  int
	ColumnsChecked int
	ErrorsCount    int
	WarningsCount  int
	InfoCount      int
	ExecutionTime  time.Duration
}

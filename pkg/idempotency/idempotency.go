// SPDX-License-Identifier: Apache-2.0

// Package idempotency flags and rewrites non-idempotent DDL statements
// in migration "up" files — statements that fail on a second run
// against a database where they already took effect (CREATE TABLE,
// CREATE INDEX, DROP TABLE and friends without an IF [NOT] EXISTS
// guard).
package idempotency

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fraiseql/confiture/pkg/errs"
)

// Pattern names one non-idempotent statement shape this package knows
// how to detect and rewrite.
type Pattern string

const (
	PatternCreateTable    Pattern = "create_table"
	PatternCreateIndex    Pattern = "create_index"
	PatternDropTable      Pattern = "drop_table"
	PatternDropIndex      Pattern = "drop_index"
	PatternCreateType     Pattern = "create_type"
	PatternAddColumn      Pattern = "add_column"
	PatternCreateSequence Pattern = "create_sequence"
)

// Violation is one non-idempotent statement found in a file.
type Violation struct {
	FilePath   string
	LineNumber int
	Pattern    Pattern
	SQLSnippet string
	Suggestion string
}

// Report aggregates every violation found across one validation run.
type Report struct {
	FilesScanned   int
	Violations     []Violation
	ViolationCount int
}

func (r Report) HasViolations() bool { return r.ViolationCount > 0 }

type rule struct {
	pattern    Pattern
	find       *regexp.Regexp
	guard      *regexp.Regexp
	suggestion string
	rewrite    func(stmt string) string
}

// rules is deliberately ordered: CREATE TABLE before CREATE INDEX so a
// CREATE UNIQUE INDEX line isn't misreported as a table statement.
var rules = []rule{
	{
		pattern:    PatternCreateTable,
		find:       regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?`),
		guard:      regexp.MustCompile(`(?i)IF\s+NOT\s+EXISTS`),
		suggestion: "Add IF NOT EXISTS: CREATE TABLE IF NOT EXISTS ...",
		rewrite: func(stmt string) string {
			return regexp.MustCompile(`(?i)^(\s*CREATE\s+TABLE\s+)`).ReplaceAllString(stmt, "${1}IF NOT EXISTS ")
		},
	},
	{
		pattern:    PatternCreateIndex,
		find:       regexp.MustCompile(`(?i)^\s*CREATE\s+(UNIQUE\s+)?INDEX\s+(?:IF\s+NOT\s+EXISTS\s+)?`),
		guard:      regexp.MustCompile(`(?i)IF\s+NOT\s+EXISTS`),
		suggestion: "Add IF NOT EXISTS: CREATE INDEX IF NOT EXISTS ...",
		rewrite: func(stmt string) string {
			return regexp.MustCompile(`(?i)^(\s*CREATE\s+(?:UNIQUE\s+)?INDEX\s+)`).ReplaceAllString(stmt, "${1}IF NOT EXISTS ")
		},
	},
	{
		pattern:    PatternCreateSequence,
		find:       regexp.MustCompile(`(?i)^\s*CREATE\s+SEQUENCE\s+(?:IF\s+NOT\s+EXISTS\s+)?`),
		guard:      regexp.MustCompile(`(?i)IF\s+NOT\s+EXISTS`),
		suggestion: "Add IF NOT EXISTS: CREATE SEQUENCE IF NOT EXISTS ...",
		rewrite: func(stmt string) string {
			return regexp.MustCompile(`(?i)^(\s*CREATE\s+SEQUENCE\s+)`).ReplaceAllString(stmt, "${1}IF NOT EXISTS ")
		},
	},
	{
		pattern:    PatternCreateType,
		find:       regexp.MustCompile(`(?i)^\s*CREATE\s+TYPE\s+`),
		guard:      regexp.MustCompile(`(?i)DO\s+\$\$`),
		suggestion: "Guard with a DO $$ ... EXCEPTION WHEN duplicate_object THEN null; END $$ block",
		rewrite:    nil, // no mechanical rewrite; flagged but not auto-fixed
	},
	{
		pattern:    PatternDropTable,
		find:       regexp.MustCompile(`(?i)^\s*DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?`),
		guard:      regexp.MustCompile(`(?i)IF\s+EXISTS`),
		suggestion: "Add IF EXISTS: DROP TABLE IF EXISTS ...",
		rewrite: func(stmt string) string {
			return regexp.MustCompile(`(?i)^(\s*DROP\s+TABLE\s+)`).ReplaceAllString(stmt, "${1}IF EXISTS ")
		},
	},
	{
		pattern:    PatternDropIndex,
		find:       regexp.MustCompile(`(?i)^\s*DROP\s+INDEX\s+(?:IF\s+EXISTS\s+)?`),
		guard:      regexp.MustCompile(`(?i)IF\s+EXISTS`),
		suggestion: "Add IF EXISTS: DROP INDEX IF EXISTS ...",
		rewrite: func(stmt string) string {
			return regexp.MustCompile(`(?i)^(\s*DROP\s+INDEX\s+)`).ReplaceAllString(stmt, "${1}IF EXISTS ")
		},
	},
	{
		pattern:    PatternAddColumn,
		find:       regexp.MustCompile(`(?i)ADD\s+COLUMN\s+(?:IF\s+NOT\s+EXISTS\s+)?`),
		guard:      regexp.MustCompile(`(?i)IF\s+NOT\s+EXISTS`),
		suggestion: "Add IF NOT EXISTS: ADD COLUMN IF NOT EXISTS ...",
		rewrite: func(stmt string) string {
			return regexp.MustCompile(`(?i)(ADD\s+COLUMN\s+)`).ReplaceAllString(stmt, "${1}IF NOT EXISTS ")
		},
	},
}

// statements splits a migration file's text into individual top-level
// SQL statements on semicolons. This is a line-oriented approximation
// — good enough for the CREATE/DROP/ALTER preambles these rules match,
// which never legitimately contain a semicolon before their own
// terminator.
func statements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func lineOf(full, stmt string) int {
	idx := strings.Index(full, stmt)
	if idx < 0 {
		return 1
	}
	return strings.Count(full[:idx], "\n") + 1
}

func snippet(stmt string) string {
	s := strings.TrimSpace(stmt)
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}

// Validate scans one migration file's SQL text and reports every
// non-idempotent statement found.
func Validate(filePath, sql string) []Violation {
	var out []Violation
	for _, stmt := range statements(sql) {
		for _, r := range rules {
			if !r.find.MatchString(stmt) {
				continue
			}
			if r.guard.MatchString(stmt) {
				continue
			}
			out = append(out, Violation{
				FilePath:   filePath,
				LineNumber: lineOf(sql, stmt),
				Pattern:    r.pattern,
				SQLSnippet: snippet(stmt),
				Suggestion: r.suggestion,
			})
			break
		}
	}
	return out
}

// ValidateAll runs Validate across a set of migration files, keyed by
// path, and aggregates the results into a Report.
func ValidateAll(files map[string]string) Report {
	report := Report{FilesScanned: len(files)}
	for path, sql := range files {
		v := Validate(path, sql)
		report.Violations = append(report.Violations, v...)
	}
	report.ViolationCount = len(report.Violations)
	return report
}

// Fix rewrites every mechanically-fixable non-idempotent statement in
// sql and returns the transformed text plus the count of rewrites
// applied. Statements this package can only flag (e.g. CREATE TYPE)
// are left untouched and still reported as remaining violations by a
// subsequent Validate call.
//
// Statements are fixed one at a time (split on ";", delimiter kept) —
// every rule's find regex except ADD COLUMN's is anchored with "^" against a single
// statement's start, so running it over the whole multi-statement file
// in one pass would only ever match the file's first statement.
func Fix(sql string) (string, int) {
	parts := splitStatements(sql)
	count := 0
	for i, stmt := range parts {
		for _, r := range rules {
			if r.rewrite == nil || !r.find.MatchString(stmt) || r.guard.MatchString(stmt) {
				continue
			}
			parts[i] = r.find.ReplaceAllStringFunc(stmt, r.rewrite)
			count++
			stmt = parts[i]
		}
	}
	return strings.Join(parts, ""), count
}

// splitStatements splits sql on ";" like statements() but keeps each
// delimiter attached to the statement before it, so the parts can be
// rejoined into byte-for-byte equivalent text (aside from the fixes
// Fix itself applies).
func splitStatements(sql string) []string {
	var parts []string
	for {
		idx := strings.Index(sql, ";")
		if idx < 0 {
			if sql != "" {
				parts = append(parts, sql)
			}
			break
		}
		parts = append(parts, sql[:idx+1])
		sql = sql[idx+1:]
	}
	return parts
}

// ErrNotIdempotent builds the registry-backed error migrate validate
// returns when --idempotent finds violations and the caller asked for
// a hard failure rather than a warning.
func ErrNotIdempotent(count int) error {
	return errs.New("MIGR_107", nil, map[string]any{"count": fmt.Sprint(count)})
}

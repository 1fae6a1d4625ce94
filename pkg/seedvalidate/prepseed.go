// SPDX-License-Identifier: Apache-2.0

package seedvalidate

import (
	"regexp"
	"strconv"
	"strings"
)

// Prep-seed violation type names, reported through Violation.ViolationType.
const (
	PrepSeedTargetMismatch = "PREP_SEED_TARGET_MISMATCH"
	InvalidFKNaming        = "INVALID_FK_NAMING"
	InvalidUUIDFormat      = "INVALID_UUID_FORMAT"
	UnionTypeMismatch      = "UNION_TYPE_MISMATCH"
)

var (
	insertSchemaPattern  = regexp.MustCompile(`(?i)INSERT\s+INTO\s+(\w+)\.(\w+)`)
	prepSeedInsertColumn = regexp.MustCompile(`(?is)INSERT\s+INTO\s+prep_seed\.\w+\s*\((.*?)\)\s*VALUES`)
	valuesParenPattern   = regexp.MustCompile(`(?is)VALUES\s*\((.*?)\)`)
	quotedStringPattern  = regexp.MustCompile(`'([^']*?)'`)
	validUUIDPattern     = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	hexLikePattern       = regexp.MustCompile(`^[0-9a-fA-F-]+$`)
	unionKeyword         = regexp.MustCompile(`(?i)\bUNION\s+(?:ALL\s+)?`)
	unionQueryPattern    = regexp.MustCompile(`(?is)(?:INSERT\s+INTO\s+\w+\.\w+\s*\([^)]*\)\s+)?(SELECT\s+[^;]+?\s+UNION\s+(?:ALL\s+)?SELECT\s+[^;]+)`)
	unionSplitPattern    = regexp.MustCompile(`(?i)\s+UNION\s+(?:ALL\s+)?`)
	selectKeywordPattern = regexp.MustCompile(`(?i)^\s*SELECT\s+`)
	selectTailPattern    = regexp.MustCompile(`(?is)\s+(FROM|WHERE|GROUP|HAVING|ORDER|LIMIT).*$`)
	nullLiteralPattern   = regexp.MustCompile(`(?i)^NULL(?:::(\w+(?:\(\d+(?:,\s*\d+)?\))?))?$`)
)

// PrepSeedValidator implements the orchestrator's Level 1 static file scan:
// it never touches a database, only the SQL text of one seed file.
type PrepSeedValidator struct{}

// ValidateSeedFile runs every Level 1 check against one seed file's SQL
// text and returns every violation found.
func (PrepSeedValidator) ValidateSeedFile(sql, filePath string) []Violation {
	var violations []Violation
	violations = append(violations, validateSchemaTarget(sql, filePath)...)
	violations = append(violations, validateFKNaming(sql, filePath)...)
	violations = append(violations, validateUUIDFormat(sql, filePath)...)
	violations = append(violations, validateUnionTypeConsistency(sql, filePath)...)
	return violations
}

func lineOf(sql string, index int) int {
	return strings.Count(sql[:index], "\n") + 1
}

func validateSchemaTarget(sql, filePath string) []Violation {
	var violations []Violation
	for _, match := range insertSchemaPattern.FindAllStringSubmatchIndex(sql, -1) {
		schema := sql[match[2]:match[3]]
		if !strings.EqualFold(schema, "prep_seed") {
			violations = append(violations, Violation{
				ViolationType: PrepSeedTargetMismatch,
				Severity:      "ERROR",
				Message:       "seed INSERT targets " + schema + " schema but should target prep_seed",
				FilePath:      filePath,
				LineNumber:    lineOf(sql, match[0]),
				Impact:        "will not load data into prep_seed tables",
				FixAvailable:  true,
				Suggestion:    "change INSERT INTO " + schema + ". to INSERT INTO prep_seed.",
			})
		}
	}
	return violations
}

func validateFKNaming(sql, filePath string) []Violation {
	var violations []Violation
	for _, match := range prepSeedInsertColumn.FindAllStringSubmatchIndex(sql, -1) {
		columnsStr := sql[match[2]:match[3]]
		lineNumber := lineOf(sql, match[0])

		for _, col := range strings.Split(columnsStr, ",") {
			col = strings.TrimSpace(col)
			lower := strings.ToLower(col)
			if strings.HasPrefix(lower, "fk_") && !strings.HasSuffix(lower, "_id") {
				violations = append(violations, Violation{
					ViolationType: InvalidFKNaming,
					Severity:      "WARNING",
					Message:       "FK column '" + col + "' missing _id suffix (should be '" + col + "_id')",
					FilePath:      filePath,
					LineNumber:    lineNumber,
					Impact:        "FK column naming convention not followed for prep_seed",
					FixAvailable:  true,
					Suggestion:    "rename column to '" + col + "_id'",
				})
			}
		}
	}
	return violations
}

func validateUUIDFormat(sql, filePath string) []Violation {
	var violations []Violation
	for _, match := range valuesParenPattern.FindAllStringSubmatchIndex(sql, -1) {
		valuesStr := sql[match[2]:match[3]]
		lineNumber := lineOf(sql, match[0])

		for _, qm := range quotedStringPattern.FindAllStringSubmatch(valuesStr, -1) {
			value := qm[1]
			looksLikeUUID := strings.Contains(value, "-") ||
				(len(value) >= 32 && hexLikePattern.MatchString(value))

			if looksLikeUUID && !validUUIDPattern.MatchString(value) {
				violations = append(violations, Violation{
					ViolationType: InvalidUUIDFormat,
					Severity:      "ERROR",
					Message:       "invalid UUID format: '" + value + "' (expected: 8-4-4-4-12 hex digits)",
					FilePath:      filePath,
					LineNumber:    lineNumber,
					Impact:        "UUID values must be valid for data integrity",
					FixAvailable:  false,
					Suggestion:    "use valid UUID format (see RFC 4122)",
				})
			}
		}
	}
	return violations
}

func validateUnionTypeConsistency(sql, filePath string) []Violation {
	var violations []Violation
	if !unionKeyword.MatchString(sql) {
		return violations
	}

	for _, match := range unionQueryPattern.FindAllStringSubmatch(sql, -1) {
		fullQuery := match[1]
		if fullQuery == "" {
			fullQuery = match[0]
		}
		idx := strings.Index(sql, fullQuery)
		lineNumber := 1
		if idx >= 0 {
			lineNumber = lineOf(sql, idx)
		}

		branches := unionSplitPattern.Split(fullQuery, -1)
		if len(branches) < 2 {
			continue
		}

		baseColumns := extractSelectColumns(branches[0])

		for branchNum, branch := range branches[1:] {
			branchColumns := extractSelectColumns(branch)

			if len(baseColumns) != len(branchColumns) {
				violations = append(violations, Violation{
					ViolationType: UnionTypeMismatch,
					Severity:      "ERROR",
					Message: "UNION branch " + strconv.Itoa(branchNum+2) + " has " + strconv.Itoa(len(branchColumns)) +
						" columns but base branch has " + strconv.Itoa(len(baseColumns)) + " columns",
					FilePath:     filePath,
					LineNumber:   lineNumber,
					Impact:       "PostgreSQL will reject: each UNION query must have same number of columns",
					FixAvailable: false,
					Suggestion:   "ensure all UNION branches have same column count",
				})
				continue
			}

			for i := range baseColumns {
				if issue := detectTypeMismatch(baseColumns[i], branchColumns[i]); issue != "" {
					violations = append(violations, Violation{
						ViolationType: UnionTypeMismatch,
						Severity:      "ERROR",
						Message:       "UNION branch " + strconv.Itoa(branchNum+2) + " column " + strconv.Itoa(i+1) + ": " + issue,
						FilePath:      filePath,
						LineNumber:    lineNumber,
						Impact:        "PostgreSQL will reject: UNION types cannot be matched",
						FixAvailable:  true,
						Suggestion:    "change '" + strings.TrimSpace(branchColumns[i]) + "' to '" + strings.TrimSpace(baseColumns[i]) + "' for type consistency",
					})
				}
			}
		}
	}

	return violations
}

// extractSelectColumns splits a "SELECT ..." clause's projection list by
// comma, respecting nested parentheses, after stripping the SELECT keyword
// and any trailing FROM/WHERE/... clause.
func extractSelectColumns(selectClause string) []string {
	clause := strings.TrimSpace(selectClause)
	clause = selectKeywordPattern.ReplaceAllString(clause, "")
	clause = selectTailPattern.ReplaceAllString(clause, "")

	var columns []string
	var current strings.Builder
	depth := 0

	for _, r := range clause {
		switch {
		case r == '(':
			depth++
			current.WriteRune(r)
		case r == ')':
			depth--
			current.WriteRune(r)
		case r == ',' && depth == 0:
			if col := strings.TrimSpace(current.String()); col != "" {
				columns = append(columns, col)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if col := strings.TrimSpace(current.String()); col != "" {
		columns = append(columns, col)
	}

	return columns
}

// detectTypeMismatch focuses on the NULL-vs-NULL::type pattern: untyped
// NULL compared against a typed NULL literal, or two differently-typed
// NULL literals, in the same UNION column position.
func detectTypeMismatch(col1, col2 string) string {
	c1 := strings.TrimSpace(col1)
	c2 := strings.TrimSpace(col2)

	m1 := nullLiteralPattern.FindStringSubmatch(c1)
	m2 := nullLiteralPattern.FindStringSubmatch(c2)
	if m1 == nil || m2 == nil {
		return ""
	}

	type1, type2 := m1[1], m2[1]
	if (type1 == "") != (type2 == "") {
		typed := type1
		if typed == "" {
			typed = type2
		}
		return "NULL type mismatch: 'NULL' vs 'NULL::" + typed + "'"
	}
	if type1 != "" && type2 != "" && !strings.EqualFold(type1, type2) {
		return "NULL type mismatch: 'NULL::" + type1 + "' vs 'NULL::" + type2 + "'"
	}
	return ""
}


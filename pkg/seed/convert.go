// SPDX-License-Identifier: Apache-2.0

package seed

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ConversionResult is the outcome of attempting to convert one INSERT
// statement to COPY format.
type ConversionResult struct {
	FilePath      string
	Success       bool
	CopyFormat    string
	RowsConverted int
	// Reason names the exact disqualifier when Success is false.
	Reason string
}

// ConversionReport aggregates a batch of ConversionResults.
type ConversionReport struct {
	TotalFiles int
	Successful int
	Failed     int
	Results    []ConversionResult
}

// SeedFile pairs a path with its SQL content for batch conversion; a
// slice (rather than a map) keeps batch ordering deterministic.
type SeedFile struct {
	Path    string
	Content string
}

// nonConvertibleExpressions are function/expression names that disqualify
// an INSERT's VALUES clause from COPY conversion even when they appear
// as a syntactically bare "name(" call — COPY has no way to express a
// function call, only literal values.
var nonConvertibleExpressions = map[string]bool{
	"NOW": true, "CURRENT_TIMESTAMP": true, "CURRENT_DATE": true, "CURRENT_TIME": true,
	"CURRENT_USER": true, "UUID_GENERATE_V4": true, "UUID_GENERATE_V1": true,
	"GEN_RANDOM_UUID": true, "RANDOM": true, "UPPER": true, "LOWER": true,
	"SUBSTRING": true, "LENGTH": true, "COALESCE": true, "NULLIF": true, "CASE": true,
	"CAST": true, "EXTRACT": true, "DATE_PART": true, "TO_CHAR": true, "TO_DATE": true,
	"TO_TIMESTAMP": true, "TO_NUMBER": true, "ROUND": true, "CEIL": true, "FLOOR": true,
	"ABS": true, "REPLACE": true, "TRIM": true, "LTRIM": true, "RTRIM": true,
	"CONCAT": true, "ARRAY": true, "ROW": true, "DISTINCT": true,
}

var (
	valuesClausePattern = regexp.MustCompile(`(?is)VALUES\s*(.+?)(?:;\s*$|\s*$)`)
	tableNamePattern    = regexp.MustCompile(`(?i)INSERT\s+INTO\s+([\w.]+)\s*\(`)
	columnsPattern      = regexp.MustCompile(`(?i)\(([\w\s,]+)\)\s*VALUES`)
	rowPattern          = regexp.MustCompile(`\(((?:'[^']*'|[^)'])+)\)`)
	selectPattern       = regexp.MustCompile(`(?i)\bSELECT\b`)
	caseWhenPattern     = regexp.MustCompile(`(?i)\bCASE\s+WHEN\b`)
	specialFuncPattern  = regexp.MustCompile(`(?i)\b(CURRENT_TIMESTAMP|CURRENT_DATE|CURRENT_TIME|CURRENT_USER)\b`)
	digitOpDigitPattern = regexp.MustCompile(`\d\s*[+*/%]\s*\d`)
	negatedLiteralParen = regexp.MustCompile(`\(\s*-\s*\d`)
)

var disqualifyingClauses = []string{"ON CONFLICT", "ON DUPLICATE", "WITH ", "INSERT OR", "RETURNING"}

// InsertToCopyConverter decides whether a literal-only INSERT statement is
// safely rewritable as COPY ... FROM stdin and performs the rewrite.
type InsertToCopyConverter struct{}

// TryConvert attempts the conversion, never returning an error: a
// statement that cannot be converted comes back with Success=false and a
// Reason naming the exact disqualifier, so callers can report per-file
// failures without aborting a batch.
func (c *InsertToCopyConverter) TryConvert(insertSQL, filePath string) ConversionResult {
	if !c.canConvert(insertSQL) {
		return ConversionResult{FilePath: filePath, Success: false, Reason: c.failureReason(insertSQL)}
	}

	copyFormat, err := c.Convert(insertSQL)
	if err != nil {
		return ConversionResult{FilePath: filePath, Success: false, Reason: "parse error: " + err.Error()}
	}

	lines := strings.Split(strings.TrimSpace(copyFormat), "\n")
	rowsConverted := len(lines) - 2 // minus header line, minus \. footer
	if rowsConverted < 0 {
		rowsConverted = 0
	}
	return ConversionResult{FilePath: filePath, Success: true, CopyFormat: copyFormat, RowsConverted: rowsConverted}
}

// ConvertBatch converts every file in files, in order, and returns
// aggregate statistics alongside the per-file results.
func (c *InsertToCopyConverter) ConvertBatch(files []SeedFile) ConversionReport {
	results := make([]ConversionResult, 0, len(files))
	successful := 0
	for _, f := range files {
		r := c.TryConvert(f.Content, f.Path)
		if r.Success {
			successful++
		}
		results = append(results, r)
	}
	return ConversionReport{
		TotalFiles: len(files),
		Successful: successful,
		Failed:     len(files) - successful,
		Results:    results,
	}
}

// Convert rewrites insertSQL as a COPY payload. Callers should check
// canConvert (via TryConvert) first; Convert itself assumes the
// statement is well-formed literal-row INSERT syntax.
func (c *InsertToCopyConverter) Convert(insertSQL string) (string, error) {
	normalized := normalizeWhitespace(insertSQL)

	tableMatch := tableNamePattern.FindStringSubmatch(normalized)
	if tableMatch == nil {
		return "", fmt.Errorf("could not extract table name from INSERT statement")
	}
	table := tableMatch[1]

	columnsMatch := columnsPattern.FindStringSubmatch(normalized)
	if columnsMatch == nil {
		return "", fmt.Errorf("could not extract columns from INSERT statement")
	}
	var columns []string
	for _, col := range strings.Split(columnsMatch[1], ",") {
		columns = append(columns, strings.TrimSpace(col))
	}

	valuesMatch := valuesClausePattern.FindStringSubmatch(normalized)
	if valuesMatch == nil {
		return "", fmt.Errorf("could not extract values from INSERT statement")
	}

	rows := parseRows(valuesMatch[1], len(columns))
	return formatCopyTable(table, columns, rows), nil
}

func (c *InsertToCopyConverter) canConvert(insertSQL string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(insertSQL))
	for _, clause := range disqualifyingClauses {
		if strings.Contains(normalized, clause) {
			return false
		}
	}

	match := valuesClausePattern.FindStringSubmatch(insertSQL)
	if match == nil {
		return false
	}
	valuesClause := match[1]

	if selectPattern.MatchString(valuesClause) {
		return false
	}
	if caseWhenPattern.MatchString(valuesClause) {
		return false
	}
	if specialFuncPattern.MatchString(valuesClause) {
		return false
	}
	if _, found := disallowedFunctionCall(valuesClause); found {
		return false
	}
	if hasConcatenation(valuesClause) {
		return false
	}
	if hasArithmetic(valuesClause) {
		return false
	}
	return true
}

func (c *InsertToCopyConverter) failureReason(insertSQL string) string {
	normalized := strings.ToUpper(strings.TrimSpace(insertSQL))
	if strings.Contains(normalized, "ON CONFLICT") {
		return "ON CONFLICT clause is not compatible with COPY format"
	}
	if strings.Contains(normalized, "ON DUPLICATE") {
		return "ON DUPLICATE KEY clause is not compatible with COPY format"
	}
	if strings.Contains(normalized, "WITH ") || strings.Contains(normalized, "INSERT OR") {
		return "CTE or INSERT OR clause is not compatible with COPY format"
	}
	if strings.Contains(normalized, "RETURNING") {
		return "RETURNING clause is not compatible with COPY format"
	}

	match := valuesClausePattern.FindStringSubmatch(insertSQL)
	if match == nil {
		return "This INSERT statement cannot be converted to COPY format"
	}
	valuesClause := match[1]

	if selectPattern.MatchString(valuesClause) {
		return "SELECT query in VALUES clause is not compatible with COPY format"
	}
	if caseWhenPattern.MatchString(valuesClause) {
		return "CASE WHEN expression in VALUES is not compatible with COPY format"
	}
	if specialFuncPattern.MatchString(valuesClause) {
		return "SQL function (CURRENT_TIMESTAMP, CURRENT_DATE, etc.) in VALUES is not compatible with COPY format"
	}
	if name, found := disallowedFunctionCall(valuesClause); found {
		return fmt.Sprintf("Function call in VALUES: %s() is not compatible with COPY format", name)
	}
	if hasConcatenation(valuesClause) {
		return "String concatenation (||) in VALUES is not compatible with COPY format"
	}

	return "This INSERT statement cannot be converted to COPY format"
}

// disallowedFunctionCall scans valuesClause, skipping quoted-string
// content, for a bare "identifier(" call that is not one of the
// whitelisted expressions and reports the first one found.
func disallowedFunctionCall(valuesClause string) (string, bool) {
	runes := []rune(valuesClause)
	n := len(runes)
	inString := false

	for i := 0; i < n; {
		ch := runes[i]
		if (ch == '\'' || ch == '"') && (i == 0 || runes[i-1] != '\\') {
			inString = !inString
			i++
			continue
		}
		if !inString && (unicode.IsLetter(ch) || ch == '_') {
			j := i
			for j < n && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			k := j
			for k < n && unicode.IsSpace(runes[k]) {
				k++
			}
			if k < n && runes[k] == '(' {
				name := string(runes[i:j])
				if nonConvertibleExpressions[strings.ToUpper(name)] {
					return name, true
				}
			}
			i = j
			continue
		}
		i++
	}
	return "", false
}

func hasConcatenation(valuesClause string) bool {
	if !strings.Contains(valuesClause, "||") {
		return false
	}
	runes := []rune(valuesClause)
	inString := false
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if (ch == '\'' || ch == '"') && (i == 0 || runes[i-1] != '\\') {
			inString = !inString
			continue
		}
		if !inString && i < len(runes)-1 && runes[i] == '|' && runes[i+1] == '|' {
			return true
		}
	}
	return false
}

// hasArithmetic mirrors the reference implementation's check: string
// content is blanked out first, then a textual op is required together
// with a digit-op-digit match. Binary minus is deliberately excluded from
// the digit-adjacency regex so unary-minus literals like (-5) are never
// flagged, matching the reference's allowance for negative numbers.
func hasArithmetic(valuesClause string) bool {
	runes := []rune(valuesClause)
	inString := false
	var blanked strings.Builder
	for i, ch := range runes {
		if (ch == '\'' || ch == '"') && (i == 0 || runes[i-1] != '\\') {
			inString = !inString
		}
		if inString {
			blanked.WriteRune(' ')
		} else {
			blanked.WriteRune(ch)
		}
	}
	normalized := blanked.String()

	for _, op := range []string{" + ", " - ", " * ", " / ", " % "} {
		if !strings.Contains(normalized, op) {
			continue
		}
		if op == " - " && negatedLiteralParen.MatchString(valuesClause) {
			continue
		}
		if digitOpDigitPattern.MatchString(normalized) {
			return true
		}
	}
	return false
}

func normalizeWhitespace(sql string) string {
	sql = strings.TrimSpace(sql)
	var result []rune
	inString := false
	var quote rune
	for _, ch := range sql {
		switch {
		case (ch == '\'' || ch == '"') && (!inString || quote == ch):
			inString = !inString
			if inString {
				quote = ch
			}
			result = append(result, ch)
		case unicode.IsSpace(ch) && !inString:
			if len(result) == 0 || result[len(result)-1] != ' ' {
				result = append(result, ' ')
			}
		default:
			result = append(result, ch)
		}
	}
	return string(result)
}

func parseRows(valuesStr string, columnCount int) []Row {
	var rows []Row
	for _, m := range rowPattern.FindAllStringSubmatch(valuesStr, -1) {
		values := parseValues(m[1])
		if len(values) == columnCount {
			rows = append(rows, values)
		}
	}
	return rows
}

func parseValues(valuesStr string) []*string {
	var values []*string
	runes := []rune(valuesStr)
	n := len(runes)
	i := 0

	for i < n {
		for i < n && (runes[i] == ' ' || runes[i] == '\t') {
			i++
		}
		if i >= n {
			break
		}

		if runes[i] == '\'' || runes[i] == '"' {
			quote := runes[i]
			i++
			var sb strings.Builder
			for i < n {
				ch := runes[i]
				if ch == quote {
					if i+1 < n && runes[i+1] == quote {
						sb.WriteRune(quote)
						i += 2
						continue
					}
					i++
					break
				}
				if ch == '\\' && i+1 < n {
					sb.WriteRune(runes[i+1])
					i += 2
					continue
				}
				sb.WriteRune(ch)
				i++
			}
			s := sb.String()
			values = append(values, &s)

			for i < n && (runes[i] == ' ' || runes[i] == '\t') {
				i++
			}
			if i < n && runes[i] == ',' {
				i++
			}
			continue
		}

		var raw strings.Builder
		for i < n && runes[i] != ',' {
			raw.WriteRune(runes[i])
			i++
		}
		values = append(values, parseSingleValue(strings.TrimSpace(raw.String())))
		if i < n && runes[i] == ',' {
			i++
		}
	}
	return values
}

func parseSingleValue(raw string) *string {
	if strings.EqualFold(raw, "NULL") {
		return nil
	}
	lower := strings.ToLower(raw)
	if lower == "true" || lower == "false" {
		return &lower
	}
	if (strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'")) ||
		(strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`)) {
		inner := raw[1 : len(raw)-1]
		inner = strings.ReplaceAll(inner, "''", "'")
		inner = strings.ReplaceAll(inner, `""`, `"`)
		return &inner
	}
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		return &raw
	}
	return &raw
}

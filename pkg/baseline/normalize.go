// SPDX-License-Identifier: Apache-2.0

// Package baseline determines which migration version a live database
// schema currently corresponds to, by comparing its normalised shape
// against a directory of schema-history snapshots — exactly, then by
// structural similarity when snapshots are sparse.
package baseline

import (
	"regexp"
	"sort"
	"strings"
)

var (
	lineCommentPattern  = regexp.MustCompile(`--[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	ifExistsPattern     = regexp.MustCompile(`(?i)\bif\s+not\s+exists\b|\bif\s+exists\b`)
	whitespacePattern   = regexp.MustCompile(`\s+`)
	createTablePattern  = regexp.MustCompile(`(?i)create\s+table\s+([a-z0-9_."]+)\s*\(`)
)

// NormalizeSchema reduces ddl to a canonical, comparison-ready form:
// comments stripped, keywords lowercased, IF [NOT] EXISTS removed,
// whitespace collapsed, and top-level CREATE TABLE blocks sorted
// alphabetically by table name. Pure and idempotent.
func NormalizeSchema(ddl string) string {
	if strings.TrimSpace(ddl) == "" {
		return ""
	}

	s := blockCommentPattern.ReplaceAllString(ddl, " ")
	s = lineCommentPattern.ReplaceAllString(s, " ")
	s = strings.ToLower(s)
	s = ifExistsPattern.ReplaceAllString(s, "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	return sortCreateTableBlocks(s)
}

// sortCreateTableBlocks reorders top-level "create table name (...)..."
// statements alphabetically by table name, leaving any non-CREATE-TABLE
// text (and relative statement ordering within each block) untouched.
func sortCreateTableBlocks(normalized string) string {
	locs := createTablePattern.FindAllStringSubmatchIndex(normalized, -1)
	if len(locs) == 0 {
		return normalized
	}

	type block struct {
		name string
		text string
	}

	var blocks []block
	preamble := normalized[:locs[0][0]]

	for i, loc := range locs {
		start := loc[0]
		end := len(normalized)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		name := normalized[loc[2]:loc[3]]
		blocks = append(blocks, block{name: name, text: strings.TrimSpace(normalized[start:end])})
	}

	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].name < blocks[j].name })

	var out strings.Builder
	out.WriteString(preamble)
	for i, b := range blocks {
		if i > 0 {
			out.WriteString(" ")
		}
		out.WriteString(b.text)
	}
	return strings.TrimSpace(out.String())
}

// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"fmt"

	"github.com/fraiseql/confiture/internal/config"
	"github.com/fraiseql/confiture/pkg/errs"
)

// commentScanState tracks the automaton's position across the file: inside
// a block comment, inside a single-quoted string, inside a dollar-quoted
// string, or inside a line comment.
type commentScanState int

const (
	stateNormal commentScanState = iota
	stateLineComment
	stateBlockComment
	stateSingleQuoted
	stateDollarQuoted
)

// scanResult reports whether a file contains any unclosed block comment and
// whether the file ends while still inside one (spillover into whatever
// file is concatenated next).
type scanResult struct {
	hasUnclosedBlock bool
	endsInsideBlock  bool
	unclosedLine     int
}

// scanComments walks text once, character by character, tracking comment
// and string-literal state so that comment openers inside string literals
// or line comments are never mistaken for real block comments.
func scanComments(text string) scanResult {
	runes := []rune(text)
	state := stateNormal
	blockDepth := 0
	var dollarTag string
	line := 1
	unclosedOpenLine := 0
	var result scanResult

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c == '\n' {
			line++
		}

		switch state {
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(runes) && runes[i+1] == '/' {
				blockDepth--
				i++
				if blockDepth == 0 {
					state = stateNormal
				}
			} else if c == '/' && i+1 < len(runes) && runes[i+1] == '*' {
				blockDepth++
				i++
			}
		case stateSingleQuoted:
			if c == '\'' {
				if i+1 < len(runes) && runes[i+1] == '\'' {
					i++
				} else {
					state = stateNormal
				}
			}
		case stateDollarQuoted:
			if c == '$' {
				if tag, ok := matchDollarTag(runes, i); ok && tag == dollarTag {
					i += len(tag) + 1
					state = stateNormal
				}
			}
		default: // stateNormal
			switch {
			case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
				state = stateLineComment
				i++
			case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
				state = stateBlockComment
				blockDepth = 1
				unclosedOpenLine = line
				i++
			case c == '\'':
				state = stateSingleQuoted
			case c == '$':
				if tag, ok := matchDollarTag(runes, i); ok {
					dollarTag = tag
					state = stateDollarQuoted
					i += len(tag) + 1
				}
			}
		}
	}

	if state == stateBlockComment {
		result.hasUnclosedBlock = true
		result.endsInsideBlock = true
		result.unclosedLine = unclosedOpenLine
	}
	return result
}

// matchDollarTag recognises a PostgreSQL dollar-quote delimiter ($$ or
// $tag$) starting at position i, returning the tag (without dollar signs)
// and whether a full delimiter was matched.
func matchDollarTag(runes []rune, i int) (string, bool) {
	j := i + 1
	for j < len(runes) && (isAlnum(runes[j]) || runes[j] == '_') {
		j++
	}
	if j < len(runes) && runes[j] == '$' {
		return string(runes[i+1 : j]), true
	}
	return "", false
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// validateComments enforces the configured unclosed-comment and spillover
// policies for a single file's contents.
func validateComments(path, text string, cfg config.CommentValidation) error {
	result := scanComments(text)

	if result.hasUnclosedBlock && cfg.FailOnUnclosedBlocks {
		return errs.New("SCHEMA_205", nil, map[string]any{"file": path})
	}
	if result.endsInsideBlock && cfg.FailOnSpillover {
		return errs.New("SCHEMA_205", nil, map[string]any{"file": fmt.Sprintf("%s (opened at line %d)", path, result.unclosedLine)})
	}
	return nil
}

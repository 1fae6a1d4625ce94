// SPDX-License-Identifier: Apache-2.0

package differ

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripTransactionWrappersStripsSemicolonForm(t *testing.T) {
	sql := "BEGIN;\nALTER TABLE foo ADD COLUMN bar TEXT;\nCOMMIT;"
	result := stripTransactionWrappers(sql)
	assert.NotContains(t, result, "BEGIN")
	assert.NotContains(t, result, "COMMIT")
	assert.Contains(t, result, "ALTER TABLE foo ADD COLUMN bar TEXT;")
}

func TestStripTransactionWrappersStripsWithoutSemicolon(t *testing.T) {
	sql := "BEGIN\nSELECT 1;\nCOMMIT"
	assert.Equal(t, "SELECT 1;", stripTransactionWrappers(sql))
}

func TestStripTransactionWrappersIsCaseInsensitive(t *testing.T) {
	sql := "begin;\nSELECT 1;\ncommit;"
	assert.Equal(t, "SELECT 1;", stripTransactionWrappers(sql))

	sql2 := "Begin;\nSELECT 1;\nCommit;"
	assert.Equal(t, "SELECT 1;", stripTransactionWrappers(sql2))
}

func TestStripTransactionWrappersDoesNotStripBeginDeferred(t *testing.T) {
	sql := "BEGIN DEFERRED;\nSELECT 1;\nCOMMIT;"
	result := stripTransactionWrappers(sql)
	assert.Contains(t, result, "BEGIN DEFERRED;")
}

func TestStripTransactionWrappersDoesNotStripPartialMidLineMatch(t *testing.T) {
	sql := "-- BEGIN migration\nSELECT 1;\n-- COMMIT done"
	result := stripTransactionWrappers(sql)
	assert.Contains(t, result, "-- BEGIN migration")
	assert.Contains(t, result, "-- COMMIT done")
}

func TestStripTransactionWrappersCollapsesLeadingTrailingBlankLines(t *testing.T) {
	sql := "\n\nBEGIN;\n\nSELECT 1;\n\nCOMMIT;\n\n"
	result := stripTransactionWrappers(sql)
	assert.Equal(t, "SELECT 1;", result)
}

func TestStripTransactionWrappersEmptyInputReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", stripTransactionWrappers(""))
}

func TestStripTransactionWrappersOnlyBeginCommitReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", stripTransactionWrappers("BEGIN;\nCOMMIT;"))
}

func TestShellQuoteLeavesSimpleTokensBare(t *testing.T) {
	assert.Equal(t, "plain_token", shellQuote("plain_token"))
}

func TestShellQuoteWrapsTokensWithSpaces(t *testing.T) {
	assert.Equal(t, "'has space'", shellQuote("has space"))
}

func TestShellQuoteEscapesEmbeddedSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

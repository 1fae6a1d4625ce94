// SPDX-License-Identifier: Apache-2.0

package viewmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimTrailingSemicolonRemovesSemicolonAndTrailingWhitespace(t *testing.T) {
	assert.Equal(t, "SELECT 1 FROM widgets", trimTrailingSemicolon("SELECT 1 FROM widgets;\n"))
}

func TestTrimTrailingSemicolonLeavesBodyWithoutSemicolonUnchanged(t *testing.T) {
	assert.Equal(t, "SELECT 1 FROM widgets", trimTrailingSemicolon("SELECT 1 FROM widgets"))
}

func TestEscapeLiteralDoublesSingleQuotes(t *testing.T) {
	assert.Equal(t, "it''s a trap''s", escapeLiteral("it's a trap's"))
}

func TestEscapeLiteralLeavesPlainTextUnchanged(t *testing.T) {
	assert.Equal(t, "catalog of widgets", escapeLiteral("catalog of widgets"))
}

func TestSavedViewQualifiedQuotesSchemaAndName(t *testing.T) {
	v := SavedView{Schema: "public", Name: "widget_skus"}
	assert.Equal(t, `"public"."widget_skus"`, v.qualified())
}

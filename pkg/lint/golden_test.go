// SPDX-License-Identifier: Apache-2.0

package lint_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/fraiseql/confiture/pkg/lint"
	"github.com/fraiseql/confiture/pkg/schema"
)

// TestLintGoldenFixtures runs every testdata/*.txtar archive (a schema.sql
// section plus the violations.txt its rules should report) through the
// linter and asserts the two stay in sync, the same golden-fixture
// shape used for schema.json conformance cases.
func TestLintGoldenFixtures(t *testing.T) {
	files, err := os.ReadDir("testdata")
	require.NoError(t, err)

	config := lint.Config{Rules: map[string]lint.RuleConfig{
		"primary_key":   {},
		"documentation": {},
	}}

	for _, file := range files {
		t.Run(file.Name(), func(t *testing.T) {
			archive, err := txtar.ParseFile(filepath.Join("testdata", file.Name()))
			require.NoError(t, err)
			require.Len(t, archive.Files, 2)

			parsed, err := schema.Parse(string(archive.Files[0].Data))
			require.NoError(t, err)

			linter := lint.NewLinter(config)
			report := linter.Lint("public", parsed)

			got := make([]string, 0, len(report.Violations))
			for _, v := range report.Violations {
				got = append(got, fmt.Sprintf("%s: %s", v.Rule, v.Location))
			}
			sort.Strings(got)

			want := splitLines(string(archive.Files[1].Data))

			assert.ElementsMatch(t, want, got)
		})
	}
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	sort.Strings(out)
	return out
}

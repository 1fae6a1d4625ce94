// SPDX-License-Identifier: Apache-2.0

package seedvalidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportTextReportsCleanPass(t *testing.T) {
	report := Report{ValidatorsRun: []string{"ForeignKeyValidator"}}
	text := report.Text()
	assert.Contains(t, text, "passed")
}

func TestReportTextListsViolations(t *testing.T) {
	report := Report{
		HasViolations:  true,
		ViolationCount: 1,
		Violations:     []Violation{{Table: "users", Message: "bad stuff"}},
	}
	text := report.Text()
	assert.Contains(t, text, "users: bad stuff")
}

func TestReportJSONRoundTripsFields(t *testing.T) {
	report := Report{
		HasViolations:  true,
		ViolationCount: 1,
		ValidatorsRun:  []string{"UniqueValidator"},
		Violations:     []Violation{{Table: "t", ViolationType: "DUPLICATE_UNIQUE_VALUE", Message: "dup"}},
	}
	out, err := report.JSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"has_violations": true`)
	assert.Contains(t, out, `"DUPLICATE_UNIQUE_VALUE"`)
}

func TestReportCSVHasHeaderAndRows(t *testing.T) {
	report := Report{
		Violations: []Violation{
			{Table: "t1", ViolationType: "X", Message: "m1"},
			{Table: "t2", ViolationType: "Y", Message: "m2"},
		},
	}
	out, err := report.CSV()
	require.NoError(t, err)
	assert.Contains(t, out, "table,type,message")
	assert.Contains(t, out, "t1,X,m1")
	assert.Contains(t, out, "t2,Y,m2")
}

func TestReportSummaryGroupsByViolationType(t *testing.T) {
	report := Report{
		HasViolations:  true,
		ViolationCount: 2,
		Violations: []Violation{
			{ViolationType: "A"},
			{ViolationType: "A"},
		},
	}
	assert.Equal(t, "found 2 violations: 2 A", report.Summary())
}

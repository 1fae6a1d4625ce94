// SPDX-License-Identifier: Apache-2.0

package seedvalidate

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// violationJSON is the wire shape for one violation in JSON/text output —
// the fields a caller actually wants surfaced, not the whole struct.
type violationJSON struct {
	Table   string `json:"table"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// reportJSON is the wire shape of a Report.
type reportJSON struct {
	HasViolations  bool            `json:"has_violations"`
	ViolationCount int             `json:"violation_count"`
	ValidatorsRun  []string        `json:"validators_run"`
	Violations     []violationJSON `json:"violations"`
}

func (r Report) toWire() reportJSON {
	out := reportJSON{
		HasViolations:  r.HasViolations,
		ViolationCount: r.ViolationCount,
		ValidatorsRun:  r.ValidatorsRun,
		Violations:     make([]violationJSON, 0, len(r.Violations)),
	}
	for _, v := range r.Violations {
		out.Violations = append(out.Violations, violationJSON{
			Table:   v.Table,
			Type:    v.ViolationType,
			Message: v.Message,
		})
	}
	return out
}

// JSON renders the report as indented JSON, matching the orchestrator's
// "serialisable to text/JSON/CSV" output contract.
func (r Report) JSON() (string, error) {
	b, err := json.MarshalIndent(r.toWire(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling seed validation report: %w", err)
	}
	return string(b), nil
}

// Text renders a human-readable summary, in the style of a CLI pass/fail
// banner followed by one line per violation.
func (r Report) Text() string {
	var sb strings.Builder
	if !r.HasViolations {
		sb.WriteString("Seed data validation passed\n")
		sb.WriteString("  validators run: " + strings.Join(r.ValidatorsRun, ", ") + "\n")
		return sb.String()
	}

	sb.WriteString("Seed data validation failed\n")
	fmt.Fprintf(&sb, "  violations found: %d\n", r.ViolationCount)
	for _, v := range r.Violations {
		fmt.Fprintf(&sb, "    - %s: %s\n", v.Table, v.Message)
	}
	return sb.String()
}

// CSV renders one row per violation (table, type, message), with a header
// row, for spreadsheet-friendly consumption.
func (r Report) CSV() (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	if err := w.Write([]string{"table", "type", "message"}); err != nil {
		return "", err
	}
	for _, v := range r.Violations {
		if err := w.Write([]string{v.Table, v.ViolationType, v.Message}); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Summary builds the one-line "Found N violations: X TYPE_A, Y TYPE_B"
// message used alongside the detailed report.
func (r Report) Summary() string {
	if !r.HasViolations {
		return "all consistency checks passed"
	}

	counts := make(map[string]int)
	for _, v := range r.Violations {
		counts[v.ViolationType]++
	}

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, strconv.Itoa(counts[t])+" "+t)
	}
	return fmt.Sprintf("found %d violations: %s", r.ViolationCount, strings.Join(parts, ", "))
}

// SPDX-License-Identifier: Apache-2.0

package seedvalidate

// Report aggregates the violations produced by one ConsistencyValidator
// run, along with which validators actually ran.
type Report struct {
	HasViolations  bool
	Violations     []Violation
	ViolationCount int
	ValidatorsRun  []string
}

// ConsistencyValidator runs the five cross-cutting validators over seed
// data and aggregates their findings into one Report. It is independent of
// the L1-L5 prep-seed levels: it checks the data itself, not the SQL that
// produced it.
type ConsistencyValidator struct {
	// StopOnFirstViolation skips every validator after the first one that
	// reports a violation, instead of always running the full suite.
	StopOnFirstViolation bool
	// CompareWithEnv2 additionally runs EnvironmentComparator against
	// Validate's env2Data argument when that argument is non-nil.
	CompareWithEnv2 bool
}

// Validate runs ForeignKey, Unique, NotNull, and Completeness in that
// order, then EnvironmentComparator if CompareWithEnv2 is set and env2Data
// is non-nil. When StopOnFirstViolation is set, a validator only runs if
// the report has no violations yet.
func (c ConsistencyValidator) Validate(seedData SeedData, schema SchemaContext, env2Data SeedData) Report {
	var report Report

	shouldRun := func() bool {
		return !c.StopOnFirstViolation || len(report.Violations) == 0
	}

	if shouldRun() {
		report.ValidatorsRun = append(report.ValidatorsRun, "ForeignKeyValidator")
		report.Violations = append(report.Violations, ForeignKeyValidator{}.Validate(seedData, schema)...)
	}

	if shouldRun() {
		report.ValidatorsRun = append(report.ValidatorsRun, "UniqueValidator")
		report.Violations = append(report.Violations, UniqueValidator{}.Validate(seedData, schema)...)
	}

	if shouldRun() {
		report.ValidatorsRun = append(report.ValidatorsRun, "NotNullValidator")
		report.Violations = append(report.Violations, NotNullValidator{}.Validate(seedData, schema)...)
	}

	if shouldRun() {
		report.ValidatorsRun = append(report.ValidatorsRun, "CompletenessValidator")
		report.Violations = append(report.Violations, CompletenessValidator{}.Validate(seedData, schema)...)
	}

	if c.CompareWithEnv2 && env2Data != nil && shouldRun() {
		report.ValidatorsRun = append(report.ValidatorsRun, "EnvironmentComparator")
		report.Violations = append(report.Violations, EnvironmentComparator{}.Compare(seedData, env2Data)...)
	}

	report.ViolationCount = len(report.Violations)
	report.HasViolations = report.ViolationCount > 0
	return report
}

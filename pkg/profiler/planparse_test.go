// SPDX-License-Identifier: Apache-2.0

package profiler

import "testing"

func TestParsePlanRowCountsExtractsEstimateAndActual(t *testing.T) {
	line := "Seq Scan on orders (cost=0.00..1.05 rows=5 width=40) (actual time=0.01..0.02 rows=7 loops=1)"
	estimated, actual, ok := parsePlanRowCounts(line)
	if !ok {
		t.Fatal("expected a parsed row count")
	}
	if estimated != 5 {
		t.Errorf("estimated = %d, want 5", estimated)
	}
	if actual != 7 {
		t.Errorf("actual = %d, want 7", actual)
	}
}

func TestParsePlanRowCountsWithoutActualFallsBackToEstimate(t *testing.T) {
	line := "Seq Scan on orders (cost=0.00..1.05 rows=5 width=40)"
	estimated, actual, ok := parsePlanRowCounts(line)
	if !ok {
		t.Fatal("expected a parsed row count")
	}
	if estimated != 5 || actual != 5 {
		t.Errorf("estimated=%d actual=%d, want both 5", estimated, actual)
	}
}

func TestParsePlanRowCountsMissingMarkerReportsNotOK(t *testing.T) {
	_, _, ok := parsePlanRowCounts("Hash Join")
	if ok {
		t.Fatal("expected no row count to be parsed")
	}
}

func TestClassifyPlanFlagsLargeSequentialScanAsPoor(t *testing.T) {
	if got := classifyPlan(true, 50_000, 50_000); got != "poor" {
		t.Errorf("classifyPlan = %q, want poor", got)
	}
}

func TestClassifyPlanFlagsMisestimateAsAcceptable(t *testing.T) {
	if got := classifyPlan(false, 10, 1000); got != "acceptable" {
		t.Errorf("classifyPlan = %q, want acceptable", got)
	}
}

func TestClassifyPlanDefaultsToGood(t *testing.T) {
	if got := classifyPlan(false, 100, 105); got != "good" {
		t.Errorf("classifyPlan = %q, want good", got)
	}
}

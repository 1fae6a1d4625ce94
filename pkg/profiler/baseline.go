// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fraiseql/confiture/pkg/dbx"
)

// BaselineStore persists and retrieves recorded performance baselines,
// keyed by (operationID, environment). Two implementations are provided:
// InMemoryBaselineStore for tests and ad-hoc use, and PostgresBaselineStore
// for durable tracking across runs.
type BaselineStore interface {
	Save(ctx context.Context, baseline PerformanceBaseline) error
	Get(ctx context.Context, operationID, environment string) (PerformanceBaseline, bool, error)
	History(ctx context.Context, operationID, environment string) ([]PerformanceBaseline, error)
}

// InMemoryBaselineStore keeps one current baseline and its full history
// per (operationID, environment) pair in process memory.
type InMemoryBaselineStore struct {
	mu      sync.Mutex
	current map[string]PerformanceBaseline
	history map[string][]PerformanceBaseline
}

// NewInMemoryBaselineStore returns an empty in-memory store.
func NewInMemoryBaselineStore() *InMemoryBaselineStore {
	return &InMemoryBaselineStore{
		current: make(map[string]PerformanceBaseline),
		history: make(map[string][]PerformanceBaseline),
	}
}

func baselineKey(operationID, environment string) string {
	return operationID + "\x00" + environment
}

func (s *InMemoryBaselineStore) Save(_ context.Context, baseline PerformanceBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := baselineKey(baseline.OperationID, baseline.Environment)
	s.current[key] = baseline
	s.history[key] = append(s.history[key], baseline)
	return nil
}

func (s *InMemoryBaselineStore) Get(_ context.Context, operationID, environment string) (PerformanceBaseline, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.current[baselineKey(operationID, environment)]
	return b, ok, nil
}

func (s *InMemoryBaselineStore) History(_ context.Context, operationID, environment string) ([]PerformanceBaseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.history[baselineKey(operationID, environment)]
	out := make([]PerformanceBaseline, len(hist))
	copy(out, hist)
	return out, nil
}

// PostgresBaselineStore persists baselines in the operator's own database,
// so that "has this operation slowed down" survives across CLI
// invocations and machines the way the tracking table does for applied
// migrations. The table is created by EnsureSchema, not by package init,
// matching Executor.Initialize's "idempotent, called on startup" shape.
type PostgresBaselineStore struct {
	DB    dbx.DB
	Table string // schema-qualified, e.g. "public.tb_confiture_perf_baseline"
}

// NewPostgresBaselineStore returns a store backed by db, recording into
// table (schema-qualified).
func NewPostgresBaselineStore(db dbx.DB, table string) *PostgresBaselineStore {
	if table == "" {
		table = "public.tb_confiture_perf_baseline"
	}
	return &PostgresBaselineStore{DB: db, Table: table}
}

// EnsureSchema creates the baseline table if it does not already exist.
// Idempotent: safe to call on every startup, like Executor.Initialize.
func (s *PostgresBaselineStore) EnsureSchema(ctx context.Context) error {
	schema, table := dbx.SplitSchemaQualified(s.Table)
	qualified := dbx.QuoteQualified(schema, table)
	_, err := s.DB.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		operation_id TEXT NOT NULL,
		environment TEXT NOT NULL,
		baseline_duration_ms DOUBLE PRECISION NOT NULL,
		confidence_lower DOUBLE PRECISION NOT NULL,
		confidence_upper DOUBLE PRECISION NOT NULL,
		sample_count INTEGER NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		recorded_by_version TEXT NOT NULL DEFAULT '',
		confidence_level DOUBLE PRECISION NOT NULL DEFAULT 0.95
	)`, qualified))
	if err != nil {
		return fmt.Errorf("profiler: creating baseline table: %w", err)
	}
	return nil
}

func (s *PostgresBaselineStore) Save(ctx context.Context, b PerformanceBaseline) error {
	schema, table := dbx.SplitSchemaQualified(s.Table)
	qualified := dbx.QuoteQualified(schema, table)
	_, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (operation_id, environment, baseline_duration_ms, confidence_lower,
			confidence_upper, sample_count, recorded_at, recorded_by_version, confidence_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, qualified),
		b.OperationID, b.Environment, b.BaselineDurationMs, b.ConfidenceLower, b.ConfidenceUpper,
		b.SampleCount, b.RecordedAt, b.RecordedByVersion, b.ConfidenceLevel)
	if err != nil {
		return fmt.Errorf("profiler: saving baseline for %s/%s: %w", b.OperationID, b.Environment, err)
	}
	return nil
}

func (s *PostgresBaselineStore) Get(ctx context.Context, operationID, environment string) (PerformanceBaseline, bool, error) {
	schema, table := dbx.SplitSchemaQualified(s.Table)
	qualified := dbx.QuoteQualified(schema, table)
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT operation_id, environment, baseline_duration_ms, confidence_lower, confidence_upper,
			sample_count, recorded_at, recorded_by_version, confidence_level
		FROM %s WHERE operation_id = $1 AND environment = $2
		ORDER BY recorded_at DESC LIMIT 1`, qualified), operationID, environment)

	var b PerformanceBaseline
	err := row.Scan(&b.OperationID, &b.Environment, &b.BaselineDurationMs, &b.ConfidenceLower,
		&b.ConfidenceUpper, &b.SampleCount, &b.RecordedAt, &b.RecordedByVersion, &b.ConfidenceLevel)
	if err == sql.ErrNoRows {
		return PerformanceBaseline{}, false, nil
	}
	if err != nil {
		return PerformanceBaseline{}, false, fmt.Errorf("profiler: loading baseline for %s/%s: %w", operationID, environment, err)
	}
	return b, true, nil
}

func (s *PostgresBaselineStore) History(ctx context.Context, operationID, environment string) ([]PerformanceBaseline, error) {
	schema, table := dbx.SplitSchemaQualified(s.Table)
	qualified := dbx.QuoteQualified(schema, table)
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT operation_id, environment, baseline_duration_ms, confidence_lower, confidence_upper,
			sample_count, recorded_at, recorded_by_version, confidence_level
		FROM %s WHERE operation_id = $1 AND environment = $2
		ORDER BY recorded_at ASC`, qualified), operationID, environment)
	if err != nil {
		return nil, fmt.Errorf("profiler: loading baseline history for %s/%s: %w", operationID, environment, err)
	}
	defer rows.Close()

	var out []PerformanceBaseline
	for rows.Next() {
		var b PerformanceBaseline
		if err := rows.Scan(&b.OperationID, &b.Environment, &b.BaselineDurationMs, &b.ConfidenceLower,
			&b.ConfidenceUpper, &b.SampleCount, &b.RecordedAt, &b.RecordedByVersion, &b.ConfidenceLevel); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BaselineManager computes baselines from fresh samples and checks later
// measurements against them, grounded directly on the reference
// PerformanceBaselineManager (record_baseline / check_regression /
// get_evolution).
type BaselineManager struct {
	Store BaselineStore

	// RegressionThresholdPercent is how far above the upper confidence
	// bound a measurement must land, as a percentage increase over the
	// baseline, before it counts as a regression rather than noise.
	RegressionThresholdPercent float64

	// StaleAfterDays flags a baseline as too old to trust once it has
	// not been refreshed in this many days.
	StaleAfterDays float64

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewBaselineManager returns a manager with the reference implementation's
// defaults: a 20% regression threshold and a 30-day staleness window.
func NewBaselineManager(store BaselineStore) *BaselineManager {
	return &BaselineManager{
		Store:                      store,
		RegressionThresholdPercent: 20.0,
		StaleAfterDays:             30,
		Now:                        time.Now,
	}
}

func (m *BaselineManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// RecordBaseline computes the mean and a 95% confidence interval
// (mean +/- 2*stdev, matching the reference's normal approximation) over
// samples and persists the result as the new baseline for operationID in
// environment.
func (m *BaselineManager) RecordBaseline(ctx context.Context, operationID, environment string, samples []float64, recordedByVersion string) (PerformanceBaseline, error) {
	if len(samples) == 0 {
		return PerformanceBaseline{}, fmt.Errorf("profiler: cannot record a baseline from zero samples")
	}

	mean := meanOf(samples)
	stdev := stdevOf(samples, mean)
	baseline := PerformanceBaseline{
		OperationID:        operationID,
		Environment:        environment,
		BaselineDurationMs: mean,
		ConfidenceLower:    mean - 2*stdev,
		ConfidenceUpper:    mean + 2*stdev,
		SampleCount:        len(samples),
		RecordedAt:         m.now(),
		RecordedByVersion:  recordedByVersion,
		ConfidenceLevel:    0.95,
	}
	if err := m.Store.Save(ctx, baseline); err != nil {
		return PerformanceBaseline{}, err
	}
	return baseline, nil
}

// CheckRegression compares actualDurationMs against the recorded baseline
// for operationID/environment, replicating the reference check_regression
// branch order exactly — including its final fallthrough: a measurement
// above the upper confidence bound that does not clear
// RegressionThresholdPercent is reported OK, not merely "not yet a
// regression". That is the reference's own behaviour, kept deliberately
// rather than tightened.
func (m *BaselineManager) CheckRegression(ctx context.Context, operationID, environment string, actualDurationMs float64) (RegressionResult, error) {
	baseline, ok, err := m.Store.Get(ctx, operationID, environment)
	if err != nil {
		return RegressionResult{}, err
	}
	if !ok {
		return RegressionResult{
			IsRegression: false,
			Reason:       "no_baseline",
			Message:      fmt.Sprintf("no baseline recorded for %s in %s", operationID, environment),
			Severity:     SeverityInfo,
		}, nil
	}

	ageDays := baseline.BaselineAgeDays(m.now())
	staleAfter := m.StaleAfterDays
	if staleAfter <= 0 {
		staleAfter = 30
	}
	if ageDays > staleAfter {
		return RegressionResult{
			IsRegression: false,
			Reason:       "baseline_stale",
			Message:      fmt.Sprintf("baseline for %s in %s is %.0f days old (recorded %s)", operationID, environment, ageDays, baseline.RecordedAt.Format(time.RFC3339)),
			Severity:     SeverityWarning,
		}, nil
	}

	if actualDurationMs < baseline.ConfidenceLower {
		return RegressionResult{
			IsRegression: false,
			Reason:       "improvement",
			Message:      fmt.Sprintf("%s in %s ran in %.2fms, below the baseline's confidence interval [%.2f, %.2f]", operationID, environment, actualDurationMs, baseline.ConfidenceLower, baseline.ConfidenceUpper),
			Severity:     SeverityInfo,
		}, nil
	}

	if actualDurationMs > baseline.ConfidenceUpper {
		threshold := m.RegressionThresholdPercent
		if threshold <= 0 {
			threshold = 20.0
		}
		percentIncrease := 0.0
		if baseline.BaselineDurationMs > 0 {
			percentIncrease = (actualDurationMs - baseline.BaselineDurationMs) / baseline.BaselineDurationMs * 100
		}
		if percentIncrease > threshold {
			return RegressionResult{
				IsRegression: true,
				Reason:       "regression",
				Message:      fmt.Sprintf("%s in %s ran in %.2fms, %.1f%% above its %.2fms baseline", operationID, environment, actualDurationMs, percentIncrease, baseline.BaselineDurationMs),
				Severity:     SeverityError,
			}, nil
		}
	}

	return RegressionResult{
		IsRegression: false,
		Reason:       "ok",
		Message:      fmt.Sprintf("%s in %s ran within its confidence interval", operationID, environment),
		Severity:     SeverityOK,
	}, nil
}

// GetEvolution returns the full recorded history of baselines for
// operationID/environment, oldest first, for trend reporting.
func (m *BaselineManager) GetEvolution(ctx context.Context, operationID, environment string) ([]PerformanceBaseline, error) {
	return m.Store.History(ctx, operationID, environment)
}

func meanOf(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// stdevOf computes the sample standard deviation (n-1 denominator,
// matching Python's statistics.stdev); a single sample has no defined
// sample variance, so it contributes a zero-width interval.
func stdevOf(samples []float64, mean float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		d := s - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(samples)-1))
}

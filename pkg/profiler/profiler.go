// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/fraiseql/confiture/pkg/dbx"
)

// QueryProfiler runs EXPLAIN (ANALYZE, BUFFERS) against a live connection
// to measure a query's real cost and plan shape, tracking the cumulative
// overhead that profiling itself adds so a caller can back off before
// profiling becomes the dominant cost.
//
// Unlike the reference implementation, QueryProfiler has no
// simulate-without-a-connection fallback: Confiture always profiles
// against the one PostgreSQL connection every other component shares, so
// that branch has no caller here (see DESIGN.md).
type QueryProfiler struct {
	DB dbx.DB

	// TargetOverheadPercent caps how much of total query time profiling
	// itself may consume before EXPLAIN ANALYZE is skipped for subsequent
	// calls (still timed, just not plan-analyzed).
	TargetOverheadPercent float64

	// SamplingRate is the fraction (0.0-1.0) of calls that run EXPLAIN
	// ANALYZE at all; the rest are timed only. 0 defaults to 1.0 (profile
	// every call).
	SamplingRate float64

	mu              sync.Mutex
	profiles        map[string]*QueryProfile
	queryTimeMs     float64
	overheadMs      float64
	totalQueries    int
	profiledQueries int
	skipped         []string
}

// New returns a QueryProfiler ready to profile queries over db.
func New(db dbx.DB) *QueryProfiler {
	return &QueryProfiler{
		DB:                    db,
		TargetOverheadPercent: 5.0,
		SamplingRate:          1.0,
		profiles:              make(map[string]*QueryProfile),
	}
}

// Profile executes query (with args), timing it and — subject to sampling
// and the overhead budget — running EXPLAIN (ANALYZE, BUFFERS) alongside it
// to capture plan shape. It returns the accumulated profile for this query
// hash and a snapshot of the profiler's overall metadata.
func (p *QueryProfiler) Profile(ctx context.Context, query string, args ...any) (*QueryProfile, ProfilingMetadata, error) {
	hash := QueryHash(query)

	start := time.Now()
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ProfilingMetadata{}, fmt.Errorf("profiler: executing query: %w", err)
	}
	for rows.Next() {
	}
	rowErr := rows.Err()
	rows.Close()
	durationMs := float64(time.Since(start)) / float64(time.Millisecond)
	if rowErr != nil {
		return nil, ProfilingMetadata{}, fmt.Errorf("profiler: reading query result: %w", rowErr)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalQueries++
	p.queryTimeMs += durationMs

	profile, ok := p.profiles[hash]
	if !ok {
		profile = &QueryProfile{QueryHash: hash, QueryText: query}
		p.profiles[hash] = profile
	}

	if !p.shouldAnalyzeLocked() {
		profile.record(durationMs, profile.HasSequentialScans, profile.HasSorts, profile.EstimatedRows, profile.ActualRows)
		return cloneProfile(profile), p.metadataLocked(), nil
	}

	analyzeStart := time.Now()
	hasSeqScan, hasSort, estimatedRows, actualRows, analyzeErr := p.explainAnalyze(ctx, query, args...)
	analyzeMs := float64(time.Since(analyzeStart)) / float64(time.Millisecond)
	p.overheadMs += analyzeMs
	p.profiledQueries++

	if analyzeErr != nil {
		p.skipped = append(p.skipped, fmt.Sprintf("%s: %v", hash, analyzeErr))
		profile.record(durationMs, profile.HasSequentialScans, profile.HasSorts, profile.EstimatedRows, profile.ActualRows)
		return cloneProfile(profile), p.metadataLocked(), nil
	}

	profile.record(durationMs, hasSeqScan, hasSort, estimatedRows, actualRows)
	return cloneProfile(profile), p.metadataLocked(), nil
}

// shouldAnalyzeLocked decides whether this call should pay for a plan
// analysis: both sampling and the overhead budget can say no. Callers
// hold p.mu.
func (p *QueryProfiler) shouldAnalyzeLocked() bool {
	rate := p.SamplingRate
	if rate <= 0 {
		rate = 1.0
	}
	if rate < 1.0 && rand.Float64() > rate {
		return false
	}
	if p.queryTimeMs <= 0 {
		return true
	}
	overheadPercent := p.overheadMs / p.queryTimeMs * 100
	target := p.TargetOverheadPercent
	if target <= 0 {
		target = 5.0
	}
	return overheadPercent < target
}

// explainAnalyze runs EXPLAIN (ANALYZE, BUFFERS, FORMAT TEXT) against
// query and scans the plan text for the two shapes the reference
// profiler flags: a sequential scan and an explicit sort step, plus the
// top-level estimated/actual row counts Postgres prints on the first
// plan line.
func (p *QueryProfiler) explainAnalyze(ctx context.Context, query string, args ...any) (hasSeqScan, hasSort bool, estimatedRows, actualRows int64, err error) {
	rows, err := p.DB.QueryContext(ctx, "EXPLAIN (ANALYZE, BUFFERS, FORMAT TEXT) "+query, args...)
	if err != nil {
		return false, false, 0, 0, err
	}
	defer rows.Close()

	seenRows := false
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return false, false, 0, 0, err
		}
		if strings.Contains(line, "Seq Scan") {
			hasSeqScan = true
		}
		if strings.Contains(line, "Sort") {
			hasSort = true
		}
		if est, act, ok := parsePlanRowCounts(line); ok && !seenRows {
			estimatedRows, actualRows = est, act
			seenRows = true
		}
	}
	return hasSeqScan, hasSort, estimatedRows, actualRows, rows.Err()
}

// parsePlanRowCounts extracts the "rows=N" estimate and the
// "actual ... rows=N" count from one EXPLAIN ANALYZE plan line, e.g.
// "Seq Scan on orders (cost=0.00..1.05 rows=5 width=40) (actual
// time=0.01..0.02 rows=5 loops=1)".
func parsePlanRowCounts(line string) (estimated, actual int64, ok bool) {
	est, estOK := extractIntAfter(line, "rows=")
	if !estOK {
		return 0, 0, false
	}
	actIdx := strings.Index(line, "(actual")
	if actIdx < 0 {
		return est, est, true
	}
	act, actOK := extractIntAfter(line[actIdx:], "rows=")
	if !actOK {
		return est, est, true
	}
	return est, act, true
}

func extractIntAfter(s, marker string) (int64, bool) {
	idx := strings.Index(s, marker)
	if idx < 0 {
		return 0, false
	}
	rest := s[idx+len(marker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	var n int64
	for _, c := range rest[:end] {
		n = n*10 + int64(c-'0')
	}
	return n, true
}

func (p *QueryProfiler) metadataLocked() ProfilingMetadata {
	overheadPercent := 0.0
	if p.queryTimeMs > 0 {
		overheadPercent = p.overheadMs / p.queryTimeMs * 100
	}
	target := p.TargetOverheadPercent
	if target <= 0 {
		target = 5.0
	}
	rate := p.SamplingRate
	if rate <= 0 {
		rate = 1.0
	}
	skipped := make([]string, len(p.skipped))
	copy(skipped, p.skipped)
	return ProfilingMetadata{
		TotalQueries:                p.totalQueries,
		ProfiledQueries:             p.profiledQueries,
		SamplingRate:                rate,
		ProfilingOverheadMs:         p.overheadMs,
		QueryTimeWithoutProfilingMs: p.queryTimeMs - p.overheadMs,
		ProfilingOverheadPercent:    overheadPercent,
		TargetOverheadPercent:       target,
		IsDeterministic:             rate >= 1.0,
		SkippedAnalysisReasons:      skipped,
	}
}

// GetProfile returns the accumulated profile for a query hash, if any
// query with that hash has been profiled.
func (p *QueryProfiler) GetProfile(hash string) (*QueryProfile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	profile, ok := p.profiles[hash]
	if !ok {
		return nil, false
	}
	return cloneProfile(profile), true
}

// AllProfiles returns every query profile accumulated so far, keyed by
// query hash.
func (p *QueryProfiler) AllProfiles() map[string]*QueryProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*QueryProfile, len(p.profiles))
	for hash, profile := range p.profiles {
		out[hash] = cloneProfile(profile)
	}
	return out
}

func cloneProfile(p *QueryProfile) *QueryProfile {
	cp := *p
	return &cp
}

// QueryHash returns the stable 8-character identifier the reference
// profiler keys profiles by: a truncated hex SHA-256 of the query text.
func QueryHash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])[:8]
}

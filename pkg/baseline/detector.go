// SPDX-License-Identifier: Apache-2.0

package baseline

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/fraiseql/confiture/internal/logging"
)

// defaultSimilarityThreshold is the minimum ratio, below which
// FindMatchingSnapshot reports no match even when a closest candidate
// was found.
const defaultSimilarityThreshold = 0.85

// ClosestMatch records the best-scoring snapshot from the most recent
// FindMatchingSnapshot call, even when it fell short of the threshold.
type ClosestMatch struct {
	Version string
	Ratio   float64
}

// Detector determines which snapshot version a piece of live schema
// DDL corresponds to: first by exact match on normalised text, then by
// structural similarity against a configurable threshold.
type Detector struct {
	Dir                 string
	SimilarityThreshold float64
	Logger              logging.Logger

	// LastClosest holds the best fuzzy candidate found by the most
	// recent FindMatchingSnapshot call that found no exact match,
	// whether or not that candidate cleared the threshold, for
	// diagnostic reporting.
	LastClosest *ClosestMatch
}

// Option configures a Detector at construction time.
type Option func(*Detector)

// WithSimilarityThreshold overrides the default 0.85 fuzzy-match
// threshold.
func WithSimilarityThreshold(threshold float64) Option {
	return func(d *Detector) { d.SimilarityThreshold = threshold }
}

// WithLogger attaches a structured logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Detector) { d.Logger = logger }
}

// NewDetector builds a Detector reading snapshots from dir.
func NewDetector(dir string, opts ...Option) *Detector {
	d := &Detector{Dir: dir, SimilarityThreshold: defaultSimilarityThreshold}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) logger() logging.Logger {
	if d.Logger == nil {
		return logging.NoopLogger
	}
	return d.Logger
}

// NormalizeSchema is exposed on Detector so callers configured with one
// detector instance don't need the package-level function separately.
func (d *Detector) NormalizeSchema(ddl string) string {
	return NormalizeSchema(ddl)
}

// LoadSnapshots reads and normalises every snapshot in d.Dir,
// newest-version first.
func (d *Detector) LoadSnapshots() ([]Snapshot, error) {
	return LoadSnapshots(d.Dir)
}

// FindMatchingSnapshot returns the version of the snapshot matching
// live, or "" if none clears the similarity threshold. Exact matches
// (on normalised text) are checked first, newest version preferred;
// only when no exact match exists does fuzzy similarity run, and
// LastClosest is updated to the best-scoring candidate regardless of
// whether it cleared the threshold.
func (d *Detector) FindMatchingSnapshot(live string) (string, error) {
	snapshots, err := d.LoadSnapshots()
	if err != nil {
		return "", err
	}
	if len(snapshots) == 0 {
		return "", nil
	}

	normLive := NormalizeSchema(live)

	for _, s := range snapshots {
		if NormalizeSchema(s.RawSQL) == normLive {
			d.logger().Debug("exact snapshot match", "version", s.Version)
			return s.Version, nil
		}
	}

	threshold := d.SimilarityThreshold
	if threshold <= 0 {
		threshold = defaultSimilarityThreshold
	}

	var best ClosestMatch
	for _, s := range snapshots {
		r := ratio(normLive, NormalizeSchema(s.RawSQL))
		if r > best.Ratio {
			best = ClosestMatch{Version: s.Version, Ratio: r}
		}
	}
	d.LastClosest = &best

	if best.Ratio >= threshold {
		d.logger().Info("fuzzy snapshot match", "version", best.Version, "ratio", best.Ratio)
		return best.Version, nil
	}
	d.logger().Debug("no snapshot cleared similarity threshold",
		"closest_version", best.Version, "closest_ratio", best.Ratio, "threshold", threshold)
	return "", nil
}

// IntrospectLiveSchema reads table/column shape from the live database
// via information_schema and renders it as comparable CREATE TABLE DDL
// — the same textual form NormalizeSchema expects — so a live database
// can be matched against the on-disk snapshots without a full parse of
// the original migration history.
func (d *Detector) IntrospectLiveSchema(ctx context.Context, db *sql.DB, schemaName string) (string, error) {
	if schemaName == "" {
		schemaName = "public"
	}

	tableRows, err := db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schemaName)
	if err != nil {
		return "", fmt.Errorf("baseline: listing tables: %w", err)
	}
	defer tableRows.Close()

	var tables []string
	for tableRows.Next() {
		var name string
		if err := tableRows.Scan(&name); err != nil {
			return "", err
		}
		tables = append(tables, name)
	}
	if err := tableRows.Err(); err != nil {
		return "", err
	}

	var stmts []string
	for _, table := range tables {
		stmt, err := d.introspectTable(ctx, db, schemaName, table)
		if err != nil {
			return "", err
		}
		stmts = append(stmts, stmt)
	}

	sort.Strings(stmts)
	return strings.Join(stmts, " "), nil
}

func (d *Detector) introspectTable(ctx context.Context, db *sql.DB, schemaName, table string) (string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schemaName, table)
	if err != nil {
		return "", fmt.Errorf("baseline: introspecting %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return "", err
		}
		col := name + " " + dataType
		if nullable == "NO" {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	return fmt.Sprintf("CREATE TABLE %s (%s);", table, strings.Join(cols, ", ")), nil
}

// SPDX-License-Identifier: Apache-2.0

// Package viewmgr supports ALTER COLUMN TYPE on tables with dependent
// views: PostgreSQL refuses the ALTER while a view still references the
// column, so the manager discovers every dependent view (including
// views-on-views), saves its definition, indexes, and comment, drops it
// in dependency order, and recreates it afterward.
package viewmgr

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/fraiseql/confiture/internal/logging"
	"github.com/fraiseql/confiture/pkg/dbx"
	"github.com/fraiseql/confiture/pkg/errs"
)

// SavedIndex is one index definition captured from a materialized view
// before it was dropped.
type SavedIndex struct {
	Name       string
	Definition string
}

// SavedView is one view or materialized view's captured state, enough to
// recreate it exactly as it was.
type SavedView struct {
	OID        int64
	Schema     string
	Name       string
	Kind       string // "v" regular view, "m" materialized view
	Depth      int    // dependency depth; 0 = depends directly on a base table
	Definition string
	Indexes    []SavedIndex
	Comment    string
}

func (v SavedView) qualified() string {
	return dbx.QuoteQualified(v.Schema, v.Name)
}

// Manager owns the in-memory set of saved views between a
// SaveAndDropDependentViews call and the matching RecreateSavedViews.
type Manager struct {
	DB     *sql.DB
	Logger logging.Logger

	saved []SavedView
}

func (m *Manager) logger() logging.Logger {
	if m.Logger == nil {
		return logging.NoopLogger
	}
	return m.Logger
}

// discoverViewsSQL walks pg_depend/pg_rewrite recursively from every base
// table (relkind r or p, covering partitioned tables) in the given
// schemas to every view or materialized view that depends on it,
// directly or transitively (views built on views).
const discoverViewsSQL = `
WITH RECURSIVE
base_tables AS (
    SELECT c.oid
    FROM pg_class c
    JOIN pg_namespace n ON n.oid = c.relnamespace
    WHERE n.nspname = ANY($1)
      AND c.relkind IN ('r', 'p')
),
view_deps AS (
    SELECT DISTINCT
        dep_view.oid,
        dep_ns.nspname  AS schema,
        dep_view.relname AS name,
        dep_view.relkind::text AS kind,
        0 AS depth
    FROM pg_depend d
    JOIN pg_rewrite rw ON d.objid = rw.oid
    JOIN pg_class dep_view ON rw.ev_class = dep_view.oid
    JOIN pg_namespace dep_ns ON dep_view.relnamespace = dep_ns.oid
    WHERE d.refobjid IN (SELECT oid FROM base_tables)
      AND dep_view.relkind IN ('v', 'm')
      AND d.deptype = 'n'
      AND dep_view.oid != d.refobjid

    UNION

    SELECT DISTINCT
        dep_view.oid,
        dep_ns.nspname,
        dep_view.relname,
        dep_view.relkind::text,
        vd.depth + 1
    FROM view_deps vd
    JOIN pg_depend d ON d.refobjid = vd.oid
    JOIN pg_rewrite rw ON d.objid = rw.oid
    JOIN pg_class dep_view ON rw.ev_class = dep_view.oid
    JOIN pg_namespace dep_ns ON dep_view.relnamespace = dep_ns.oid
    WHERE dep_view.relkind IN ('v', 'm')
      AND dep_view.oid != vd.oid
      AND d.deptype = 'n'
)
SELECT DISTINCT ON (oid) oid, schema, name, kind, depth
FROM view_deps
ORDER BY oid, depth DESC
`

// DiscoverDependentViews finds every view depending (directly or
// transitively) on a base table in schemas, sorted deepest-first (the
// order views must be dropped in). When schemas is empty, every
// non-system schema is scanned.
func (m *Manager) DiscoverDependentViews(ctx context.Context, schemas []string) ([]SavedView, error) {
	if len(schemas) == 0 {
		var err error
		schemas, err = m.userSchemas(ctx)
		if err != nil {
			return nil, err
		}
	}

	rows, err := m.DB.QueryContext(ctx, discoverViewsSQL, pq.Array(schemas))
	if err != nil {
		return nil, fmt.Errorf("discovering dependent views: %w", err)
	}
	defer rows.Close()

	var views []SavedView
	for rows.Next() {
		var v SavedView
		if err := rows.Scan(&v.OID, &v.Schema, &v.Name, &v.Kind, &v.Depth); err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range views {
		def, err := m.viewDefinition(ctx, views[i].OID)
		if err != nil {
			return nil, err
		}
		views[i].Definition = def

		if views[i].Kind == "m" {
			idx, err := m.matviewIndexes(ctx, views[i].Schema, views[i].Name)
			if err != nil {
				return nil, err
			}
			views[i].Indexes = idx
		}

		comment, err := m.viewComment(ctx, views[i].Schema, views[i].Name)
		if err != nil {
			return nil, err
		}
		views[i].Comment = comment
	}

	sort.Slice(views, func(i, j int) bool {
		if views[i].Depth != views[j].Depth {
			return views[i].Depth > views[j].Depth // deepest first
		}
		if views[i].Schema != views[j].Schema {
			return views[i].Schema < views[j].Schema
		}
		return views[i].Name < views[j].Name
	})

	return views, nil
}

func (m *Manager) userSchemas(ctx context.Context) ([]string, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT nspname FROM pg_namespace
		WHERE nspname NOT LIKE 'pg\_%' ESCAPE '\'
		  AND nspname != 'information_schema'
		ORDER BY nspname
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, rows.Err()
}

func (m *Manager) viewDefinition(ctx context.Context, oid int64) (string, error) {
	var def string
	err := m.DB.QueryRowContext(ctx, `SELECT pg_get_viewdef($1, true)`, oid).Scan(&def)
	return def, err
}

func (m *Manager) matviewIndexes(ctx context.Context, schema, name string) ([]SavedIndex, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT indexname, pg_get_indexdef(i.indexrelid)
		FROM pg_indexes pi
		JOIN pg_index i ON i.indexrelid = (
			SELECT c.oid FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = pi.schemaname AND c.relname = pi.indexname
		)
		WHERE pi.schemaname = $1 AND pi.tablename = $2
	`, schema, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []SavedIndex
	for rows.Next() {
		var idx SavedIndex
		if err := rows.Scan(&idx.Name, &idx.Definition); err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func (m *Manager) viewComment(ctx context.Context, schema, name string) (string, error) {
	var comment sql.NullString
	err := m.DB.QueryRowContext(ctx, `
		SELECT obj_description(c.oid)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`, schema, name).Scan(&comment)
	if err != nil {
		return "", err
	}
	return comment.String, nil
}

// SaveAndDropDependentViews discovers, saves, then drops every view
// depending on a base table in schemas, deepest-first. The saved state
// is held in-memory until RecreateSavedViews is called.
func (m *Manager) SaveAndDropDependentViews(ctx context.Context, schemas []string) (int, error) {
	views, err := m.DiscoverDependentViews(ctx, schemas)
	if err != nil {
		return 0, err
	}
	m.saved = views

	if len(views) == 0 {
		m.logger().Info("no dependent views found, nothing to drop")
		return 0, nil
	}

	m.logger().Info("saving and dropping dependent views", "count", len(views))

	for _, v := range views {
		stmt := "DROP VIEW IF EXISTS " + v.qualified() + " CASCADE"
		if v.Kind == "m" {
			stmt = "DROP MATERIALIZED VIEW IF EXISTS " + v.qualified() + " CASCADE"
		}
		if _, err := m.DB.ExecContext(ctx, stmt); err != nil {
			return 0, errs.New("SCHEMA_206", err, map[string]any{"view": v.Schema + "." + v.Name})
		}
	}

	return len(views), nil
}

// RecreateSavedViews recreates every previously saved view, shallowest
// first, restoring its indexes (materialized views only) and comment.
// Materialized views are created WITH NO DATA, then refreshed.
func (m *Manager) RecreateSavedViews(ctx context.Context) (int, error) {
	if len(m.saved) == 0 {
		m.logger().Info("no saved views to recreate")
		return 0, nil
	}

	ordered := make([]SavedView, len(m.saved))
	copy(ordered, m.saved)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Depth != ordered[j].Depth {
			return ordered[i].Depth < ordered[j].Depth // shallowest first
		}
		if ordered[i].Schema != ordered[j].Schema {
			return ordered[i].Schema < ordered[j].Schema
		}
		return ordered[i].Name < ordered[j].Name
	})

	m.logger().Info("recreating views", "count", len(ordered))

	for _, v := range ordered {
		if err := m.recreateOne(ctx, v); err != nil {
			return 0, errs.New("SCHEMA_207", err, map[string]any{"view": v.Schema + "." + v.Name})
		}
	}

	count := len(m.saved)
	m.saved = nil
	return count, nil
}

func (m *Manager) recreateOne(ctx context.Context, v SavedView) error {
	definition := trimTrailingSemicolon(v.Definition)
	qualified := v.qualified()

	if v.Kind == "m" {
		if _, err := m.DB.ExecContext(ctx, "CREATE MATERIALIZED VIEW "+qualified+" AS "+definition+" WITH NO DATA"); err != nil {
			return err
		}
		if _, err := m.DB.ExecContext(ctx, "REFRESH MATERIALIZED VIEW "+qualified); err != nil {
			return err
		}
	} else {
		if _, err := m.DB.ExecContext(ctx, "CREATE VIEW "+qualified+" AS "+definition); err != nil {
			return err
		}
	}

	for _, idx := range v.Indexes {
		if _, err := m.DB.ExecContext(ctx, idx.Definition); err != nil {
			return fmt.Errorf("recreating index %s: %w", idx.Name, err)
		}
	}

	if v.Comment != "" {
		kindLabel := "VIEW"
		if v.Kind == "m" {
			kindLabel = "MATERIALIZED VIEW"
		}
		escaped := escapeLiteral(v.Comment)
		if _, err := m.DB.ExecContext(ctx, "COMMENT ON "+kindLabel+" "+qualified+" IS '"+escaped+"'"); err != nil {
			return fmt.Errorf("restoring comment: %w", err)
		}
	}

	return nil
}

// GetSavedViews returns the currently saved views, for inspection.
func (m *Manager) GetSavedViews() []SavedView {
	out := make([]SavedView, len(m.saved))
	copy(out, m.saved)
	return out
}

func trimTrailingSemicolon(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == ';' {
		s = s[:len(s)-1]
	}
	return s
}

// escapeLiteral doubles single quotes, the standard SQL-string escaping
// for text embedded in COMMENT ON, which does not support parameters.
func escapeLiteral(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

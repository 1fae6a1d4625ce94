// SPDX-License-Identifier: Apache-2.0

package viewmgr

import (
	"context"
	"fmt"
)

// helpersSQL installs the confiture schema and two PL/pgSQL functions
// that mirror Manager.SaveAndDropDependentViews/RecreateSavedViews, so a
// plain .up.sql migration can drive the same workflow without going
// through the Go driver. Idempotent: CREATE SCHEMA IF NOT EXISTS and
// CREATE OR REPLACE FUNCTION make repeated installs a no-op.
const helpersSQL = `
CREATE SCHEMA IF NOT EXISTS confiture;

CREATE TABLE IF NOT EXISTS confiture._saved_views (
    oid bigint PRIMARY KEY,
    schema_name text NOT NULL,
    view_name text NOT NULL,
    kind char(1) NOT NULL,
    depth int NOT NULL,
    definition text NOT NULL,
    indexes text[] NOT NULL DEFAULT '{}',
    comment text
);
ALTER TABLE confiture._saved_views ADD COLUMN IF NOT EXISTS indexes text[] NOT NULL DEFAULT '{}';

CREATE OR REPLACE FUNCTION confiture.save_and_drop_dependent_views(schemas text[])
RETURNS int AS $$
DECLARE
    rec record;
    dropped int := 0;
BEGIN
    TRUNCATE confiture._saved_views;

    FOR rec IN
        WITH RECURSIVE
        base_tables AS (
            SELECT c.oid
            FROM pg_class c
            JOIN pg_namespace n ON n.oid = c.relnamespace
            WHERE n.nspname = ANY(schemas)
              AND c.relkind IN ('r', 'p')
        ),
        view_deps AS (
            SELECT DISTINCT
                dep_view.oid,
                dep_ns.nspname AS schema_name,
                dep_view.relname AS view_name,
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
        SELECT * FROM (
            SELECT DISTINCT ON (oid) oid, schema_name, view_name, kind, depth
            FROM view_deps
            ORDER BY oid, depth DESC
        ) deepest
        ORDER BY depth DESC, schema_name, view_name
    LOOP
        INSERT INTO confiture._saved_views (oid, schema_name, view_name, kind, depth, definition, indexes, comment)
        VALUES (
            rec.oid, rec.schema_name, rec.view_name, rec.kind, rec.depth,
            pg_get_viewdef(rec.oid, true),
            ARRAY(SELECT pg_get_indexdef(i.indexrelid) FROM pg_index i WHERE i.indrelid = rec.oid),
            obj_description(rec.oid)
        );

        IF rec.kind = 'm' THEN
            EXECUTE format('DROP MATERIALIZED VIEW IF EXISTS %I.%I CASCADE', rec.schema_name, rec.view_name);
        ELSE
            EXECUTE format('DROP VIEW IF EXISTS %I.%I CASCADE', rec.schema_name, rec.view_name);
        END IF;
        dropped := dropped + 1;
    END LOOP;

    RETURN dropped;
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE FUNCTION confiture.recreate_saved_views()
RETURNS int AS $$
DECLARE
    rec record;
    idx text;
    recreated int := 0;
BEGIN
    FOR rec IN
        SELECT * FROM confiture._saved_views ORDER BY depth ASC, schema_name, view_name
    LOOP
        IF rec.kind = 'm' THEN
            EXECUTE format('CREATE MATERIALIZED VIEW %I.%I AS %s WITH NO DATA', rec.schema_name, rec.view_name, rec.definition);
            EXECUTE format('REFRESH MATERIALIZED VIEW %I.%I', rec.schema_name, rec.view_name);
        ELSE
            EXECUTE format('CREATE VIEW %I.%I AS %s', rec.schema_name, rec.view_name, rec.definition);
        END IF;

        FOREACH idx IN ARRAY rec.indexes LOOP
            EXECUTE idx;
        END LOOP;

        IF rec.comment IS NOT NULL THEN
            EXECUTE format(
                'COMMENT ON %s %I.%I IS %L',
                CASE WHEN rec.kind = 'm' THEN 'MATERIALIZED VIEW' ELSE 'VIEW' END,
                rec.schema_name, rec.view_name, rec.comment
            );
        END IF;

        recreated := recreated + 1;
    END LOOP;

    DELETE FROM confiture._saved_views;
    RETURN recreated;
END;
$$ LANGUAGE plpgsql;
`

// InstallHelpers installs the confiture.save_and_drop_dependent_views and
// confiture.recreate_saved_views SQL functions, so SQL-only migrations
// can drive the same view lifecycle without the Go driver.
func (m *Manager) InstallHelpers(ctx context.Context) error {
	if _, err := m.DB.ExecContext(ctx, helpersSQL); err != nil {
		return fmt.Errorf("installing view manager SQL helpers: %w", err)
	}
	return nil
}

// HelpersInstalled reports whether both SQL helper functions exist in
// the confiture schema.
func (m *Manager) HelpersInstalled(ctx context.Context) (bool, error) {
	var count int
	err := m.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname = 'confiture'
		  AND p.proname IN ('save_and_drop_dependent_views', 'recreate_saved_views')
	`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count >= 2, nil
}

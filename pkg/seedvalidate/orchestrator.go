// SPDX-License-Identifier: Apache-2.0

package seedvalidate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/fraiseql/confiture/internal/logging"
	"github.com/fraiseql/confiture/pkg/dbx"
	"github.com/fraiseql/confiture/pkg/errs"
	"github.com/fraiseql/confiture/pkg/seed"
)

// Level names one of the five validation levels the orchestrator can run
// up to.
type Level int

const (
	LevelStaticScan Level = iota + 1
	LevelSchemaCoherence
	LevelResolverPresence
	LevelRuntimeDryRun
	LevelFullExecution
)

// OrchestrationConfig configures one Orchestrator.Run call.
type OrchestrationConfig struct {
	// MaxLevel is the highest level to run; every level from LevelStaticScan
	// up to and including MaxLevel runs in order.
	MaxLevel Level
	// Paths is the DDL tree scanned for fn_resolve_<table> declarations
	// (Level 3). Level 4 calls the resolvers found there as they already
	// exist in the database; it does not re-apply these files.
	Paths []string
	// DatabaseURL is required for MaxLevel >= LevelRuntimeDryRun.
	DatabaseURL string
	// StopOnCritical breaks out of the level loop as soon as a level
	// produces an ERROR-severity violation.
	StopOnCritical bool
	// ShowProgress logs one line per level as it starts.
	ShowProgress bool
}

// Orchestrator runs a user-selected prefix of the five validation levels
// over a seed tree and aggregates their violations into one Report.
type Orchestrator struct {
	Config OrchestrationConfig
	Logger logging.Logger
}

func (o *Orchestrator) logger() logging.Logger {
	if o.Logger == nil {
		return logging.NoopLogger
	}
	return o.Logger
}

// Run executes levels 1..Config.MaxLevel in order against seedFiles (the
// raw SQL text of every discovered seed file), schema (FK/unique/required
// metadata), and seedData (the parsed rows those files would insert).
func (o *Orchestrator) Run(ctx context.Context, seedFiles []seed.SeedFile, schema SchemaContext, seedData SeedData) (Report, error) {
	var report Report
	levelsRun := make([]string, 0, 5)

	runLevel := func(name string, fn func() ([]Violation, error)) (bool, error) {
		if o.Config.ShowProgress {
			o.logger().Info("running seed validation level", "level", name)
		}
		levelsRun = append(levelsRun, name)
		vs, err := fn()
		if err != nil {
			return false, err
		}
		report.Violations = append(report.Violations, vs...)
		if o.Config.StopOnCritical && hasError(vs) {
			return true, nil
		}
		return false, nil
	}

	if o.Config.MaxLevel >= LevelStaticScan {
		stop, err := runLevel("L1-static-scan", func() ([]Violation, error) {
			var vs []Violation
			validator := PrepSeedValidator{}
			for _, f := range seedFiles {
				vs = append(vs, validator.ValidateSeedFile(f.Content, f.Path)...)
			}
			return vs, nil
		})
		if err != nil {
			return Report{}, err
		}
		if stop {
			return finalizeReport(report, levelsRun), nil
		}
	}

	if o.Config.MaxLevel >= LevelSchemaCoherence {
		stop, err := runLevel("L2-schema-coherence", func() ([]Violation, error) {
			return validateSchemaCoherence(schema), nil
		})
		if err != nil {
			return Report{}, err
		}
		if stop {
			return finalizeReport(report, levelsRun), nil
		}
	}

	var catalogue *ResolverCatalogue
	if o.Config.MaxLevel >= LevelResolverPresence {
		stop, err := runLevel("L3-resolver-presence", func() ([]Violation, error) {
			cat, err := BuildResolverCatalogue(o.Config.Paths)
			if err != nil {
				return nil, err
			}
			catalogue = cat
			return validateResolverPresence(schema, cat), nil
		})
		if err != nil {
			return Report{}, err
		}
		if stop {
			return finalizeReport(report, levelsRun), nil
		}
	}

	if o.Config.MaxLevel >= LevelRuntimeDryRun {
		if o.Config.DatabaseURL == "" {
			return Report{}, errs.New("PRECON_1000", nil, map[string]any{"condition": "database_url required for L4+"})
		}
		stop, err := runLevel("L4-runtime-dry-run", func() ([]Violation, error) {
			return o.runDryRun(ctx, schema, catalogue)
		})
		if err != nil {
			return Report{}, err
		}
		if stop {
			return finalizeReport(report, levelsRun), nil
		}
	}

	if o.Config.MaxLevel >= LevelFullExecution {
		_, err := runLevel("L5-full-execution", func() ([]Violation, error) {
			return o.runFullExecution(ctx, seedFiles, schema, seedData)
		})
		if err != nil {
			return Report{}, err
		}
	}

	return finalizeReport(report, levelsRun), nil
}

func hasError(vs []Violation) bool {
	for _, v := range vs {
		if v.Severity == "ERROR" {
			return true
		}
	}
	return false
}

func finalizeReport(report Report, levelsRun []string) Report {
	report.ValidatorsRun = levelsRun
	report.ViolationCount = len(report.Violations)
	report.HasViolations = report.ViolationCount > 0
	return report
}

// validateSchemaCoherence checks that every FK column's referenced table
// and column actually exist in schema, and that the referenced column is
// declared unique — an FK can only target a real unique column.
func validateSchemaCoherence(schema SchemaContext) []Violation {
	var violations []Violation

	for tableName, tableSchema := range schema {
		for columnName, col := range tableSchema.Columns {
			if col.ForeignKey == nil {
				continue
			}
			refTable, ok := schema[col.ForeignKey.Table]
			if !ok {
				violations = append(violations, Violation{
					Table:            tableName,
					Column:           columnName,
					ReferencedTable:  col.ForeignKey.Table,
					ReferencedColumn: col.ForeignKey.Column,
					ViolationType:    "FK_TARGET_TABLE_UNKNOWN",
					Message: fmt.Sprintf("%s.%s references unknown table %s",
						tableName, columnName, col.ForeignKey.Table),
					Severity: "ERROR",
				})
				continue
			}
			refCol, ok := refTable.Columns[col.ForeignKey.Column]
			if !ok {
				violations = append(violations, Violation{
					Table:            tableName,
					Column:           columnName,
					ReferencedTable:  col.ForeignKey.Table,
					ReferencedColumn: col.ForeignKey.Column,
					ViolationType:    "FK_TARGET_COLUMN_UNKNOWN",
					Message: fmt.Sprintf("%s.%s references unknown column %s.%s",
						tableName, columnName, col.ForeignKey.Table, col.ForeignKey.Column),
					Severity: "ERROR",
				})
				continue
			}
			if !refCol.Unique && !tableHasUniqueConstraintOn(refTable, col.ForeignKey.Column) {
				violations = append(violations, Violation{
					Table:            tableName,
					Column:           columnName,
					ReferencedTable:  col.ForeignKey.Table,
					ReferencedColumn: col.ForeignKey.Column,
					ViolationType:    "FK_TARGET_NOT_UNIQUE",
					Message: fmt.Sprintf("%s.%s references %s.%s, which is not declared unique",
						tableName, columnName, col.ForeignKey.Table, col.ForeignKey.Column),
					Severity: "ERROR",
				})
			}
		}
	}

	return violations
}

func tableHasUniqueConstraintOn(table TableSchema, column string) bool {
	for _, c := range table.UniqueConstraints {
		if len(c.Columns) == 1 && c.Columns[0] == column {
			return true
		}
	}
	return false
}

// validateResolverPresence checks that every table with an FK column has
// a matching fn_resolve_<table> declared in the scanned DDL tree.
func validateResolverPresence(schema SchemaContext, catalogue *ResolverCatalogue) []Violation {
	var violations []Violation

	for tableName, tableSchema := range schema {
		needsResolver := false
		for _, col := range tableSchema.Columns {
			if col.ForeignKey != nil {
				needsResolver = true
				break
			}
		}
		if needsResolver && !catalogue.HasResolverFor(tableName) {
			violations = append(violations, Violation{
				Table:         tableName,
				ViolationType: "MISSING_RESOLVER_FUNCTION",
				Message:       fmt.Sprintf("table %s has foreign keys to resolve but fn_resolve_%s is not declared", tableName, tableName),
				Severity:      "ERROR",
			})
		}
	}

	return violations
}

// runDryRun opens a database connection and, inside one savepoint, calls
// every resolver function the Level 3 scan found, using the definition
// already in the database (the DDL files are not re-applied), then checks
// that no FK column is left NULL afterwards. Every change rolls back,
// regardless of outcome.
func (o *Orchestrator) runDryRun(ctx context.Context, schema SchemaContext, catalogue *ResolverCatalogue) ([]Violation, error) {
	db, err := sql.Open("postgres", o.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening dry-run connection: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting dry-run transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sp, err := dbx.NewSavepoint(ctx, tx, "seed_validate_dry_run")
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, resolverName := range catalogue.Declared() {
		if _, execErr := tx.ExecContext(ctx, "SELECT "+pq.QuoteIdentifier(resolverName)+"()"); execErr != nil {
			violations = append(violations, Violation{
				ViolationType: "RESOLVER_EXECUTION_FAILED",
				Message:       fmt.Sprintf("executing %s failed: %v", resolverName, execErr),
				Severity:      "ERROR",
			})
		}
	}

	for tableName, tableSchema := range schema {
		for columnName, col := range tableSchema.Columns {
			if col.ForeignKey == nil {
				continue
			}
			var nullCount int
			query := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s IS NULL",
				pq.QuoteIdentifier(tableName), pq.QuoteIdentifier(columnName))
			if scanErr := tx.QueryRowContext(ctx, query).Scan(&nullCount); scanErr != nil {
				violations = append(violations, Violation{
					Table:         tableName,
					Column:        columnName,
					ViolationType: "RESOLVER_VERIFICATION_FAILED",
					Message:       fmt.Sprintf("checking %s.%s for unresolved NULLs failed: %v", tableName, columnName, scanErr),
					Severity:      "ERROR",
				})
				continue
			}
			if nullCount > 0 {
				violations = append(violations, Violation{
					Table:         tableName,
					Column:        columnName,
					ViolationType: "UNRESOLVED_FOREIGN_KEY",
					Message:       fmt.Sprintf("%d row(s) in %s.%s still NULL after resolver execution", nullCount, tableName, columnName),
					Severity:      "ERROR",
				})
			}
		}
	}

	if rbErr := sp.RollbackTo(ctx); rbErr != nil {
		return violations, fmt.Errorf("rolling back dry-run savepoint: %w", rbErr)
	}
	return violations, nil
}

// runFullExecution applies every seed file's SQL inside its own savepoint
// within one transaction, runs the cross-cutting consistency validators
// against the parsed seedData, and rolls the whole transaction back
// regardless of outcome.
func (o *Orchestrator) runFullExecution(ctx context.Context, seedFiles []seed.SeedFile, schema SchemaContext, seedData SeedData) ([]Violation, error) {
	db, err := sql.Open("postgres", o.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening full-execution connection: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting full-execution transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var violations []Violation
	for i, f := range seedFiles {
		sp, spErr := dbx.NewSavepoint(ctx, tx, fmt.Sprintf("seed_validate_full_%d", i))
		if spErr != nil {
			return violations, spErr
		}
		if _, execErr := tx.ExecContext(ctx, f.Content); execErr != nil {
			if rbErr := sp.RollbackTo(ctx); rbErr != nil {
				return violations, fmt.Errorf("rolling back savepoint for %s: %w", f.Path, rbErr)
			}
			violations = append(violations, Violation{
				ViolationType: "SEED_EXECUTION_FAILED",
				Message:       fmt.Sprintf("executing %s failed: %v", f.Path, execErr),
				Severity:      "ERROR",
				FilePath:      f.Path,
			})
			continue
		}
		if relErr := sp.Release(ctx); relErr != nil {
			return violations, relErr
		}
	}

	consistency := ConsistencyValidator{}
	violations = append(violations, consistency.Validate(seedData, schema, nil).Violations...)

	return violations, nil
}

// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fraiseql/confiture/cmd/flags"
	"github.com/fraiseql/confiture/internal/jsonout"
	"github.com/fraiseql/confiture/internal/logging"
	"github.com/fraiseql/confiture/pkg/checksum"
	"github.com/fraiseql/confiture/pkg/differ"
	"github.com/fraiseql/confiture/pkg/errs"
	"github.com/fraiseql/confiture/pkg/executor"
	"github.com/fraiseql/confiture/pkg/idempotency"
	"github.com/fraiseql/confiture/pkg/lock"
	"github.com/fraiseql/confiture/pkg/migrations"
	"github.com/fraiseql/confiture/pkg/schema"
	"github.com/fraiseql/confiture/pkg/seed"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, inspect, and generate schema migrations",
	}
	cmd.AddCommand(
		migrateUpCmd(),
		migrateDownCmd(),
		migrateStatusCmd(),
		migrateBaselineCmd(),
		migrateReinitCmd(),
		migrateRebuildCmd(),
		migrateValidateCmd(),
		migrateFixCmd(),
		migrateGenerateCmd(),
		migrateDiffCmd(),
	)
	return cmd
}

func migrationsDirFlag(cmd *cobra.Command) *string {
	return cmd.Flags().String("migrations-dir", "db/migrations", "Migrations directory")
}

func migrateUpCmd() *cobra.Command {
	var target string
	var force bool
	var policyStr string

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("migrations-dir")

			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			db, err := openDatabase(env)
			if err != nil {
				return err
			}
			defer db.Close()

			e := &executor.Executor{
				DB:             db,
				TrackingTable:  env.Migration.TrackingTable,
				StrictMode:     env.Migration.StrictMode,
				ChecksumPolicy: checksumPolicyFromString(policyStr),
				Logger:         logging.New(),
			}
			if err := e.Initialize(cmd.Context()); err != nil {
				return err
			}

			locker := &lock.Locker{
				DB:        db,
				Enabled:   env.Migration.Locking.Enabled,
				TimeoutMs: env.Migration.Locking.TimeoutMs,
				Key:       lock.KeyFor(env.Migration.TrackingTable),
			}
			handle, err := locker.Acquire(cmd.Context())
			if err != nil {
				return err
			}
			defer handle.Release(cmd.Context())

			loaded, err := e.FindMigrationFiles(dir)
			if err != nil {
				return err
			}
			if err := executor.CheckDuplicates(loaded); err != nil {
				return err
			}

			sp, _ := pterm.DefaultSpinner.WithText("Applying migrations...").Start()
			applied, err := e.MigrateUp(cmd.Context(), executor.MigrateUpOptions{Dir: dir, Target: target, Force: force})
			if err != nil {
				sp.Fail(fmt.Sprintf("migrate up failed: %s", err))
				return err
			}
			sp.Success(fmt.Sprintf("Applied %d migration(s)", len(applied)))

			if flags.Structured() {
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{"status": "ok", "applied": applied})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
				return nil
			}
			for _, v := range applied {
				pterm.Info.Printfln("applied %s", v)
			}
			return nil
		},
	}
	migrationsDirFlag(cmd)
	cmd.Flags().StringVar(&target, "target", "", "Stop after applying this version (inclusive)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-apply every migration, including ones already recorded")
	cmd.Flags().StringVar(&policyStr, "checksum-policy", "fail",
		"Behaviour when an already-applied migration's file has drifted from its recorded checksum: fail, warn, or ignore")
	return cmd
}

func migrateDownCmd() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recently applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("migrations-dir")

			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			db, err := openDatabase(env)
			if err != nil {
				return err
			}
			defer db.Close()

			e := &executor.Executor{DB: db, TrackingTable: env.Migration.TrackingTable, StrictMode: env.Migration.StrictMode}
			locker := &lock.Locker{
				DB: db, Enabled: env.Migration.Locking.Enabled, TimeoutMs: env.Migration.Locking.TimeoutMs,
				Key: lock.KeyFor(env.Migration.TrackingTable),
			}
			handle, err := locker.Acquire(cmd.Context())
			if err != nil {
				return err
			}
			defer handle.Release(cmd.Context())

			sp, _ := pterm.DefaultSpinner.WithText(fmt.Sprintf("Rolling back %d migration(s)...", steps)).Start()
			rolledBack, err := e.MigrateDown(cmd.Context(), executor.MigrateDownOptions{Dir: dir, Steps: steps})
			if err != nil {
				sp.Fail(fmt.Sprintf("migrate down failed: %s", err))
				return err
			}
			sp.Success(fmt.Sprintf("Rolled back %d migration(s)", len(rolledBack)))

			if flags.Structured() {
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{"status": "ok", "rolled_back": rolledBack})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
			}
			return nil
		},
	}
	migrationsDirFlag(cmd)
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	return cmd
}

// migrateStatusCmd implements spec.md §6.3's semantic exit codes: 0 (no
// config/all applied), 1 (pending migrations), 2 (tracking table absent),
// 3 (fatal error).
func migrateStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("migrations-dir")

			env, err := loadEnvironment()
			if err != nil {
				if ce, ok := err.(*errs.ConfitureError); ok && ce.Code == "CONFIG_004" {
					if flags.Structured() {
						payload, _ := jsonout.MarshalStructured(flags.Format(), map[string]any{"status": "no_config"})
						fmt.Println(string(payload))
					} else {
						pterm.Warning.Println("No environment config found; migration status unknown")
					}
					return nil
				}
				return err
			}
			db, err := openDatabase(env)
			if err != nil {
				return err
			}
			defer db.Close()

			e := &executor.Executor{DB: db, TrackingTable: env.Migration.TrackingTable}

			exists, err := trackingTableExists(cmd, e)
			if err != nil {
				return err
			}
			if !exists {
				if flags.Structured() {
					payload, _ := jsonout.MarshalStructured(flags.Format(), map[string]any{"status": "no_tracking_table"})
					fmt.Println(string(payload))
				} else {
					pterm.Warning.Println("Tracking table does not exist; run 'confiture migrate up' to initialise it")
				}
				return newExitError(2)
			}

			pending, err := e.FindPending(cmd.Context(), dir)
			if err != nil {
				return err
			}

			if flags.Structured() {
				versions := make([]string, 0, len(pending))
				for _, m := range pending {
					versions = append(versions, m.Version)
				}
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{"status": "ok", "pending": versions})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
			} else {
				if len(pending) == 0 {
					pterm.Success.Println("All migrations applied")
				} else {
					rows := pterm.TableData{{"Version", "Name"}}
					for _, m := range pending {
						rows = append(rows, []string{m.Version, m.Name})
					}
					pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
				}
			}

			if len(pending) > 0 {
				return newExitError(1)
			}
			return nil
		},
	}
	migrationsDirFlag(cmd)
	return cmd
}

func trackingTableExists(cmd *cobra.Command, e *executor.Executor) (bool, error) {
	_, err := e.GetAppliedVersions(cmd.Context())
	if err != nil {
		return false, nil
	}
	return true, nil
}

func migrateBaselineCmd() *cobra.Command {
	var through string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Mark existing migrations as applied without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("migrations-dir")
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			db, err := openDatabase(env)
			if err != nil {
				return err
			}
			defer db.Close()

			e := &executor.Executor{DB: db, TrackingTable: env.Migration.TrackingTable}
			if err := e.Initialize(cmd.Context()); err != nil {
				return err
			}

			result, err := e.Baseline(cmd.Context(), through, dryRun, dir)
			if err != nil {
				return err
			}
			return renderMarkedResult("baseline", result.MigrationsMarked, dryRun)
		},
	}
	migrationsDirFlag(cmd)
	cmd.Flags().StringVar(&through, "through", "", "Mark every migration up to and including this version")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview without writing")
	return cmd
}

func migrateReinitCmd() *cobra.Command {
	var through string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reinit",
		Short: "Clear and rebuild the tracking table from migration files on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("migrations-dir")
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			db, err := openDatabase(env)
			if err != nil {
				return err
			}
			defer db.Close()

			e := &executor.Executor{DB: db, TrackingTable: env.Migration.TrackingTable}
			if err := e.Initialize(cmd.Context()); err != nil {
				return err
			}

			result, err := e.Reinit(cmd.Context(), through, dryRun, dir)
			if err != nil {
				return err
			}
			return renderMarkedResult("reinit", result.MigrationsMarked, dryRun)
		},
	}
	migrationsDirFlag(cmd)
	cmd.Flags().StringVar(&through, "through", "", "Mark every migration up to and including this version")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview without writing")
	return cmd
}

func renderMarkedResult(verb string, marked []string, dryRun bool) error {
	if flags.Structured() {
		status := "ok"
		if dryRun {
			status = "preview"
		}
		payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{"status": status, "marked": marked})
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
		return nil
	}
	verbed := "Marked"
	if dryRun {
		verbed = "Would mark"
	}
	pterm.Success.Printfln("%s %d migration(s) via %s", verbed, len(marked), verb)
	return nil
}

func migrateRebuildCmd() *cobra.Command {
	var dropSchemas, applySeeds, backupTracking, dryRun bool
	var schemaDir, seedsDir string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Drop and recreate the schema from scratch (destructive)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("migrations-dir")
			env, err := loadEnvironment()
			if err != nil {
				return err
			}

			if !dryRun && dropSchemas {
				confirmed, _ := pterm.DefaultInteractiveConfirm.
					WithDefaultText("This will DROP every user schema and rebuild from scratch. Continue?").
					Show()
				if !confirmed {
					pterm.Warning.Println("Aborted")
					return newExitError(1)
				}
			}

			db, err := openDatabase(env)
			if err != nil {
				return err
			}
			defer db.Close()

			e := &executor.Executor{DB: db, TrackingTable: env.Migration.TrackingTable}

			sp, _ := pterm.DefaultSpinner.WithText("Rebuilding schema...").Start()
			result, err := e.Rebuild(cmd.Context(), executor.RebuildOptions{
				DropSchemas:    dropSchemas,
				ApplySeeds:     applySeeds,
				BackupTracking: backupTracking,
				DryRun:         dryRun,
				SchemaDir:      schemaDir,
				MigrationsDir:  dir,
				SeedsDir:       seedsDir,
				Seeds:          &seed.Applier{DB: db},
			})
			if err != nil {
				sp.Fail(fmt.Sprintf("rebuild failed: %s", err))
				return err
			}
			sp.Success("Schema rebuilt")

			if flags.Structured() {
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status":            "ok",
					"dropped_schemas":   result.DroppedSchemas,
					"migrations_marked": result.MigrationsMarked,
					"seeds_applied":     result.SeedsApplied,
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
			}
			return nil
		},
	}
	migrationsDirFlag(cmd)
	cmd.Flags().BoolVar(&dropSchemas, "drop-schemas", false, "Drop every non-system schema before rebuilding")
	cmd.Flags().BoolVar(&applySeeds, "apply-seeds", false, "Apply seed files after rebuilding")
	cmd.Flags().BoolVar(&backupTracking, "backup-tracking", true, "Back up the tracking table before clearing it")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview without writing")
	cmd.Flags().StringVar(&schemaDir, "schema-dir", "db/schema", "Directory the concatenated DDL is built from")
	cmd.Flags().StringVar(&seedsDir, "seeds-dir", "db/seeds", "Seed files directory")
	return cmd
}

func migrateValidateCmd() *cobra.Command {
	var fixNaming, idempotent, dryRun bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check migration files follow naming and idempotency conventions",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("migrations-dir")

			result, err := migrations.Load(dir)
			if err != nil {
				return err
			}

			var idemReport idempotency.Report
			if idempotent {
				files := make(map[string]string, len(result.Migrations))
				for _, m := range result.Migrations {
					if src, ok := m.Source.(migrations.SQLPairSource); ok {
						content, rerr := readFile(src.UpPath)
						if rerr != nil {
							continue
						}
						files[src.UpPath] = content
					}
				}
				idemReport = idempotency.ValidateAll(files)
			}

			var renamedPreview []migrations.RenamedFile
			if fixNaming && len(result.Orphans) > 0 {
				renamedPreview, _, err = migrations.FixOrphanedFiles(dir, true)
				if err != nil {
					return err
				}
				if !dryRun {
					renamedPreview, _, err = migrations.FixOrphanedFiles(dir, false)
					if err != nil {
						return err
					}
				}
			}

			failing := len(result.Orphans) > 0 || idemReport.HasViolations() || result.HasDuplicateVersions()

			if flags.Structured() {
				status := "ok"
				if failing {
					status = "issues_found"
				}
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status":             status,
					"orphaned_files":     result.Orphans,
					"idempotency_issues": len(idemReport.Violations),
					"duplicate_versions": result.DuplicateVersions,
					"renamed":            renamedPreview,
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
			} else {
				renderValidateReport(result, idemReport, renamedPreview, fixNaming, dryRun)
			}

			if failing {
				return newExitError(1)
			}
			return nil
		},
	}
	migrationsDirFlag(cmd)
	cmd.Flags().BoolVar(&fixNaming, "fix-naming", false, "Auto-rename orphaned files to match the naming convention")
	cmd.Flags().BoolVar(&idempotent, "idempotent", false, "Also check migrations are safe to re-run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview --fix-naming renames without writing them")
	return cmd
}

func renderValidateReport(result migrations.LoadResult, idemReport idempotency.Report, renamed []migrations.RenamedFile, fixNaming, dryRun bool) {
	if len(result.Orphans) == 0 && !idemReport.HasViolations() && !result.HasDuplicateVersions() {
		pterm.Success.Println("No issues found")
		return
	}
	for _, o := range result.Orphans {
		pterm.Warning.Printfln("orphaned file: %s", o)
	}
	for v, files := range result.DuplicateVersions {
		if len(files) > 1 {
			pterm.Error.Printfln("duplicate version %s: %v", v, files)
		}
	}
	for _, v := range idemReport.Violations {
		pterm.Warning.Printfln("%s:%d non-idempotent %s: %s", v.FilePath, v.LineNumber, v.Pattern, v.Suggestion)
	}
	if fixNaming {
		verb := "renamed"
		if dryRun {
			verb = "would rename"
		}
		for _, r := range renamed {
			pterm.Info.Printfln("%s %s -> %s", verb, r.OldPath, r.NewPath)
		}
	}
}

func migrateFixCmd() *cobra.Command {
	var idempotent, dryRun bool

	cmd := &cobra.Command{
		Use:   "fix",
		Short: "Auto-fix non-idempotent SQL in migration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("migrations-dir")

			if !idempotent {
				pterm.Warning.Println("No fix type specified; pass --idempotent to fix idempotency issues")
				return nil
			}

			result, err := migrations.Load(dir)
			if err != nil {
				return err
			}

			type fixed struct {
				Path    string `json:"path"`
				Rewrote int    `json:"rewrote"`
			}
			var applied []fixed

			for _, m := range result.Migrations {
				src, ok := m.Source.(migrations.SQLPairSource)
				if !ok {
					continue
				}
				content, err := readFile(src.UpPath)
				if err != nil {
					continue
				}
				newContent, count := idempotency.Fix(content)
				if count == 0 {
					continue
				}
				applied = append(applied, fixed{Path: src.UpPath, Rewrote: count})
				if !dryRun {
					if err := writeFile(src.UpPath, newContent); err != nil {
						return err
					}
				}
			}

			if flags.Structured() {
				status := "fixed"
				if dryRun {
					status = "preview"
				}
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{"status": status, "fixed": applied})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
				return nil
			}

			verb := "Fixed"
			if dryRun {
				verb = "Would fix"
			}
			for _, f := range applied {
				pterm.Info.Printfln("%s %s (%d statement(s))", verb, f.Path, f.Rewrote)
			}
			if len(applied) == 0 {
				pterm.Success.Println("No non-idempotent statements found")
			}
			return nil
		},
	}
	migrationsDirFlag(cmd)
	cmd.Flags().BoolVar(&idempotent, "idempotent", false, "Fix non-idempotent SQL statements")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview changes without modifying files")
	return cmd
}

func migrateGenerateCmd() *cobra.Command {
	var name string
	var dryRun bool
	var generatorName string
	var fromPath, toPath string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new migration, blank or via a configured external generator",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("migrations-dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			env, err := loadEnvironment()
			if err != nil {
				return err
			}

			if generatorName != "" {
				gen, ok := env.Migration.MigrationGenerators[generatorName]
				if !ok {
					return fmt.Errorf("no migration_generators entry named %q", generatorName)
				}
				cfg := differ.GeneratorConfig{Command: gen.Command, Description: gen.Description, MinGeneratorVersion: gen.MinGeneratorVersion}
				if err := cfg.Validate(); err != nil {
					return err
				}
				resolved, outPath, err := differ.RunExternalGenerator(cfg, fromPath, toPath, dir, name, dryRun)
				if err != nil {
					return err
				}
				if flags.Structured() {
					payload, _ := jsonout.MarshalStructured(flags.Format(), map[string]any{"status": "ok", "command": resolved, "output": outPath})
					fmt.Println(string(payload))
				} else {
					pterm.Success.Printfln("generated %s via %s", outPath, resolved)
				}
				return nil
			}

			plan, err := differ.GenerateBlank(dir, name, dryRun)
			if err != nil {
				return err
			}
			if flags.Structured() {
				payload, _ := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status":   plan.Status,
					"version":  plan.Version,
					"up_path":  plan.UpPath,
					"warnings": plan.Warnings,
				})
				fmt.Println(string(payload))
			} else {
				pterm.Success.Printfln("generated %s (%s)", plan.UpPath, plan.Version)
				for _, w := range plan.Warnings {
					pterm.Warning.Println(w)
				}
			}
			return nil
		},
	}
	migrationsDirFlag(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Migration name (snake_case)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview without writing")
	cmd.Flags().StringVar(&generatorName, "generator", "", "Named entry under migration.migration_generators to shell out to")
	cmd.Flags().StringVar(&fromPath, "from", "", "Prior schema snapshot passed to the external generator")
	cmd.Flags().StringVar(&toPath, "to", "", "Target schema snapshot passed to the external generator")
	return cmd
}

func migrateDiffCmd() *cobra.Command {
	var fromPath, toPath string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show the structural difference between two schema snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromPath == "" || toPath == "" {
				return fmt.Errorf("--from and --to are required")
			}
			fromDDL, err := readFile(fromPath)
			if err != nil {
				return err
			}
			toDDL, err := readFile(toPath)
			if err != nil {
				return err
			}
			fromSchema, err := schema.Parse(fromDDL)
			if err != nil {
				return err
			}
			toSchema, err := schema.Parse(toDDL)
			if err != nil {
				return err
			}

			changes := differ.Diff(fromSchema, toSchema)

			if flags.Structured() {
				b, err := json.Marshal(changes)
				if err != nil {
					return err
				}
				var asAny any
				if err := json.Unmarshal(b, &asAny); err != nil {
					return err
				}
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{"status": "ok", "changes": asAny})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
				return nil
			}

			if len(changes) == 0 {
				pterm.Success.Println("No structural changes")
				return nil
			}
			rows := pterm.TableData{{"Kind", "Table", "Detail"}}
			for _, c := range changes {
				rows = append(rows, []string{string(c.Kind), c.Table, c.Detail})
			}
			pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&fromPath, "from", "", "Prior schema snapshot")
	cmd.Flags().StringVar(&toPath, "to", "", "Target schema snapshot")
	return cmd
}

func checksumPolicyFromString(s string) checksum.Policy {
	switch s {
	case "warn":
		return checksum.PolicyWarn
	case "ignore":
		return checksum.PolicyIgnore
	default:
		return checksum.PolicyFail
	}
}

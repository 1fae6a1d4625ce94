// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fraiseql/confiture/cmd/flags"
	"github.com/fraiseql/confiture/internal/jsonout"
	"github.com/fraiseql/confiture/pkg/builder"
	"github.com/fraiseql/confiture/pkg/schema"
	"github.com/fraiseql/confiture/pkg/seed"
	"github.com/fraiseql/confiture/pkg/seedvalidate"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Validate, apply, and convert seed data files",
	}
	cmd.AddCommand(seedValidateCmd(), seedApplyCmd(), seedConvertCmd())
	return cmd
}

// schemaContextFromParsed reduces a built/introspected schema down to the
// FK/unique/required shape seedvalidate checks seed data against.
func schemaContextFromParsed(parsed *schema.ParsedSchema) seedvalidate.SchemaContext {
	out := make(seedvalidate.SchemaContext, len(parsed.Tables))
	for qualified, t := range parsed.Tables {
		fkByColumn := map[string]*seedvalidate.ForeignKeyRef{}
		for _, fk := range t.ForeignKeys {
			for i, col := range fk.Columns {
				ref := &seedvalidate.ForeignKeyRef{Table: fk.ReferencedTable}
				if i < len(fk.ReferencedColumns) {
					ref.Column = fk.ReferencedColumns[i]
				}
				fkByColumn[col] = ref
			}
		}

		columns := make(map[string]seedvalidate.ColumnInfo, len(t.Columns))
		for _, c := range t.Columns {
			columns[c.Name] = seedvalidate.ColumnInfo{
				Unique:     c.Unique,
				Required:   !c.Nullable,
				ForeignKey: fkByColumn[c.Name],
			}
		}

		var uniques []seedvalidate.UniqueConstraint
		for _, uc := range t.UniqueConstraints {
			uniques = append(uniques, seedvalidate.UniqueConstraint{Columns: uc.Columns})
		}

		out[qualified] = seedvalidate.TableSchema{
			Columns:           columns,
			UniqueConstraints: uniques,
		}
	}
	return out
}

func loadSeedFiles(dir string) ([]seed.SeedFile, error) {
	paths, err := seed.FindSeedFiles(dir)
	if err != nil {
		return nil, err
	}
	files := make([]seed.SeedFile, 0, len(paths))
	for _, p := range paths {
		content, err := readFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, seed.SeedFile{Path: p, Content: content})
	}
	return files, nil
}

func seedValidateCmd() *cobra.Command {
	var level int
	var seedsDir, schemaDir string
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the seed data validation levels (static scan through full execution)",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}

			ddl, err := builder.New(env, flags.ProjectDir()).Build(builder.BuildOptions{SchemaOnly: true})
			if err != nil {
				return err
			}
			parsed, err := schema.Parse(ddl)
			if err != nil {
				return err
			}
			schemaCtx := schemaContextFromParsed(parsed)

			seedFiles, err := loadSeedFiles(seedsDir)
			if err != nil {
				return err
			}

			orch := &seedvalidate.Orchestrator{
				Config: seedvalidate.OrchestrationConfig{
					MaxLevel:       seedvalidate.Level(level),
					Paths:          []string{schemaDir},
					DatabaseURL:    env.DatabaseURL,
					StopOnCritical: true,
					ShowProgress:   showProgress,
				},
			}

			report, err := orch.Run(cmd.Context(), seedFiles, schemaCtx, nil)
			if err != nil {
				return err
			}

			if flags.Structured() {
				status := "ok"
				if report.HasViolations {
					status = "issues_found"
				}
				warnings := make([]string, 0, len(report.Violations))
				for _, v := range report.Violations {
					warnings = append(warnings, v.Message)
				}
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status":          status,
					"violation_count": report.ViolationCount,
					"validators_run":  report.ValidatorsRun,
					"warnings":        warnings,
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
			} else {
				fmt.Println(report.Text())
			}

			if report.HasViolations {
				return newExitError(1)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", int(seedvalidate.LevelSchemaCoherence), "Highest validation level to run (1-5)")
	cmd.Flags().StringVar(&seedsDir, "seeds-dir", "db/seeds", "Seed files directory")
	cmd.Flags().StringVar(&schemaDir, "schema-dir", "db/schema", "Directory scanned for fn_resolve_<table> declarations")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "Log each validation level as it starts")
	return cmd
}

func seedApplyCmd() *cobra.Command {
	var seedsDir string
	var continueOnError bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply seed SQL files to the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			db, err := openDatabase(env)
			if err != nil {
				return err
			}
			defer db.Close()

			applier := &seed.Applier{DB: db}

			sp, _ := pterm.DefaultSpinner.WithText("Applying seed files...").Start()
			result, err := applier.ApplySequential(cmd.Context(), seedsDir, continueOnError)
			if err != nil {
				sp.Fail(fmt.Sprintf("seed apply failed: %s", err))
				return err
			}
			sp.Success(fmt.Sprintf("%d succeeded, %d failed", result.Succeeded, result.Failed))

			if flags.Structured() {
				status := "ok"
				if result.Failed > 0 {
					status = "issues_found"
				}
				failures := make([]string, 0, len(result.Failures))
				for _, f := range result.Failures {
					failures = append(failures, fmt.Sprintf("%s: %s", f.Path, f.Err))
				}
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status": status, "succeeded": result.Succeeded, "failed": result.Failed, "warnings": failures,
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
			}
			if result.Failed > 0 {
				return newExitError(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&seedsDir, "seeds-dir", "db/seeds", "Seed files directory")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep applying remaining files after a failure")
	return cmd
}

func seedConvertCmd() *cobra.Command {
	var seedsDir string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Rewrite literal-row INSERT seed files as COPY statements",
		RunE: func(cmd *cobra.Command, args []string) error {
			seedFiles, err := loadSeedFiles(seedsDir)
			if err != nil {
				return err
			}

			converter := &seed.InsertToCopyConverter{}
			report := converter.ConvertBatch(seedFiles)

			if !dryRun {
				for _, r := range report.Results {
					if !r.Success {
						continue
					}
					if err := writeFile(r.FilePath, r.CopyFormat); err != nil {
						return err
					}
				}
			}

			if flags.Structured() {
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status":     "ok",
					"total":      report.TotalFiles,
					"successful": report.Successful,
					"failed":     report.Failed,
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
				return nil
			}

			for _, r := range report.Results {
				if r.Success {
					pterm.Success.Printfln("%s: converted %d row(s)", r.FilePath, r.RowsConverted)
				} else {
					pterm.Warning.Printfln("%s: not converted (%s)", r.FilePath, r.Reason)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&seedsDir, "seeds-dir", "db/seeds", "Seed files directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview conversions without rewriting files")
	return cmd
}

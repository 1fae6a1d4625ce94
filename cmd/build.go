// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fraiseql/confiture/cmd/flags"
	"github.com/fraiseql/confiture/internal/jsonout"
	"github.com/fraiseql/confiture/pkg/builder"
	"github.com/fraiseql/confiture/pkg/errs"
	"github.com/fraiseql/confiture/pkg/lint"
	"github.com/fraiseql/confiture/pkg/schema"
)

func buildCmd() *cobra.Command {
	var outputPath string
	var schemaOnly bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Concatenate the project's DDL files into one schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return err
			}

			b := builder.New(env, flags.ProjectDir())

			sp, _ := pterm.DefaultSpinner.WithText("Building schema...").Start()
			result, err := b.Build(builder.BuildOptions{SchemaOnly: schemaOnly, OutputPath: outputPath})
			if err != nil {
				sp.Fail(fmt.Sprintf("Build failed: %s", err))
				return err
			}
			sp.Success("Schema built")

			if env.Build.Lint.Enabled {
				parsed, perr := schema.Parse(result)
				if perr != nil {
					return perr
				}
				report := lint.NewLinter(lint.DefaultConfig()).Lint(env.Name, parsed)
				if report.ErrorsCount > 0 && env.Build.Lint.FailOnError {
					return errs.New("LINT_1500", nil, map[string]any{
						"message": fmt.Sprintf("%d error(s) found", report.ErrorsCount),
					})
				}
				if report.WarningsCount > 0 && env.Build.Lint.FailOnWarning {
					return errs.New("LINT_1501", nil, map[string]any{
						"message": fmt.Sprintf("%d warning(s) found", report.WarningsCount),
					})
				}
			}

			hash := builder.ComputeHash(result)
			if flags.Structured() {
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status": "ok",
					"hash":   hash,
					"bytes":  len(result),
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
				return nil
			}

			pterm.DefaultTable.WithData(pterm.TableData{
				{"Bytes", fmt.Sprintf("%d", len(result))},
				{"SHA-256", hash},
			}).Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the built schema to this path")
	cmd.Flags().BoolVar(&schemaOnly, "schema-only", false, "Exclude seed files from the build")

	return cmd
}

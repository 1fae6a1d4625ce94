// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fraiseql/confiture/cmd/flags"
	"github.com/fraiseql/confiture/internal/jsonout"
	"github.com/fraiseql/confiture/pkg/builder"
	"github.com/fraiseql/confiture/pkg/lint"
	"github.com/fraiseql/confiture/pkg/schema"
)

func lintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Run structural checks over the built schema",
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

			report := lint.NewLinter(lint.DefaultConfig()).Lint(env.Name, parsed)

			if flags.Structured() {
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status":   "ok",
					"warnings": violationMessages(report.Violations),
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
			} else {
				renderLintReport(report)
			}

			if report.ErrorsCount > 0 {
				return newExitError(1)
			}
			return nil
		},
	}
	return cmd
}

func violationMessages(violations []lint.Violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, fmt.Sprintf("[%s] %s: %s", v.Rule, v.Location, v.Message))
	}
	return out
}

func renderLintReport(report lint.Report) {
	if len(report.Violations) == 0 {
		pterm.Success.Println("No lint violations found")
		return
	}

	rows := pterm.TableData{{"Rule", "Severity", "Location", "Message"}}
	for _, v := range report.Violations {
		rows = append(rows, []string{v.Rule, string(v.Severity), v.Location, v.Message})
	}
	pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	fmt.Fprintf(os.Stderr, "%d error(s), %d warning(s)\n", report.ErrorsCount, report.WarningsCount)
}

// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fraiseql/confiture/cmd/flags"
	"github.com/fraiseql/confiture/internal/jsonout"
	"github.com/fraiseql/confiture/pkg/baseline"
)

func introspectCmd() *cobra.Command {
	var schemaName, snapshotsDir, outputPath string

	cmd := &cobra.Command{
		Use:   "introspect",
		Short: "Read the live database schema and match it against known snapshots",
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

			if snapshotsDir == "" {
				snapshotsDir = env.Migration.SnapshotsDir
			}
			detector := baseline.NewDetector(snapshotsDir)

			sp, _ := pterm.DefaultSpinner.WithText("Introspecting live schema...").Start()
			live, err := detector.IntrospectLiveSchema(cmd.Context(), db, schemaName)
			if err != nil {
				sp.Fail(fmt.Sprintf("introspection failed: %s", err))
				return err
			}

			if outputPath != "" {
				if err := writeFile(outputPath, live); err != nil {
					return err
				}
			}

			match, err := detector.FindMatchingSnapshot(live)
			if err != nil {
				sp.Fail(fmt.Sprintf("snapshot match failed: %s", err))
				return err
			}

			if match != "" {
				sp.Success(fmt.Sprintf("Matches snapshot %s", match))
			} else {
				sp.Warning("No snapshot matched the live schema")
			}

			if flags.Structured() {
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status":          "ok",
					"matched_version": match,
					"bytes":           len(live),
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaName, "schema", "public", "Database schema to introspect")
	cmd.Flags().StringVar(&snapshotsDir, "snapshots-dir", "", "Directory of known schema snapshots (default: migration.snapshots_dir)")
	cmd.Flags().StringVar(&outputPath, "output", "", "Write the introspected DDL to this path")
	return cmd
}

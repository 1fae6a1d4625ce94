// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fraiseql/confiture/cmd/flags"
	"github.com/fraiseql/confiture/internal/jsonout"
	"github.com/fraiseql/confiture/pkg/restore"
)

func restoreCmd() *cobra.Command {
	var opts restore.Options

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a pg_dump backup in three phases (pre-data, parallel data, post-data)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.BackupPath == "" {
				return fmt.Errorf("--backup-path is required")
			}

			confirmed, _ := pterm.DefaultInteractiveConfirm.
				WithDefaultText(fmt.Sprintf("This will restore %s into database %q. Continue?", opts.BackupPath, opts.TargetDB)).
				Show()
			if !confirmed {
				pterm.Warning.Println("Aborted")
				return newExitError(1)
			}

			r := &restore.Restorer{}

			sp, _ := pterm.DefaultSpinner.WithText("Restoring backup...").Start()
			result, err := r.Restore(cmd.Context(), opts)
			if err != nil {
				sp.Fail(fmt.Sprintf("restore failed: %s", err))
				return err
			}
			if result.Success {
				sp.Success(fmt.Sprintf("Restore complete: %v", result.PhasesCompleted))
			} else {
				sp.Fail(fmt.Sprintf("Restore finished with errors: %v", result.Errors))
			}

			if flags.Structured() {
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status":   statusFor(result.Success),
					"phases":   result.PhasesCompleted,
					"warnings": result.Warnings,
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
			}

			if !result.Success {
				return newExitError(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.BackupPath, "backup-path", "", "Custom-format dump file or directory-format dump")
	cmd.Flags().StringVar(&opts.TargetDB, "target-db", "", "Database name to restore into")
	cmd.Flags().StringVar(&opts.Host, "host", "localhost", "Database host")
	cmd.Flags().IntVar(&opts.Port, "port", 5432, "Database port")
	cmd.Flags().StringVar(&opts.Username, "username", "", "Role to connect as")
	cmd.Flags().IntVar(&opts.Jobs, "jobs", 4, "Worker count for the parallel data phase")
	cmd.Flags().BoolVar(&opts.NoOwner, "no-owner", true, "Pass --no-owner to pg_restore")
	cmd.Flags().BoolVar(&opts.NoACL, "no-acl", true, "Pass --no-acl to pg_restore")
	cmd.Flags().StringVar(&opts.Superuser, "superuser", "", "Run pg_restore via sudo -u <superuser>")
	cmd.Flags().IntVar(&opts.MinTables, "min-tables", 0, "Fail unless at least this many base tables exist after restore")
	cmd.Flags().StringVar(&opts.MinTablesSchema, "min-tables-schema", "public", "Schema checked by --min-tables")
	cmd.Flags().BoolVar(&opts.ParallelRestore, "parallel", true, "Restore the data phase with parallel workers")
	cmd.Flags().BoolVar(&opts.ExitOnError, "exit-on-error", false, "Pass --exit-on-error to pg_restore (ignored for the whole run when --parallel is set)")
	return cmd
}

func statusFor(success bool) string {
	if success {
		return "ok"
	}
	return "failed"
}

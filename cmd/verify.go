// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fraiseql/confiture/cmd/flags"
	"github.com/fraiseql/confiture/internal/jsonout"
	"github.com/fraiseql/confiture/internal/logging"
	"github.com/fraiseql/confiture/pkg/checksum"
	"github.com/fraiseql/confiture/pkg/executor"
)

func verifyCmd() *cobra.Command {
	var policyStr string
	var fix bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify applied migration files haven't changed since they were recorded",
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

			records, err := e.ChecksumRecords(cmd.Context(), dir)
			if err != nil {
				return err
			}

			if fix {
				confirmed, _ := pterm.DefaultInteractiveConfirm.
					WithDefaultText("This overwrites the stored checksum of every applied migration with its current on-disk hash. Continue?").
					Show()
				if !confirmed {
					pterm.Warning.Println("Aborted")
					return newExitError(1)
				}

				updated, err := checksum.Fix(records)
				if err != nil {
					return err
				}
				if err := e.UpdateChecksums(cmd.Context(), updated); err != nil {
					return err
				}

				if flags.Structured() {
					payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{"status": "ok", "updated": len(updated)})
					if err != nil {
						return err
					}
					fmt.Println(string(payload))
				} else {
					pterm.Success.Printfln("Recomputed %d checksum(s)", len(updated))
				}
				return nil
			}

			policy := checksumPolicyFromString(policyStr)
			verr := checksum.Verify(records, policy, logging.New())

			if flags.Structured() {
				status := "ok"
				if verr != nil {
					status = "issues_found"
				}
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{"status": status, "checked": len(records)})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
			} else if verr == nil {
				pterm.Success.Printfln("%d migration(s) verified", len(records))
			}

			if verr != nil {
				if policy == checksum.PolicyFail {
					return verr
				}
				return newExitError(1)
			}
			return nil
		},
	}
	migrationsDirFlag(cmd)
	cmd.Flags().StringVar(&policyStr, "policy", "fail", "Behaviour on checksum mismatch: fail, warn, or ignore")
	cmd.Flags().BoolVar(&fix, "fix", false, "Recompute and overwrite every stored checksum (dangerous)")
	return cmd
}

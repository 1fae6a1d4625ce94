// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fraiseql/confiture/cmd/flags"
	"github.com/fraiseql/confiture/internal/jsonout"
	"github.com/fraiseql/confiture/pkg/dbx"
	"github.com/fraiseql/confiture/pkg/profiler"
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Profile query cost and track performance baselines",
	}
	cmd.AddCommand(profileQueryCmd())
	cmd.AddCommand(profileBaselineCmd())
	cmd.AddCommand(profileCheckCmd())
	return cmd
}

func profileQueryCmd() *cobra.Command {
	var targetOverhead float64

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a query under EXPLAIN (ANALYZE, BUFFERS) and report its cost and plan shape",
		Args:  cobra.ExactArgs(1),
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

			p := profiler.New(&dbx.RDB{DB: db})
			p.TargetOverheadPercent = targetOverhead

			profile, meta, err := p.Profile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if flags.Structured() {
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status":                     "ok",
					"query_hash":                 profile.QueryHash,
					"avg_duration_ms":            profile.AvgDurationMs,
					"has_sequential_scans":       profile.HasSequentialScans,
					"has_sorts":                  profile.HasSorts,
					"plan_quality":               profile.PlanQuality,
					"profiling_overhead_percent": meta.ProfilingOverheadPercent,
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
				return nil
			}

			table := pterm.TableData{
				{"Query hash", profile.QueryHash},
				{"Duration (ms)", fmt.Sprintf("%.2f", profile.AvgDurationMs)},
				{"Sequential scan", fmt.Sprintf("%t", profile.HasSequentialScans)},
				{"Sort", fmt.Sprintf("%t", profile.HasSorts)},
				{"Plan quality", profile.PlanQuality},
				{"Profiling overhead", fmt.Sprintf("%.2f%%", meta.ProfilingOverheadPercent)},
			}
			return pterm.DefaultTable.WithData(table).Render()
		},
	}
	cmd.Flags().Float64Var(&targetOverhead, "target-overhead-percent", 5.0,
		"Stop running EXPLAIN ANALYZE once profiling's own cost exceeds this percentage of total query time")
	return cmd
}

func profileBaselineCmd() *cobra.Command {
	var environment, version string

	cmd := &cobra.Command{
		Use:   "baseline <operation-id> <duration-ms>...",
		Short: "Record a performance baseline for an operation from one or more sample durations",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			operationID := args[0]
			samples, err := parseDurationSamples(args[1:])
			if err != nil {
				return err
			}

			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			db, err := openDatabase(env)
			if err != nil {
				return err
			}
			defer db.Close()

			store := profiler.NewPostgresBaselineStore(&dbx.RDB{DB: db}, "")
			if err := store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			manager := profiler.NewBaselineManager(store)

			if environment == "" {
				environment = flags.Env()
			}
			baseline, err := manager.RecordBaseline(cmd.Context(), operationID, environment, samples, version)
			if err != nil {
				return err
			}

			if flags.Structured() {
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status":               "ok",
					"operation_id":         baseline.OperationID,
					"environment":          baseline.Environment,
					"baseline_duration_ms": baseline.BaselineDurationMs,
					"confidence_lower":     baseline.ConfidenceLower,
					"confidence_upper":     baseline.ConfidenceUpper,
					"sample_count":         baseline.SampleCount,
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
				return nil
			}
			pterm.Success.Printfln("Recorded baseline for %s in %s: %.2fms [%.2f, %.2f] over %d sample(s)",
				baseline.OperationID, baseline.Environment, baseline.BaselineDurationMs,
				baseline.ConfidenceLower, baseline.ConfidenceUpper, baseline.SampleCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&environment, "environment", "", "Environment label (defaults to --env)")
	cmd.Flags().StringVar(&version, "recorded-by-version", "", "Tool version to attribute this baseline to")
	return cmd
}

func profileCheckCmd() *cobra.Command {
	var environment string

	cmd := &cobra.Command{
		Use:   "check <operation-id> <duration-ms>",
		Short: "Check a fresh measurement against the recorded baseline for an operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			operationID := args[0]
			samples, err := parseDurationSamples(args[1:])
			if err != nil {
				return err
			}

			env, err := loadEnvironment()
			if err != nil {
				return err
			}
			db, err := openDatabase(env)
			if err != nil {
				return err
			}
			defer db.Close()

			store := profiler.NewPostgresBaselineStore(&dbx.RDB{DB: db}, "")
			if err := store.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			manager := profiler.NewBaselineManager(store)

			if environment == "" {
				environment = flags.Env()
			}
			result, err := manager.CheckRegression(cmd.Context(), operationID, environment, samples[0])
			if err != nil {
				return err
			}

			if flags.Structured() {
				payload, err := jsonout.MarshalStructured(flags.Format(), map[string]any{
					"status":        string(result.Severity),
					"is_regression": result.IsRegression,
					"reason":        result.Reason,
					"message":       result.Message,
					"severity":      string(result.Severity),
				})
				if err != nil {
					return err
				}
				fmt.Println(string(payload))
			} else {
				pterm.Info.Printfln("[%s] %s", result.Severity, result.Message)
			}

			if result.IsRegression {
				return newExitError(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&environment, "environment", "", "Environment label (defaults to --env)")
	return cmd
}

func parseDurationSamples(args []string) ([]float64, error) {
	samples := make([]float64, 0, len(args))
	for _, a := range args {
		var v float64
		if _, err := fmt.Sscanf(a, "%g", &v); err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", a, err)
		}
		samples = append(samples, v)
	}
	return samples, nil
}

// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fraiseql/confiture/cmd/flags"
	"github.com/fraiseql/confiture/internal/config"
	"github.com/fraiseql/confiture/pkg/errs"
)

// Version is the confiture version.
var Version = "development"

func init() {
	viper.SetEnvPrefix("CONFITURE")
	viper.AutomaticEnv()
	flags.PersistentFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "confiture",
	Short:        "Schema-as-code migration tooling for PostgreSQL",
	SilenceUsage: true,
	// Every RunE already reports its own failure (a spinner, a table, or
	// a --format json error envelope) before returning; cobra's default
	// "Error: ..." line would just repeat it, or for an *exitError, show
	// an internal sentinel message no user should see.
	SilenceErrors: true,
	Version:       Version,
}

// loadEnvironment loads the environment config for the current
// invocation (--env/--project-dir).
func loadEnvironment() (*config.Environment, error) {
	return config.Load(flags.ProjectDir(), flags.Env())
}

// openDatabase opens (and pings) the one PostgreSQL connection a command
// needs, against the environment's database_url.
func openDatabase(env *config.Environment) (*sql.DB, error) {
	db, err := sql.Open("postgres", env.DatabaseURL)
	if err != nil {
		return nil, errs.New("CONFIG_006", err, map[string]any{})
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errs.New("CONFIG_006", err, map[string]any{})
	}
	return db, nil
}

// exitError carries an explicit process exit code for commands whose
// semantics (migrate status) distinguish more outcomes than "succeeded"
// or "failed" — see spec.md §6.3.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

// newExitError wraps code as an error RunE can return, or nil for 0.
func newExitError(code int) error {
	if code == 0 {
		return nil
	}
	return &exitError{code}
}

// IsExitSentinel reports whether err is purely a process-exit-code
// carrier (no message a user hasn't already seen), so main can skip
// printing it again.
func IsExitSentinel(err error) bool {
	var ee *exitError
	return errors.As(err, &ee)
}

// exitCoder is implemented by *errs.ConfitureError (and, by promotion,
// every domain error variant that embeds it).
type exitCoder interface {
	ExitCodeValue() int
}

// ExitCodeFor maps a command's returned error to the process exit code
// documented in spec.md §6.3/§6.4: explicit exitError codes first,
// then the error-code registry's ExitCode, falling back to 3 (fatal
// infrastructure error) for anything unrecognised.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCodeValue()
	}
	return 3
}

// Execute runs the root command, registering every subcommand.
func Execute() error {
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(lintCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(introspectCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(profileCmd())

	return rootCmd.Execute()
}

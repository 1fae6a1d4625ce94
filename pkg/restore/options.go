// SPDX-License-Identifier: Apache-2.0

// Package restore implements the three-phase pg_restore orchestrator:
// pre-data and post-data run serially, data runs in parallel, eliminating
// the FK-constraint races a naive single-pass parallel restore produces.
package restore

// Options configures a three-phase restore run.
type Options struct {
	// BackupPath is a custom-format (-Fc) dump file or directory-format
	// (-Fd) dump directory.
	BackupPath string
	TargetDB   string
	Host       string
	Port       int
	// Username is the role to connect as. Empty uses pg_restore's default.
	Username string
	// Jobs is the worker count for the data phase (-j).
	Jobs int
	NoOwner bool
	NoACL   bool
	// ExitOnError passes --exit-on-error to pg_restore. Forced to false
	// for the run when ParallelRestore is set; see Restore.
	ExitOnError bool
	// Superuser, if set, runs pg_restore via `sudo -u <Superuser>`.
	Superuser string
	// MinTables, if > 0, verifies at least this many base tables exist
	// in MinTablesSchema after the restore completes.
	MinTables       int
	MinTablesSchema string
	// ParallelRestore forces ExitOnError to false for the run: during the
	// data phase FK constraints do not yet exist, so FK-violation stderr
	// is transient noise rather than a fatal error.
	ParallelRestore bool
}

// Result reports the outcome of a full restore run or a single phase.
type Result struct {
	Success         bool
	PhasesCompleted []string
	// TableCount is nil unless MinTables > 0 and the post-restore check ran.
	TableCount  *int
	Errors      []string
	Warnings    []string
	Diagnostics []string
}

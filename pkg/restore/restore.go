// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fraiseql/confiture/internal/logging"
	"github.com/fraiseql/confiture/pkg/errs"
)

// OnStderrLine, when set, is called for every stderr line pg_restore
// emits, in order, useful for streaming live progress to the terminal.
type OnStderrLine func(line string)

// Restorer orchestrates a three-phase pg_restore run.
type Restorer struct {
	Logger logging.Logger
	// OnStderrLine, if set, is invoked for every stderr line from every
	// phase's pg_restore invocation.
	OnStderrLine OnStderrLine
}

func (r *Restorer) logger() logging.Logger {
	if r.Logger == nil {
		return logging.NoopLogger
	}
	return r.Logger
}

type sectionSpec struct {
	name     string
	parallel bool
}

var sections = []sectionSpec{
	{"pre-data", false},
	{"data", true},
	{"post-data", false},
}

// Restore runs the three-phase restore: pre-data and post-data serially,
// data in parallel (iff opts.Jobs > 1). Phase failure is terminal —
// later phases never run once an earlier one fails.
func (r *Restorer) Restore(ctx context.Context, opts Options) (Result, error) {
	if err := validateDumpFormat(opts.BackupPath); err != nil {
		return Result{}, err
	}

	// parallel_restore=true implies exit_on_error=false for the run; the
	// caller's Options value is never mutated, only this local copy.
	if opts.ParallelRestore && opts.ExitOnError {
		r.logger().Warn("parallel_restore=true: overriding exit_on_error to false for this run; " +
			"FK violations during the data phase are transient with parallel workers")
		opts.ExitOnError = false
	}

	var allWarnings []string
	var phasesDone []string
	var postDataResult Result
	haveSawPostData := false

	for _, sec := range sections {
		result, err := r.runSection(ctx, sec.name, opts, sec.parallel)
		if err != nil {
			return Result{}, err
		}
		allWarnings = append(allWarnings, result.Warnings...)
		if sec.name == "post-data" {
			postDataResult = result
			haveSawPostData = true
		}
		if !result.Success {
			var diagnostics []string
			if sec.name == "post-data" {
				diagnostics = diagnose(append(append([]string{}, result.Errors...), result.Warnings...))
			}
			return Result{
				Success:         false,
				PhasesCompleted: phasesDone,
				Errors:          result.Errors,
				Warnings:        allWarnings,
				Diagnostics:     diagnostics,
			}, nil
		}
		phasesDone = append(phasesDone, result.PhasesCompleted...)
	}

	var postDataLines []string
	if haveSawPostData {
		postDataLines = append(append([]string{}, postDataResult.Errors...), postDataResult.Warnings...)
	}
	diagnostics := diagnose(postDataLines)

	if opts.MinTables > 0 {
		check, err := r.verifyTableCount(ctx, opts)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Success:         check.Success,
			PhasesCompleted: phasesDone,
			TableCount:      check.TableCount,
			Errors:          check.Errors,
			Warnings:        allWarnings,
			Diagnostics:     diagnostics,
		}, nil
	}

	return Result{
		Success:         true,
		PhasesCompleted: phasesDone,
		Warnings:        allWarnings,
		Diagnostics:     diagnostics,
	}, nil
}

func buildArgs(section string, opts Options, parallel bool) []string {
	var cmd []string
	if opts.Superuser != "" {
		cmd = append(cmd, "sudo", "-u", opts.Superuser)
	}
	cmd = append(cmd,
		"pg_restore",
		"-h", opts.Host,
		"-p", strconv.Itoa(opts.Port),
		"-d", opts.TargetDB,
		"--section="+section,
	)
	if opts.Username != "" {
		cmd = append(cmd, "-U", opts.Username)
	}
	if opts.ExitOnError {
		cmd = append(cmd, "--exit-on-error")
	}
	if opts.NoOwner {
		cmd = append(cmd, "--no-owner")
	}
	if opts.NoACL {
		cmd = append(cmd, "--no-acl")
	}
	if parallel && opts.Jobs > 1 {
		cmd = append(cmd, "-j", strconv.Itoa(opts.Jobs))
	}
	cmd = append(cmd, opts.BackupPath)
	return cmd
}

func classifyStderrLine(line string) string {
	switch {
	case strings.Contains(line, "pg_restore: error:"):
		return "error"
	case strings.Contains(line, "pg_restore: warning:"):
		return "warning"
	default:
		return "info"
	}
}

// runSection invokes pg_restore for a single section via a streaming
// subprocess: stdout discarded, stderr consumed line-by-line so the pipe
// buffer cannot stall on a verbose restore and ctrl-C cleanly kills the
// child.
func (r *Restorer) runSection(ctx context.Context, section string, opts Options, parallel bool) (Result, error) {
	argv := buildArgs(section, opts, parallel)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, errs.NewRestoreError("cannot attach to pg_restore stderr: " + err.Error())
	}

	if err := cmd.Start(); err != nil {
		if isNotFound(err) {
			return Result{}, errs.NewRestoreError("pg_restore not found. Ensure PostgreSQL client tools are installed and on PATH.")
		}
		return Result{}, errs.NewRestoreError("cannot start pg_restore: " + err.Error())
	}

	var errors, warnings []string
	scanner := bufio.NewScanner(stderrPipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if r.OnStderrLine != nil {
			r.OnStderrLine(line)
		}
		switch classifyStderrLine(line) {
		case "error":
			errors = append(errors, line)
		case "warning":
			warnings = append(warnings, line)
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return Result{}, errs.NewRestoreError(fmt.Sprintf("pg_restore %s phase interrupted by user", section))
	}

	returnCode := exitCode(waitErr)
	if returnCode != 0 && (opts.ExitOnError || len(errors) > 0) {
		if len(errors) == 0 {
			errors = []string{fmt.Sprintf("pg_restore exited with code %d", returnCode)}
		}
		return Result{Success: false, Errors: errors, Warnings: warnings}, nil
	}

	// Lenient mode: exit_on_error=false, no hard errors classified, even
	// with a non-zero exit code — treated as success.
	return Result{Success: true, PhasesCompleted: []string{section}, Errors: errors, Warnings: warnings}, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "executable file not found") ||
		strings.Contains(err.Error(), "no such file or directory")
}

// diagnose scans collected error+warning lines from the post-data phase
// for known patterns and returns an actionable hint for each.
func diagnose(lines []string) []string {
	var hints []string
	for _, line := range lines {
		if strings.Contains(line, "out of shared memory") {
			hints = append(hints, "Hint: 'out of shared memory' during the post-data phase indicates that "+
				"max_locks_per_transaction is too low. For schemas with many partitions (2000+), set "+
				"max_locks_per_transaction = 256 (or higher) in postgresql.conf and reload PostgreSQL before retrying the restore.")
			break
		}
	}
	return hints
}

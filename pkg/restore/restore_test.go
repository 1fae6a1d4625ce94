// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgsIncludesSectionAndConnectionFlags(t *testing.T) {
	opts := Options{
		BackupPath: "/tmp/dump.pgdump",
		TargetDB:   "widgets",
		Host:       "localhost",
		Port:       5433,
		Username:   "confiture",
	}
	argv := buildArgs("pre-data", opts, false)

	assert.Equal(t, []string{
		"pg_restore", "-h", "localhost", "-p", "5433", "-d", "widgets",
		"--section=pre-data", "-U", "confiture", "/tmp/dump.pgdump",
	}, argv)
}

func TestBuildArgsAddsJobsOnlyForParallelSections(t *testing.T) {
	opts := Options{BackupPath: "d.pgdump", TargetDB: "d", Host: "h", Port: 5432, Jobs: 8}

	dataArgv := buildArgs("data", opts, true)
	assert.Contains(t, dataArgv, "-j")
	assert.Contains(t, dataArgv, "8")

	preDataArgv := buildArgs("pre-data", opts, false)
	assert.NotContains(t, preDataArgv, "-j")
}

func TestBuildArgsHonoursFlags(t *testing.T) {
	opts := Options{
		BackupPath:  "d.pgdump",
		TargetDB:    "d",
		Host:        "h",
		Port:        5432,
		ExitOnError: true,
		NoOwner:     true,
		NoACL:       true,
		Superuser:   "postgres",
	}
	argv := buildArgs("post-data", opts, false)

	assert.Equal(t, []string{"sudo", "-u", "postgres"}, argv[:3])
	assert.Contains(t, argv, "--exit-on-error")
	assert.Contains(t, argv, "--no-owner")
	assert.Contains(t, argv, "--no-acl")
}

func TestClassifyStderrLine(t *testing.T) {
	assert.Equal(t, "error", classifyStderrLine(`pg_restore: error: could not execute query`))
	assert.Equal(t, "warning", classifyStderrLine(`pg_restore: warning: errors ignored on restore`))
	assert.Equal(t, "info", classifyStderrLine(`pg_restore: connecting to database`))
}

func TestDiagnoseDetectsSharedMemoryPattern(t *testing.T) {
	hints := diagnose([]string{
		`pg_restore: error: could not create lock`,
		`FATAL: out of shared memory`,
	})
	assert.Len(t, hints, 1)
	assert.Contains(t, hints[0], "max_locks_per_transaction")
}

func TestDiagnoseReturnsNoHintsForUnknownErrors(t *testing.T) {
	assert.Empty(t, diagnose([]string{"pg_restore: error: relation does not exist"}))
}

// SPDX-License-Identifier: Apache-2.0

package differ_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraiseql/confiture/pkg/differ"
	"github.com/fraiseql/confiture/pkg/errs"
)

func TestGeneratorConfigValidateAcceptsAllPlaceholders(t *testing.T) {
	cfg := differ.GeneratorConfig{Command: "pgdiff --from {from} --to {to} --output {output}"}
	assert.NoError(t, cfg.Validate())
}

func TestGeneratorConfigValidateRejectsEmptyCommand(t *testing.T) {
	cfg := differ.GeneratorConfig{Command: ""}
	assert.ErrorContains(t, cfg.Validate(), "must not be empty")
}

func TestGeneratorConfigValidateRejectsMissingPlaceholder(t *testing.T) {
	assert.ErrorContains(t, differ.GeneratorConfig{Command: "tool --to {to} --output {output}"}.Validate(), "{from}")
	assert.ErrorContains(t, differ.GeneratorConfig{Command: "tool --from {from} --output {output}"}.Validate(), "{to}")
	assert.ErrorContains(t, differ.GeneratorConfig{Command: "tool --from {from} --to {to}"}.Validate(), "{output}")
}

func TestRunExternalGeneratorDryRunSkipsSubprocess(t *testing.T) {
	dir := t.TempDir()
	fromFile := filepath.Join(dir, "v1.sql")
	toFile := filepath.Join(dir, "v2.sql")
	require.NoError(t, os.WriteFile(fromFile, nil, 0o644))
	require.NoError(t, os.WriteFile(toFile, nil, 0o644))
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrationsDir, 0o755))

	cfg := differ.GeneratorConfig{Command: "tool {from} {to} {output}"}
	resolvedCmd, outPath, err := differ.RunExternalGenerator(cfg, fromFile, toFile, migrationsDir, "add_column", true)
	require.NoError(t, err)
	assert.Contains(t, outPath, "add_column")
	assert.True(t, filepath.Ext(outPath) == ".sql")
	assert.Contains(t, resolvedCmd, "tool")

	_, statErr := os.Stat(outPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunExternalGeneratorWritesStrippedUpAndDownStub(t *testing.T) {
	dir := t.TempDir()
	fromFile := filepath.Join(dir, "v1.sql")
	toFile := filepath.Join(dir, "v2.sql")
	require.NoError(t, os.WriteFile(fromFile, []byte("SELECT 1;"), 0o644))
	require.NoError(t, os.WriteFile(toFile, []byte("SELECT 2;"), 0o644))
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrationsDir, 0o755))

	script := filepath.Join(dir, "fake_generator.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+
		"echo 'BEGIN;' > \"$3\"\n"+
		"echo 'ALTER TABLE foo ADD COLUMN bar TEXT;' >> \"$3\"\n"+
		"echo 'COMMIT;' >> \"$3\"\n"), 0o755))

	cfg := differ.GeneratorConfig{Command: script + " {from} {to} {output}"}
	_, upPath, err := differ.RunExternalGenerator(cfg, fromFile, toFile, migrationsDir, "add_bar_column", false)
	require.NoError(t, err)

	contents, err := os.ReadFile(upPath)
	require.NoError(t, err)
	assert.NotContains(t, string(contents), "BEGIN")
	assert.NotContains(t, string(contents), "COMMIT")
	assert.Contains(t, string(contents), "ALTER TABLE foo ADD COLUMN bar TEXT;")

	downPath := upPath[:len(upPath)-len(".up.sql")] + ".down.sql"
	downContents, err := os.ReadFile(downPath)
	require.NoError(t, err)
	assert.Contains(t, string(downContents), "TODO")
}

func TestRunExternalGeneratorDoesNotOverwriteExistingDownStub(t *testing.T) {
	dir := t.TempDir()
	fromFile := filepath.Join(dir, "v1.sql")
	toFile := filepath.Join(dir, "v2.sql")
	require.NoError(t, os.WriteFile(fromFile, []byte("SELECT 1;"), 0o644))
	require.NoError(t, os.WriteFile(toFile, []byte("SELECT 2;"), 0o644))
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrationsDir, 0o755))

	existingDown := "DROP TABLE foo;\n"
	script := filepath.Join(dir, "fake_generator.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+
		"echo 'ALTER TABLE foo ADD COLUMN bar TEXT;' > \"$3\"\n"), 0o755))

	cfg := differ.GeneratorConfig{Command: script + " {from} {to} {output}"}

	version, err := differ.NextVersion(migrationsDir)
	require.NoError(t, err)
	downPath := filepath.Join(migrationsDir, version+"_add_bar_column.down.sql")
	require.NoError(t, os.WriteFile(downPath, []byte(existingDown), 0o644))

	_, upPath, err := differ.RunExternalGenerator(cfg, fromFile, toFile, migrationsDir, "add_bar_column", false)
	require.NoError(t, err)
	assert.Equal(t, downPath, upPath[:len(upPath)-len(".up.sql")]+".down.sql")

	contents, err := os.ReadFile(downPath)
	require.NoError(t, err)
	assert.Equal(t, existingDown, string(contents))
}

func TestRunExternalGeneratorNonZeroExitRaisesExternalGeneratorError(t *testing.T) {
	dir := t.TempDir()
	fromFile := filepath.Join(dir, "v1.sql")
	toFile := filepath.Join(dir, "v2.sql")
	require.NoError(t, os.WriteFile(fromFile, []byte("SELECT 1;"), 0o644))
	require.NoError(t, os.WriteFile(toFile, []byte("SELECT 2;"), 0o644))
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrationsDir, 0o755))

	script := filepath.Join(dir, "fake_generator.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+
		"echo 'connection refused' >&2\n"+
		"exit 1\n"), 0o755))

	cfg := differ.GeneratorConfig{Command: script + " {from} {to} {output}"}
	_, _, err := differ.RunExternalGenerator(cfg, fromFile, toFile, migrationsDir, "fail_migration", false)
	require.Error(t, err)

	var genErr *errs.ExternalGeneratorError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 1, genErr.ReturnCode)
	assert.Contains(t, genErr.Stderr, "connection refused")
}

func TestRunExternalGeneratorMissingFromPathRaisesError(t *testing.T) {
	dir := t.TempDir()
	toFile := filepath.Join(dir, "v2.sql")
	require.NoError(t, os.WriteFile(toFile, []byte("SELECT 2;"), 0o644))
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrationsDir, 0o755))

	cfg := differ.GeneratorConfig{Command: "tool {from} {to} {output}"}
	_, _, err := differ.RunExternalGenerator(cfg, filepath.Join(dir, "nonexistent_v1.sql"), toFile, migrationsDir, "add_column", false)
	assert.ErrorContains(t, err, "from_path")
}

func TestRunExternalGeneratorMissingToPathRaisesError(t *testing.T) {
	dir := t.TempDir()
	fromFile := filepath.Join(dir, "v1.sql")
	require.NoError(t, os.WriteFile(fromFile, []byte("SELECT 1;"), 0o644))
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrationsDir, 0o755))

	cfg := differ.GeneratorConfig{Command: "tool {from} {to} {output}"}
	_, _, err := differ.RunExternalGenerator(cfg, fromFile, filepath.Join(dir, "nonexistent_v2.sql"), migrationsDir, "add_column", false)
	assert.ErrorContains(t, err, "to_path")
}

func TestRunExternalGeneratorEmptyOutputRaisesError(t *testing.T) {
	dir := t.TempDir()
	fromFile := filepath.Join(dir, "v1.sql")
	toFile := filepath.Join(dir, "v2.sql")
	require.NoError(t, os.WriteFile(fromFile, []byte("SELECT 1;"), 0o644))
	require.NoError(t, os.WriteFile(toFile, []byte("SELECT 2;"), 0o644))
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrationsDir, 0o755))

	script := filepath.Join(dir, "fake_generator.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+
		"> \"$3\"\n"), 0o755))

	cfg := differ.GeneratorConfig{Command: script + " {from} {to} {output}"}
	_, _, err := differ.RunExternalGenerator(cfg, fromFile, toFile, migrationsDir, "empty_gen", false)
	assert.ErrorContains(t, err, "empty")
}

func TestRunExternalGeneratorQuotesPathsContainingSpaces(t *testing.T) {
	dir := t.TempDir()
	spacedDir := filepath.Join(dir, "my schema files")
	require.NoError(t, os.Mkdir(spacedDir, 0o755))
	fromFile := filepath.Join(spacedDir, "v1.sql")
	toFile := filepath.Join(spacedDir, "v2.sql")
	require.NoError(t, os.WriteFile(fromFile, []byte("SELECT 1;"), 0o644))
	require.NoError(t, os.WriteFile(toFile, []byte("SELECT 2;"), 0o644))
	migrationsDir := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrationsDir, 0o755))

	cfg := differ.GeneratorConfig{Command: "tool {from} {to} {output}"}
	resolvedCmd, _, err := differ.RunExternalGenerator(cfg, fromFile, toFile, migrationsDir, "spaced_test", true)
	require.NoError(t, err)

	assert.Contains(t, resolvedCmd, "my schema files")
	assert.Contains(t, resolvedCmd, "'"+fromFile+"'")
}

// SPDX-License-Identifier: Apache-2.0

package migrations_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraiseql/confiture/pkg/migrations"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestValidVersionAndName(t *testing.T) {
	assert.True(t, migrations.ValidVersion("001"))
	assert.False(t, migrations.ValidVersion("1"))
	assert.False(t, migrations.ValidVersion("abc"))

	assert.True(t, migrations.ValidName("add_users"))
	assert.False(t, migrations.ValidName("AddUsers"))
	assert.False(t, migrations.ValidName("1_users"))
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, migrations.CompareVersions("001", "002"))
	assert.Equal(t, 0, migrations.CompareVersions("005", "005"))
	assert.Equal(t, 1, migrations.CompareVersions("010", "002"))
}

func TestLoadFindsSQLPairsAndOrphans(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "001_create_users.up.sql"), "CREATE TABLE users (id int);")
	writeFile(t, filepath.Join(dir, "001_create_users.down.sql"), "DROP TABLE users;")
	writeFile(t, filepath.Join(dir, "002_add_index.up.sql"), "CREATE INDEX ...;")
	writeFile(t, filepath.Join(dir, "stray.sql"), "-- not a migration")

	result, err := migrations.Load(dir)
	require.NoError(t, err)

	require.Len(t, result.Migrations, 2)
	assert.Equal(t, "001", result.Migrations[0].Version)
	assert.Equal(t, "002", result.Migrations[1].Version)

	pair, ok := result.Migrations[0].Source.(migrations.SQLPairSource)
	require.True(t, ok)
	assert.Contains(t, pair.DownPath, "001_create_users.down.sql")

	require.Len(t, result.Orphans, 1)
	assert.Contains(t, result.Orphans[0], "stray.sql")
	assert.False(t, result.HasDuplicateVersions())
}

func TestLoadDetectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "003_first.up.sql"), "SELECT 1;")
	writeFile(t, filepath.Join(dir, "003_second.up.sql"), "SELECT 2;")

	result, err := migrations.Load(dir)
	require.NoError(t, err)
	assert.True(t, result.HasDuplicateVersions())
	assert.Len(t, result.DuplicateVersions["003"], 2)
}

func TestLoadMergesRegisteredProcedureMigrations(t *testing.T) {
	migrations.ResetRegistry()
	t.Cleanup(migrations.ResetRegistry)

	migrations.Register("004", "seed_admin", migrations.ProcedureSource{
		Up: func(ctx context.Context, tx *sql.Tx) error { return nil },
	})

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "001_create_users.up.sql"), "CREATE TABLE users (id int);")

	result, err := migrations.Load(dir)
	require.NoError(t, err)
	require.Len(t, result.Migrations, 2)
	assert.Equal(t, "004", result.Migrations[1].Version)
	_, ok := result.Migrations[1].Source.(migrations.ProcedureSource)
	assert.True(t, ok)
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := migrations.Load("/does/not/exist")
	require.Error(t, err)
}

func TestFixOrphanedFilesRenames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "001_create_users.up.sql"), "CREATE TABLE users (id int);")
	writeFile(t, filepath.Join(dir, "stray.sql"), "CREATE TABLE stray (id int);")

	renamed, fileErrs, err := migrations.FixOrphanedFiles(dir, false)
	require.NoError(t, err)
	require.Empty(t, fileErrs)
	require.Len(t, renamed, 1)
	assert.Contains(t, renamed[0].OldPath, "stray.sql")
	assert.Contains(t, renamed[0].NewPath, "stray.up.sql")

	_, statErr := os.Stat(filepath.Join(dir, "stray.up.sql"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(dir, "stray.sql"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFixOrphanedFilesDryRunLeavesFilesInPlace(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "stray.sql"), "CREATE TABLE stray (id int);")

	renamed, fileErrs, err := migrations.FixOrphanedFiles(dir, true)
	require.NoError(t, err)
	require.Empty(t, fileErrs)
	require.Len(t, renamed, 1)

	_, statErr := os.Stat(filepath.Join(dir, "stray.sql"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(dir, "stray.up.sql"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFixOrphanedFilesSkipsExistingTarget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "stray.sql"), "CREATE TABLE stray (id int);")
	writeFile(t, filepath.Join(dir, "stray.up.sql"), "CREATE TABLE already_here (id int);")

	renamed, fileErrs, err := migrations.FixOrphanedFiles(dir, false)
	require.NoError(t, err)
	assert.Empty(t, renamed)
	require.Len(t, fileErrs, 1)
	for path, e := range fileErrs {
		assert.Contains(t, path, "stray.sql")
		assert.Error(t, e)
	}
}

// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRestoreSurfacesBinaryAbsence exercises the "pg_restore not found"
// path without requiring a live PostgreSQL server: with PATH cleared,
// exec.LookPath inside exec.Cmd.Start always fails to resolve pg_restore.
func TestRestoreSurfacesBinaryAbsence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.pgdump")
	require.NoError(t, os.WriteFile(path, append([]byte("PGDMP"), []byte{1, 2, 3}...), 0o644))

	t.Setenv("PATH", "")

	r := &Restorer{}
	_, err := r.Restore(context.Background(), Options{
		BackupPath: path,
		TargetDB:   "widgets",
		Host:       "localhost",
		Port:       5432,
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pg_restore not found")
}

func TestRestoreRejectsUnsupportedDumpFormatBeforeSpawningAnyProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.sql")
	require.NoError(t, os.WriteFile(path, []byte("-- dump\nSELECT 1;\n"), 0o644))

	r := &Restorer{}
	_, err := r.Restore(context.Background(), Options{
		BackupPath: path,
		TargetDB:   "widgets",
		Host:       "localhost",
		Port:       5432,
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "plain-text")
}

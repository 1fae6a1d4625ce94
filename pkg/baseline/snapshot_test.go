// SPDX-License-Identifier: Apache-2.0

package baseline_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraiseql/confiture/pkg/baseline"
)

func writeSnapshot(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadSnapshotsReturnsEmptyWhenDirAbsent(t *testing.T) {
	snapshots, err := baseline.LoadSnapshots(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestLoadSnapshotsReturnsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "001_init.sql", "CREATE TABLE tb_a (id bigint);")
	writeSnapshot(t, dir, "003_later.sql", "CREATE TABLE tb_b (id bigint);")
	writeSnapshot(t, dir, "002_middle.sql", "CREATE TABLE tb_c (id bigint);")

	snapshots, err := baseline.LoadSnapshots(dir)
	require.NoError(t, err)

	var versions []string
	for _, s := range snapshots {
		versions = append(versions, s.Version)
	}
	assert.Equal(t, []string{"003", "002", "001"}, versions)
}

func TestLoadSnapshotsIgnoresNonSQLFiles(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "001_init.sql", "CREATE TABLE tb_a (id bigint);")
	writeSnapshot(t, dir, "README.md", "docs")
	writeSnapshot(t, dir, "001_init.py", "# python")

	snapshots, err := baseline.LoadSnapshots(dir)
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}

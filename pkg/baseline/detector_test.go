// SPDX-License-Identifier: Apache-2.0

package baseline_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraiseql/confiture/pkg/baseline"
)

func TestFindMatchingSnapshotReturnsEmptyWhenNoSnapshots(t *testing.T) {
	d := baseline.NewDetector(filepath.Join(t.TempDir(), "empty"))
	version, err := d.FindMatchingSnapshot("CREATE TABLE tb_x (id bigint);")
	require.NoError(t, err)
	assert.Equal(t, "", version)
}

func TestFindMatchingSnapshotExactMatchReturnsVersion(t *testing.T) {
	dir := t.TempDir()
	sql := "CREATE TABLE tb_users (id bigint NOT NULL);"
	writeSnapshot(t, dir, "005_add_users.sql", sql)

	d := baseline.NewDetector(dir)
	version, err := d.FindMatchingSnapshot(sql)
	require.NoError(t, err)
	assert.Equal(t, "005", version)
}

func TestFindMatchingSnapshotIgnoresKeywordCaseDifferences(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "005_add_users.sql", "CREATE TABLE tb_users (id bigint NOT NULL);")

	d := baseline.NewDetector(dir)
	version, err := d.FindMatchingSnapshot("create table tb_users (id bigint not null);")
	require.NoError(t, err)
	assert.Equal(t, "005", version)
}

func TestFindMatchingSnapshotIgnoresCommentDifferences(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "003_users.sql", "-- header\nCREATE TABLE tb_users (id bigint);")

	d := baseline.NewDetector(dir)
	version, err := d.FindMatchingSnapshot("CREATE TABLE tb_users (id bigint);")
	require.NoError(t, err)
	assert.Equal(t, "003", version)
}

func TestFindMatchingSnapshotNoMatchReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "001_init.sql", "CREATE TABLE tb_a (x bigint);")

	d := baseline.NewDetector(dir)
	version, err := d.FindMatchingSnapshot("CREATE TABLE tb_b (y text);")
	require.NoError(t, err)
	assert.Equal(t, "", version)
}

func TestFindMatchingSnapshotNoMatchPopulatesLastClosest(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "001_init.sql", "CREATE TABLE tb_a (id bigint);")

	d := baseline.NewDetector(dir)
	_, err := d.FindMatchingSnapshot("CREATE TABLE tb_b (name text);")
	require.NoError(t, err)

	require.NotNil(t, d.LastClosest)
	assert.Equal(t, "001", d.LastClosest.Version)
	assert.GreaterOrEqual(t, d.LastClosest.Ratio, 0.0)
	assert.LessOrEqual(t, d.LastClosest.Ratio, 1.0)
}

func TestFindMatchingSnapshotMultipleExactMatchesReturnsNewest(t *testing.T) {
	dir := t.TempDir()
	sql := "CREATE TABLE tb_users (id bigint);"
	writeSnapshot(t, dir, "001_init.sql", sql)
	writeSnapshot(t, dir, "003_same.sql", sql)

	d := baseline.NewDetector(dir)
	version, err := d.FindMatchingSnapshot(sql)
	require.NoError(t, err)
	assert.Equal(t, "003", version)
}

func TestFindMatchingSnapshotFuzzyMatchAboveThreshold(t *testing.T) {
	dir := t.TempDir()
	snapshot := `
		CREATE TABLE tb_a (id bigint);
		CREATE TABLE tb_b (id bigint);
		CREATE TABLE tb_c (id bigint);
	`
	writeSnapshot(t, dir, "001_baseline.sql", snapshot)

	live := `
		CREATE TABLE tb_a (id bigint);
		CREATE TABLE tb_b (id bigint);
		CREATE TABLE tb_c (id bigint);
		CREATE TABLE tb_d (id bigint);
	`

	d := baseline.NewDetector(dir, baseline.WithSimilarityThreshold(0.85))
	version, err := d.FindMatchingSnapshot(live)
	require.NoError(t, err)
	assert.Equal(t, "001", version)
}

func TestFindMatchingSnapshotFuzzyMatchRespectsCustomThreshold(t *testing.T) {
	dir := t.TempDir()
	snapshot := `
		CREATE TABLE tb_a (id bigint);
		CREATE TABLE tb_b (id bigint);
	`
	writeSnapshot(t, dir, "001_baseline.sql", snapshot)

	live := `
		CREATE TABLE tb_x (id bigint);
		CREATE TABLE tb_y (id bigint);
		CREATE TABLE tb_z (id bigint);
	`

	strict := baseline.NewDetector(dir, baseline.WithSimilarityThreshold(0.99))
	version, err := strict.FindMatchingSnapshot(live)
	require.NoError(t, err)
	assert.Equal(t, "", version)

	loose := baseline.NewDetector(dir, baseline.WithSimilarityThreshold(0.01))
	version, err = loose.FindMatchingSnapshot(live)
	require.NoError(t, err)
	assert.Equal(t, "001", version)
}

func TestFindMatchingSnapshotSparseSnapshotsScenario(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "001_baseline.sql",
		"CREATE TABLE tb_catalog (id bigint); CREATE TABLE tb_users (id bigint);")
	writeSnapshot(t, dir, "015_final.sql",
		"CREATE TABLE tb_catalog (id bigint); CREATE TABLE tb_users (id bigint); "+
			"CREATE TABLE tb_orders (id bigint); CREATE TABLE tb_payments (id bigint); "+
			"CREATE TABLE tb_shipments (id bigint);")

	live := "CREATE TABLE tb_catalog (id bigint); CREATE TABLE tb_users (id bigint); " +
		"CREATE TABLE tb_orders (id bigint);"

	d := baseline.NewDetector(dir, baseline.WithSimilarityThreshold(0.75))
	version, err := d.FindMatchingSnapshot(live)
	require.NoError(t, err)
	assert.Equal(t, "001", version)
}

func TestFindMatchingSnapshotExactMatchPreferredOverFuzzy(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "001_init.sql", "CREATE TABLE tb_a (id bigint);")
	writeSnapshot(t, dir, "002_exact.sql", "CREATE TABLE tb_a (id bigint);")

	d := baseline.NewDetector(dir)
	version, err := d.FindMatchingSnapshot("CREATE TABLE tb_a (id bigint);")
	require.NoError(t, err)
	assert.Equal(t, "002", version)
}

func TestNewDetectorDefaultsToStandardSimilarityThreshold(t *testing.T) {
	d := baseline.NewDetector(t.TempDir())
	assert.Equal(t, 0.85, d.SimilarityThreshold)
}

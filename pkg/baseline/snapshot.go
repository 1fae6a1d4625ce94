// SPDX-License-Identifier: Apache-2.0

package baseline

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// Snapshot is one schema-history file on disk: a three-digit migration
// version and the raw DDL captured at that version.
type Snapshot struct {
	Version string
	Path    string
	RawSQL  string
}

var snapshotFilePattern = regexp.MustCompile(`^(\d{3})_.*\.sql$`)

// LoadSnapshots reads every "NNN_*.sql" file in dir and returns them
// newest-version-first. A missing directory yields an empty slice, not
// an error, since a fresh project has no history to baseline against.
func LoadSnapshots(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := snapshotFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, Snapshot{
			Version: m[1],
			Path:    filepath.Join(dir, entry.Name()),
			RawSQL:  string(raw),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Version > snapshots[j].Version })
	return snapshots, nil
}

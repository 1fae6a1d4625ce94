// SPDX-License-Identifier: Apache-2.0

// Package differ allocates migration versions, scans a migrations
// directory for duplicate or conflicting declarations, and drives the
// external-generator and blank-template code paths behind `migrate
// generate`. The comparison routine over two DDL snapshots lives
// alongside it in diff.go, built on pkg/schema's parsed representation.
package differ

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/fraiseql/confiture/pkg/errs"
)

// lockRetryInterval is how often flock polls for the directory lock while
// blocked behind a concurrent generator invocation.
const lockRetryInterval = 50 * time.Millisecond

// versionFilePattern matches both of the migration file forms the
// reference tooling recognises when allocating the next version:
// {version}_{name}.up.sql (Confiture's own SQL-pair form) and the legacy
// {version}_{name}.py form carried over from the original implementation.
var versionFilePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z][a-zA-Z0-9_]*)\.(up\.sql|py)$`)

// FileVersion is one migration file discovered during a directory scan.
type FileVersion struct {
	Version string
	Name    string
	Path    string
}

// ScanResult is the outcome of one pre-write-command scan: every version
// found, plus any duplicate versions or conflicting names, each soft-warned
// rather than rejected outright (spec.md §4.9's "duplicate/name scan").
type ScanResult struct {
	Versions          []FileVersion
	DuplicateVersions map[string][]string
	NameConflicts     map[string][]string
}

// Scan walks dir (non-recursively) and classifies every matching file.
func Scan(dir string) (ScanResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ScanResult{}, err
	}

	versionFiles := map[string][]string{}
	nameVersions := map[string][]string{}
	var versions []FileVersion

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := versionFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		version, name := m[1], m[2]
		path := filepath.Join(dir, e.Name())
		versions = append(versions, FileVersion{Version: version, Name: name, Path: path})
		versionFiles[version] = append(versionFiles[version], path)
		if !containsStr(nameVersions[name], version) {
			nameVersions[name] = append(nameVersions[name], version)
		}
	}

	duplicates := map[string][]string{}
	for version, files := range versionFiles {
		if len(files) > 1 {
			duplicates[version] = files
		}
	}
	conflicts := map[string][]string{}
	for name, vs := range nameVersions {
		if len(vs) > 1 {
			conflicts[name] = vs
		}
	}

	return ScanResult{Versions: versions, DuplicateVersions: duplicates, NameConflicts: conflicts}, nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NextVersion returns the next 3-digit zero-padded version for dir: the
// highest existing version plus one, preserving gaps left by deleted
// files, formatted as "%03d". An empty directory starts at "001".
func NextVersion(dir string) (string, error) {
	result, err := Scan(dir)
	if err != nil {
		return "", err
	}
	max := 0
	for _, v := range result.Versions {
		n, err := strconv.Atoi(v.Version)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%03d", max+1), nil
}

// lockFileName is the sentinel file flock locks within the migrations
// directory during version allocation and template writing, so two
// concurrent generator invocations cannot race on the same version.
const lockFileName = ".confiture-generate.lock"

// WithDirectoryLock runs fn while holding an exclusive OS-level file lock
// scoped to dir, preventing two concurrent `migrate generate` invocations
// from allocating the same version.
func WithDirectoryLock(ctx context.Context, dir string, fn func() error) error {
	lockPath := filepath.Join(dir, lockFileName)
	fl := flock.New(lockPath)

	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return errs.New("LOCK_1300", err, map[string]any{})
	}
	if !locked {
		return errs.New("LOCK_1301", nil, map[string]any{"holder": "another generate invocation"})
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}

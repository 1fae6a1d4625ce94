// SPDX-License-Identifier: Apache-2.0

package differ

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// blankUpTemplate is written for a migration with no external generator
// configured: an empty shell the author fills in by hand.
const blankUpTemplate = "-- Write the forward migration SQL here.\n"

// blankDownTemplate mirrors blankUpTemplate for the companion rollback file.
const blankDownTemplate = "-- TODO: write the down migration.\n"

var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// ClassName converts a snake_case migration name into the PascalCase
// identifier surfaced in generated metadata and (for legacy .py
// migrations) the class name the migration module declares.
func ClassName(name string) string {
	parts := strings.Split(strings.Trim(nameSanitizer.ReplaceAllString(name, "_"), "_"), "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// Plan is the computed outcome of a `migrate generate` invocation: the
// allocated version, the migration name, its derived class name, the
// up/down filepaths it would write, and any soft warnings surfaced by
// the directory scan (duplicate versions, name conflicts).
type Plan struct {
	Status        string
	Version       string
	Name          string
	ClassName     string
	UpPath        string
	DownPath      string
	MigrationsDir string
	NextVersion   string
	Warnings      []string
}

// PlanBlank computes the version/name/paths for a blank (non-generator)
// migration, without writing anything. Pass dryRun=false via WriteBlank
// to materialize it.
func PlanBlank(migrationsDir, name string) (Plan, error) {
	scan, err := Scan(migrationsDir)
	if err != nil {
		return Plan{}, err
	}
	version, err := NextVersion(migrationsDir)
	if err != nil {
		return Plan{}, err
	}

	var warnings []string
	for v, files := range scan.DuplicateVersions {
		warnings = append(warnings, "duplicate version "+v+": "+strings.Join(files, ", "))
	}
	for n, versions := range scan.NameConflicts {
		warnings = append(warnings, "name "+n+" reused across versions: "+strings.Join(versions, ", "))
	}

	base := filepath.Join(migrationsDir, version+"_"+name)
	status := "dry_run"

	return Plan{
		Status:        status,
		Version:       version,
		Name:          name,
		ClassName:     ClassName(name),
		UpPath:        base + ".up.sql",
		DownPath:      base + ".down.sql",
		MigrationsDir: migrationsDir,
		NextVersion:   version,
		Warnings:      warnings,
	}, nil
}

// WriteBlank materializes the blank up/down template pair for plan,
// returning a Plan with Status set to "success".
func WriteBlank(plan Plan) (Plan, error) {
	if err := os.WriteFile(plan.UpPath, []byte(blankUpTemplate), 0o644); err != nil {
		return Plan{}, err
	}
	if err := os.WriteFile(plan.DownPath, []byte(blankDownTemplate), 0o644); err != nil {
		return Plan{}, err
	}
	plan.Status = "success"
	return plan, nil
}

// GenerateBlank is the full blank-migration entry point: it allocates a
// version, and either previews (dryRun) or writes the up/down file pair.
// The write path runs under the directory lock so concurrent invocations
// cannot collide; a dry run takes no lock.
func GenerateBlank(migrationsDir, name string, dryRun bool) (Plan, error) {
	var plan Plan
	err := withOptionalLock(migrationsDir, dryRun, func() error {
		p, err := PlanBlank(migrationsDir, name)
		if err != nil {
			return err
		}
		if dryRun {
			plan = p
			return nil
		}
		plan, err = WriteBlank(p)
		return err
	})
	return plan, err
}

func withOptionalLock(dir string, dryRun bool, fn func() error) error {
	if dryRun {
		return fn()
	}
	return WithDirectoryLock(context.Background(), dir, fn)
}

// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates Confiture environment configuration
// files (db/environments/<env>.yaml).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fraiseql/confiture/pkg/errs"
)

// CommentValidation controls unclosed-block-comment detection in the
// schema builder.
type CommentValidation struct {
	Enabled              bool `yaml:"enabled"`
	FailOnUnclosedBlocks bool `yaml:"fail_on_unclosed_blocks"`
	FailOnSpillover      bool `yaml:"fail_on_spillover"`
}

func defaultCommentValidation() CommentValidation {
	return CommentValidation{Enabled: true, FailOnUnclosedBlocks: true, FailOnSpillover: true}
}

// Separator controls the style of separator comments written between
// concatenated SQL files.
type Separator struct {
	Style          string `yaml:"style"`
	CustomTemplate string `yaml:"custom_template"`
}

func defaultSeparator() Separator {
	return Separator{Style: "block_comment"}
}

// BuildLint controls whether the linter runs during a schema build.
type BuildLint struct {
	Enabled      bool     `yaml:"enabled"`
	FailOnError  bool     `yaml:"fail_on_error"`
	FailOnWarning bool    `yaml:"fail_on_warning"`
	Rules        []string `yaml:"rules"`
}

func defaultBuildLint() BuildLint {
	return BuildLint{
		FailOnError: true,
		Rules:       []string{"naming_convention", "primary_key", "documentation", "missing_index", "security"},
	}
}

// Build groups schema-builder options.
type Build struct {
	SortMode         string             `yaml:"sort_mode"`
	ValidateComments CommentValidation  `yaml:"validate_comments"`
	Separators       Separator          `yaml:"separators"`
	Lint             BuildLint          `yaml:"lint"`
}

func defaultBuild() Build {
	return Build{
		SortMode:         "alphabetical",
		ValidateComments: defaultCommentValidation(),
		Separators:       defaultSeparator(),
		Lint:             defaultBuildLint(),
	}
}

// Seed groups seed-application options.
type Seed struct {
	ExecutionMode    string `yaml:"execution_mode"`
	ContinueOnError  bool   `yaml:"continue_on_error"`
	TransactionMode  string `yaml:"transaction_mode"`
}

func defaultSeed() Seed {
	return Seed{ExecutionMode: "concatenate", TransactionMode: "savepoint"}
}

// Locking controls the distributed advisory lock guarding concurrent
// migration runs.
type Locking struct {
	Enabled   bool `yaml:"enabled"`
	TimeoutMs int  `yaml:"timeout_ms"`
}

func defaultLocking() Locking {
	return Locking{Enabled: true, TimeoutMs: 30000}
}

// MigrationGenerator is one named external schema-diff-to-migration
// generator command.
type MigrationGenerator struct {
	Command            string `yaml:"command"`
	Description        string `yaml:"description"`
	MinGeneratorVersion string `yaml:"min_generator_version"`
}

var generatorPlaceholders = []string{"{from}", "{to}", "{output}"}

func (g MigrationGenerator) validate(name string) error {
	if strings.TrimSpace(g.Command) == "" {
		return errs.New("CONFIG_001", nil, map[string]any{
			"field": fmt.Sprintf("migration.migration_generators.%s.command", name),
			"file":  "",
		})
	}
	var missing []string
	for _, p := range generatorPlaceholders {
		if !strings.Contains(g.Command, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("migration generator %q: command is missing required placeholder(s): %s",
			name, strings.Join(missing, ", "))
	}
	return nil
}

// Migration groups migration-executor options, including the tracking
// table name and distributed locking settings.
type Migration struct {
	StrictMode          bool                          `yaml:"strict_mode"`
	Locking             Locking                       `yaml:"locking"`
	ViewHelpers         string                        `yaml:"view_helpers"`
	MigrationGenerators map[string]MigrationGenerator `yaml:"migration_generators"`
	SnapshotHistory     bool                          `yaml:"snapshot_history"`
	SnapshotsDir        string                        `yaml:"snapshots_dir"`
	TrackingTable       string                        `yaml:"tracking_table"`
	RebuildThreshold    int                           `yaml:"rebuild_threshold"`
}

func defaultMigration() Migration {
	return Migration{
		Locking:          defaultLocking(),
		ViewHelpers:      "manual",
		SnapshotHistory:  true,
		SnapshotsDir:     "db/schema_history",
		TrackingTable:    "tb_confiture",
		RebuildThreshold: 5,
	}
}

// PgGit groups pgGit branching integration options. Development/staging use
// only; never enable on production.
type PgGit struct {
	Enabled               bool     `yaml:"enabled"`
	AutoInit              bool     `yaml:"auto_init"`
	DefaultBranch         string   `yaml:"default_branch"`
	AutoCommit            bool     `yaml:"auto_commit"`
	CommitMessageTemplate string   `yaml:"commit_message_template"`
	RequireBranch         bool     `yaml:"require_branch"`
	ProtectedBranches     []string `yaml:"protected_branches"`
}

func defaultPgGit() PgGit {
	return PgGit{
		AutoInit:              true,
		DefaultBranch:         "main",
		CommitMessageTemplate: "Migration: {migration_name}",
		ProtectedBranches:     []string{"main", "master"},
	}
}

// Directory is the long-form entry in include_dirs, allowing per-directory
// pattern matching and auto-discovery control.
type Directory struct {
	Path         string   `yaml:"path"`
	Recursive    bool     `yaml:"recursive"`
	Include      []string `yaml:"include"`
	Exclude      []string `yaml:"exclude"`
	AutoDiscover bool     `yaml:"auto_discover"`
	Order        int      `yaml:"order"`
}

// includeDirsEntry unmarshals either a bare path string or a full
// Directory mapping, mirroring the Python union type str | DirectoryConfig.
type includeDirsEntry struct {
	Directory
	IsString bool
}

func (e *includeDirsEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Path = node.Value
		e.Recursive = true
		e.Include = []string{"**/*.sql"}
		e.AutoDiscover = true
		e.IsString = true
		return nil
	}
	d := Directory{Recursive: true, Include: []string{"**/*.sql"}, AutoDiscover: true}
	if err := node.Decode(&d); err != nil {
		return err
	}
	e.Directory = d
	return nil
}

// Database holds individual connection parameters, derivable from a
// database_url.
type Database struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

var databaseURLPattern = regexp.MustCompile(`^(?:postgresql|postgres)://(?:([^:@]+)(?::([^@]*))?@)?([^:/]+)(?::(\d+))?/(.+)$`)

// ParseDatabaseURL decomposes a postgresql:// connection string into its
// constituent parameters.
func ParseDatabaseURL(url string) (Database, error) {
	m := databaseURLPattern.FindStringSubmatch(url)
	if m == nil {
		return Database{}, errs.New("CONFIG_003", nil, map[string]any{})
	}
	db := Database{Host: m[3], Port: 5432, Database: m[5], User: "postgres"}
	if m[4] != "" {
		fmt.Sscanf(m[4], "%d", &db.Port)
	}
	if m[1] != "" {
		db.User = m[1]
	}
	db.Password = m[2]
	return db, nil
}

// Environment is the fully decoded environment configuration, loaded from
// db/environments/<name>.yaml.
type Environment struct {
	Name                string             `yaml:"-"`
	DatabaseURL         string             `yaml:"database_url"`
	IncludeDirs         []includeDirsEntry `yaml:"include_dirs"`
	ExcludeDirs         []string           `yaml:"exclude_dirs"`
	AutoBackup          bool               `yaml:"auto_backup"`
	RequireConfirmation bool               `yaml:"require_confirmation"`
	Build               Build              `yaml:"build"`
	Migration           Migration          `yaml:"migration"`
	PgGit               PgGit              `yaml:"pggit"`
	Seed                Seed               `yaml:"seed"`

	// raw is kept so Load can detect top-level keys yaml.v3's struct
	// decoding would otherwise silently ignore (e.g. the legacy
	// migration_table key).
	raw map[string]any `yaml:"-"`
}

// Database returns the connection parameters parsed from DatabaseURL.
func (e *Environment) Database() (Database, error) {
	return ParseDatabaseURL(e.DatabaseURL)
}

// ResolvedIncludeDirs returns include_dirs entries with paths resolved to
// absolute paths relative to projectDir. Call after Load.
func (e *Environment) ResolvedIncludeDirs(projectDir string) []Directory {
	out := make([]Directory, 0, len(e.IncludeDirs))
	for _, entry := range e.IncludeDirs {
		d := entry.Directory
		d.Path = filepath.Join(projectDir, d.Path)
		out = append(out, d)
	}
	return out
}

// Load reads and validates db/environments/<envName>.yaml under projectDir.
func Load(projectDir, envName string) (*Environment, error) {
	configPath := filepath.Join(projectDir, "db", "environments", envName+".yaml")

	raw, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New("CONFIG_004", err, map[string]any{"env": envName})
		}
		return nil, errs.New("CONFIG_006", err, map[string]any{})
	}

	var rawMap map[string]any
	if err := yaml.Unmarshal(raw, &rawMap); err != nil {
		return nil, errs.New("CONFIG_002", err, map[string]any{"file": configPath})
	}
	if _, legacy := rawMap["migration_table"]; legacy {
		return nil, errs.New("CONFIG_007", nil, map[string]any{"file": configPath})
	}

	if _, ok := rawMap["database_url"]; !ok {
		return nil, errs.New("CONFIG_001", nil, map[string]any{"field": "database_url", "file": configPath})
	}
	if _, ok := rawMap["include_dirs"]; !ok {
		return nil, errs.New("CONFIG_001", nil, map[string]any{"field": "include_dirs", "file": configPath})
	}

	env := &Environment{
		AutoBackup:          true,
		RequireConfirmation: true,
		Build:               defaultBuild(),
		Migration:           defaultMigration(),
		PgGit:               defaultPgGit(),
		Seed:                defaultSeed(),
		raw:                 rawMap,
	}
	if err := yaml.Unmarshal(raw, env); err != nil {
		return nil, errs.New("CONFIG_002", err, map[string]any{"file": configPath})
	}
	env.Name = envName

	if !strings.HasPrefix(env.DatabaseURL, "postgresql://") && !strings.HasPrefix(env.DatabaseURL, "postgres://") {
		return nil, errs.New("CONFIG_003", nil, map[string]any{})
	}

	for name, gen := range env.Migration.MigrationGenerators {
		if err := gen.validate(name); err != nil {
			return nil, errs.New("CONFIG_005", err, map[string]any{})
		}
	}

	for _, entry := range env.IncludeDirs {
		abs := filepath.Join(projectDir, entry.Path)
		if !entry.AutoDiscover {
			if _, statErr := os.Stat(abs); statErr != nil {
				return nil, errs.New("CONFIG_005", statErr, map[string]any{})
			}
		}
	}

	return env, nil
}

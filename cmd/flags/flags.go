// SPDX-License-Identifier: Apache-2.0

// Package flags binds the persistent flags every confiture subcommand
// shares to viper, so pkg-level adapters in cmd/ read them without
// threading a *cobra.Command through every call.
package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Env is the environment name selecting db/environments/<env>.yaml.
func Env() string {
	return viper.GetString("ENV")
}

// ProjectDir is the project root relative to which include_dirs,
// snapshots_dir, and db/environments/ are resolved.
func ProjectDir() string {
	return viper.GetString("PROJECT_DIR")
}

// Format is the requested output format: "text", "json", or "yaml".
func Format() string {
	return viper.GetString("FORMAT")
}

// JSON reports whether --format json was requested.
func JSON() bool {
	return Format() == "json"
}

// Structured reports whether --format requested a machine-readable
// payload (json or yaml) rather than human-facing text.
func Structured() bool {
	switch Format() {
	case "json", "yaml":
		return true
	default:
		return false
	}
}

// PersistentFlags registers the flags shared by every subcommand on cmd
// and binds them to viper.
func PersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("env", "development", "Environment name (db/environments/<env>.yaml)")
	cmd.PersistentFlags().String("project-dir", ".", "Project root directory")
	cmd.PersistentFlags().String("format", "text", "Output format: text, json, or yaml")

	_ = viper.BindPFlag("ENV", cmd.PersistentFlags().Lookup("env"))
	_ = viper.BindPFlag("PROJECT_DIR", cmd.PersistentFlags().Lookup("project-dir"))
	_ = viper.BindPFlag("FORMAT", cmd.PersistentFlags().Lookup("format"))
}

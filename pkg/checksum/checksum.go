// SPDX-License-Identifier: Apache-2.0

// Package checksum computes and verifies SHA-256 checksums of migration
// files, detecting post-application modification.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"github.com/fraiseql/confiture/pkg/errs"
)

// Policy controls what happens when a stored checksum no longer matches
// the file on disk.
type Policy string

const (
	// PolicyFail raises a ChecksumVerificationError on any mismatch.
	PolicyFail Policy = "fail"
	// PolicyWarn logs the mismatch and continues.
	PolicyWarn Policy = "warn"
	// PolicyIgnore performs no check at all.
	PolicyIgnore Policy = "ignore"
)

// Compute returns the hex-encoded SHA-256 digest of the file at path,
// after normalising line endings to LF (trailing whitespace is preserved,
// matching spec.md's "LF-normalised, trailing whitespace preserved" rule).
func Compute(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return ComputeBytes(content), nil
}

// ComputeBytes returns the hex-encoded SHA-256 digest of content after LF
// normalisation.
func ComputeBytes(content []byte) string {
	normalized := normalizeLineEndings(string(content))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Record is one migration's stored checksum, as read from the tracking
// table.
type Record struct {
	Version  string
	Name     string
	FilePath string
	Stored   string
}

// Logger receives warnings emitted under PolicyWarn. Callers not
// interested in warnings may pass a no-op implementation.
type Logger interface {
	Warn(msg string, args ...any)
}

// noopLogger discards every warning.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// NoopLogger is a Logger that discards everything, used when the caller
// has not wired a real one (e.g. library usage outside the CLI).
var NoopLogger Logger = noopLogger{}

// Verify recomputes the checksum for each record's FilePath and compares
// it against Stored, applying policy. Under PolicyFail, any mismatch
// returns a *errs.ChecksumVerificationError aggregating every mismatch
// found (not just the first). Under PolicyWarn, mismatches are logged via
// logger and nil is returned. Under PolicyIgnore, no files are even read.
func Verify(records []Record, policy Policy, logger Logger) error {
	if policy == PolicyIgnore {
		return nil
	}
	if logger == nil {
		logger = NoopLogger
	}

	var mismatches []errs.ChecksumMismatch
	for _, r := range records {
		actual, err := Compute(r.FilePath)
		if err != nil {
			return err
		}
		if actual != r.Stored {
			mismatches = append(mismatches, errs.ChecksumMismatch{
				Version:  r.Version,
				Name:     r.Name,
				FilePath: r.FilePath,
				Expected: r.Stored,
				Actual:   actual,
			})
		}
	}

	if len(mismatches) == 0 {
		return nil
	}

	switch policy {
	case PolicyWarn:
		for _, m := range mismatches {
			logger.Warn("checksum mismatch", "version", m.Version, "name", m.Name,
				"expected", m.Expected, "actual", m.Actual)
		}
		return nil
	default: // PolicyFail
		return errs.NewChecksumVerificationError(mismatches)
	}
}

// Fix recomputes and returns the checksum for every record's FilePath,
// matching spec.md's `verify --fix` behaviour: callers are responsible for
// persisting the new values and for surfacing the "dangerous" warning.
func Fix(records []Record) (map[string]string, error) {
	out := make(map[string]string, len(records))
	for _, r := range records {
		actual, err := Compute(r.FilePath)
		if err != nil {
			return nil, err
		}
		out[r.Version] = actual
	}
	return out, nil
}

// SPDX-License-Identifier: Apache-2.0

package differ

import (
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/mod/semver"
)

// toSemver prepends the "v" prefix golang.org/x/mod/semver requires.
// Migration versions elsewhere in this package are zero-padded 3-digit
// strings semver can't parse at all (see pkg/migrations.CompareVersions);
// external generator tool versions are ordinary dotted major.minor.patch
// strings reported by `--version`, so semver applies directly here once
// prefixed.
func toSemver(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// QueryGeneratorVersion runs the first word of command (the generator
// executable) with a single --version argument and returns the first
// line of its stdout. The
// reference generators this targets are expected to print a bare version
// string; callers compare it against cfg.MinGeneratorVersion.
func QueryGeneratorVersion(command string) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", fmt.Errorf("generator command is empty")
	}
	out, err := exec.Command(fields[0], "--version").Output()
	if err != nil {
		return "", fmt.Errorf("querying generator version: %w", err)
	}
	line := strings.SplitN(string(out), "\n", 2)[0]
	return strings.TrimSpace(line), nil
}

// CheckGeneratorVersion reports whether reportedVersion satisfies
// cfg.MinGeneratorVersion. An unset MinGeneratorVersion always passes. A
// reportedVersion or MinGeneratorVersion that semver can't parse once
// "v"-prefixed also passes rather than blocking a generator invocation
// on an unparseable version string.
func (c GeneratorConfig) CheckGeneratorVersion(reportedVersion string) error {
	if c.MinGeneratorVersion == "" {
		return nil
	}
	min := toSemver(c.MinGeneratorVersion)
	got := toSemver(reportedVersion)
	if !semver.IsValid(min) || !semver.IsValid(got) {
		return nil
	}
	if semver.Compare(got, min) < 0 {
		return fmt.Errorf("generator version %s is older than the required minimum %s",
			reportedVersion, c.MinGeneratorVersion)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0

package differ

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fraiseql/confiture/pkg/errs"
)

// GeneratorConfig describes one externally configured schema-diff tool:
// a shell command template with {from}/{to}/{output} placeholders, plus
// a human-readable description surfaced by `migrate generate --list`.
// MinGeneratorVersion, when set, is the lowest self-reported tool version
// RunExternalGenerator will invoke; see CheckGeneratorVersion.
type GeneratorConfig struct {
	Command             string
	Description         string
	MinGeneratorVersion string
}

// Validate checks that Command is non-empty and names all three
// placeholders the generator driver substitutes before invocation.
func (c GeneratorConfig) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("generator command must not be empty")
	}
	for _, placeholder := range []string{"{from}", "{to}", "{output}"} {
		if !strings.Contains(c.Command, placeholder) {
			return fmt.Errorf("generator command missing required placeholder %s", placeholder)
		}
	}
	return nil
}

// transactionWrapperLines are the exact (case-insensitive) line contents
// stripTransactionWrappers drops. Anything else on the line — a
// trailing comment, a "DEFERRED" qualifier, a partial match mid-line —
// is left untouched.
var transactionWrapperLines = map[string]bool{
	"begin":  true,
	"begin;": true,
	"commit": true,
	"commit;": true,
}

// stripTransactionWrappers removes bare BEGIN/COMMIT lines an external
// generator may have wrapped its output in, since the migration runner
// already manages its own transaction around each migration file.
func stripTransactionWrappers(sql string) string {
	if sql == "" {
		return ""
	}
	lines := strings.Split(sql, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if transactionWrapperLines[trimmed] {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Trim(strings.Join(kept, "\n"), "\n")
}

// shellQuote wraps s in single quotes, POSIX-style, escaping any single
// quote it contains. Equivalent to Python's shlex.quote; the standard
// library has no corresponding helper and no example in the reference
// pack builds a dynamic shell command string, so this is hand-written.
func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func resolveCommand(cmd, fromPath, toPath, outPath string) string {
	r := strings.NewReplacer(
		"{from}", shellQuote(fromPath),
		"{to}", shellQuote(toPath),
		"{output}", shellQuote(outPath),
	)
	return r.Replace(cmd)
}

const downStubTemplate = "-- TODO: write the down migration for this external-generator diff.\n"

// RunExternalGenerator drives one external schema-diff tool invocation.
// On dry-run it only resolves the command and computes the output path.
// Otherwise it shells out, rejects a non-zero exit or empty output,
// strips any transaction wrapper from the result, writes it to the
// computed .up.sql path, and writes a TODO-stub .down.sql alongside it
// unless one already exists.
func RunExternalGenerator(cfg GeneratorConfig, fromPath, toPath, migrationsDir, migrationName string, dryRun bool) (resolvedCmd, outPath string, err error) {
	if _, statErr := os.Stat(fromPath); statErr != nil {
		return "", "", fmt.Errorf("from_path does not exist: %s", fromPath)
	}
	if _, statErr := os.Stat(toPath); statErr != nil {
		return "", "", fmt.Errorf("to_path does not exist: %s", toPath)
	}

	version, verr := NextVersion(migrationsDir)
	if verr != nil {
		return "", "", verr
	}
	outPath = filepath.Join(migrationsDir, fmt.Sprintf("%s_%s.up.sql", version, migrationName))
	resolvedCmd = resolveCommand(cfg.Command, fromPath, toPath, outPath)

	if dryRun {
		return resolvedCmd, outPath, nil
	}

	if cfg.MinGeneratorVersion != "" {
		if reported, qerr := QueryGeneratorVersion(cfg.Command); qerr == nil {
			if verr := cfg.CheckGeneratorVersion(reported); verr != nil {
				return "", "", errs.New("DIFFER_403", verr, map[string]any{"reported": reported, "min": cfg.MinGeneratorVersion})
			}
		}
	}

	cmd := exec.Command("sh", "-c", resolvedCmd)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	if runErr != nil {
		exitCode := 1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", "", errs.NewExternalGeneratorError(exitCode, stderr.String())
	}

	generated, readErr := os.ReadFile(outPath)
	if readErr != nil {
		return "", "", fmt.Errorf("reading external generator output %s: %w", outPath, readErr)
	}
	stripped := stripTransactionWrappers(string(generated))
	if strings.TrimSpace(stripped) == "" {
		return "", "", errs.New("DIFFER_401", nil, map[string]any{"reason": "external generator produced empty output"})
	}

	if writeErr := os.WriteFile(outPath, []byte(stripped+"\n"), 0o644); writeErr != nil {
		return "", "", writeErr
	}

	downPath := strings.TrimSuffix(outPath, ".up.sql") + ".down.sql"
	if _, statErr := os.Stat(downPath); os.IsNotExist(statErr) {
		if writeErr := os.WriteFile(downPath, []byte(downStubTemplate), 0o644); writeErr != nil {
			return "", "", writeErr
		}
	}

	return resolvedCmd, outPath, nil
}

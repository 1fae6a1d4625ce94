// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fraiseql/confiture/pkg/errs"
)

var pgDumpMagic = []byte("PGDMP")

// plainTextPrefixes are the openers a plain-text SQL dump typically starts
// with; seeing one of these where a PGDMP magic header was expected lets
// the error message point the operator at a fix instead of just failing.
var plainTextPrefixes = []string{"--", "SET ", "SELECT ", "CREATE "}

// validateDumpFormat rejects any dump that --section cannot operate on.
// Only custom (-Fc) and directory (-Fd) format dumps carry the PGDMP
// magic header pg_restore's section-aware restore requires; a plain-text
// dump would silently apply every statement on every phase invocation.
func validateDumpFormat(backupPath string) error {
	info, err := os.Stat(backupPath)
	if err != nil {
		return errs.NewRestoreError("cannot stat backup path: " + err.Error())
	}

	var header []byte
	if info.IsDir() {
		tocPath := filepath.Join(backupPath, "toc.dat")
		toc, err := os.Open(tocPath)
		if err != nil {
			return errs.NewRestoreError(backupPath + " is a directory but contains no toc.dat — not a valid pg_dump directory-format archive")
		}
		defer toc.Close()
		header = make([]byte, 5)
		if _, err := toc.Read(header); err != nil {
			return errs.NewRestoreError("cannot read toc.dat: " + err.Error())
		}
	} else {
		f, err := os.Open(backupPath)
		if err != nil {
			return errs.NewRestoreError("cannot read backup file: " + err.Error())
		}
		defer f.Close()
		header = make([]byte, 5)
		if _, err := f.Read(header); err != nil {
			return errs.NewRestoreError("cannot read backup file: " + err.Error())
		}
	}

	if string(header) == string(pgDumpMagic) {
		return nil
	}

	prefix, err := readPrefix(backupPath, info.IsDir(), 200)
	if err == nil {
		trimmed := strings.TrimSpace(prefix)
		for _, p := range plainTextPrefixes {
			if strings.HasPrefix(trimmed, p) {
				return errs.NewRestoreError(
					"Backup appears to be plain-text SQL format. " +
						"The three-phase restore requires custom format (-Fc) or " +
						"directory format (-Fd). Re-create the dump with:\n" +
						"  pg_dump -Fc dbname > dump.pgdump")
			}
		}
	}

	return errs.NewRestoreError("Unrecognised dump format for " + backupPath +
		". confiture restore requires custom format (-Fc) or directory format (-Fd).")
}

func readPrefix(backupPath string, isDir bool, n int) (string, error) {
	target := backupPath
	if isDir {
		target = filepath.Join(backupPath, "toc.dat")
	}
	f, err := os.Open(target)
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && read == 0 {
		return "", err
	}
	return string(buf[:read]), nil
}

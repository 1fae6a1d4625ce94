// SPDX-License-Identifier: Apache-2.0

package cmd

import "os"

// readFile and writeFile are thin os wrappers shared by the subcommands
// that read or rewrite migration/seed files in place.
func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

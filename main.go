// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/fraiseql/confiture/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil && !cmd.IsExitSentinel(err) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cmd.ExitCodeFor(err))
}

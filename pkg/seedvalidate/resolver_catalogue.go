// SPDX-License-Identifier: Apache-2.0

package seedvalidate

import (
	"os"
	"regexp"
	"strings"
)

var resolverFunctionPattern = regexp.MustCompile(`(?i)CREATE\s+(?:OR\s+REPLACE\s+)?FUNCTION\s+(?:[\w]+\.)?(fn_resolve_\w+)`)

// ResolverCatalogue tracks which fn_resolve_<table> resolver functions are
// declared somewhere in a DDL tree, so Level 3 can confirm a prep-seed
// table's required resolver actually exists before Level 4 tries to call it.
type ResolverCatalogue struct {
	declared map[string]bool
}

// BuildResolverCatalogue scans every path (as produced by the schema
// builder's file discovery) for CREATE [OR REPLACE] FUNCTION fn_resolve_*
// declarations.
func BuildResolverCatalogue(paths []string) (*ResolverCatalogue, error) {
	cat := &ResolverCatalogue{declared: make(map[string]bool)}
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		for _, match := range resolverFunctionPattern.FindAllStringSubmatch(string(content), -1) {
			cat.declared[strings.ToLower(match[1])] = true
		}
	}
	return cat, nil
}

// HasResolverFor reports whether fn_resolve_<table> is declared anywhere
// in the scanned DDL tree.
func (c *ResolverCatalogue) HasResolverFor(table string) bool {
	return c.declared["fn_resolve_"+strings.ToLower(table)]
}

// Declared returns every resolver function name found, for diagnostics.
func (c *ResolverCatalogue) Declared() []string {
	names := make([]string, 0, len(c.declared))
	for name := range c.declared {
		names = append(names, name)
	}
	return names
}

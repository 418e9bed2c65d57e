package rbac

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizePermission returns the canonical comparison form of a permission name.
// A Caser is stateful, so one is built per call.
func NormalizePermission(name string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(name))
}

func normalizePermissions(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = NormalizePermission(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

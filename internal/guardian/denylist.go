package guardian

import (
	"path/filepath"
	"strings"
)

// DenyList holds the configured deny-path globs and deny-command prefixes
// (§4.4 step 2). A match against either is a hard SafetyDenied.
type DenyList struct {
	Paths    []string
	Commands []string
}

// Check returns a non-empty reason if the action matches a deny-list entry.
func (d DenyList) Check(action ActionDetails) (denied bool, reason string) {
	for _, p := range action.Paths {
		for _, pattern := range d.Paths {
			if ok, _ := filepath.Match(pattern, p); ok {
				return true, "path matches denied pattern: " + pattern
			}
			// Also match on any path component, so "**/.ssh/**"-style
			// intent expressed as "*.ssh*" still catches nested paths.
			if strings.Contains(pattern, "*") {
				if ok, _ := filepath.Match(pattern, filepath.Base(p)); ok {
					return true, "path matches denied pattern: " + pattern
				}
			}
		}
	}

	if action.Command != "" {
		for _, prefix := range d.Commands {
			if prefix == "" {
				continue
			}
			if strings.HasPrefix(strings.TrimSpace(action.Command), prefix) {
				return true, "command matches denied prefix: " + prefix
			}
		}
	}

	return false, ""
}

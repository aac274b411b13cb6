package schema

import (
	"errors"
	"strings"
	"unicode"
)

// NormalizeUsername validates an ACL username.
// Allowed characters: letters, digits, '.', '_', '-', '@'.
func NormalizeUsername(name string) (Username, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("username is required")
	}
	for _, r := range trimmed {
		if r == '.' || r == '_' || r == '-' || r == '@' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return "", errors.New("invalid username: must match [A-Za-z0-9._@-]")
	}
	return Username(trimmed), nil
}

// NormalizePermissions trims, drops empties, and de-duplicates while keeping order.
func NormalizePermissions(perms []string) []Permission {
	if len(perms) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, Permission(p))
	}
	return out
}

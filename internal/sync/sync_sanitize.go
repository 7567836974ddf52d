package sync

import (
	"path/filepath"
	"strings"
)

const sanitizeReplacement = '_'

// SanitizeName replaces every character that is reserved in local file
// names with an underscore. "." and ".." become "_".
func SanitizeName(name string) string {
	if name == "." || name == ".." {
		return string(sanitizeReplacement)
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`<>:"\|?*/`, r) {
			return sanitizeReplacement
		}
		return r
	}, name)
}

// SanitizeRelPath sanitizes every component of a slash separated relative
// path and joins them with the local separator.
func SanitizeRelPath(rel string) string {
	parts := strings.Split(rel, "/")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		clean = append(clean, SanitizeName(part))
	}
	return filepath.Join(clean...)
}

package util

import "strings"

// Slug lowercases s and collapses every run of characters outside
// [a-z0-9] into a single hyphen. "Tue, 07 Oct 2025 14:09:35 GMT" becomes
// "tue-07-oct-2025-14-09-35-gmt".
func Slug(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

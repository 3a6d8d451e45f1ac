package ids

import "strings"

// maxSlugLen caps slugified output so generated file names stay short; it is
// well below the title and identity_key input limits.
const maxSlugLen = 80

// Slugify lowercases s, collapses runs of non-alphanumeric characters into a
// single hyphen, trims leading/trailing hyphens, and truncates to 80 bytes.
// An input with no alphanumeric characters produces an empty string; callers
// needing a non-empty filename should fall back to an ID in that case.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastWasDash := false

	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasDash = false
		default:
			if !lastWasDash && b.Len() > 0 {
				b.WriteByte('-')
				lastWasDash = true
			}
		}
	}

	out := strings.TrimRight(b.String(), "-")

	if len(out) > maxSlugLen {
		out = strings.TrimRight(out[:maxSlugLen], "-")
	}

	return out
}

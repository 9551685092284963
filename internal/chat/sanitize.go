package chat

import "strings"

// Sanitize strips characters that can hide or reorder content in a
// rendered transcript: C0 controls (keeping \n \r \t), zero-width and
// bidi-override ranges, invisible operators, and the specials block.
// Returns the cleaned string; an empty result means the message was
// nothing but invisibles and must be rejected.
func Sanitize(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if dropRune(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func dropRune(r rune) bool {
	switch {
	case r == '\n' || r == '\r' || r == '\t':
		return false
	case r < 0x20 || r == 0x7f:
		return true
	case r >= 0x200B && r <= 0x200F: // zero-width, marks
		return true
	case r == 0x2028 || r == 0x2029: // line/paragraph separator
		return true
	case r >= 0x202A && r <= 0x202E: // bidi overrides
		return true
	case r >= 0x2060 && r <= 0x2064: // invisible operators
		return true
	case r >= 0x2066 && r <= 0x206F: // bidi isolates, deprecated format
		return true
	case r >= 0xFFF0 && r <= 0xFFFF: // specials
		return true
	}
	return false
}

package pipeline

import (
	"strings"
	"unicode"
)

// NormalizeContent cleans raw signal text before extraction: control
// characters stripped, whitespace collapsed, edges trimmed. The raw content
// is preserved on the signal row; only normalized_content is derived.
func NormalizeContent(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	lastSpace := false
	for _, r := range raw {
		switch {
		case r == '\n' || r == '\t' || unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case unicode.IsControl(r):
			// drop
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

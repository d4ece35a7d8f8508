package message

import "strings"

// SanitizeText removes Unicode tag code points (U+E0000 through U+E007F)
// from externally supplied text. These are invisible in most renderers and
// can smuggle instructions into model input. Every other code point passes
// through untouched, so sanitizing clean text is the identity transform and
// the function is idempotent.
func SanitizeText(s string) string {
	if !strings.ContainsFunc(s, isUnicodeTag) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isUnicodeTag(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUnicodeTag(r rune) bool {
	return r >= 0xE0000 && r <= 0xE007F
}

package invitation

import "strings"

// NormalizeSeed canonicalizes a human-transcribed invitation seed so that
// "abc def ghi" and "abc+def+ghi" (and any case variant of either) derive
// identical starter keys. Specification Section 4.B.
func NormalizeSeed(seed string) string {
	lower := strings.ToLower(seed)
	return strings.ReplaceAll(lower, "+", " ")
}

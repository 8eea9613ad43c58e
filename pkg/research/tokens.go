package research

import "unicode/utf8"

// tokenBytes is the assumed average byte length of one token. The unit is
// model-agnostic; it only needs to be proportional to text length.
const tokenBytes = 4

// EstimateTokens approximates the token count of a text. Empty text costs
// nothing; otherwise roughly one token per four bytes, rounded up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + tokenBytes - 1) / tokenBytes
}

// TruncateToTokens cuts text so that its token estimate is at most n.
// The cut lands on a rune boundary to avoid producing invalid UTF-8.
func TruncateToTokens(text string, n int) string {
	if n <= 0 {
		return ""
	}
	limit := n * tokenBytes
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

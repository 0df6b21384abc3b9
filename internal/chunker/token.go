package chunker

import "strings"

// EstimateTokens approximates the token count of text at ~1.33 tokens per
// word. Used for logging context sizes only.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return max(1, int(float64(words)*1.33))
}

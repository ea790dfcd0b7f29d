package chunker

import "strings"

// EstimateTokens approximates a model token count from the word count
// (about 1.33 tokens per English word). Non-empty text is at least one token.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		if text == "" {
			return 0
		}
		return 1
	}
	return max(int(float64(words)*1.33), 1)
}

package assemble

import "unicode"

// EstimateTokens approximates the token cost of text for budget accounting.
// Latin-script text averages roughly four characters per token; CJK
// tokenizers emit roughly one token per character, so CJK runes are counted
// individually.
func EstimateTokens(text string) int {
	var cjk, other int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	return cjk + (other+3)/4
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

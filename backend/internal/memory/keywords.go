package memory

import (
	"regexp"
	"strings"
)

const maxKeywords = 5

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// stopWords covers common function words in the languages the chat operates
// in (English and Chinese).
var stopWords = map[string]struct{}{
	"的": {}, "了": {}, "是": {}, "在": {}, "我": {}, "你": {}, "他": {},
	"她": {}, "它": {}, "这": {}, "那": {},
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "have": {}, "has": {}, "had": {}, "do": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "should": {},
	"could": {}, "may": {}, "might": {}, "can": {}, "must": {},
}

// extractKeywords tokenizes query text into up to maxKeywords lowercase
// keyword tokens, dropping stop words and single characters. It is the
// lexical fallback signal when vector recall is unavailable or sparse.
func extractKeywords(text string) []string {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)

	keywords := make([]string, 0, maxKeywords)
	for _, token := range tokens {
		if _, ok := stopWords[token]; ok {
			continue
		}
		if len([]rune(token)) < 2 {
			continue
		}
		keywords = append(keywords, token)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

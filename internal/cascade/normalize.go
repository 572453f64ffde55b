package cascade

import (
	"strings"
	"unicode"
)

// stopwords never count as pre-filter overlap.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "at": {}, "be": {}, "can": {},
	"do": {}, "for": {}, "have": {}, "i": {}, "in": {}, "is": {}, "it": {},
	"me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "the": {}, "to": {},
	"we": {}, "what": {}, "you": {}, "your": {},
}

// NormalizeQuery lowercases q and collapses runs of punctuation and
// whitespace so equivalent utterances share a result cache key.
func NormalizeQuery(q string) string {
	return strings.Join(tokenize(q), " ")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// keywordIndex is the pre-filter set for one source.
type keywordIndex map[string]struct{}

func buildIndex(keywords []string) keywordIndex {
	idx := make(keywordIndex, len(keywords))
	for _, kw := range keywords {
		for _, tok := range tokenize(kw) {
			if _, stop := stopwords[tok]; stop {
				continue
			}
			idx[tok] = struct{}{}
		}
	}
	return idx
}

// overlaps reports whether any content token of query is indexed.
func (idx keywordIndex) overlaps(query string) bool {
	if len(idx) == 0 {
		return false
	}
	for _, tok := range tokenize(query) {
		if _, ok := idx[tok]; ok {
			return true
		}
	}
	return false
}

package slide

import (
	"strings"
	"unicode"
)

// stopwords is the broader English stopword list used for slide text. The
// topic signature has its own, smaller list.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "this": {},
	"that": {}, "these": {}, "those": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {}, "do": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "could": {}, "should": {},
	"may": {}, "might": {}, "must": {}, "can": {}, "about": {}, "into": {},
	"through": {}, "during": {}, "before": {}, "after": {}, "above": {},
	"below": {}, "up": {}, "down": {}, "out": {}, "off": {}, "over": {},
	"under": {}, "again": {}, "further": {}, "then": {}, "once": {},
}

func isStopword(word string) bool {
	_, ok := stopwords[strings.ToLower(strings.TrimFunc(word, isPunct))]
	return ok
}

func isPunct(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// collapse trims s and folds every whitespace run into one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// multiWord reports whether s has more than one word.
func multiWord(s string) bool {
	return len(strings.Fields(s)) > 1
}

// tokens lower-cases s and splits it into punctuation-free words.
func tokens(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		if t := strings.TrimFunc(f, isPunct); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// hasKeyword reports whether any token of s starts with one of keywords,
// so that "charts" matches "chart".
func hasKeyword(s string, keywords []string) bool {
	for _, t := range tokens(s) {
		for _, k := range keywords {
			if strings.HasPrefix(t, k) {
				return true
			}
		}
	}
	return false
}

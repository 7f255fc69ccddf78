// Package topic turns free-text topics into comparable keyword signatures.
package topic

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"
)

// MaxKeywords bounds the size of a signature.
const MaxKeywords = 5

// EmptyHash is the hash of the empty signature. The cache never stores it.
const EmptyHash = "00000000000000000000000000000000"

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "in": {}, "on": {}, "at": {}, "for": {},
	"with": {}, "by": {}, "of": {}, "to": {}, "from": {}, "and": {}, "or": {},
	"but": {}, "is": {}, "are": {}, "was": {}, "were": {}, "been": {},
	"being": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {},
}

// Signature is a sorted, deduplicated set of at most MaxKeywords keywords.
type Signature []string

// Normalize derives the signature of text. It is pure and never fails.
// Digits count as keyword characters, so years and model numbers such as
// "2024" separate otherwise identical topics; short tokens like "q3" are
// still dropped by the length rule.
func Normalize(text string) Signature {
	seen := make(map[string]struct{})
	var keywords []string
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := stripPunct(field)
		if len([]rune(token)) <= 2 {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
	}
	sort.Strings(keywords)
	if len(keywords) > MaxKeywords {
		keywords = keywords[:MaxKeywords]
	}
	return Signature(keywords)
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// FromKeywords rebuilds a signature from stored keywords.
func FromKeywords(keywords []string) Signature {
	return Normalize(strings.Join(keywords, " "))
}

// Text is the space-joined keyword list.
func (s Signature) Text() string {
	return strings.Join(s, " ")
}

// Hash is the hex MD5 of Text, or EmptyHash for the empty signature.
func (s Signature) Hash() string {
	if len(s) == 0 {
		return EmptyHash
	}
	sum := md5.Sum([]byte(s.Text()))
	return hex.EncodeToString(sum[:])
}

// IsEmpty reports whether the signature has no keywords.
func (s Signature) IsEmpty() bool {
	return len(s) == 0
}

// Jaccard returns |a∩b| / |a∪b|. Empty inputs score 0.
func Jaccard(a, b Signature) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}
	inter := 0
	union := len(set)
	seenB := make(map[string]struct{}, len(b))
	for _, k := range b {
		if _, dup := seenB[k]; dup {
			continue
		}
		seenB[k] = struct{}{}
		if _, ok := set[k]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

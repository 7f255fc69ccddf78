package service

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/timmy/slidefix/internal/domain"
)

const maxSuggestedImages = 3

// ParseResult is either Structured or Unstructured.
type ParseResult interface {
	isParseResult()
}

// Structured is a reply that decoded as one of the expected JSON shapes.
type Structured struct {
	Candidates []string
}

// Unstructured is a reply with no usable JSON. Candidates are recovered from
// the raw text by pattern matching.
type Unstructured struct {
	Raw string
}

func (Structured) isParseResult()   {}
func (Unstructured) isParseResult() {}

// Suggested bare ids shorter than this are not real photo ids.
const minSuggestedIDLen = 10

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s"'<>()\[\]{},]+`)
	photoIDPattern  = regexp.MustCompile(`photo-([a-zA-Z0-9_-]+)`)
	quotedIDPattern = regexp.MustCompile(`"([a-zA-Z0-9_-]{10,})"`)
	validIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ParseSuggestions decodes a completion reply. Accepted JSON shapes are a
// bare array of ids or URLs, {"images":[{"id"|"url":...}]} and
// {"urls":[...]}; anything else is Unstructured.
func ParseSuggestions(text string) ParseResult {
	body := stripThinking(text)
	if raw := firstJSON(body); raw != "" {
		var decoded interface{}
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			if refs := refsFromJSON(decoded); len(refs) > 0 {
				return Structured{Candidates: refs}
			}
		}
	}
	return Unstructured{Raw: text}
}

// CandidateURLs turns a parse result into at most three distinct image URLs.
// Bare ids are taken to be Unsplash photo ids.
func CandidateURLs(r ParseResult) []string {
	var refs []string
	switch v := r.(type) {
	case Structured:
		refs = v.Candidates
	case Unstructured:
		refs = refsFromText(v.Raw)
	}

	seen := make(map[string]struct{}, len(refs))
	var urls []string
	for _, ref := range refs {
		u := refToURL(ref)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
		if len(urls) == maxSuggestedImages {
			break
		}
	}
	return urls
}

func refToURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	id := strings.TrimPrefix(ref, "photo-")
	if len(id) < minSuggestedIDLen || !validIDPattern.MatchString(id) {
		return ""
	}
	return BuildURL(domain.ProviderUnsplash, id)
}

func refsFromJSON(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		var refs []string
		for _, item := range t {
			refs = append(refs, refFromItem(item)...)
		}
		return refs
	case map[string]interface{}:
		for _, key := range []string{"images", "urls", "ids"} {
			if list, ok := t[key]; ok {
				return refsFromJSON(list)
			}
		}
		return refFromItem(t)
	}
	return nil
}

func refFromItem(item interface{}) []string {
	switch t := item.(type) {
	case string:
		return []string{t}
	case map[string]interface{}:
		for _, key := range []string{"url", "id"} {
			if s, ok := t[key].(string); ok && s != "" {
				return []string{s}
			}
		}
	}
	return nil
}

func refsFromText(raw string) []string {
	if urls := urlPattern.FindAllString(raw, -1); len(urls) > 0 {
		return urls
	}
	for _, p := range []*regexp.Regexp{photoIDPattern, quotedIDPattern} {
		matches := p.FindAllStringSubmatch(raw, -1)
		if len(matches) == 0 {
			continue
		}
		refs := make([]string, 0, len(matches))
		for _, m := range matches {
			refs = append(refs, m[1])
		}
		return refs
	}
	return nil
}

func stripThinking(content string) string {
	if start := strings.Index(content, "<think>"); start != -1 {
		if end := strings.Index(content, "</think>"); end > start {
			return content[end+len("</think>"):]
		}
	}
	return content
}

// firstJSON returns the first balanced JSON array or object in content,
// skipping brackets inside string literals.
func firstJSON(content string) string {
	start := strings.IndexAny(content, "[{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

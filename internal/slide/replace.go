package slide

import (
	"html"
	"sort"
	"strings"

	"github.com/timmy/slidefix/internal/domain"
	xhtml "golang.org/x/net/html"
)

// Apply rewrites the <img> elements named by plans and copies every other
// byte of document through unchanged. Within a rewritten tag only the src
// and alt values change; a removal drops the tag. Applying the same plans
// twice gives the same document.
func Apply(document string, plans []domain.ReplacementPlan) (string, domain.ApplyStats) {
	var stats domain.ApplyStats

	bySrc := make(map[string]domain.ReplacementPlan, len(plans))
	for _, p := range plans {
		if _, dup := bySrc[p.OriginalSrc]; !dup {
			bySrc[p.OriginalSrc] = p
		}
	}

	var b strings.Builder
	b.Grow(len(document))

	z := xhtml.NewTokenizer(strings.NewReader(document))
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			// z.Err() is io.EOF for a string reader; flush any partial tag.
			b.Write(z.Raw())
			break
		}
		if tt != xhtml.StartTagToken && tt != xhtml.SelfClosingTagToken {
			b.Write(z.Raw())
			continue
		}

		// TagName lower-cases the shared buffer in place.
		raw := string(z.Raw())
		name, hasAttr := z.TagName()
		if string(name) != "img" {
			b.WriteString(raw)
			continue
		}

		src, found := "", false
		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			if !found && string(key) == "src" {
				src, found = string(val), true
			}
		}

		plan, ok := bySrc[src]
		switch {
		case !found || !ok:
			stats.Untouched++
			b.WriteString(raw)
		case plan.IsRemoval():
			stats.Removed++
		default:
			stats.Replaced++
			b.WriteString(rewriteImgTag(raw, plan.NewSrc, plan.AltText))
		}
	}
	return b.String(), stats
}

// attrSpan locates one attribute inside a raw start tag. valStart is -1
// when the attribute has no value.
type attrSpan struct {
	name     string
	nameEnd  int
	valStart int
	valEnd   int
}

type edit struct {
	start, end int
	text       string
}

// rewriteImgTag sets the src value and, when alt is non-empty, the alt
// value of a raw img tag. A missing alt is inserted right after src.
func rewriteImgTag(tag, src, alt string) string {
	spans := scanAttrs(tag)
	srcSpan, altSpan := -1, -1
	for i, s := range spans {
		switch {
		case s.name == "src" && srcSpan < 0:
			srcSpan = i
		case s.name == "alt" && altSpan < 0:
			altSpan = i
		}
	}
	if srcSpan < 0 {
		return tag
	}

	edits := []edit{valueEdit(spans[srcSpan], src)}
	if alt != "" {
		if altSpan >= 0 {
			edits = append(edits, valueEdit(spans[altSpan], alt))
		} else {
			edits[0].text += " alt=" + quoteAttr(alt)
		}
	}

	// Apply back to front so earlier offsets stay valid.
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	for _, e := range edits {
		tag = tag[:e.start] + e.text + tag[e.end:]
	}
	return tag
}

func valueEdit(s attrSpan, value string) edit {
	if s.valStart < 0 {
		return edit{start: s.nameEnd, end: s.nameEnd, text: "=" + quoteAttr(value)}
	}
	return edit{start: s.valStart, end: s.valEnd, text: quoteAttr(value)}
}

func quoteAttr(v string) string {
	return `"` + html.EscapeString(v) + `"`
}

// scanAttrs splits a raw start tag into attribute spans using the same
// boundaries as the HTML tokenizer.
func scanAttrs(tag string) []attrSpan {
	i := 1
	for i < len(tag) && !isSpaceByte(tag[i]) && tag[i] != '>' && tag[i] != '/' {
		i++
	}

	var spans []attrSpan
	for i < len(tag) {
		for i < len(tag) && (isSpaceByte(tag[i]) || tag[i] == '/') {
			i++
		}
		if i >= len(tag) || tag[i] == '>' {
			break
		}

		nameStart := i
		i++
		for i < len(tag) && !isSpaceByte(tag[i]) && tag[i] != '/' && tag[i] != '=' && tag[i] != '>' {
			i++
		}
		span := attrSpan{name: strings.ToLower(tag[nameStart:i]), nameEnd: i, valStart: -1, valEnd: -1}

		j := i
		for j < len(tag) && isSpaceByte(tag[j]) {
			j++
		}
		if j < len(tag) && tag[j] == '=' {
			j++
			for j < len(tag) && isSpaceByte(tag[j]) {
				j++
			}
			span.valStart = j
			if j < len(tag) && (tag[j] == '"' || tag[j] == '\'') {
				if k := strings.IndexByte(tag[j+1:], tag[j]); k >= 0 {
					j += k + 2
				} else {
					j = len(tag)
				}
			} else {
				for j < len(tag) && !isSpaceByte(tag[j]) && tag[j] != '>' {
					j++
				}
			}
			span.valEnd = j
			i = j
		}
		spans = append(spans, span)
	}
	return spans
}

func isSpaceByte(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}

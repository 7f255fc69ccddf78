// Package slide analyzes slide HTML and rewrites its images.
package slide

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/timmy/slidefix/internal/domain"
	"golang.org/x/net/html"
)

// elementWeights favors headings and emphasis over body text when looking
// for the dominant terms of a slide.
var elementWeights = map[string]float64{
	"h1":     3.0,
	"h2":     2.5,
	"h3":     2.0,
	"h4":     1.5,
	"h5":     1.2,
	"h6":     1.0,
	"strong": 1.5,
	"b":      1.5,
	"em":     1.2,
	"i":      1.2,
	"p":      1.0,
	"li":     0.8,
	"span":   0.5,
	"div":    0.3,
}

const (
	defaultElementWeight = 0.1
	maxKeyPhrases        = 10
	mainTopicTerms       = 3
	titleSlideMaxWords   = 20
)

var (
	wordPattern        = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)
	dataKeywords       = []string{"chart", "graph", "data", "statistic", "metric", "analysis", "analyses", "analytic"}
	conclusionKeywords = []string{"conclusion", "summary", "takeaway", "recap"}
	chartClassHints    = []string{"chart", "graph", "visualization", "plot", "diagram"}
)

// skippedElements hold no visible slide text.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"meta":     true,
}

// parse returns the document tree, or nil when raw cannot be parsed.
func parse(raw string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil
	}
	return doc
}

// ExtractContext analyzes the whole document: headings, lists, dominant
// terms and slide type. Unparseable input yields a general, empty context.
func ExtractContext(doc domain.Document) domain.SlideContext {
	d := parse(doc.HTML)
	if d == nil {
		return domain.SlideContext{SlideType: domain.SlideTypeGeneral}
	}
	return analyze(d)
}

func analyze(d *goquery.Document) domain.SlideContext {
	root := d.Nodes[0]
	weighted := weightedText(root)
	visible := visibleText(root)
	phrases := keyPhrases(weighted)
	headings := extractHeadings(d)

	sc := domain.SlideContext{
		Keywords:        phrases,
		Headings:        headings,
		Lists:           extractLists(d),
		WordCount:       len(strings.Fields(weighted)),
		HasDataElements: hasDataElements(d),
	}
	sc.SlideType = detectSlideType(d, weighted, visible)
	sc.MainTopic = mainTopic(phrases, headings)

	if elements := d.Find("*").Length(); elements > 0 {
		sc.TextDensity = float64(len(strings.Fields(visible))) / float64(elements)
	}
	return sc
}

// weightedText concatenates every text node, repeating text from heavier
// elements so it dominates the term counts.
func weightedText(root *html.Node) string {
	var parts []string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode && n.Parent != nil && n.Parent.Type == html.ElementNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				weight, ok := elementWeights[n.Parent.Data]
				if !ok {
					weight = defaultElementWeight
				}
				repeat := int(weight)
				if repeat < 1 {
					repeat = 1
				}
				for i := 0; i < repeat; i++ {
					parts = append(parts, text)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(root)
	return strings.Join(parts, " ")
}

func visibleText(root *html.Node) string {
	var b strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(root)
	return b.String()
}

// keyPhrases returns the words that occur more than once, most frequent
// first, ties in order of first appearance.
func keyPhrases(text string) []string {
	freq := make(map[string]int)
	var order []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if isStopword(w) {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}

	var phrases []string
	for _, w := range order {
		if freq[w] > 1 {
			phrases = append(phrases, w)
		}
	}
	sort.SliceStable(phrases, func(i, j int) bool {
		return freq[phrases[i]] > freq[phrases[j]]
	})
	if len(phrases) > maxKeyPhrases {
		phrases = phrases[:maxKeyPhrases]
	}
	return phrases
}

func detectSlideType(d *goquery.Document, weighted, visible string) domain.SlideType {
	switch {
	case hasKeyword(weighted, dataKeywords):
		return domain.SlideTypeData
	case d.Find("h1").Length() == 1 && len(strings.Fields(visible)) < titleSlideMaxWords:
		return domain.SlideTypeTitle
	case d.Find("ul, ol").Length() > 0 && d.Find("li").Length() > 3:
		return domain.SlideTypeList
	case d.Find("p").Length() > 2:
		return domain.SlideTypeContent
	case hasKeyword(weighted, conclusionKeywords):
		return domain.SlideTypeConclusion
	default:
		return domain.SlideTypeGeneral
	}
}

func extractHeadings(d *goquery.Document) []domain.Heading {
	var headings []domain.Heading
	d.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		headings = append(headings, domain.Heading{
			Level: int(name[1] - '0'),
			Text:  collapse(s.Text()),
		})
	})
	return headings
}

func extractLists(d *goquery.Document) []domain.ListBlock {
	var lists []domain.ListBlock
	d.Find("ul, ol").Each(func(_ int, s *goquery.Selection) {
		block := domain.ListBlock{Ordered: goquery.NodeName(s) == "ol"}
		s.Find("li").Each(func(_ int, li *goquery.Selection) {
			block.Items = append(block.Items, collapse(li.Text()))
		})
		lists = append(lists, block)
	})
	return lists
}

func hasDataElements(d *goquery.Document) bool {
	if d.Find("table").Length() > 0 {
		return true
	}
	found := false
	d.Find("[class]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		class := strings.ToLower(s.AttrOr("class", ""))
		for _, hint := range chartClassHints {
			if strings.Contains(class, hint) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// mainTopic is the slide's dominant topic: its top weighted terms, or the
// first heading when too few terms repeat.
func mainTopic(phrases []string, headings []domain.Heading) string {
	if len(phrases) >= 2 {
		n := len(phrases)
		if n > mainTopicTerms {
			n = mainTopicTerms
		}
		return strings.Join(phrases[:n], " ")
	}
	for _, h := range headings {
		if h.Text != "" {
			return h.Text
		}
	}
	if len(phrases) == 1 {
		return phrases[0]
	}
	return ""
}

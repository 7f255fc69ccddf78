package slide

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/timmy/slidefix/internal/domain"
	"golang.org/x/net/html"
)

const (
	maxSurroundingRunes  = 200
	surroundingScanWords = 10
	surroundingKeepWords = 5
)

// fallbackTopics is the last resort for images nothing else describes.
var fallbackTopics = map[domain.SlideType]string{
	domain.SlideTypeData:       "business data visualization",
	domain.SlideTypeTitle:      "professional presentation",
	domain.SlideTypeList:       "business concepts",
	domain.SlideTypeContent:    "general business",
	domain.SlideTypeConclusion: "success achievement",
	domain.SlideTypeGeneral:    "business professional",
}

// ExtractImages returns every <img> of doc in document order, each with
// its inferred topic. Unparseable input has no images.
func ExtractImages(doc domain.Document) []domain.ImageReference {
	d := parse(doc.HTML)
	if d == nil {
		return nil
	}
	return images(d, analyze(d))
}

// Analyze returns the slide context and the images of doc from a single
// parse.
func Analyze(doc domain.Document) (domain.SlideContext, []domain.ImageReference) {
	d := parse(doc.HTML)
	if d == nil {
		return domain.SlideContext{SlideType: domain.SlideTypeGeneral}, nil
	}
	sc := analyze(d)
	return sc, images(d, sc)
}

// AnalyzeFailed is ExtractImages restricted to images whose src is in
// failed.
func AnalyzeFailed(doc domain.Document, failed []string) []domain.ImageReference {
	return Failing(ExtractImages(doc), failed)
}

// Failing keeps the references whose src is in failed, in order.
func Failing(refs []domain.ImageReference, failed []string) []domain.ImageReference {
	if len(failed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(failed))
	for _, src := range failed {
		set[src] = struct{}{}
	}

	var out []domain.ImageReference
	for _, ref := range refs {
		if _, ok := set[ref.OriginalSrc]; ok {
			out = append(out, ref)
		}
	}
	return out
}

type headingPos struct {
	order int
	text  string
}

func images(d *goquery.Document, sc domain.SlideContext) []domain.ImageReference {
	order := documentOrder(d.Nodes[0])

	var headings []headingPos
	d.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		headings = append(headings, headingPos{order: order[s.Nodes[0]], text: collapse(s.Text())})
	})

	var refs []domain.ImageReference
	d.Find("img").Each(func(i int, s *goquery.Selection) {
		ref := domain.ImageReference{
			OriginalSrc:     s.AttrOr("src", ""),
			AltText:         s.AttrOr("alt", ""),
			SurroundingText: surroundingText(s),
			SectionHeading:  nearestHeading(s, order, headings),
			SlideTopic:      sc.MainTopic,
			SlideType:       sc.SlideType,
			PositionIndex:   i,
		}
		ref.Topic = InferTopic(ref)
		refs = append(refs, ref)
	})
	return refs
}

// documentOrder numbers the element nodes of the tree in pre-order.
func documentOrder(root *html.Node) map[*html.Node]int {
	order := make(map[*html.Node]int)
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			order[n] = len(order)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(root)
	return order
}

// nearestHeading is the heading enclosing s, else the closest one before it.
func nearestHeading(s *goquery.Selection, order map[*html.Node]int, headings []headingPos) string {
	if h := s.Closest("h1, h2, h3, h4, h5, h6"); h.Length() > 0 {
		if text := collapse(h.Text()); text != "" {
			return text
		}
	}
	pos := order[s.Nodes[0]]
	text := ""
	for _, h := range headings {
		if h.order >= pos {
			break
		}
		if h.text != "" {
			text = h.text
		}
	}
	return text
}

// surroundingText is the text of the closest ancestor below body that has
// any.
func surroundingText(s *goquery.Selection) string {
	for p := s.Parent(); p.Length() > 0; p = p.Parent() {
		if name := goquery.NodeName(p); name == "body" || name == "html" {
			break
		}
		if text := collapse(p.Text()); text != "" {
			return truncateRunes(text, maxSurroundingRunes)
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

// InferTopic picks the topic of an image, first usable source wins: a
// multi-word alt text, the content words of the surrounding text, the
// nearest heading, the slide's main topic, and finally a stock
// topic for the slide type.
func InferTopic(ref domain.ImageReference) string {
	if alt := collapse(ref.AltText); multiWord(alt) {
		return alt
	}
	if t := surroundingTopic(ref.SurroundingText); multiWord(t) {
		return t
	}
	if h := collapse(ref.SectionHeading); multiWord(h) {
		return h
	}
	if m := collapse(ref.SlideTopic); multiWord(m) {
		return m
	}
	if t, ok := fallbackTopics[ref.SlideType]; ok {
		return t
	}
	return fallbackTopics[domain.SlideTypeGeneral]
}

func surroundingTopic(text string) string {
	words := strings.Fields(text)
	if len(words) > surroundingScanWords {
		words = words[:surroundingScanWords]
	}
	var kept []string
	for _, w := range words {
		w = strings.TrimFunc(w, isPunct)
		if w == "" || isStopword(w) {
			continue
		}
		kept = append(kept, w)
		if len(kept) == surroundingKeepWords {
			break
		}
	}
	return strings.Join(kept, " ")
}

// SuggestAltText proposes alt text for a replacement image. A descriptive
// existing alt is kept.
func SuggestAltText(ref domain.ImageReference) string {
	if alt := collapse(ref.AltText); multiWord(alt) {
		return alt
	}
	topic := ref.Topic
	if topic == "" {
		topic = InferTopic(ref)
	}
	switch ref.SlideType {
	case domain.SlideTypeData:
		return "Data visualization related to " + topic
	case domain.SlideTypeTitle:
		return "Professional image representing " + topic
	default:
		return "Image illustrating " + topic
	}
}

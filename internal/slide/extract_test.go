package slide

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/slidefix/internal/domain"
)

const sampleSlide = `<html><body>
<h1>Quarterly Revenue Growth</h1>
<div><img src="a.png" alt="Sales team celebrating"></div>
<section><p>Our new solar farm in the desert <img src="b.png" alt="photo"></p></section>
<h2>Customer Stories</h2>
<div><img src="c.png"></div>
</body></html>`

func TestExtractImagesTopicOrder(t *testing.T) {
	refs := ExtractImages(domain.Document{ID: "s1", HTML: sampleSlide})
	require.Len(t, refs, 3)

	assert.Equal(t, "a.png", refs[0].OriginalSrc)
	assert.Equal(t, "Sales team celebrating", refs[0].Topic, "multi-word alt wins")
	assert.Equal(t, 0, refs[0].PositionIndex)

	assert.Equal(t, "Our new solar farm in the desert", refs[1].SurroundingText)
	assert.Equal(t, "Our new solar farm desert", refs[1].Topic, "single-word alt falls through")

	assert.Equal(t, "Customer Stories", refs[2].SectionHeading)
	assert.Equal(t, "Customer Stories", refs[2].Topic)
	assert.Equal(t, 2, refs[2].PositionIndex)
}

func TestExtractImagesMainTopicAndFallback(t *testing.T) {
	t.Run("main topic", func(t *testing.T) {
		refs := ExtractImages(domain.Document{HTML: `<h1>Roadmap</h1><p>cloud migration cloud migration plan plan</p><div><img src="x.png"></div>`})
		require.Len(t, refs, 1)
		assert.Equal(t, "Roadmap", refs[0].SectionHeading)
		assert.Equal(t, domain.SlideTypeTitle, refs[0].SlideType)
		assert.Equal(t, "roadmap cloud migration", refs[0].Topic)
	})

	t.Run("slide type fallback", func(t *testing.T) {
		refs := ExtractImages(domain.Document{HTML: `<div><img src="x.png"></div>`})
		require.Len(t, refs, 1)
		assert.Equal(t, "business professional", refs[0].Topic)
	})
}

func TestExtractImagesDeterministic(t *testing.T) {
	doc := domain.Document{HTML: sampleSlide}
	assert.Equal(t, ExtractImages(doc), ExtractImages(doc))
}

func TestExtractImagesMalformed(t *testing.T) {
	for _, in := range []string{"", "<<<>>>", "<div><p>unclosed", "\x00\xff"} {
		assert.Empty(t, ExtractImages(domain.Document{HTML: in}), "input %q", in)
	}
}

func TestSurroundingTextTruncated(t *testing.T) {
	long := strings.Repeat("word ", 100)
	refs := ExtractImages(domain.Document{HTML: `<p>` + long + `<img src="x.png"></p>`})
	require.Len(t, refs, 1)
	assert.LessOrEqual(t, len([]rune(refs[0].SurroundingText)), maxSurroundingRunes)
}

func TestAnalyzeFailed(t *testing.T) {
	doc := domain.Document{HTML: sampleSlide}

	refs := AnalyzeFailed(doc, []string{"c.png", "missing.png"})
	require.Len(t, refs, 1)
	assert.Equal(t, "c.png", refs[0].OriginalSrc)
	assert.Equal(t, 2, refs[0].PositionIndex)

	assert.Empty(t, AnalyzeFailed(doc, nil))
}

func TestInferTopic(t *testing.T) {
	tests := []struct {
		name string
		ref  domain.ImageReference
		want string
	}{
		{"alt", domain.ImageReference{AltText: "  mountain   lake  "}, "mountain lake"},
		{"surrounding skips stopwords", domain.ImageReference{AltText: "img", SurroundingText: "The view of the harbor at dawn"}, "view harbor dawn"},
		{"heading", domain.ImageReference{SurroundingText: "Hello", SectionHeading: "Product Launch"}, "Product Launch"},
		{"slide topic", domain.ImageReference{SectionHeading: "Intro", SlideTopic: "launch product pricing"}, "launch product pricing"},
		{"data fallback", domain.ImageReference{SlideType: domain.SlideTypeData}, "business data visualization"},
		{"unknown type", domain.ImageReference{SlideType: "odd"}, "business professional"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferTopic(tt.ref))
		})
	}
}

func TestSuggestAltText(t *testing.T) {
	tests := []struct {
		name string
		ref  domain.ImageReference
		want string
	}{
		{"keeps descriptive alt", domain.ImageReference{AltText: "Team at work", Topic: "x y"}, "Team at work"},
		{"data", domain.ImageReference{AltText: "chart", Topic: "revenue growth", SlideType: domain.SlideTypeData}, "Data visualization related to revenue growth"},
		{"title", domain.ImageReference{Topic: "annual review", SlideType: domain.SlideTypeTitle}, "Professional image representing annual review"},
		{"other", domain.ImageReference{Topic: "solar farm", SlideType: domain.SlideTypeList}, "Image illustrating solar farm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SuggestAltText(tt.ref))
		})
	}
}

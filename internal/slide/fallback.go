package slide

import "github.com/timmy/slidefix/internal/domain"

const fallbackConfidence = 0.3

// FallbackImage is a stock image used when a topic has no candidates left.
type FallbackImage struct {
	Category string
	Keywords []string
	ImageID  string
}

// URL returns the image's address.
func (f FallbackImage) URL() string {
	return "https://images.unsplash.com/photo-" + f.ImageID + "?w=800&h=600&fit=crop"
}

// Candidate returns the image as a fallback candidate.
func (f FallbackImage) Candidate() domain.Candidate {
	return domain.Candidate{
		URL:            f.URL(),
		ImageID:        f.ImageID,
		SourceProvider: domain.ProviderUnsplash,
		Confidence:     fallbackConfidence,
		Provenance:     domain.ProvenanceFallback,
	}
}

// fallbackImages is checked in order; general matches everything.
var fallbackImages = []FallbackImage{
	{Category: "business", Keywords: []string{"business", "professional", "corporate"}, ImageID: "1507003211169-0a1dd7228f2d"},
	{Category: "technology", Keywords: []string{"technology", "tech", "computer", "digital"}, ImageID: "1518709268805-4e9042af2176"},
	{Category: "nature", Keywords: []string{"nature", "landscape", "mountain", "forest"}, ImageID: "1506905925346-21bda4d32df4"},
	{Category: "data", Keywords: []string{"data", "chart", "graph", "analytics"}, ImageID: "1551288049-bebda4e38f71"},
	{Category: "team", Keywords: []string{"team", "people", "collaboration", "meeting"}, ImageID: "1522071820081-009f0129c71c"},
	{Category: "general", ImageID: "1557804506-669a67965ba0"},
}

// FallbackFor returns the stock image whose keywords match topic.
func FallbackFor(topic string) FallbackImage {
	for _, f := range fallbackImages[:len(fallbackImages)-1] {
		if hasKeyword(topic, f.Keywords) {
			return f
		}
	}
	return fallbackImages[len(fallbackImages)-1]
}

// FallbackURLs lists every stock image URL, for validation ahead of
// planning.
func FallbackURLs() []string {
	urls := make([]string, len(fallbackImages))
	for i, f := range fallbackImages {
		urls[i] = f.URL()
	}
	return urls
}

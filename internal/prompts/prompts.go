package prompts

import "strings"

// ============================================================================
// Suggestion strategies
// ============================================================================

// Strategy names, in rotation order.
const (
	StrategyDirect     = "direct"
	StrategyContextual = "contextual"
	StrategyFallback   = "fallback"
)

// Strategy is one prompt template pair for the image suggestion service.
type Strategy struct {
	Name   string
	System string
	User   string
}

// Render fills the user template. An empty slideContext becomes a one-line
// description of the topic.
func (s Strategy) Render(topic, slideContext string) string {
	if strings.TrimSpace(slideContext) == "" {
		slideContext = "A slide about " + topic
	}
	return strings.NewReplacer("{topic}", topic, "{slide_context}", slideContext).Replace(s.User)
}

// Strategies returns the strategies in rotation order.
func Strategies() []Strategy {
	return []Strategy{directStrategy, contextualStrategy, fallbackStrategy}
}

// ByName returns the named strategy.
func ByName(name string) (Strategy, bool) {
	for _, s := range Strategies() {
		if s.Name == name {
			return s, true
		}
	}
	return Strategy{}, false
}

// ============================================================================
// Templates
// ============================================================================

// directStrategy asks for bare ids of well-known photos.
var directStrategy = Strategy{
	Name:   StrategyDirect,
	System: `You are an expert at finding relevant Unsplash image IDs. You only suggest images you are certain exist on Unsplash.`,
	User: `Find 3 Unsplash images for this topic: "{topic}"

Return ONLY a JSON array of image IDs (not full URLs), like:
["1234567890-abcdef123456", "0987654321-fedcba654321", "1122334455-aabbccddeeff"]

Requirements:
- Use only well-known Unsplash photo IDs you're certain exist
- IDs are the string after 'photo-' in images.unsplash.com URLs
- Choose images that directly relate to the topic
- Return ONLY the JSON array, no other text`,
}

// contextualStrategy gives the slide summary and asks for an object with
// a short reason per image.
var contextualStrategy = Strategy{
	Name:   StrategyContextual,
	System: `You are an expert at finding relevant stock images. You have deep knowledge of popular Unsplash photos and their IDs.`,
	User: `Context from presentation slide:
{slide_context}

Topic focus: {topic}

Suggest 3 relevant Unsplash photo IDs that would enhance this slide visually.

Return as JSON:
{
  "images": [
    {"id": "photo_id_here", "reason": "brief reason for selection"},
    {"id": "photo_id_here", "reason": "brief reason for selection"},
    {"id": "photo_id_here", "reason": "brief reason for selection"}
  ]
}

Use only verified Unsplash photo IDs you know exist.`,
}

// fallbackStrategy steers towards generic, heavily used subjects.
var fallbackStrategy = Strategy{
	Name:   StrategyFallback,
	System: `You are helping find images for a presentation. Suggest realistic Unsplash photo IDs based on common photography subjects.`,
	User: `I need images related to: {topic}

Based on common Unsplash photography categories, suggest 3 photo IDs that likely exist.
Focus on:
- Generic subjects (nature, business, technology, people)
- Popular photography themes
- Well-documented photo collections

Format: ["id1", "id2", "id3"]

Only suggest IDs following Unsplash patterns you have seen before. Full image URLs are also accepted.`,
}

package slide

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/slidefix/internal/domain"
)

func cand(url, id string, p domain.Provenance) domain.Candidate {
	return domain.Candidate{URL: url, ImageID: id, SourceProvider: domain.ProviderUnsplash, Confidence: 0.8, Provenance: p}
}

func failedRef(src, topic string) domain.ImageReference {
	return domain.ImageReference{OriginalSrc: src, Topic: topic, SlideType: domain.SlideTypeContent}
}

func TestPlanReplacementsNoReuse(t *testing.T) {
	failed := []domain.ImageReference{
		failedRef("dead1.png", "solar farm"),
		failedRef("dead2.png", "solar farm"),
		failedRef("dead3.png", "wind park"),
	}
	pools := map[string][]domain.Candidate{
		"solar farm": {cand("https://cdn/a.jpg", "a", domain.ProvenanceCache), cand("https://cdn/b.jpg", "b", domain.ProvenanceCache)},
		// same image id as a, different URL
		"wind park": {cand("https://cdn/a.jpg?w=400", "a", domain.ProvenanceSimilarity), cand("https://cdn/c.jpg", "c", domain.ProvenanceGenerated)},
	}

	plans := PlanReplacements(failed, pools, nil)
	require.Len(t, plans, 3)

	assert.Equal(t, "https://cdn/a.jpg", plans[0].NewSrc)
	assert.Equal(t, domain.ProvenanceCache, plans[0].Provenance)
	assert.Equal(t, "Image illustrating solar farm", plans[0].AltText)
	assert.Equal(t, "https://cdn/b.jpg", plans[1].NewSrc)
	assert.Equal(t, "https://cdn/c.jpg", plans[2].NewSrc)
	assert.Equal(t, domain.ProvenanceGenerated, plans[2].Provenance)
	assert.Equal(t, "c", plans[2].ImageID)
}

func TestPlanReplacementsOnePlanPerSrc(t *testing.T) {
	failed := []domain.ImageReference{failedRef("dead.png", "solar farm"), failedRef("dead.png", "solar farm")}
	pools := map[string][]domain.Candidate{
		"solar farm": {cand("https://cdn/a.jpg", "a", domain.ProvenanceCache), cand("https://cdn/b.jpg", "b", domain.ProvenanceCache)},
	}

	plans := PlanReplacements(failed, pools, nil)
	require.Len(t, plans, 1)
	assert.Equal(t, "https://cdn/a.jpg", plans[0].NewSrc)
}

func TestPlanReplacementsSkipsFailingSrc(t *testing.T) {
	failed := []domain.ImageReference{failedRef("https://cdn/a.jpg", "solar farm"), failedRef("https://cdn/x.jpg", "solar farm")}
	pools := map[string][]domain.Candidate{
		"solar farm": {cand("https://cdn/x.jpg", "x", domain.ProvenanceCache), cand("https://cdn/b.jpg", "b", domain.ProvenanceCache)},
	}

	plans := PlanReplacements(failed, pools, nil)
	require.Len(t, plans, 2)
	assert.Equal(t, "https://cdn/b.jpg", plans[0].NewSrc)
	for _, p := range plans {
		assert.NotEqual(t, "https://cdn/a.jpg", p.NewSrc)
		assert.NotEqual(t, "https://cdn/x.jpg", p.NewSrc)
	}
}

func TestPlanReplacementsFallbackThenRemoval(t *testing.T) {
	failed := []domain.ImageReference{
		failedRef("dead1.png", "team meeting"),
		failedRef("dead2.png", "team offsite"),
	}

	plans := PlanReplacements(failed, nil, nil)
	require.Len(t, plans, 2)

	team := FallbackFor("team")
	assert.Equal(t, team.URL(), plans[0].NewSrc)
	assert.Equal(t, domain.ProvenanceFallback, plans[0].Provenance)
	assert.Equal(t, team.ImageID, plans[0].ImageID)
	assert.True(t, plans[1].IsRemoval(), "fallback already used in this document")
	assert.Equal(t, "team offsite", plans[1].Topic)
}

func TestPlanReplacementsDeadFallback(t *testing.T) {
	failed := []domain.ImageReference{failedRef("dead.png", "mountain forest")}
	dead := map[string]bool{FallbackFor("nature").URL(): true}

	plans := PlanReplacements(failed, nil, dead)
	require.Len(t, plans, 1)
	assert.True(t, plans[0].IsRemoval())
	assert.Empty(t, plans[0].AltText)
}

func TestFallbackFor(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"Corporate strategy", "business"},
		{"cloud technology roadmap", "technology"},
		{"Mountain landscapes", "nature"},
		{"quarterly analytics", "data"},
		{"team meeting", "team"},
		{"business data", "business"},
		{"ocean sunset", "general"},
		{"", "general"},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, FallbackFor(tt.topic).Category)
		})
	}

	urls := FallbackURLs()
	assert.Len(t, urls, len(fallbackImages))
	for _, u := range urls {
		assert.Contains(t, u, "https://images.unsplash.com/photo-")
	}
}

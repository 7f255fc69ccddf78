package slide

import "github.com/timmy/slidefix/internal/domain"

// PlanReplacements decides what happens to each failing image.
// Parameters:
//   - failed: failing images, with topics, in document order.
//   - pools: candidates per topic, best first.
//   - deadFallbacks: stock image URLs known not to load.
//
// Returns:
//   - []domain.ReplacementPlan: one plan per distinct failing src. A
//     candidate is used at most once per document, matched by URL and by
//     image id, and a failing src is never planned as a replacement. When a
//     topic's pool runs out the stock image for its category is used, or the
//     image is removed if that one is dead or taken.
func PlanReplacements(failed []domain.ImageReference, pools map[string][]domain.Candidate, deadFallbacks map[string]bool) []domain.ReplacementPlan {
	failing := make(map[string]struct{}, len(failed))
	for _, ref := range failed {
		failing[ref.OriginalSrc] = struct{}{}
	}

	usedURL := make(map[string]struct{})
	usedID := make(map[string]struct{})
	taken := func(c domain.Candidate) bool {
		if _, ok := usedURL[c.URL]; ok {
			return true
		}
		if _, ok := failing[c.URL]; ok {
			return true
		}
		if c.ImageID != "" {
			if _, ok := usedID[c.ImageID]; ok {
				return true
			}
		}
		return false
	}
	use := func(c domain.Candidate) {
		usedURL[c.URL] = struct{}{}
		if c.ImageID != "" {
			usedID[c.ImageID] = struct{}{}
		}
	}

	next := make(map[string]int, len(pools))
	planned := make(map[string]struct{}, len(failed))
	plans := make([]domain.ReplacementPlan, 0, len(failed))

	for _, ref := range failed {
		if _, done := planned[ref.OriginalSrc]; done {
			continue
		}
		planned[ref.OriginalSrc] = struct{}{}

		plan := domain.ReplacementPlan{OriginalSrc: ref.OriginalSrc, Topic: ref.Topic}

		pool := pools[ref.Topic]
		var chosen *domain.Candidate
		for next[ref.Topic] < len(pool) {
			c := pool[next[ref.Topic]]
			next[ref.Topic]++
			if c.URL == "" || taken(c) {
				continue
			}
			chosen = &c
			break
		}

		if chosen == nil {
			fb := FallbackFor(ref.Topic).Candidate()
			if !deadFallbacks[fb.URL] && !taken(fb) {
				chosen = &fb
			}
		}

		if chosen != nil {
			use(*chosen)
			plan.NewSrc = chosen.URL
			plan.AltText = SuggestAltText(ref)
			plan.Provenance = chosen.Provenance
			plan.ImageID = chosen.ImageID
			plan.SourceProvider = chosen.SourceProvider
			plan.Confidence = chosen.Confidence
		}
		plans = append(plans, plan)
	}
	return plans
}

package service

import (
	"context"
	"errors"

	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/logger"
	"github.com/timmy/slidefix/internal/slide"
	"github.com/timmy/slidefix/internal/topic"
)

// origin is the cache topic a candidate was read from.
type origin struct {
	sig  topic.Signature
	text string
}

// resolution collects candidate pools for the failing images of one document.
type resolution struct {
	failed  []domain.ImageReference
	topics  []string
	need    map[string]int
	failing map[string]struct{}
	pools   map[string][]domain.Candidate
	origins map[string]origin
	rep     *domain.DocumentReport
}

func newResolution(failed []domain.ImageReference, rep *domain.DocumentReport) *resolution {
	r := &resolution{
		failed:  failed,
		need:    make(map[string]int),
		failing: make(map[string]struct{}, len(failed)),
		pools:   make(map[string][]domain.Candidate),
		origins: make(map[string]origin),
		rep:     rep,
	}
	for _, ref := range failed {
		if _, dup := r.failing[ref.OriginalSrc]; dup {
			continue
		}
		r.failing[ref.OriginalSrc] = struct{}{}
		if _, ok := r.need[ref.Topic]; !ok {
			r.topics = append(r.topics, ref.Topic)
		}
		r.need[ref.Topic]++
	}
	return r
}

// short reports whether t has fewer usable candidates than failing images.
func (r *resolution) short(t string) bool {
	seen := make(map[string]struct{})
	for _, c := range r.pools[t] {
		if _, bad := r.failing[c.URL]; bad {
			continue
		}
		seen[c.URL] = struct{}{}
	}
	return len(seen) < r.need[t]
}

// spent marks the document partial once its budget is gone.
func (r *resolution) spent(ctx context.Context) bool {
	if ctx.Err() != nil {
		r.rep.Partial = true
		return true
	}
	return false
}

// resolve gathers candidates for every failing topic and plans the
// replacements: exact cache hits, then images borrowed from similar
// topics, revalidated together, then generated suggestions, then stock
// images.
func (p *Pipeline) resolve(ctx context.Context, sc domain.SlideContext, failed []domain.ImageReference, rep *domain.DocumentReport) []domain.ReplacementPlan {
	r := newResolution(failed, rep)

	for _, t := range r.topics {
		if r.spent(ctx) {
			break
		}
		sig := topic.Normalize(t)
		cands := p.lookupCache(ctx, r, t, sig)
		if p.cfg.SimilarityEnabled && len(cands) < r.need[t] && !r.spent(ctx) {
			cands = append(cands, p.borrow(ctx, r, sig)...)
		}
		r.pools[t] = cands
	}

	p.revalidate(ctx, r)

	generated := make(map[string][]domain.Candidate)
	if p.suggester != nil {
		for _, t := range r.topics {
			if !r.short(t) {
				continue
			}
			if r.spent(ctx) {
				break
			}
			res, err := p.suggester.Suggest(ctx, t, sc.Summary(), p.cfg.SuggestionAttempts)
			if res != nil {
				rep.SuggestionCalls += res.Calls
				r.pools[t] = append(r.pools[t], res.Suggestions...)
				generated[t] = res.Suggestions
			}
			if err != nil {
				entry := p.log(ctx).WithField(logger.FieldTopic, t).WithError(err)
				if errors.Is(err, domain.ErrServiceOpen) {
					entry.Debug("Suggestions skipped, circuit open")
				} else {
					entry.Warn("Suggestions failed")
				}
			}
		}
	}

	plans := p.planWithFallbacks(ctx, r)
	p.persist(ctx, r, generated, plans)
	return plans
}

func (p *Pipeline) lookupCache(ctx context.Context, r *resolution, t string, sig topic.Signature) []domain.Candidate {
	images, err := p.store.Lookup(ctx, sig, p.cfg.MaxImagesPerTopic, p.cfg.MinConfidence)
	switch {
	case err != nil:
		r.rep.Degraded = true
		p.metrics.CacheLookup("error")
		p.log(ctx).WithField(logger.FieldTopic, t).WithError(err).Warn("Cache lookup failed, treating as miss")
		return nil
	case len(images) == 0:
		p.metrics.CacheLookup("miss")
		return nil
	}
	p.metrics.CacheLookup("hit")
	r.rep.CacheHits++

	cands := make([]domain.Candidate, 0, len(images))
	for _, img := range images {
		u := BuildURL(img.SourceProvider, img.ImageID)
		if u == "" {
			continue
		}
		cands = append(cands, domain.Candidate{
			URL:            u,
			ImageID:        img.ImageID,
			SourceProvider: img.SourceProvider,
			Confidence:     img.Confidence,
			Provenance:     domain.ProvenanceCache,
		})
		if _, ok := r.origins[u]; !ok {
			r.origins[u] = origin{sig: sig, text: t}
		}
	}
	return cands
}

func (p *Pipeline) borrow(ctx context.Context, r *resolution, sig topic.Signature) []domain.Candidate {
	similar, err := p.similarity.FindSimilar(ctx, sig, p.cfg.MinSimilarity, p.cfg.SimilarLimit)
	if err != nil {
		r.rep.Degraded = true
		p.log(ctx).WithField(logger.FieldTopic, sig.Text()).WithError(err).Warn("Similarity search failed")
		return nil
	}

	var cands []domain.Candidate
	for _, st := range similar {
		confidence := BorrowedConfidence(st.Similarity)
		from := origin{sig: topic.Normalize(st.TopicText), text: st.TopicText}
		for _, img := range st.Images {
			u := BuildURL(img.SourceProvider, img.ImageID)
			if u == "" {
				continue
			}
			cands = append(cands, domain.Candidate{
				URL:            u,
				ImageID:        img.ImageID,
				SourceProvider: img.SourceProvider,
				Confidence:     confidence,
				Provenance:     domain.ProvenanceSimilarity,
			})
			if _, ok := r.origins[u]; !ok {
				r.origins[u] = from
			}
		}
	}
	if len(cands) > 0 {
		r.rep.SimilarityHits++
	}
	return cands
}

// revalidate checks every cached and borrowed candidate in one batch, drops
// the dead ones and records them as invalid under the topic they came from.
func (p *Pipeline) revalidate(ctx context.Context, r *resolution) {
	if !p.cfg.RevalidateCached {
		return
	}

	var urls []string
	seen := make(map[string]struct{})
	for _, t := range r.topics {
		for _, c := range r.pools[t] {
			if _, ok := seen[c.URL]; ok {
				continue
			}
			seen[c.URL] = struct{}{}
			urls = append(urls, c.URL)
		}
	}
	if len(urls) == 0 {
		return
	}

	valid := make(map[string]bool, len(urls))
	dead := make(map[string][]domain.CandidateImage)
	deadOrigins := make(map[string]origin)
	if !r.spent(ctx) {
		results := p.validator.ValidateBatch(ctx, urls)
		expired := r.spent(ctx)
		for i, res := range results {
			if res.Valid {
				valid[urls[i]] = true
				continue
			}
			if expired {
				continue
			}
			o, ok := r.origins[urls[i]]
			if !ok {
				continue
			}
			id, provider := ExtractImageID(urls[i])
			if id == "" {
				continue
			}
			h := o.sig.Hash()
			deadOrigins[h] = o
			dead[h] = append(dead[h], domain.CandidateImage{ImageID: id, SourceProvider: provider, Valid: false})
		}
	}

	// unchecked candidates are not ready
	for t, pool := range r.pools {
		kept := pool[:0]
		for _, c := range pool {
			if valid[c.URL] {
				kept = append(kept, c)
			}
		}
		r.pools[t] = kept
	}

	if len(dead) == 0 {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	for h, images := range dead {
		o := deadOrigins[h]
		if err := p.store.Insert(pctx, o.sig, o.text, images); err != nil {
			r.rep.Degraded = true
			p.log(ctx).WithField(logger.FieldTopic, o.text).WithError(err).Warn("Failed to record dead cache images")
			continue
		}
		logger.With(logger.Fields{
			logger.FieldTopic: o.text,
			logger.FieldCount: len(images),
		}).Info(ctx, "Cached images no longer load, marked invalid")
	}
}

// planWithFallbacks plans without stock images first; images that would be
// removed get their category's stock image checked and the plan is redone.
func (p *Pipeline) planWithFallbacks(ctx context.Context, r *resolution) []domain.ReplacementPlan {
	dead := make(map[string]bool)
	for _, u := range slide.FallbackURLs() {
		dead[u] = true
	}

	plans := slide.PlanReplacements(r.failed, r.pools, dead)

	var needed []string
	seen := make(map[string]struct{})
	for _, pl := range plans {
		if !pl.IsRemoval() {
			continue
		}
		u := slide.FallbackFor(pl.Topic).URL()
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		needed = append(needed, u)
	}
	if len(needed) == 0 || r.spent(ctx) {
		return plans
	}

	for i, res := range p.validator.ValidateBatch(ctx, needed) {
		if res.Valid {
			delete(dead, needed[i])
		}
	}
	return slide.PlanReplacements(r.failed, r.pools, dead)
}

// persist records newly generated suggestions, and borrowed images that
// were used, under the topic they now serve.
func (p *Pipeline) persist(ctx context.Context, r *resolution, generated map[string][]domain.Candidate, plans []domain.ReplacementPlan) {
	records := make(map[string][]domain.CandidateImage)
	for t, cands := range generated {
		for _, c := range cands {
			records[t] = append(records[t], domain.CandidateImage{
				ImageID:        c.ImageID,
				SourceProvider: c.SourceProvider,
				Valid:          true,
				Confidence:     c.Confidence,
			})
		}
	}
	for _, pl := range plans {
		if pl.Provenance != domain.ProvenanceSimilarity {
			continue
		}
		records[pl.Topic] = append(records[pl.Topic], domain.CandidateImage{
			ImageID:        pl.ImageID,
			SourceProvider: pl.SourceProvider,
			Valid:          true,
			Confidence:     pl.Confidence,
		})
	}
	if len(records) == 0 {
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	for _, t := range r.topics {
		images, ok := records[t]
		if !ok {
			continue
		}
		if err := p.store.Insert(pctx, topic.Normalize(t), t, images); err != nil {
			r.rep.Degraded = true
			p.log(ctx).WithField(logger.FieldTopic, t).WithError(err).Warn("Failed to cache images")
		}
	}
}

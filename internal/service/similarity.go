package service

import (
	"context"
	"iter"
	"sort"
	"strings"

	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/logger"
	"github.com/timmy/slidefix/internal/metrics"
	"github.com/timmy/slidefix/internal/topic"
)

const (
	// BorrowedConfidenceFactor scales a similarity score into the confidence
	// of an image borrowed from the similar topic.
	BorrowedConfidenceFactor = 0.65
	// BorrowedConfidenceCap keeps borrowed images below an exact cache hit.
	BorrowedConfidenceCap = 0.65

	defaultMinSimilarity = 0.6
	defaultSimilarLimit  = 5
)

// TopicScanner yields every cached topic with its best images.
type TopicScanner interface {
	AllTopics(ctx context.Context) iter.Seq2[domain.TopicSummary, error]
}

// SimilarityResolver finds cached topics whose keyword sets overlap a query
// signature when an exact lookup misses.
type SimilarityResolver struct {
	store   TopicScanner
	metrics *metrics.Metrics
}

// NewSimilarityResolver creates a SimilarityResolver over store.
func NewSimilarityResolver(store TopicScanner, m *metrics.Metrics) *SimilarityResolver {
	return &SimilarityResolver{store: store, metrics: m}
}

// FindSimilar scores every cached topic against sig by Jaccard similarity.
// Parameters:
//   - ctx: context for cancellation; a cancelled scan returns what was scored so far.
//   - sig: query signature.
//   - minSimilarity: lower bound (inclusive); non-positive uses 0.6.
//   - limit: maximum topics returned; non-positive uses 5.
// Returns:
//   - []domain.SimilarTopic: best first, ties broken by top usage.
//   - error: storage failure during the scan.
func (r *SimilarityResolver) FindSimilar(ctx context.Context, sig topic.Signature, minSimilarity float64, limit int) ([]domain.SimilarTopic, error) {
	if sig.IsEmpty() {
		return nil, nil
	}
	if minSimilarity <= 0 {
		minSimilarity = defaultMinSimilarity
	}
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	queryHash := sig.Hash()
	var hits []domain.SimilarTopic
	for summary, err := range r.store.AllTopics(ctx) {
		if err != nil {
			r.metrics.SimilarityLookup("error")
			return nil, err
		}
		if ctx.Err() != nil {
			break
		}
		if summary.TopicHash == queryHash || len(summary.Images) == 0 {
			continue
		}

		candidate := topic.FromKeywords(summary.Keywords)
		if len(candidate) == 0 {
			candidate = topic.Normalize(summary.NormalizedText)
		}
		score := topic.Jaccard(sig, candidate)
		if score == 0 || score < minSimilarity {
			continue
		}
		hits = append(hits, domain.SimilarTopic{
			TopicHash:  summary.TopicHash,
			TopicText:  summary.NormalizedText,
			Similarity: score,
			Images:     summary.Images,
			TopUsage:   summary.TopUsage,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if hits[i].TopUsage != hits[j].TopUsage {
			return hits[i].TopUsage > hits[j].TopUsage
		}
		return hits[i].TopicHash < hits[j].TopicHash
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	if len(hits) == 0 {
		r.metrics.SimilarityLookup("miss")
	} else {
		r.metrics.SimilarityLookup("hit")
		logger.With(logger.Fields{
			logger.FieldTopic: sig.Text(),
			logger.FieldCount: len(hits),
			"best":            strings.TrimSpace(hits[0].TopicText),
			"similarity":      hits[0].Similarity,
		}).Debug(ctx, "Similar topics found")
	}
	return hits, nil
}

// BorrowedConfidence is the confidence given to an image taken from a topic
// with the given similarity.
func BorrowedConfidence(similarity float64) float64 {
	c := similarity * BorrowedConfidenceFactor
	if c > BorrowedConfidenceCap {
		c = BorrowedConfidenceCap
	}
	if c < 0 {
		c = 0
	}
	return c
}

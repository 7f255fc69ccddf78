package service

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/topic"
)

type fakeScanner struct {
	topics []domain.TopicSummary
	err    error
	scans  int
}

func (f *fakeScanner) AllTopics(ctx context.Context) iter.Seq2[domain.TopicSummary, error] {
	f.scans++
	return func(yield func(domain.TopicSummary, error) bool) {
		for _, s := range f.topics {
			if !yield(s, nil) {
				return
			}
		}
		if f.err != nil {
			yield(domain.TopicSummary{}, f.err)
		}
	}
}

func summaryFor(text string, usage int64, ids ...string) domain.TopicSummary {
	sig := topic.Normalize(text)
	s := domain.TopicSummary{
		TopicHash:      sig.Hash(),
		NormalizedText: sig.Text(),
		Keywords:       sig,
		TopUsage:       usage,
	}
	for _, id := range ids {
		s.Images = append(s.Images, domain.CachedImage{ImageID: id, SourceProvider: domain.ProviderUnsplash, Confidence: 0.8, UsageCount: usage})
	}
	return s
}

func TestFindSimilar_RanksAndFilters(t *testing.T) {
	store := &fakeScanner{topics: []domain.TopicSummary{
		summaryFor("cloud computing growth", 1, "a1"),
		summaryFor("cloud computing growth revenue", 9, "b1"),
		summaryFor("ocean wildlife photography", 50, "c1"),
		summaryFor("cloud computing market growth", 3, "d1"),
	}}
	r := NewSimilarityResolver(store, nil)

	hits, err := r.FindSimilar(context.Background(), topic.Normalize("cloud computing market growth trends"), 0.6, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// 4/5 beats 3/5; the unrelated topic and 3/6 never qualify.
	assert.Equal(t, "d1", hits[0].Images[0].ImageID)
	assert.InDelta(t, 0.8, hits[0].Similarity, 1e-9)
	assert.Equal(t, "a1", hits[1].Images[0].ImageID)
	assert.InDelta(t, 0.6, hits[1].Similarity, 1e-9)
}

func TestFindSimilar_TieBreaksOnUsage(t *testing.T) {
	store := &fakeScanner{topics: []domain.TopicSummary{
		summaryFor("solar energy panels", 2, "low"),
		summaryFor("solar energy farms", 7, "high"),
	}}
	r := NewSimilarityResolver(store, nil)

	hits, err := r.FindSimilar(context.Background(), topic.Normalize("solar energy"), 0.5, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, hits[0].Similarity, hits[1].Similarity)
	assert.Equal(t, "high", hits[0].Images[0].ImageID)
}

func TestFindSimilar_SkipsExactAndImagelessTopics(t *testing.T) {
	exact := summaryFor("team collaboration meeting", 4, "x1")
	empty := summaryFor("team collaboration office", 0)
	store := &fakeScanner{topics: []domain.TopicSummary{exact, empty}}
	r := NewSimilarityResolver(store, nil)

	hits, err := r.FindSimilar(context.Background(), topic.Normalize("team collaboration meeting"), 0.1, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFindSimilar_Limit(t *testing.T) {
	var topics []domain.TopicSummary
	for _, extra := range []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf"} {
		topics = append(topics, summaryFor("data analytics "+extra, 1, extra))
	}
	r := NewSimilarityResolver(&fakeScanner{topics: topics}, nil)

	hits, err := r.FindSimilar(context.Background(), topic.Normalize("data analytics"), 0.5, 3)
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	hits, err = r.FindSimilar(context.Background(), topic.Normalize("data analytics"), 0.5, 0)
	require.NoError(t, err)
	assert.Len(t, hits, defaultSimilarLimit)
}

func TestFindSimilar_EmptySignature(t *testing.T) {
	store := &fakeScanner{topics: []domain.TopicSummary{summaryFor("data analytics", 1, "a")}}
	r := NewSimilarityResolver(store, nil)

	hits, err := r.FindSimilar(context.Background(), topic.Normalize("the of a"), 0.1, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Zero(t, store.scans)
}

func TestFindSimilar_StorageError(t *testing.T) {
	boom := errors.New("disk gone")
	store := &fakeScanner{
		topics: []domain.TopicSummary{summaryFor("data analytics", 1, "a")},
		err:    boom,
	}
	r := NewSimilarityResolver(store, nil)

	_, err := r.FindSimilar(context.Background(), topic.Normalize("data analytics dashboards"), 0.1, 5)
	assert.ErrorIs(t, err, boom)
}

func TestBorrowedConfidence(t *testing.T) {
	assert.InDelta(t, 0.39, BorrowedConfidence(0.6), 1e-9)
	assert.InDelta(t, BorrowedConfidenceCap, BorrowedConfidence(1.0), 1e-9)
	assert.Less(t, BorrowedConfidence(1.0), 0.7)
	assert.Zero(t, BorrowedConfidence(-1))
}

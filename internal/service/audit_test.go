package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/slidefix/internal/domain"
)

type statsStore struct {
	*memStore
	stats *domain.CacheStats
}

func (s *statsStore) Stats(ctx context.Context, windowDays int) (*domain.CacheStats, error) {
	return s.stats, nil
}

func TestValidatePresentation(t *testing.T) {
	docs := []domain.Document{
		{ID: "d1", HTML: renewableSlide},
		{ID: "d2", HTML: `<p>Broken <img src="javascript:void(0)"> and <img src="https://ok.example/logo.png"></p>`},
	}
	v := &setValidator{valid: map[string]bool{"https://ok.example/logo.png": true}}
	store := &statsStore{memStore: newMemStore(), stats: &domain.CacheStats{TotalTopics: 4, ValidImages: 11}}
	runs := &memRuns{}
	p := newTestPipeline(t, store, v, nil, runs)

	report := p.ValidatePresentation(context.Background(), docs)

	require.NotNil(t, report)
	assert.Equal(t, 2, report.TotalDocuments)
	assert.Equal(t, 5, report.TotalImages)
	assert.Equal(t, 2, report.ValidImages)
	assert.Equal(t, 3, report.InvalidImages)
	assert.Equal(t, 1, report.FormatFailures)
	assert.Equal(t, domain.HostCount{Total: 2, Valid: 2}, report.ImagesByHost["ok.example"])
	assert.Equal(t, domain.HostCount{Total: 2}, report.ImagesByHost["dead.example"])
	assert.Equal(t, domain.HostCount{Total: 1}, report.ImagesByHost["invalid"])
	assert.Same(t, store.stats, report.CacheStats)

	require.Len(t, report.Documents, 2)
	assert.Equal(t, 1, report.Documents[0].Valid)
	assert.Equal(t, 2, report.Documents[0].Invalid)
	assert.Equal(t, domain.ErrorCategoryHTTP, report.Documents[0].Images[0].ErrorCategory)
	assert.False(t, report.Documents[1].Images[0].FormatOK)

	assert.Equal(t, []string{
		"Found 3 invalid images that should be replaced",
		"1 image sources do not look like image URLs",
		"None of the 2 images from dead.example load; consider another host",
		"Cache contains 4 topics with 11 validated images",
	}, report.Recommendations)

	// one batch, duplicates collapsed
	require.Len(t, v.batches, 1)
	assert.Len(t, v.batches[0], 4)

	require.Contains(t, runs.runs, report.RunID)
	run := runs.runs[report.RunID]
	assert.Equal(t, domain.RunKindAudit, run.Kind)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.FailuresFound)
}

func TestValidatePresentation_AllValid(t *testing.T) {
	docs := []domain.Document{{ID: "d1", HTML: `<img src="https://ok.example/a.png">`}}
	v := &setValidator{valid: map[string]bool{"https://ok.example/a.png": true}}
	p := newTestPipeline(t, newMemStore(), v, nil, nil)

	report := p.ValidatePresentation(context.Background(), docs)

	assert.Nil(t, report.CacheStats)
	assert.Equal(t, []string{"All images load, no changes needed"}, report.Recommendations)
}

func TestValidatePresentation_NoDocuments(t *testing.T) {
	v := &setValidator{}
	p := newTestPipeline(t, newMemStore(), v, nil, nil)

	report := p.ValidatePresentation(context.Background(), nil)

	assert.Zero(t, report.TotalImages)
	assert.Empty(t, report.Recommendations)
	assert.Empty(t, v.batches)
}

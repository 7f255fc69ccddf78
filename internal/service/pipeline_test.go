package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/slide"
	"github.com/timmy/slidefix/internal/topic"
)

// memStore is an in-memory CacheStore keyed by topic hash.
type memStore struct {
	mu        sync.Mutex
	hits      map[string][]domain.CachedImage
	summaries []domain.TopicSummary
	inserts   map[string][]domain.CandidateImage
	err       error
}

func newMemStore() *memStore {
	return &memStore{
		hits:    make(map[string][]domain.CachedImage),
		inserts: make(map[string][]domain.CandidateImage),
	}
}

func (s *memStore) put(text string, images ...domain.CachedImage) {
	s.hits[topic.Normalize(text).Hash()] = images
}

func (s *memStore) Lookup(ctx context.Context, sig topic.Signature, limit int, minConfidence float64) ([]domain.CachedImage, error) {
	if s.err != nil {
		return nil, fmt.Errorf("%w: lookup: %v", domain.ErrStorageUnavailable, s.err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[sig.Hash()], nil
}

func (s *memStore) Insert(ctx context.Context, sig topic.Signature, rawText string, images []domain.CandidateImage) error {
	if s.err != nil {
		return fmt.Errorf("%w: insert: %v", domain.ErrStorageUnavailable, s.err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts[sig.Text()] = append(s.inserts[sig.Text()], images...)
	return nil
}

func (s *memStore) AllTopics(ctx context.Context) iter.Seq2[domain.TopicSummary, error] {
	return func(yield func(domain.TopicSummary, error) bool) {
		if s.err != nil {
			yield(domain.TopicSummary{}, fmt.Errorf("%w: scan: %v", domain.ErrStorageUnavailable, s.err))
			return
		}
		for _, sum := range s.summaries {
			if !yield(sum, nil) {
				return
			}
		}
	}
}

func (s *memStore) inserted(text string) []domain.CandidateImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts[topic.Normalize(text).Text()]
}

// mapSuggester answers from a fixed table and counts calls per topic.
type mapSuggester struct {
	mu      sync.Mutex
	answers map[string][]domain.Candidate
	calls   map[string]int
	panicOn string
}

func (s *mapSuggester) Suggest(ctx context.Context, topicText, contextText string, maxAttempts int) (*SuggestResult, error) {
	if topicText == s.panicOn {
		panic("suggester exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[topicText]++
	return &SuggestResult{Suggestions: s.answers[topicText], Calls: 1, Strategies: []string{"direct"}}, nil
}

// blockingValidator waits for the caller's context to end.
type blockingValidator struct{}

func (blockingValidator) ValidateBatch(ctx context.Context, urls []string) []domain.ValidationResult {
	<-ctx.Done()
	out := make([]domain.ValidationResult, len(urls))
	for i, u := range urls {
		out[i] = domain.ValidationResult{URL: u, ErrorCategory: domain.ErrorCategoryTimeout}
	}
	return out
}

type memRuns struct {
	mu   sync.Mutex
	runs map[string]domain.ProcessingRun
}

func (r *memRuns) Create(ctx context.Context, run *domain.ProcessingRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = make(map[string]domain.ProcessingRun)
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *memRuns) Update(ctx context.Context, run *domain.ProcessingRun) error {
	return r.Create(ctx, run)
}

const renewableSlide = `<h2>Renewable Energy</h2>
<p>Solar panels on the roof <img src="https://dead.example/solar.png"></p>
<p>Wind turbines offshore <img src="https://dead.example/wind.png"></p>
<div><img src="https://ok.example/logo.png" alt="Company logo mark"></div>`

const (
	solarTopic = "Solar panels roof"
	windTopic  = "Wind turbines offshore"
)

func generated(id string) domain.Candidate {
	return domain.Candidate{
		URL:            unsplash(id),
		ImageID:        id,
		SourceProvider: domain.ProviderUnsplash,
		Confidence:     0.9,
		Provenance:     domain.ProvenanceGenerated,
	}
}

func newTestPipeline(t *testing.T, store CacheStore, v BatchValidator, s Suggester, runs RunStore) *Pipeline {
	t.Helper()
	p, err := NewPipeline(store, v, s, runs, nil, &PipelineConfig{
		Workers:           2,
		RevalidateCached:  true,
		SimilarityEnabled: true,
	}, nil)
	require.NoError(t, err)
	return p
}

func TestNewPipeline_RequiresStorage(t *testing.T) {
	_, err := NewPipeline(nil, &setValidator{}, nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoStorage)

	_, err = NewPipeline(newMemStore(), nil, nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoValidator)
}

func TestProcess_AllValidDocumentUnchanged(t *testing.T) {
	doc := domain.Document{ID: "d1", HTML: `<p>Intro <img src="https://ok.example/a.png"> <IMG SRC='https://ok.example/b.png'></p>`}
	v := &setValidator{valid: map[string]bool{"https://ok.example/a.png": true, "https://ok.example/b.png": true}}
	suggester := &mapSuggester{}
	p := newTestPipeline(t, newMemStore(), v, suggester, nil)

	out, report := p.Process(context.Background(), []domain.Document{doc}, time.Second)

	require.Len(t, out, 1)
	assert.Equal(t, doc, out[0])
	assert.Equal(t, 2, report.ImagesChecked)
	assert.Zero(t, report.Replaced)
	assert.Zero(t, report.Removed)
	assert.Zero(t, report.DocumentsChanged)
	assert.Equal(t, domain.StateAllValid, report.Documents[0].State)
	assert.Empty(t, suggester.calls)
}

func TestProcess_NearZeroBudgetStillReports(t *testing.T) {
	docs := []domain.Document{
		{ID: "a", HTML: renewableSlide},
		{ID: "b", HTML: renewableSlide},
		{ID: "c", HTML: `<p>no images</p>`},
	}
	suggester := &mapSuggester{}
	p := newTestPipeline(t, newMemStore(), blockingValidator{}, suggester, nil)

	out, report := p.Process(context.Background(), docs, time.Nanosecond)

	require.NotNil(t, report)
	assert.Equal(t, docs, out)
	assert.Equal(t, 3, report.TotalDocuments)
	assert.Equal(t, 3, report.ProcessedDocuments)
	assert.Equal(t, 2, report.PartialDocuments)
	assert.Zero(t, report.Replaced+report.Removed)
	assert.Empty(t, suggester.calls)
	for _, d := range report.Documents[:2] {
		assert.True(t, d.Partial)
		assert.Equal(t, domain.StateParsed, d.State)
	}
}

func TestProcess_BudgetBoundsNetworkValidation(t *testing.T) {
	srv := newImageServer(t)
	v := NewURLValidator(&ValidatorConfig{Timeout: time.Second, MaxConcurrent: 2}, nil)
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, `<p>Slide %d <img src="%s/slow.png?n=%d"></p>`, i, srv.URL, i)
	}
	doc := domain.Document{ID: "slow", HTML: b.String()}
	suggester := &mapSuggester{}
	p := newTestPipeline(t, newMemStore(), v, suggester, nil)

	start := time.Now()
	out, report := p.Process(context.Background(), []domain.Document{doc}, 20*time.Millisecond)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, doc, out[0])
	require.Len(t, report.Documents, 1)
	assert.True(t, report.Documents[0].Partial)
	assert.Equal(t, domain.StateParsed, report.Documents[0].State)
	assert.LessOrEqual(t, srv.totalHits(), 2)
	assert.Empty(t, suggester.calls)
}

func TestProcess_EndToEnd(t *testing.T) {
	store := newMemStore()
	store.put(solarTopic,
		domain.CachedImage{ImageID: "cached-dead-01", SourceProvider: domain.ProviderUnsplash, Confidence: 0.95, UsageCount: 9},
		domain.CachedImage{ImageID: "cached-solar-1", SourceProvider: domain.ProviderUnsplash, Confidence: 0.9, UsageCount: 3},
	)
	v := &setValidator{valid: map[string]bool{
		"https://ok.example/logo.png": true,
		unsplash("cached-solar-1"):    true,
		unsplash("gen-wind-12345"):    true,
	}}
	suggester := &mapSuggester{answers: map[string][]domain.Candidate{windTopic: {generated("gen-wind-12345")}}}
	runs := &memRuns{}
	p := newTestPipeline(t, store, v, suggester, runs)

	out, report := p.Process(context.Background(), []domain.Document{{ID: "slide-1", HTML: renewableSlide}}, 5*time.Second)

	html := out[0].HTML
	assert.Contains(t, html, `<img src="`+unsplash("cached-solar-1")+`" alt="Image illustrating Solar panels roof">`)
	assert.Contains(t, html, `<img src="`+unsplash("gen-wind-12345")+`" alt="Image illustrating Wind turbines offshore">`)
	assert.Contains(t, html, `<img src="https://ok.example/logo.png" alt="Company logo mark">`)
	assert.Contains(t, html, "<h2>Renewable Energy</h2>")

	assert.Equal(t, 3, report.ImagesChecked)
	assert.Equal(t, 2, report.FailuresFound)
	assert.Equal(t, 2, report.Replaced)
	assert.Zero(t, report.LeftAsIs)
	assert.Equal(t, 1, report.CacheHits)
	assert.Equal(t, 1, report.SuggestionCalls)
	assert.Equal(t, 1, report.DocumentsChanged)
	assert.Equal(t, domain.StateReplaced, report.Documents[0].State)
	assert.Equal(t, 0, suggester.calls[solarTopic], "cache hit needs no suggestion")

	// the dead cache row is recorded invalid, the suggestion is cached
	assert.Equal(t, []domain.CandidateImage{{ImageID: "cached-dead-01", SourceProvider: domain.ProviderUnsplash}}, store.inserted(solarTopic))
	wind := store.inserted(windTopic)
	require.Len(t, wind, 1)
	assert.Equal(t, "gen-wind-12345", wind[0].ImageID)
	assert.True(t, wind[0].Valid)

	run := runs.runs[report.RunID]
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Replaced)
	assert.NotNil(t, run.CompletedAt)

	again, second := p.Process(context.Background(), out, 5*time.Second)
	assert.Equal(t, out, again, "a repaired document has nothing left to fix")
	assert.Zero(t, second.FailuresFound)
}

func TestProcess_FallbackAndRemoval(t *testing.T) {
	doc := domain.Document{ID: "d", HTML: `<p>Mountain forest trail <img src="https://dead.example/1.png"></p>` +
		`<p>Mountain forest lake <img src="https://dead.example/2.png"></p>`}
	nature := slide.FallbackFor("mountain forest").URL()
	v := &setValidator{valid: map[string]bool{nature: true}}
	p := newTestPipeline(t, newMemStore(), v, &mapSuggester{}, nil)

	out, report := p.Process(context.Background(), []domain.Document{doc}, 5*time.Second)

	assert.Equal(t, 1, report.Replaced)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Fallbacks)
	assert.Equal(t, 1, strings.Count(out[0].HTML, "<img"))
	assert.Contains(t, out[0].HTML, "photo-1506905925346-21bda4d32df4")
	assert.NotContains(t, out[0].HTML, "dead.example")
}

func TestProcess_BorrowsFromSimilarTopic(t *testing.T) {
	store := newMemStore()
	// {installation panels roof solar} against {panels roof solar}: 0.75
	similar := topic.Normalize("solar panels roof installation")
	store.summaries = []domain.TopicSummary{{
		TopicHash:      similar.Hash(),
		NormalizedText: similar.Text(),
		Keywords:       similar,
		Images:         []domain.CachedImage{{ImageID: "borrowed-solar", SourceProvider: domain.ProviderUnsplash, Confidence: 0.9, UsageCount: 4}},
		TopUsage:       4,
	}}
	doc := domain.Document{ID: "d", HTML: `<p>Solar panels roof <img src="https://dead.example/1.png"></p>`}
	v := &setValidator{valid: map[string]bool{unsplash("borrowed-solar"): true}}
	p := newTestPipeline(t, store, v, nil, nil)

	_, report := p.Process(context.Background(), []domain.Document{doc}, 5*time.Second)

	require.Len(t, report.Documents[0].Plans, 1)
	plan := report.Documents[0].Plans[0]
	assert.Equal(t, domain.ProvenanceSimilarity, plan.Provenance)
	assert.Equal(t, 1, report.SimilarityHits)
	assert.LessOrEqual(t, plan.Confidence, BorrowedConfidenceCap)

	saved := store.inserted(solarTopic)
	require.Len(t, saved, 1)
	assert.Equal(t, "borrowed-solar", saved[0].ImageID)
	assert.True(t, saved[0].Valid)
}

func TestProcess_FailingStoreDegrades(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("database is locked")
	v := &setValidator{valid: map[string]bool{unsplash("gen-solar-1234"): true, unsplash("gen-wind-12345"): true}}
	suggester := &mapSuggester{answers: map[string][]domain.Candidate{
		solarTopic: {generated("gen-solar-1234")},
		windTopic:  {generated("gen-wind-12345")},
	}}
	p := newTestPipeline(t, store, v, suggester, nil)

	_, report := p.Process(context.Background(), []domain.Document{{ID: "d", HTML: renewableSlide}}, 5*time.Second)

	doc := report.Documents[0]
	assert.True(t, doc.Degraded)
	assert.Empty(t, doc.Error)
	assert.Equal(t, 2, doc.Replaced)
	assert.Zero(t, doc.CacheHits)
}

func TestProcess_RecoversPanics(t *testing.T) {
	v := &setValidator{}
	suggester := &mapSuggester{panicOn: solarTopic}
	runs := &memRuns{}
	p := newTestPipeline(t, newMemStore(), v, suggester, runs)
	docs := []domain.Document{{ID: "bad", HTML: renewableSlide}, {ID: "fine", HTML: `<p>text</p>`}}

	out, report := p.Process(context.Background(), docs, 5*time.Second)

	assert.Equal(t, docs, out)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "bad: panic")
	assert.Equal(t, 1, report.ProcessedDocuments)
	assert.Equal(t, domain.RunStatusPartial, runs.runs[report.RunID].Status)
}

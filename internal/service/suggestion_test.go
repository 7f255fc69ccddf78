package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/prompts"
)

// scriptedCompleter replays replies in order; the last one repeats.
type scriptedCompleter struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	systems []string
	users   []string
}

func (s *scriptedCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.systems)
	s.systems = append(s.systems, system)
	s.users = append(s.users, user)

	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.systems)
}

// setValidator accepts exactly the URLs in valid.
type setValidator struct {
	mu      sync.Mutex
	valid   map[string]bool
	batches [][]string
}

func (v *setValidator) ValidateBatch(ctx context.Context, urls []string) []domain.ValidationResult {
	v.mu.Lock()
	v.batches = append(v.batches, append([]string(nil), urls...))
	v.mu.Unlock()

	out := make([]domain.ValidationResult, len(urls))
	for i, u := range urls {
		id, provider := ExtractImageID(u)
		out[i] = domain.ValidationResult{URL: u, Valid: v.valid[u], ImageID: id, SourceProvider: provider}
		if !out[i].Valid {
			out[i].ErrorCategory = domain.ErrorCategoryHTTP
		}
	}
	return out
}

type countingRecorder struct {
	mu sync.Mutex
	n  int
}

func (c *countingRecorder) RecordSuggestionCall(ctx context.Context) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func unsplash(id string) string { return BuildURL(domain.ProviderUnsplash, id) }

func newTestSuggestionClient(c Completer, v BatchValidator, r CallRecorder) *SuggestionClient {
	return NewSuggestionClient(c, v, r, &SuggestionConfig{MaxAttempts: 3}, nil)
}

func TestSuggest_ThreeFailedAttemptsUseDistinctStrategies(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{`["1111111111-aaaa", "2222222222-bbbb"]`}}
	recorder := &countingRecorder{}
	client := newTestSuggestionClient(completer, &setValidator{}, recorder)

	res, err := client.Suggest(context.Background(), "quarterly revenue growth", "", 3)
	require.NoError(t, err)
	assert.Empty(t, res.Suggestions)
	assert.Equal(t, 3, res.Calls)
	assert.Equal(t, 3, completer.calls())
	assert.Equal(t, 3, recorder.n)
	assert.ElementsMatch(t, []string{prompts.StrategyDirect, prompts.StrategyContextual, prompts.StrategyFallback}, res.Strategies)

	for _, s := range client.StrategyStats() {
		assert.Equal(t, 1, s.Attempts, s.Name)
		assert.Zero(t, s.Successes, s.Name)
	}
}

func TestSuggest_StopsOnFirstValidAttempt(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{`["1111111111-aaaa", "2222222222-bbbb", "3333333333-cccc"]`}}
	validator := &setValidator{valid: map[string]bool{
		unsplash("1111111111-aaaa"): true,
		unsplash("3333333333-cccc"): true,
	}}
	client := newTestSuggestionClient(completer, validator, nil)

	res, err := client.Suggest(context.Background(), "team meeting", "", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Calls)
	require.Len(t, res.Suggestions, 2)

	first := res.Suggestions[0]
	assert.Equal(t, unsplash("1111111111-aaaa"), first.URL)
	assert.Equal(t, "1111111111-aaaa", first.ImageID)
	assert.Equal(t, domain.ProviderUnsplash, first.SourceProvider)
	assert.Equal(t, domain.ProvenanceGenerated, first.Provenance)
	assert.InDelta(t, 0.9, first.Confidence, 1e-9)
	assert.InDelta(t, 0.7, res.Suggestions[1].Confidence, 1e-9)
}

func TestSuggest_ConfidenceDecaysWithAttempts(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{
		`["1111111111-aaaa"]`,
		`{"images": [{"id": "2222222222-bbbb", "reason": "x"}, {"id": "3333333333-cccc", "reason": "y"}]}`,
	}}
	validator := &setValidator{valid: map[string]bool{unsplash("3333333333-cccc"): true}}
	client := newTestSuggestionClient(completer, validator, nil)

	res, err := client.Suggest(context.Background(), "solar panels", "A slide about renewable energy", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Calls)
	require.Len(t, res.Suggestions, 1)
	// rank 1 on attempt 2
	assert.InDelta(t, 0.6, res.Suggestions[0].Confidence, 1e-9)
}

func TestSuggest_ServiceErrorCountsAsFailedAttempt(t *testing.T) {
	completer := &scriptedCompleter{
		errs:    []error{&ServiceError{StatusCode: 400, Message: "bad request"}},
		replies: []string{"", `["4444444444-dddd"]`},
	}
	validator := &setValidator{valid: map[string]bool{unsplash("4444444444-dddd"): true}}
	client := newTestSuggestionClient(completer, validator, nil)

	res, err := client.Suggest(context.Background(), "data analytics", "", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Calls)
	require.Len(t, res.Suggestions, 1)

	stats := client.StrategyStats()
	assert.Equal(t, 1, stats[0].Attempts)
	assert.Zero(t, stats[0].Successes)
	assert.Equal(t, 1, stats[1].Attempts)
	assert.Equal(t, 1, stats[1].Successes)
	assert.False(t, client.CircuitOpen())
}

func TestSuggest_AllAttemptsFailReturnsError(t *testing.T) {
	boom := errors.New("connection refused")
	completer := &scriptedCompleter{errs: []error{boom, boom, boom}}
	client := newTestSuggestionClient(completer, &setValidator{}, nil)

	res, err := client.Suggest(context.Background(), "data analytics", "", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, res.Calls)
	assert.Empty(t, res.Suggestions)
}

func TestSuggest_CircuitOpensOnTransportFailures(t *testing.T) {
	boom := errors.New("dial tcp: i/o timeout")
	completer := &scriptedCompleter{errs: []error{boom, boom, boom, boom}}
	client := NewSuggestionClient(completer, &setValidator{}, nil, &SuggestionConfig{MaxAttempts: 3, BreakerFailures: 2}, nil)

	res, err := client.Suggest(context.Background(), "data analytics", "", 3)
	assert.ErrorIs(t, err, domain.ErrServiceOpen)
	assert.Equal(t, 2, res.Calls)
	assert.True(t, client.CircuitOpen())

	res, err = client.Suggest(context.Background(), "ocean wildlife", "", 3)
	assert.ErrorIs(t, err, domain.ErrServiceOpen)
	assert.Zero(t, res.Calls)
	assert.Equal(t, 2, completer.calls())
}

func TestSuggest_CancelledContextMakesNoCalls(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{`["1111111111-aaaa"]`}}
	client := newTestSuggestionClient(completer, &setValidator{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := client.Suggest(ctx, "team meeting", "", 3)
	require.NoError(t, err)
	assert.Zero(t, res.Calls)
	assert.Zero(t, completer.calls())
}

func TestSuggest_ContextualPromptCarriesSlideContext(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{"no idea"}}
	client := newTestSuggestionClient(completer, &setValidator{}, nil)

	_, err := client.Suggest(context.Background(), "market share", "Slide type: data; keywords: market share", 3)
	require.NoError(t, err)
	require.Equal(t, 3, completer.calls())
	assert.Contains(t, completer.users[1], "Slide type: data; keywords: market share")
	assert.Contains(t, completer.users[0], `"market share"`)
}

func TestSelectStrategy(t *testing.T) {
	t.Run("first untried when nothing proven", func(t *testing.T) {
		client := newTestSuggestionClient(&scriptedCompleter{}, &setValidator{}, nil)
		assert.Equal(t, prompts.StrategyDirect, client.selectStrategy().Name)

		client.recordAttempt(prompts.StrategyDirect, false)
		assert.Equal(t, prompts.StrategyContextual, client.selectStrategy().Name)
	})

	t.Run("keeps a current strategy above seventy percent", func(t *testing.T) {
		client := newTestSuggestionClient(&scriptedCompleter{}, &setValidator{}, nil)
		for i := 0; i < 4; i++ {
			client.recordAttempt(prompts.StrategyDirect, true)
		}
		client.recordAttempt(prompts.StrategyDirect, false)
		assert.Equal(t, prompts.StrategyDirect, client.selectStrategy().Name)
	})

	t.Run("best proven strategy", func(t *testing.T) {
		client := newTestSuggestionClient(&scriptedCompleter{}, &setValidator{}, nil)
		for i := 0; i < 6; i++ {
			client.recordAttempt(prompts.StrategyDirect, i == 0)
			client.recordAttempt(prompts.StrategyContextual, i < 4)
			client.recordAttempt(prompts.StrategyFallback, i < 2)
		}
		assert.Equal(t, prompts.StrategyContextual, client.selectStrategy().Name)

		stats := client.StrategyStats()
		assert.True(t, stats[1].Current)
		assert.InDelta(t, 4.0/6.0, stats[1].SuccessRate, 1e-9)
	})

	t.Run("rotates when all tried but none proven", func(t *testing.T) {
		client := newTestSuggestionClient(&scriptedCompleter{}, &setValidator{}, nil)
		for _, s := range prompts.Strategies() {
			client.recordAttempt(s.Name, false)
		}
		assert.Equal(t, prompts.StrategyContextual, client.selectStrategy().Name)
		assert.Equal(t, prompts.StrategyFallback, client.selectStrategy().Name)
		assert.Equal(t, prompts.StrategyDirect, client.selectStrategy().Name)
	})
}

func TestGeneratedConfidence(t *testing.T) {
	assert.InDelta(t, 0.9, generatedConfidence(0, 1), 1e-9)
	assert.InDelta(t, 0.8, generatedConfidence(1, 1), 1e-9)
	assert.InDelta(t, 0.5, generatedConfidence(0, 3), 1e-9)
	assert.InDelta(t, 0.5, generatedConfidence(2, 3), 1e-9)
}

func TestParseSuggestions(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		structured bool
		want       []string
	}{
		{
			name:       "bare id array",
			reply:      `["1551288049-bebda4e38f71", "photo-1522071820081-009f0129c71c"]`,
			structured: true,
			want:       []string{unsplash("1551288049-bebda4e38f71"), unsplash("1522071820081-009f0129c71c")},
		},
		{
			name:       "images object with prose around it",
			reply:      "Here you go:\n```json\n{\"images\": [{\"id\": \"1551288049-bebda4e38f71\", \"reason\": \"charts {and} graphs\"}]}\n```",
			structured: true,
			want:       []string{unsplash("1551288049-bebda4e38f71")},
		},
		{
			name:       "urls object",
			reply:      `{"urls": ["https://images.pexels.com/photos/3184291/pexels-photo-3184291.jpeg"]}`,
			structured: true,
			want:       []string{"https://images.pexels.com/photos/3184291/pexels-photo-3184291.jpeg"},
		},
		{
			name:       "thinking block is skipped",
			reply:      `<think>maybe ["nope"]</think>["1557804506-669a67965ba0"]`,
			structured: true,
			want:       []string{unsplash("1557804506-669a67965ba0")},
		},
		{
			name:       "duplicates and more than three",
			reply:      `["1111111111-a","1111111111-a","2222222222-b","3333333333-c","4444444444-d"]`,
			structured: true,
			want:       []string{unsplash("1111111111-a"), unsplash("2222222222-b"), unsplash("3333333333-c")},
		},
		{
			name:  "prose with photo ids",
			reply: "Try photo-1506905925346-21bda4d32df4 or photo-1518709268805-4e9042af2176.",
			want:  []string{unsplash("1506905925346-21bda4d32df4"), unsplash("1518709268805-4e9042af2176")},
		},
		{
			name:  "prose with a url",
			reply: "See https://images.unsplash.com/photo-1522071820081-009f0129c71c for a team shot.",
			want:  []string{"https://images.unsplash.com/photo-1522071820081-009f0129c71c"},
		},
		{
			name:       "short ids rejected",
			reply:      `["abc", "12345"]`,
			structured: true,
		},
		{
			name:  "nothing usable",
			reply: "I cannot browse the internet.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed := ParseSuggestions(tc.reply)
			_, isStructured := parsed.(Structured)
			assert.Equal(t, tc.structured, isStructured)
			assert.Equal(t, tc.want, CandidateURLs(parsed))
		})
	}
}

func TestLLMService_Anthropic(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"[\"1551288049-bebda4e38f71\"]"}]}`))
	}))
	defer srv.Close()

	svc := NewLLMService(&LLMConfig{Provider: ProviderAnthropic, Model: "m", APIKey: "secret", BaseURL: srv.URL, Temperature: 0.3})
	reply, err := svc.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, `["1551288049-bebda4e38f71"]`, reply)
	assert.Equal(t, "sys", got.System)
	assert.Equal(t, 500, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Content)
}

func TestLLMService_OpenAICompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	svc := NewLLMService(&LLMConfig{Provider: ProviderOpenAI, Model: "m", APIKey: "key", BaseURL: srv.URL + "/v1"})
	reply, err := svc.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)
}

func TestLLMService_Errors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":{"type":"overloaded_error","message":"overloaded"}}`))
	}))
	defer srv.Close()

	svc := NewLLMService(&LLMConfig{Provider: ProviderAnthropic, Model: "m", BaseURL: srv.URL})

	_, err := svc.Complete(context.Background(), "sys", "user")
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "overloaded", se.Message)
	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.True(t, isTransportFailure(err))

	status.Store(http.StatusBadRequest)
	_, err = svc.Complete(context.Background(), "sys", "user")
	require.ErrorAs(t, err, &se)
	assert.False(t, isTransportFailure(err))
}

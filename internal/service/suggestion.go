package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/logger"
	"github.com/timmy/slidefix/internal/metrics"
	"github.com/timmy/slidefix/internal/prompts"
	"golang.org/x/time/rate"
)

// Confidence assigned to generated suggestions: the first candidate of the
// first attempt gets baseConfidence, each later rank and each retry lose a
// step, never below minGeneratedConfidence.
const (
	baseConfidence         = 0.9
	rankConfidenceStep     = 0.1
	attemptConfidenceStep  = 0.2
	minGeneratedConfidence = 0.5

	keepStrategyRate     = 0.7
	minAttemptsForChoice = 5
)

// BatchValidator validates URLs in order.
type BatchValidator interface {
	ValidateBatch(ctx context.Context, urls []string) []domain.ValidationResult
}

// CallRecorder counts external suggestion calls.
type CallRecorder interface {
	RecordSuggestionCall(ctx context.Context)
}

// SuggestionConfig holds configuration for the suggestion client.
type SuggestionConfig struct {
	MaxAttempts     int
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint
	BreakerDelay    time.Duration
}

// SuggestResult is the outcome of one Suggest call.
type SuggestResult struct {
	Suggestions []domain.Candidate
	Calls       int
	Strategies  []string
}

type strategyCounter struct {
	attempts  int
	successes int
}

func (c strategyCounter) rate() float64 {
	if c.attempts == 0 {
		return 0
	}
	return float64(c.successes) / float64(c.attempts)
}

// SuggestionClient asks a completion service for candidate image URLs and
// keeps those the validator accepts. It rotates between prompt strategies
// and learns which one works best.
type SuggestionClient struct {
	completer   Completer
	validator   BatchValidator
	recorder    CallRecorder
	limiter     *rate.Limiter
	breaker     circuitbreaker.CircuitBreaker[any]
	maxAttempts int
	metrics     *metrics.Metrics

	mu         sync.Mutex
	strategies []prompts.Strategy
	counters   map[string]*strategyCounter
	current    string
}

// NewSuggestionClient creates a SuggestionClient.
// Parameters:
//   - completer: completion transport.
//   - validator: checks every suggested URL.
//   - recorder: daily call counter, may be nil.
//   - cfg: attempts, rate limit and circuit breaker settings.
//   - m: metrics sink, may be nil.
// Returns:
//   - *SuggestionClient: initialized client.
func NewSuggestionClient(completer Completer, validator BatchValidator, recorder CallRecorder, cfg *SuggestionConfig, m *metrics.Metrics) *SuggestionClient {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	delay := cfg.BreakerDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}

	breaker := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(failures).
		WithDelay(delay).
		OnOpen(func(e circuitbreaker.StateChangedEvent) {
			logger.GetDefault().WithField(logger.FieldComponent, "suggestion").
				Warnf("Completion circuit opened (was %s)", e.OldState)
		}).
		OnClose(func(e circuitbreaker.StateChangedEvent) {
			logger.GetDefault().WithField(logger.FieldComponent, "suggestion").
				Infof("Completion circuit closed (was %s)", e.OldState)
		}).
		Build()

	strategies := prompts.Strategies()
	counters := make(map[string]*strategyCounter, len(strategies))
	for _, s := range strategies {
		counters[s.Name] = &strategyCounter{}
	}

	return &SuggestionClient{
		completer:   completer,
		validator:   validator,
		recorder:    recorder,
		limiter:     rate.NewLimiter(limit, burst),
		breaker:     breaker,
		maxAttempts: maxAttempts,
		metrics:     m,
		strategies:  strategies,
		counters:    counters,
		current:     strategies[0].Name,
	}
}

// Suggest asks for validated images for topicText.
// Parameters:
//   - ctx: context; cancellation stops further attempts.
//   - topicText: the topic to illustrate.
//   - contextText: slide summary for the contextual strategy, may be empty.
//   - maxAttempts: attempts with distinct strategies; non-positive uses the configured value.
// Returns:
//   - *SuggestResult: validated suggestions (possibly none) and call accounting.
//   - error: domain.ErrServiceOpen while the circuit is open, or the last
//     service error when no attempt produced a suggestion.
func (c *SuggestionClient) Suggest(ctx context.Context, topicText, contextText string, maxAttempts int) (*SuggestResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = c.maxAttempts
	}
	res := &SuggestResult{}
	tried := make(map[string]bool, len(c.strategies))
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}

		var strategy prompts.Strategy
		if attempt == 1 {
			strategy = c.selectStrategy()
		} else {
			var ok bool
			if strategy, ok = c.nextUntried(tried); !ok {
				break
			}
		}
		tried[strategy.Name] = true

		if err := c.limiter.Wait(ctx); err != nil {
			break
		}
		if !c.breaker.TryAcquirePermit() {
			c.metrics.SuggestionCall(strategy.Name, "rejected")
			lastErr = domain.ErrServiceOpen
			break
		}

		res.Strategies = append(res.Strategies, strategy.Name)
		res.Calls++
		if c.recorder != nil {
			c.recorder.RecordSuggestionCall(ctx)
		}

		found, err := c.attempt(ctx, strategy, topicText, contextText, attempt)
		if isTransportFailure(err) {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
		c.recordAttempt(strategy.Name, len(found) > 0)

		switch {
		case err != nil:
			lastErr = err
			c.metrics.SuggestionCall(strategy.Name, "error")
			logger.With(logger.Fields{
				logger.FieldStrategy: strategy.Name,
				logger.FieldTopic:    topicText,
			}).Warn(ctx, "Suggestion attempt %d failed: %v", attempt, err)
		case len(found) == 0:
			c.metrics.SuggestionCall(strategy.Name, "empty")
		default:
			c.metrics.SuggestionCall(strategy.Name, "success")
		}

		res.Suggestions = append(res.Suggestions, found...)
		if len(res.Suggestions) > 0 {
			break
		}
	}

	if len(res.Suggestions) > maxSuggestedImages {
		res.Suggestions = res.Suggestions[:maxSuggestedImages]
	}

	logger.With(logger.Fields{
		logger.FieldTopic: topicText,
		logger.FieldCount: len(res.Suggestions),
		"calls":           res.Calls,
		"strategies":      res.Strategies,
	}).Debug(ctx, "Suggestion finished")

	if len(res.Suggestions) == 0 && lastErr != nil {
		return res, lastErr
	}
	return res, nil
}

func (c *SuggestionClient) attempt(ctx context.Context, strategy prompts.Strategy, topicText, contextText string, attempt int) ([]domain.Candidate, error) {
	reply, err := c.completer.Complete(ctx, strategy.System, strategy.Render(topicText, contextText))
	if err != nil {
		if !errors.Is(err, domain.ErrExternalService) {
			err = fmt.Errorf("%w: %w", domain.ErrExternalService, err)
		}
		return nil, err
	}

	urls := CandidateURLs(ParseSuggestions(reply))
	if len(urls) == 0 {
		return nil, nil
	}

	var found []domain.Candidate
	for rank, r := range c.validator.ValidateBatch(ctx, urls) {
		if !r.Valid {
			continue
		}
		found = append(found, domain.Candidate{
			URL:            r.URL,
			ImageID:        r.ImageID,
			SourceProvider: r.SourceProvider,
			Confidence:     generatedConfidence(rank, attempt),
			Provenance:     domain.ProvenanceGenerated,
		})
	}
	return found, nil
}

// generatedConfidence is the confidence of the candidate at rank (0-based)
// returned by the given attempt (1-based).
func generatedConfidence(rank, attempt int) float64 {
	c := baseConfidence - rankConfidenceStep*float64(rank) - attemptConfidenceStep*float64(attempt-1)
	if c < minGeneratedConfidence {
		return minGeneratedConfidence
	}
	return c
}

// selectStrategy keeps the current strategy while it succeeds more than 70%
// of the time, otherwise picks the best proven strategy, then any untried
// one, then rotates.
func (c *SuggestionClient) selectStrategy() prompts.Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur := c.counters[c.current]; cur.attempts > 0 && cur.rate() > keepStrategyRate {
		return c.strategyLocked(c.current)
	}

	best, bestRate := "", -1.0
	for _, s := range c.strategies {
		cnt := c.counters[s.Name]
		if cnt.attempts >= minAttemptsForChoice && cnt.rate() > bestRate {
			best, bestRate = s.Name, cnt.rate()
		}
	}
	if best != "" {
		c.current = best
		return c.strategyLocked(best)
	}

	for _, s := range c.strategies {
		if c.counters[s.Name].attempts == 0 {
			c.current = s.Name
			return s
		}
	}

	for i, s := range c.strategies {
		if s.Name == c.current {
			next := c.strategies[(i+1)%len(c.strategies)]
			c.current = next.Name
			return next
		}
	}
	return c.strategies[0]
}

func (c *SuggestionClient) nextUntried(tried map[string]bool) (prompts.Strategy, bool) {
	for _, s := range c.strategies {
		if !tried[s.Name] {
			return s, true
		}
	}
	return prompts.Strategy{}, false
}

func (c *SuggestionClient) strategyLocked(name string) prompts.Strategy {
	for _, s := range c.strategies {
		if s.Name == name {
			return s
		}
	}
	return c.strategies[0]
}

func (c *SuggestionClient) recordAttempt(name string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cnt := c.counters[name]
	cnt.attempts++
	if success {
		cnt.successes++
	}
}

// StrategyStats returns a snapshot of the per-strategy counters.
func (c *SuggestionClient) StrategyStats() []domain.StrategyStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.StrategyStats, 0, len(c.strategies))
	for _, s := range c.strategies {
		cnt := c.counters[s.Name]
		out = append(out, domain.StrategyStats{
			Name:        s.Name,
			Attempts:    cnt.attempts,
			Successes:   cnt.successes,
			SuccessRate: cnt.rate(),
			Current:     s.Name == c.current,
		})
	}
	return out
}

// CircuitOpen reports whether completion calls are currently refused.
func (c *SuggestionClient) CircuitOpen() bool {
	return c.breaker.IsOpen()
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/logger"
	"github.com/timmy/slidefix/internal/metrics"
	"github.com/timmy/slidefix/internal/slide"
	"github.com/timmy/slidefix/internal/topic"
)

var (
	// ErrNoStorage is returned by NewPipeline without a cache store.
	ErrNoStorage = errors.New("pipeline requires a cache store")
	// ErrNoValidator is returned by NewPipeline without a URL validator.
	ErrNoValidator = errors.New("pipeline requires a URL validator")
)

const (
	defaultPipelineWorkers = 4
	defaultDocumentTimeout = 30 * time.Second
	defaultMinConfidence   = 0.7
	defaultImagesPerTopic  = 5
	persistTimeout         = 5 * time.Second
)

// CacheStore is the image cache as the pipeline uses it.
type CacheStore interface {
	TopicScanner
	Lookup(ctx context.Context, sig topic.Signature, limit int, minConfidence float64) ([]domain.CachedImage, error)
	Insert(ctx context.Context, sig topic.Signature, rawText string, images []domain.CandidateImage) error
}

// Suggester produces validated image suggestions for a topic.
type Suggester interface {
	Suggest(ctx context.Context, topicText, contextText string, maxAttempts int) (*SuggestResult, error)
}

// RunStore persists processing runs.
type RunStore interface {
	Create(ctx context.Context, run *domain.ProcessingRun) error
	Update(ctx context.Context, run *domain.ProcessingRun) error
}

// PipelineConfig holds configuration for the pipeline.
type PipelineConfig struct {
	Workers            int
	DocumentTimeout    time.Duration
	RevalidateCached   bool
	MinConfidence      float64
	MaxImagesPerTopic  int
	SimilarityEnabled  bool
	MinSimilarity      float64
	SimilarLimit       int
	SuggestionAttempts int
}

// Pipeline finds broken images in documents and replaces them with cached,
// borrowed, generated or stock images, removing those it cannot replace.
type Pipeline struct {
	store      CacheStore
	similarity *SimilarityResolver
	validator  BatchValidator
	suggester  Suggester
	runs       RunStore
	logger     *logger.Logger
	metrics    *metrics.Metrics
	cfg        PipelineConfig
}

// NewPipeline creates a Pipeline.
// Parameters:
//   - store: image cache; required.
//   - validator: URL validator; required.
//   - suggester: suggestion client; nil disables generated suggestions.
//   - runs: run history; nil disables it.
//   - log: fallback logger when the context carries none.
//   - cfg: worker count, budgets and resolution knobs.
//   - m: metrics sink, may be nil.
// Returns:
//   - *Pipeline: ready pipeline.
//   - error: ErrNoStorage or ErrNoValidator.
func NewPipeline(store CacheStore, validator BatchValidator, suggester Suggester, runs RunStore, log *logger.Logger, cfg *PipelineConfig, m *metrics.Metrics) (*Pipeline, error) {
	if store == nil {
		return nil, ErrNoStorage
	}
	if validator == nil {
		return nil, ErrNoValidator
	}
	if log == nil {
		log = logger.GetDefault()
	}

	c := PipelineConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Workers <= 0 {
		c.Workers = defaultPipelineWorkers
	}
	if c.DocumentTimeout <= 0 {
		c.DocumentTimeout = defaultDocumentTimeout
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = defaultMinConfidence
	}
	if c.MaxImagesPerTopic <= 0 {
		c.MaxImagesPerTopic = defaultImagesPerTopic
	}

	return &Pipeline{
		store:      store,
		similarity: NewSimilarityResolver(store, m),
		validator:  validator,
		suggester:  suggester,
		runs:       runs,
		logger:     log,
		metrics:    m,
		cfg:        c,
	}, nil
}

// log returns a logger from context if available, otherwise the pipeline's logger
func (p *Pipeline) log(ctx context.Context) *logger.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	return p.logger
}

// Process repairs docs concurrently, each under its own time budget.
// Parameters:
//   - ctx: parent context; cancelling it ends every document early.
//   - docs: documents to repair.
//   - perDocTimeout: budget per document; non-positive uses the configured one.
// Returns:
//   - []domain.Document: the documents, index-aligned with docs. A document
//     that failed or ran out of budget before any change is returned as is.
//   - *domain.Report: always non-nil.
func (p *Pipeline) Process(ctx context.Context, docs []domain.Document, perDocTimeout time.Duration) ([]domain.Document, *domain.Report) {
	if perDocTimeout <= 0 {
		perDocTimeout = p.cfg.DocumentTimeout
	}
	report := &domain.Report{
		RunID:          uuid.New().String(),
		TotalDocuments: len(docs),
		StartTime:      time.Now().UTC(),
	}
	ctx = p.log(ctx).WithField(logger.FieldRunID, report.RunID).WithContext(ctx)
	run := p.startRun(ctx, report.RunID, domain.RunKindProcess, len(docs))

	p.log(ctx).WithFields(logger.Fields{
		"documents": len(docs),
		"workers":   p.cfg.Workers,
		"budget":    perDocTimeout.String(),
	}).Info("Starting processing run")

	out := make([]domain.Document, len(docs))
	reports := make([]domain.DocumentReport, len(docs))

	jobs := make(chan int, p.cfg.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				out[idx], reports[idx] = p.processDocument(ctx, docs[idx], perDocTimeout)
			}
		}()
	}
	for i := range docs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, r := range reports {
		report.Add(r)
	}
	report.EndTime = time.Now().UTC()
	p.finishRun(ctx, run, report)

	logger.With(logger.Fields{
		logger.FieldCount:      report.TotalDocuments,
		logger.FieldDurationMs: report.EndTime.Sub(report.StartTime).Milliseconds(),
		"failures":             report.FailuresFound,
		"replaced":             report.Replaced,
		"removed":              report.Removed,
		"partial":              report.PartialDocuments,
		"errors":               len(report.Errors),
	}).Info(ctx, "Processing run completed")

	return out, report
}

// processDocument walks one document through the state machine. It never
// panics; a recovered panic leaves the document unchanged.
func (p *Pipeline) processDocument(ctx context.Context, doc domain.Document, budget time.Duration) (out domain.Document, rep domain.DocumentReport) {
	start := time.Now()
	out = doc
	rep = domain.DocumentReport{DocumentID: doc.ID, State: domain.StateParsed}
	ctx = logger.SetDocumentID(ctx, doc.ID)

	defer func() {
		if r := recover(); r != nil {
			out = doc
			rep.Plans = nil
			rep.Error = fmt.Sprintf("panic: %v", r)
			p.log(ctx).WithField("panic", r).Error("Recovered from panic while processing document")
		}
		rep.Elapsed = time.Since(start)
		p.metrics.Document(string(rep.State), rep.Elapsed)
	}()

	dctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	sc, refs := slide.Analyze(doc)
	rep.ImagesChecked = len(refs)
	if len(refs) == 0 {
		rep.State = domain.StateAllValid
		return out, rep
	}

	srcs := distinctSrcs(refs)
	results := p.validator.ValidateBatch(dctx, srcs)
	if dctx.Err() != nil {
		// failures seen after the budget ran out may be our own cancellation
		rep.Partial = true
		return out, rep
	}
	rep.State = domain.StateValidated

	var failedSrcs []string
	for i, r := range results {
		if !r.Valid {
			failedSrcs = append(failedSrcs, srcs[i])
		}
	}
	failed := slide.Failing(refs, failedSrcs)
	rep.FailuresFound = len(failed)
	if len(failed) == 0 {
		rep.State = domain.StateAllValid
		return out, rep
	}
	rep.State = domain.StateNeedsResolution

	plans := p.resolve(dctx, sc, failed, &rep)
	rep.State = domain.StateResolved
	if rep.Partial {
		// images without a ready replacement stay as they are
		plans = withoutRemovals(plans)
	}

	html, stats := slide.Apply(doc.HTML, plans)
	out.HTML = html
	rep.State = domain.StateReplaced
	rep.Plans = plans
	rep.Replaced = stats.Replaced
	rep.Removed = stats.Removed
	rep.LeftAsIs = rep.FailuresFound - stats.Replaced - stats.Removed
	if rep.LeftAsIs < 0 {
		rep.LeftAsIs = 0
	}
	for _, pl := range plans {
		switch {
		case pl.IsRemoval():
			p.metrics.Removal()
		case pl.Provenance == domain.ProvenanceFallback:
			rep.Fallbacks++
			p.metrics.Replacement(string(pl.Provenance))
		default:
			p.metrics.Replacement(string(pl.Provenance))
		}
	}

	logger.With(logger.Fields{
		logger.FieldCount:      rep.FailuresFound,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		"replaced":             rep.Replaced,
		"removed":              rep.Removed,
		"partial":              rep.Partial,
	}).Debug(ctx, "Document repaired")
	return out, rep
}

func distinctSrcs(refs []domain.ImageReference) []string {
	seen := make(map[string]struct{}, len(refs))
	var srcs []string
	for _, r := range refs {
		if _, ok := seen[r.OriginalSrc]; ok {
			continue
		}
		seen[r.OriginalSrc] = struct{}{}
		srcs = append(srcs, r.OriginalSrc)
	}
	return srcs
}

func withoutRemovals(plans []domain.ReplacementPlan) []domain.ReplacementPlan {
	kept := plans[:0:0]
	for _, pl := range plans {
		if !pl.IsRemoval() {
			kept = append(kept, pl)
		}
	}
	return kept
}

func (p *Pipeline) startRun(ctx context.Context, id string, kind domain.RunKind, documents int) *domain.ProcessingRun {
	if p.runs == nil {
		return nil
	}
	run := &domain.ProcessingRun{
		ID:        id,
		Kind:      kind,
		Status:    domain.RunStatusRunning,
		Documents: documents,
		StartedAt: time.Now().UTC(),
	}
	if err := p.runs.Create(context.WithoutCancel(ctx), run); err != nil {
		p.log(ctx).WithError(err).Warn("Failed to record processing run")
		return nil
	}
	return run
}

func (p *Pipeline) finishRun(ctx context.Context, run *domain.ProcessingRun, report *domain.Report) {
	if run == nil {
		return
	}
	completed := report.EndTime
	run.Status = domain.RunStatusCompleted
	switch {
	case report.TotalDocuments > 0 && len(report.Errors) == report.TotalDocuments:
		run.Status = domain.RunStatusFailed
	case report.PartialDocuments > 0 || len(report.Errors) > 0:
		run.Status = domain.RunStatusPartial
	}
	run.ImagesChecked = report.ImagesChecked
	run.FailuresFound = report.FailuresFound
	run.Replaced = report.Replaced
	run.Removed = report.Removed
	run.LeftAsIs = report.LeftAsIs
	run.CacheHits = report.CacheHits
	run.SuggestionCalls = report.SuggestionCalls
	run.ErrorLog = strings.Join(report.Errors, "\n")
	run.CompletedAt = &completed

	if err := p.runs.Update(context.WithoutCancel(ctx), run); err != nil {
		p.log(ctx).WithError(err).Warn("Failed to update processing run")
	}
}

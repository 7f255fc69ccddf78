package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/logger"
	"github.com/timmy/slidefix/internal/slide"
)

const auditStatsWindowDays = 7

// StatsProvider is implemented by cache stores that can summarize themselves.
type StatsProvider interface {
	Stats(ctx context.Context, windowDays int) (*domain.CacheStats, error)
}

// ValidatePresentation checks every image in docs without changing anything.
// Parameters:
//   - ctx: bounds the whole audit.
//   - docs: documents to audit.
// Returns:
//   - *domain.AuditReport: always non-nil.
func (p *Pipeline) ValidatePresentation(ctx context.Context, docs []domain.Document) *domain.AuditReport {
	start := time.Now()
	report := &domain.AuditReport{
		RunID:          uuid.New().String(),
		TotalDocuments: len(docs),
		ImagesByHost:   make(map[string]domain.HostCount),
		Documents:      make([]domain.DocumentAudit, 0, len(docs)),
	}
	ctx = p.log(ctx).WithField(logger.FieldRunID, report.RunID).WithContext(ctx)
	run := p.startRun(ctx, report.RunID, domain.RunKindAudit, len(docs))

	refsByDoc := make([][]domain.ImageReference, len(docs))
	var urls []string
	seen := make(map[string]struct{})
	for i, doc := range docs {
		sc, refs := slide.Analyze(doc)
		refsByDoc[i] = refs
		report.Documents = append(report.Documents, domain.DocumentAudit{DocumentID: doc.ID, SlideType: sc.SlideType})
		for _, r := range refs {
			if _, ok := seen[r.OriginalSrc]; ok {
				continue
			}
			seen[r.OriginalSrc] = struct{}{}
			urls = append(urls, r.OriginalSrc)
		}
	}

	results := make(map[string]domain.ValidationResult, len(urls))
	if len(urls) > 0 {
		for i, res := range p.validator.ValidateBatch(ctx, urls) {
			results[urls[i]] = res
		}
	}

	for i, refs := range refsByDoc {
		da := &report.Documents[i]
		da.Images = make([]domain.ImageAudit, 0, len(refs))
		for _, r := range refs {
			res := results[r.OriginalSrc]
			ia := domain.ImageAudit{
				Src:           r.OriginalSrc,
				AltText:       r.AltText,
				Valid:         res.Valid,
				FormatOK:      QuickCheck(r.OriginalSrc),
				StatusCode:    res.StatusCode,
				ErrorCategory: res.ErrorCategory,
				Topic:         r.Topic,
			}
			da.Images = append(da.Images, ia)

			host := HostOf(r.OriginalSrc)
			hc := report.ImagesByHost[host]
			hc.Total++
			report.TotalImages++
			if ia.Valid {
				hc.Valid++
				da.Valid++
				report.ValidImages++
			} else {
				da.Invalid++
				report.InvalidImages++
			}
			if !ia.FormatOK {
				report.FormatFailures++
			}
			report.ImagesByHost[host] = hc
		}
	}

	if sp, ok := p.store.(StatsProvider); ok {
		stats, err := sp.Stats(ctx, auditStatsWindowDays)
		if err != nil {
			p.log(ctx).WithError(err).Warn("Failed to read cache stats for audit")
		} else {
			report.CacheStats = stats
		}
	}
	report.Recommendations = recommendations(report)
	report.Elapsed = time.Since(start)
	p.finishAudit(ctx, run, report)

	logger.With(logger.Fields{
		logger.FieldCount:      report.TotalImages,
		logger.FieldDurationMs: report.Elapsed.Milliseconds(),
		"invalid":              report.InvalidImages,
		"format_failures":      report.FormatFailures,
		"hosts":                len(report.ImagesByHost),
	}).Info(ctx, "Audit completed")
	return report
}

func recommendations(r *domain.AuditReport) []string {
	recs := []string{}
	if r.InvalidImages > 0 {
		recs = append(recs, fmt.Sprintf("Found %d invalid images that should be replaced", r.InvalidImages))
	}
	if r.FormatFailures > 0 {
		recs = append(recs, fmt.Sprintf("%d image sources do not look like image URLs", r.FormatFailures))
	}

	hosts := make([]string, 0, len(r.ImagesByHost))
	for h := range r.ImagesByHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	for _, h := range hosts {
		hc := r.ImagesByHost[h]
		if hc.Total > 1 && hc.Valid == 0 {
			recs = append(recs, fmt.Sprintf("None of the %d images from %s load; consider another host", hc.Total, h))
		}
	}

	if r.CacheStats != nil && r.CacheStats.TotalTopics > 0 {
		recs = append(recs, fmt.Sprintf("Cache contains %d topics with %d validated images",
			r.CacheStats.TotalTopics, r.CacheStats.ValidImages))
	}
	if r.TotalImages > 0 && r.InvalidImages == 0 {
		recs = append(recs, "All images load, no changes needed")
	}
	return recs
}

func (p *Pipeline) finishAudit(ctx context.Context, run *domain.ProcessingRun, report *domain.AuditReport) {
	if run == nil {
		return
	}
	completed := time.Now().UTC()
	run.Status = domain.RunStatusCompleted
	if ctx.Err() != nil {
		run.Status = domain.RunStatusPartial
	}
	run.ImagesChecked = report.TotalImages
	run.FailuresFound = report.InvalidImages
	run.LeftAsIs = report.InvalidImages
	run.CompletedAt = &completed

	if err := p.runs.Update(context.WithoutCancel(ctx), run); err != nil {
		p.log(ctx).WithError(err).Warn("Failed to update audit run")
	}
}

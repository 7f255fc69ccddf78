package repository

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/logger"
	"github.com/timmy/slidefix/internal/topic"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultScanPageSize = 200
	maxImagesPerSummary = 3

	metricTotalLookups    = "total_lookups"
	metricCacheHits       = "cache_hits"
	metricSuggestionCalls = "suggestion_calls"
)

// CacheRepository owns the image cache tables: entries, topic mappings and
// daily metrics. It is safe for concurrent use; conflicting writers resolve
// through database upserts and usage counts are incremented in SQL.
type CacheRepository struct {
	db       *gorm.DB
	pageSize int
	now      func() time.Time
}

// NewCacheRepository creates a CacheRepository.
// Parameters:
//   - db: GORM database handle.
//   - pageSize: topic scan page size; non-positive uses 200.
// Returns:
//   - *CacheRepository: repository bound to db.
func NewCacheRepository(db *gorm.DB, pageSize int) *CacheRepository {
	if pageSize <= 0 {
		pageSize = defaultScanPageSize
	}
	return &CacheRepository{db: db, pageSize: pageSize, now: utcNow}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

// Lookup returns the valid images cached for sig, best first, and bumps
// their usage counts.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sig: topic signature.
//   - limit: maximum number of images.
//   - minConfidence: entries below this confidence are skipped.
// Returns:
//   - []domain.CachedImage: hits ordered by usage desc, confidence desc.
//   - error: wraps domain.ErrStorageUnavailable on backend failure.
func (r *CacheRepository) Lookup(ctx context.Context, sig topic.Signature, limit int, minConfidence float64) ([]domain.CachedImage, error) {
	r.RecordLookup(ctx)
	if sig.IsEmpty() || limit <= 0 {
		return nil, nil
	}
	hash := sig.Hash()

	var entries []domain.CacheEntry
	err := r.db.WithContext(ctx).
		Where("topic_hash = ? AND valid = ? AND confidence >= ?", hash, true, minConfidence).
		Order("usage_count DESC").
		Order("confidence DESC").
		Order("image_id ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, unavailable("lookup", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ImageID
	}
	err = r.db.WithContext(ctx).
		Model(&domain.CacheEntry{}).
		Where("topic_hash = ? AND image_id IN ?", hash, ids).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + ?", 1),
			"last_used_at": r.now(),
		}).Error
	if err != nil {
		logger.CtxWarn(ctx, "Failed to bump usage for topic %s: %v", hash, err)
	}
	r.RecordHit(ctx)

	images := make([]domain.CachedImage, len(entries))
	for i, e := range entries {
		images[i] = domain.CachedImage{
			ImageID:        e.ImageID,
			SourceProvider: e.SourceProvider,
			Confidence:     e.Confidence,
			UsageCount:     e.UsageCount + 1,
		}
	}
	return images, nil
}

// Insert upserts images under sig and records the topic mapping if it is new.
// Mutable fields are last-writer-wins; usage counts are never overwritten.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sig: topic signature; an empty signature is ignored.
//   - rawText: the topic text as seen in the document.
//   - images: candidates to record; entries without an id are skipped.
// Returns:
//   - error: wraps domain.ErrStorageUnavailable on backend failure.
func (r *CacheRepository) Insert(ctx context.Context, sig topic.Signature, rawText string, images []domain.CandidateImage) error {
	if sig.IsEmpty() {
		return nil
	}
	hash := sig.Hash()
	now := r.now()

	// one row per id, the last occurrence wins
	index := make(map[string]int)
	var entries []domain.CacheEntry
	for _, img := range images {
		if img.ImageID == "" {
			continue
		}
		entry := domain.CacheEntry{
			TopicHash:      hash,
			ImageID:        img.ImageID,
			SourceProvider: img.SourceProvider,
			Valid:          img.Valid,
			Confidence:     clamp01(img.Confidence),
			LastValidated:  now,
		}
		if i, ok := index[img.ImageID]; ok {
			entries[i] = entry
			continue
		}
		index[img.ImageID] = len(entries)
		entries = append(entries, entry)
	}

	mapping := domain.TopicMapping{
		TopicHash:      hash,
		RawText:        rawText,
		NormalizedText: sig.Text(),
		Keywords:       domain.StringArray(sig),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&mapping).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "topic_hash"}, {Name: "image_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"source_provider", "valid", "confidence", "last_validated"}),
		}).Create(&entries).Error
	})
	if err != nil {
		return unavailable("insert", err)
	}
	return nil
}

// AllTopics returns a lazy scan over every topic mapping with its best valid
// images. Each call to the returned sequence starts a fresh scan; pages are
// fetched on demand by topic hash.
func (r *CacheRepository) AllTopics(ctx context.Context) iter.Seq2[domain.TopicSummary, error] {
	return func(yield func(domain.TopicSummary, error) bool) {
		after := ""
		for {
			var page []domain.TopicMapping
			err := r.db.WithContext(ctx).
				Where("topic_hash > ?", after).
				Order("topic_hash ASC").
				Limit(r.pageSize).
				Find(&page).Error
			if err != nil {
				yield(domain.TopicSummary{}, unavailable("scan topics", err))
				return
			}
			if len(page) == 0 {
				return
			}

			images, err := r.bestImages(ctx, page)
			if err != nil {
				yield(domain.TopicSummary{}, err)
				return
			}

			for _, m := range page {
				keywords := []string(m.Keywords)
				if len(keywords) == 0 {
					keywords = strings.Fields(m.NormalizedText)
				}
				summary := domain.TopicSummary{
					TopicHash:      m.TopicHash,
					NormalizedText: m.NormalizedText,
					Keywords:       keywords,
					Images:         images[m.TopicHash],
				}
				if len(summary.Images) > 0 {
					summary.TopUsage = summary.Images[0].UsageCount
				}
				if !yield(summary, nil) {
					return
				}
			}

			if len(page) < r.pageSize {
				return
			}
			after = page[len(page)-1].TopicHash
		}
	}
}

func (r *CacheRepository) bestImages(ctx context.Context, page []domain.TopicMapping) (map[string][]domain.CachedImage, error) {
	hashes := make([]string, len(page))
	for i, m := range page {
		hashes[i] = m.TopicHash
	}

	var entries []domain.CacheEntry
	err := r.db.WithContext(ctx).
		Where("topic_hash IN ? AND valid = ?", hashes, true).
		Order("topic_hash ASC").
		Order("usage_count DESC").
		Order("confidence DESC").
		Order("image_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, unavailable("scan images", err)
	}

	out := make(map[string][]domain.CachedImage, len(page))
	for _, e := range entries {
		if len(out[e.TopicHash]) >= maxImagesPerSummary {
			continue
		}
		out[e.TopicHash] = append(out[e.TopicHash], domain.CachedImage{
			ImageID:        e.ImageID,
			SourceProvider: e.SourceProvider,
			Confidence:     e.Confidence,
			UsageCount:     e.UsageCount,
		})
	}
	return out, nil
}

// Expire deletes entries not used (or, if never used, not validated) since
// olderThan whose usage count is below usageFloor. Topic mappings are kept.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - olderThan: retention cutoff.
//   - usageFloor: entries with at least this many uses survive.
// Returns:
//   - int64: number of entries removed.
//   - error: wraps domain.ErrStorageUnavailable on backend failure.
func (r *CacheRepository) Expire(ctx context.Context, olderThan time.Time, usageFloor int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("usage_count < ?", usageFloor).
		Where("(last_used_at IS NULL AND last_validated < ?) OR (last_used_at IS NOT NULL AND last_used_at < ?)", olderThan, olderThan).
		Delete(&domain.CacheEntry{})
	if res.Error != nil {
		return 0, unavailable("expire", res.Error)
	}
	return res.RowsAffected, nil
}

// RecordLookup counts one lookup for today.
func (r *CacheRepository) RecordLookup(ctx context.Context) {
	r.bump(ctx, metricTotalLookups)
}

// RecordHit counts one cache hit for today.
func (r *CacheRepository) RecordHit(ctx context.Context) {
	r.bump(ctx, metricCacheHits)
}

// RecordSuggestionCall counts one external suggestion call for today.
func (r *CacheRepository) RecordSuggestionCall(ctx context.Context) {
	r.bump(ctx, metricSuggestionCalls)
}

// bump increments one daily counter. Failures are logged only; metrics never
// affect the operation that produced them.
func (r *CacheRepository) bump(ctx context.Context, column string) {
	switch column {
	case metricTotalLookups, metricCacheHits, metricSuggestionCalls:
	default:
		return
	}
	date := r.now().UTC().Format(time.DateOnly)
	db := r.db.WithContext(ctx)

	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.CacheMetric{Date: date}).Error
	if err == nil {
		err = db.Model(&domain.CacheMetric{}).
			Where("date = ?", date).
			Update(column, gorm.Expr(column+" + ?", 1)).Error
	}
	if err != nil {
		logger.CtxDebug(ctx, "Failed to record %s: %v", column, err)
	}
}

// Stats summarizes cache contents and the activity of the last windowDays days.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - windowDays: trailing window for hit rate and call counts.
// Returns:
//   - *domain.CacheStats: the summary.
//   - error: wraps domain.ErrStorageUnavailable on backend failure.
func (r *CacheRepository) Stats(ctx context.Context, windowDays int) (*domain.CacheStats, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	stats := &domain.CacheStats{WindowDays: windowDays}
	db := r.db.WithContext(ctx)

	if err := db.Model(&domain.TopicMapping{}).Count(&stats.TotalTopics).Error; err != nil {
		return nil, unavailable("stats", err)
	}
	if err := db.Model(&domain.CacheEntry{}).Count(&stats.TotalImages).Error; err != nil {
		return nil, unavailable("stats", err)
	}
	if err := db.Model(&domain.CacheEntry{}).Where("valid = ?", true).Count(&stats.ValidImages).Error; err != nil {
		return nil, unavailable("stats", err)
	}

	var usage struct {
		AvgUsage float64
		MaxUsage int64
	}
	if err := db.Model(&domain.CacheEntry{}).
		Select("COALESCE(AVG(usage_count), 0) AS avg_usage, COALESCE(MAX(usage_count), 0) AS max_usage").
		Scan(&usage).Error; err != nil {
		return nil, unavailable("stats", err)
	}
	stats.AvgUsage = usage.AvgUsage
	stats.MaxUsage = usage.MaxUsage

	since := r.now().UTC().AddDate(0, 0, -(windowDays - 1)).Format(time.DateOnly)
	var window struct {
		Lookups int64
		Hits    int64
		Calls   int64
	}
	if err := db.Model(&domain.CacheMetric{}).
		Select("COALESCE(SUM(total_lookups), 0) AS lookups, COALESCE(SUM(cache_hits), 0) AS hits, COALESCE(SUM(suggestion_calls), 0) AS calls").
		Where("date >= ?", since).
		Scan(&window).Error; err != nil {
		return nil, unavailable("stats", err)
	}
	stats.WindowLookups = window.Lookups
	stats.WindowHits = window.Hits
	stats.SuggestionCalls = window.Calls
	if window.Lookups > 0 {
		stats.WindowHitRate = float64(window.Hits) / float64(window.Lookups)
	}
	return stats, nil
}

// Snapshot dumps the cache tables for export.
func (r *CacheRepository) Snapshot(ctx context.Context) (*domain.CacheSnapshot, error) {
	snap := &domain.CacheSnapshot{ExportedAt: r.now().UTC()}
	db := r.db.WithContext(ctx)
	if err := db.Order("topic_hash").Find(&snap.Topics).Error; err != nil {
		return nil, unavailable("snapshot", err)
	}
	if err := db.Order("topic_hash").Order("image_id").Find(&snap.Entries).Error; err != nil {
		return nil, unavailable("snapshot", err)
	}
	if err := db.Order("date").Find(&snap.Metrics).Error; err != nil {
		return nil, unavailable("snapshot", err)
	}
	return snap, nil
}

// Metrics returns the daily counters for date (YYYY-MM-DD), zero if absent.
func (r *CacheRepository) Metrics(ctx context.Context, date string) (domain.CacheMetric, error) {
	row := domain.CacheMetric{Date: date}
	err := r.db.WithContext(ctx).Where("date = ?", date).Limit(1).Find(&row).Error
	if err != nil {
		return row, unavailable("metrics", err)
	}
	return row, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/timmy/slidefix/internal/domain"
	"github.com/timmy/slidefix/internal/logger"
	"github.com/timmy/slidefix/internal/storage"
)

// ErrNoObjectStorage is returned when exporting without object storage.
var ErrNoObjectStorage = errors.New("object storage is not configured")

// SnapshotSource dumps the cache tables.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*domain.CacheSnapshot, error)
}

// RunArchive records the archive location of a run's report.
type RunArchive interface {
	SetArchiveKey(ctx context.Context, id, key string) error
}

// Exporter writes cache snapshots and run reports to object storage.
type Exporter struct {
	objects storage.ObjectStorage
	cache   SnapshotSource
	runs    RunArchive
	prefix  string
	logger  *logger.Logger
	now     func() time.Time
}

// NewExporter creates an Exporter. runs may be nil.
func NewExporter(objects storage.ObjectStorage, cache SnapshotSource, runs RunArchive, prefix string, log *logger.Logger) *Exporter {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Exporter{
		objects: objects,
		cache:   cache,
		runs:    runs,
		prefix:  prefix,
		logger:  log,
		now:     time.Now,
	}
}

// ExportCache uploads a JSON snapshot of the cache and returns its key.
func (e *Exporter) ExportCache(ctx context.Context) (string, error) {
	if e.objects == nil {
		return "", ErrNoObjectStorage
	}
	snap, err := e.cache.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to snapshot cache: %w", err)
	}

	key := path.Join(e.cachePrefix(), snap.ExportedAt.UTC().Format("20060102T150405Z")+".json")
	size, err := e.upload(ctx, key, snap)
	if err != nil {
		return "", err
	}

	logger.With(logger.Fields{
		"key":     key,
		"topics":  len(snap.Topics),
		"entries": len(snap.Entries),
		"bytes":   size,
	}).Info(ctx, "Cache snapshot exported")
	return key, nil
}

// ArchiveReport uploads report under the run's id and records the key on
// the run. report is any JSON-encodable run result.
// Parameters:
//   - ctx: context for cancellation.
//   - runID: id of the run the report belongs to.
//   - report: *domain.Report or *domain.AuditReport.
// Returns:
//   - string: object key of the archived report.
//   - error: upload failure; a failure to record the key is only logged.
func (e *Exporter) ArchiveReport(ctx context.Context, runID string, report any) (string, error) {
	if e.objects == nil {
		return "", ErrNoObjectStorage
	}
	day := e.now().UTC().Format("2006/01/02")
	key := path.Join(e.prefix, "reports", day, runID+".json")
	if _, err := e.upload(ctx, key, report); err != nil {
		return "", err
	}

	if e.runs != nil {
		if err := e.runs.SetArchiveKey(ctx, runID, key); err != nil {
			e.logger.WithField(logger.FieldRunID, runID).WithError(err).Warn("Failed to record archive key")
		}
	}
	logger.With(logger.Fields{
		logger.FieldRunID: runID,
		"key":             key,
	}).Info(ctx, "Report archived")
	return key, nil
}

// ListExports returns the cache snapshots in storage, oldest first.
func (e *Exporter) ListExports(ctx context.Context) ([]storage.Object, error) {
	if e.objects == nil {
		return nil, ErrNoObjectStorage
	}
	return e.objects.List(ctx, e.cachePrefix()+"/")
}

// PruneExports deletes all but the newest keep cache snapshots and returns
// the number deleted. Snapshot keys sort chronologically.
func (e *Exporter) PruneExports(ctx context.Context, keep int) (int, error) {
	objects, err := e.ListExports(ctx)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(objects) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, o := range objects[:len(objects)-keep] {
		if err := e.objects.Delete(ctx, o.Key); err != nil {
			return deleted, err
		}
		deleted++
	}
	logger.With(logger.Fields{
		logger.FieldCount: deleted,
		"kept":            keep,
	}).Info(ctx, "Pruned old cache snapshots")
	return deleted, nil
}

// URL returns the object URL for key.
func (e *Exporter) URL(key string) string {
	if e.objects == nil {
		return ""
	}
	return e.objects.URL(key)
}

func (e *Exporter) cachePrefix() string {
	return path.Join(e.prefix, "cache")
}

func (e *Exporter) upload(ctx context.Context, key string, v any) (int, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := e.objects.Put(ctx, key, body, "application/json"); err != nil {
		return 0, err
	}
	return len(body), nil
}

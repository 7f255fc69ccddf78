package repository

import (
	"context"
	"fmt"

	"github.com/timmy/slidefix/internal/domain"
	"gorm.io/gorm"
)

// RunRepository persists processing run summaries.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run record.
func (r *RunRepository) Create(ctx context.Context, run *domain.ProcessingRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("%w: create run: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Update saves every field of run.
func (r *RunRepository) Update(ctx context.Context, run *domain.ProcessingRun) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("%w: update run: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// GetByID retrieves a run by id. A missing run yields gorm.ErrRecordNotFound.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.ProcessingRun, error) {
	var run domain.ProcessingRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRecent returns the newest runs first.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]domain.ProcessingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []domain.ProcessingRun
	err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list runs: %v", domain.ErrStorageUnavailable, err)
	}
	return runs, nil
}

// SetArchiveKey records where the report of run id was archived.
func (r *RunRepository) SetArchiveKey(ctx context.Context, id, key string) error {
	res := r.db.WithContext(ctx).Model(&domain.ProcessingRun{}).Where("id = ?", id).Update("archive_key", key)
	if res.Error != nil {
		return fmt.Errorf("%w: archive run: %v", domain.ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

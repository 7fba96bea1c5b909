package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pearl-rdm/pearl/internal/db"
)

// gormTrackerRepository is the GORM implementation of TrackerRepository.
type gormTrackerRepository struct {
	db *gorm.DB
}

// NewTrackerRepository returns a TrackerRepository backed by the provided *gorm.DB.
func NewTrackerRepository(db *gorm.DB) TrackerRepository {
	return &gormTrackerRepository{db: db}
}

// Create inserts a new tracker record.
func (r *gormTrackerRepository) Create(ctx context.Context, tracker *db.ReportingEffortTracker) error {
	if err := r.db.WithContext(ctx).Create(tracker).Error; err != nil {
		return fmt.Errorf("trackers: create: %w", err)
	}
	return nil
}

// GetByID retrieves a tracker by its UUID.
func (r *gormTrackerRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.ReportingEffortTracker, error) {
	var tracker db.ReportingEffortTracker
	err := r.db.WithContext(ctx).First(&tracker, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("trackers: get by id: %w", err)
	}
	return &tracker, nil
}

// Update persists all fields of an existing tracker.
func (r *gormTrackerRepository) Update(ctx context.Context, tracker *db.ReportingEffortTracker) error {
	result := r.db.WithContext(ctx).Save(tracker)
	if result.Error != nil {
		return fmt.Errorf("trackers: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a tracker.
func (r *gormTrackerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.ReportingEffortTracker{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("trackers: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of trackers and the total count.
func (r *gormTrackerRepository) List(ctx context.Context, opts ListOptions) ([]db.ReportingEffortTracker, int64, error) {
	var trackers []db.ReportingEffortTracker
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.ReportingEffortTracker{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("trackers: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&trackers).Error; err != nil {
		return nil, 0, fmt.Errorf("trackers: list: %w", err)
	}

	return trackers, total, nil
}

// ListByStudy returns all trackers for a study ordered by due date, earliest
// first, undated entries last (NULLs sort last in both supported drivers
// when a secondary order key is present).
func (r *gormTrackerRepository) ListByStudy(ctx context.Context, studyID uuid.UUID) ([]db.ReportingEffortTracker, error) {
	var trackers []db.ReportingEffortTracker
	if err := r.db.WithContext(ctx).
		Where("study_id = ?", studyID).
		Order("due_date ASC, created_at ASC").
		Find(&trackers).Error; err != nil {
		return nil, fmt.Errorf("trackers: list by study: %w", err)
	}
	return trackers, nil
}

// ListAll returns every tracker. Used for the WebSocket snapshot baseline.
func (r *gormTrackerRepository) ListAll(ctx context.Context) ([]db.ReportingEffortTracker, error) {
	var trackers []db.ReportingEffortTracker
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&trackers).Error; err != nil {
		return nil, fmt.Errorf("trackers: list all: %w", err)
	}
	return trackers, nil
}

package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pearl-rdm/pearl/internal/db"
)

// gormStudyRepository is the GORM implementation of StudyRepository.
type gormStudyRepository struct {
	db *gorm.DB
}

// NewStudyRepository returns a StudyRepository backed by the provided *gorm.DB.
func NewStudyRepository(db *gorm.DB) StudyRepository {
	return &gormStudyRepository{db: db}
}

// Create inserts a new study. Returns ErrConflict if the study code is
// already taken.
func (r *gormStudyRepository) Create(ctx context.Context, study *db.Study) error {
	if err := r.db.WithContext(ctx).Create(study).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("studies: create: %w", err)
	}
	return nil
}

// GetByID retrieves a study by its UUID. Returns ErrNotFound if no record
// exists or the study is soft-deleted.
func (r *gormStudyRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Study, error) {
	var study db.Study
	err := r.db.WithContext(ctx).First(&study, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("studies: get by id: %w", err)
	}
	return &study, nil
}

// GetByCode retrieves a study by its sponsor study code.
func (r *gormStudyRepository) GetByCode(ctx context.Context, code string) (*db.Study, error) {
	var study db.Study
	err := r.db.WithContext(ctx).First(&study, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("studies: get by code: %w", err)
	}
	return &study, nil
}

// Update persists all fields of an existing study.
func (r *gormStudyRepository) Update(ctx context.Context, study *db.Study) error {
	result := r.db.WithContext(ctx).Save(study)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return ErrConflict
		}
		return fmt.Errorf("studies: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes a study. The record remains recoverable via Unscoped
// queries until an explicit purge.
func (r *gormStudyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Study{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("studies: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of studies and the total count, ordered by
// creation time descending.
func (r *gormStudyRepository) List(ctx context.Context, opts ListOptions) ([]db.Study, int64, error) {
	var studies []db.Study
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Study{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("studies: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&studies).Error; err != nil {
		return nil, 0, fmt.Errorf("studies: list: %w", err)
	}

	return studies, total, nil
}

// ListAll returns every study ordered by code. Used to build the WebSocket
// snapshot baseline on connect.
func (r *gormStudyRepository) ListAll(ctx context.Context) ([]db.Study, error) {
	var studies []db.Study
	if err := r.db.WithContext(ctx).Order("code ASC").Find(&studies).Error; err != nil {
		return nil, fmt.Errorf("studies: list all: %w", err)
	}
	return studies, nil
}

// isUniqueViolation reports whether err looks like a unique constraint
// violation on either supported driver. GORM exposes ErrDuplicatedKey for
// dialects that translate errors; SQLite errors are matched by message.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}

package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pearl-rdm/pearl/internal/db"
)

// gormTextElementRepository is the GORM implementation of TextElementRepository.
type gormTextElementRepository struct {
	db *gorm.DB
}

// NewTextElementRepository returns a TextElementRepository backed by the
// provided *gorm.DB.
func NewTextElementRepository(db *gorm.DB) TextElementRepository {
	return &gormTextElementRepository{db: db}
}

// Create inserts a new text element. Returns ErrConflict if the key is taken.
func (r *gormTextElementRepository) Create(ctx context.Context, element *db.TextElement) error {
	if err := r.db.WithContext(ctx).Create(element).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("text elements: create: %w", err)
	}
	return nil
}

// GetByID retrieves a text element by its UUID.
func (r *gormTextElementRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.TextElement, error) {
	var element db.TextElement
	err := r.db.WithContext(ctx).First(&element, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("text elements: get by id: %w", err)
	}
	return &element, nil
}

// GetByKey retrieves a text element by its stable key.
func (r *gormTextElementRepository) GetByKey(ctx context.Context, key string) (*db.TextElement, error) {
	var element db.TextElement
	err := r.db.WithContext(ctx).First(&element, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("text elements: get by key: %w", err)
	}
	return &element, nil
}

// Update persists all fields of an existing text element.
func (r *gormTextElementRepository) Update(ctx context.Context, element *db.TextElement) error {
	result := r.db.WithContext(ctx).Save(element)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return ErrConflict
		}
		return fmt.Errorf("text elements: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a text element.
func (r *gormTextElementRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.TextElement{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("text elements: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of text elements and the total count.
func (r *gormTextElementRepository) List(ctx context.Context, opts ListOptions) ([]db.TextElement, int64, error) {
	var elements []db.TextElement
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.TextElement{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("text elements: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("key ASC").
		Find(&elements).Error; err != nil {
		return nil, 0, fmt.Errorf("text elements: list: %w", err)
	}

	return elements, total, nil
}

// ListAll returns every text element ordered by key. Used for the WebSocket
// snapshot baseline.
func (r *gormTextElementRepository) ListAll(ctx context.Context) ([]db.TextElement, error) {
	var elements []db.TextElement
	if err := r.db.WithContext(ctx).Order("key ASC").Find(&elements).Error; err != nil {
		return nil, fmt.Errorf("text elements: list all: %w", err)
	}
	return elements, nil
}

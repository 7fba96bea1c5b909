package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pearl-rdm/pearl/internal/db"
)

// gormCommentRepository is the GORM implementation of CommentRepository.
type gormCommentRepository struct {
	db *gorm.DB
}

// NewCommentRepository returns a CommentRepository backed by the provided *gorm.DB.
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &gormCommentRepository{db: db}
}

// Create inserts a new comment.
func (r *gormCommentRepository) Create(ctx context.Context, comment *db.Comment) error {
	if err := r.db.WithContext(ctx).Create(comment).Error; err != nil {
		return fmt.Errorf("comments: create: %w", err)
	}
	return nil
}

// GetByID retrieves a comment by its UUID.
func (r *gormCommentRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Comment, error) {
	var comment db.Comment
	err := r.db.WithContext(ctx).First(&comment, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("comments: get by id: %w", err)
	}
	return &comment, nil
}

// Update persists all fields of an existing comment.
func (r *gormCommentRepository) Update(ctx context.Context, comment *db.Comment) error {
	result := r.db.WithContext(ctx).Save(comment)
	if result.Error != nil {
		return fmt.Errorf("comments: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a comment.
func (r *gormCommentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Comment{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("comments: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByEntity returns all comments attached to one record, oldest first so
// the thread reads top to bottom.
func (r *gormCommentRepository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]db.Comment, error) {
	var comments []db.Comment
	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("comments: list by entity: %w", err)
	}
	return comments, nil
}

// ListAll returns every comment. Used for the WebSocket snapshot baseline.
func (r *gormCommentRepository) ListAll(ctx context.Context) ([]db.Comment, error) {
	var comments []db.Comment
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("comments: list all: %w", err)
	}
	return comments, nil
}

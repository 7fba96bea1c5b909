package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pearl-rdm/pearl/internal/db"
)

// gormPackageItemRepository is the GORM implementation of PackageItemRepository.
type gormPackageItemRepository struct {
	db *gorm.DB
}

// NewPackageItemRepository returns a PackageItemRepository backed by the
// provided *gorm.DB.
func NewPackageItemRepository(db *gorm.DB) PackageItemRepository {
	return &gormPackageItemRepository{db: db}
}

// Create inserts a new package item.
func (r *gormPackageItemRepository) Create(ctx context.Context, item *db.PackageItem) error {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("package items: create: %w", err)
	}
	return nil
}

// GetByID retrieves a package item by its UUID.
func (r *gormPackageItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.PackageItem, error) {
	var item db.PackageItem
	err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("package items: get by id: %w", err)
	}
	return &item, nil
}

// Update persists all fields of an existing package item.
func (r *gormPackageItemRepository) Update(ctx context.Context, item *db.PackageItem) error {
	result := r.db.WithContext(ctx).Save(item)
	if result.Error != nil {
		return fmt.Errorf("package items: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a package item.
func (r *gormPackageItemRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.PackageItem{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("package items: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByPackage returns all items of a package in display order.
func (r *gormPackageItemRepository) ListByPackage(ctx context.Context, packageID uuid.UUID) ([]db.PackageItem, error) {
	var items []db.PackageItem
	if err := r.db.WithContext(ctx).
		Where("package_id = ?", packageID).
		Order("sort_order ASC, created_at ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("package items: list by package: %w", err)
	}
	return items, nil
}

// ListAll returns every package item. Used for the WebSocket snapshot baseline.
func (r *gormPackageItemRepository) ListAll(ctx context.Context) ([]db.PackageItem, error) {
	var items []db.PackageItem
	if err := r.db.WithContext(ctx).
		Order("sort_order ASC, created_at ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("package items: list all: %w", err)
	}
	return items, nil
}

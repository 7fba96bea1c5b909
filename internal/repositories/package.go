package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pearl-rdm/pearl/internal/db"
)

// gormPackageRepository is the GORM implementation of PackageRepository.
type gormPackageRepository struct {
	db *gorm.DB
}

// NewPackageRepository returns a PackageRepository backed by the provided *gorm.DB.
func NewPackageRepository(db *gorm.DB) PackageRepository {
	return &gormPackageRepository{db: db}
}

// Create inserts a new package record.
func (r *gormPackageRepository) Create(ctx context.Context, pkg *db.Package) error {
	if err := r.db.WithContext(ctx).Create(pkg).Error; err != nil {
		return fmt.Errorf("packages: create: %w", err)
	}
	return nil
}

// GetByID retrieves a package by its UUID.
func (r *gormPackageRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Package, error) {
	var pkg db.Package
	err := r.db.WithContext(ctx).First(&pkg, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("packages: get by id: %w", err)
	}
	return &pkg, nil
}

// Update persists all fields of an existing package.
func (r *gormPackageRepository) Update(ctx context.Context, pkg *db.Package) error {
	result := r.db.WithContext(ctx).Save(pkg)
	if result.Error != nil {
		return fmt.Errorf("packages: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a package. Items under the package are removed in the same
// transaction so no orphans are left behind.
func (r *gormPackageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&db.Package{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("packages: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Delete(&db.PackageItem{}, "package_id = ?", id).Error; err != nil {
			return fmt.Errorf("packages: delete items: %w", err)
		}
		return nil
	})
}

// List returns a paginated list of packages and the total count.
func (r *gormPackageRepository) List(ctx context.Context, opts ListOptions) ([]db.Package, int64, error) {
	var pkgs []db.Package
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Package{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("packages: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&pkgs).Error; err != nil {
		return nil, 0, fmt.Errorf("packages: list: %w", err)
	}

	return pkgs, total, nil
}

// ListByStudy returns all packages belonging to a study.
func (r *gormPackageRepository) ListByStudy(ctx context.Context, studyID uuid.UUID) ([]db.Package, error) {
	var pkgs []db.Package
	if err := r.db.WithContext(ctx).
		Where("study_id = ?", studyID).
		Order("created_at ASC").
		Find(&pkgs).Error; err != nil {
		return nil, fmt.Errorf("packages: list by study: %w", err)
	}
	return pkgs, nil
}

// ListAll returns every package. Used for the WebSocket snapshot baseline.
func (r *gormPackageRepository) ListAll(ctx context.Context) ([]db.Package, error) {
	var pkgs []db.Package
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&pkgs).Error; err != nil {
		return nil, fmt.Errorf("packages: list all: %w", err)
	}
	return pkgs, nil
}

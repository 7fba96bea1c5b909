// Package repositories defines the data-access interfaces for every PEARL
// aggregate and their GORM implementations. Handlers depend on the
// interfaces only, so tests can substitute fakes without a database.
package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/pearl-rdm/pearl/internal/db"
)

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// StudyRepository manages studies.
type StudyRepository interface {
	Create(ctx context.Context, study *db.Study) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Study, error)
	GetByCode(ctx context.Context, code string) (*db.Study, error)
	Update(ctx context.Context, study *db.Study) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.Study, int64, error)
	ListAll(ctx context.Context) ([]db.Study, error)
}

// PackageRepository manages submission packages.
type PackageRepository interface {
	Create(ctx context.Context, pkg *db.Package) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Package, error)
	Update(ctx context.Context, pkg *db.Package) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.Package, int64, error)
	ListByStudy(ctx context.Context, studyID uuid.UUID) ([]db.Package, error)
	ListAll(ctx context.Context) ([]db.Package, error)
}

// PackageItemRepository manages the deliverables inside packages.
type PackageItemRepository interface {
	Create(ctx context.Context, item *db.PackageItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.PackageItem, error)
	Update(ctx context.Context, item *db.PackageItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPackage(ctx context.Context, packageID uuid.UUID) ([]db.PackageItem, error)
	ListAll(ctx context.Context) ([]db.PackageItem, error)
}

// TrackerRepository manages reporting effort trackers.
type TrackerRepository interface {
	Create(ctx context.Context, tracker *db.ReportingEffortTracker) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.ReportingEffortTracker, error)
	Update(ctx context.Context, tracker *db.ReportingEffortTracker) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.ReportingEffortTracker, int64, error)
	ListByStudy(ctx context.Context, studyID uuid.UUID) ([]db.ReportingEffortTracker, error)
	ListAll(ctx context.Context) ([]db.ReportingEffortTracker, error)
}

// UserRepository manages user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	Update(ctx context.Context, user *db.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.User, int64, error)
	ListAll(ctx context.Context) ([]db.User, error)
}

// RefreshTokenRepository manages refresh token records.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *db.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*db.RefreshToken, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// TextElementRepository manages reusable text blocks.
type TextElementRepository interface {
	Create(ctx context.Context, element *db.TextElement) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.TextElement, error)
	GetByKey(ctx context.Context, key string) (*db.TextElement, error)
	Update(ctx context.Context, element *db.TextElement) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.TextElement, int64, error)
	ListAll(ctx context.Context) ([]db.TextElement, error)
}

// CommentRepository manages comments attached to tracked entities.
type CommentRepository interface {
	Create(ctx context.Context, comment *db.Comment) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Comment, error)
	Update(ctx context.Context, comment *db.Comment) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]db.Comment, error)
	ListAll(ctx context.Context) ([]db.Comment, error)
}

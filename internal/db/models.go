package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering. CreatedAt and UpdatedAt are managed by GORM.
type Base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// SoftDelete extends Base with a nullable DeletedAt field. GORM filters
// soft-deleted records from all queries unless Unscoped() is used.
type SoftDelete struct {
	Base
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Studies
// -----------------------------------------------------------------------------

// Study is the top-level research unit everything else hangs off.
// Studies are soft-deleted: regulatory traceability requires that a deleted
// study remains recoverable until an explicit purge.
type Study struct {
	SoftDelete
	Code        string `gorm:"uniqueIndex;not null"` // sponsor study code, e.g. "ONC-2024-017"
	Title       string `gorm:"not null"`
	Phase       string `gorm:"not null;default:''"`
	Species     string `gorm:"not null;default:''"`
	Status      string `gorm:"not null;default:'planned'"` // "planned", "active", "locked", "archived"
	Description string `gorm:"type:text;not null;default:''"`
}

// -----------------------------------------------------------------------------
// Packages & items
// -----------------------------------------------------------------------------

// Package is a submission data package assembled for a study
// (e.g. a SEND package for a nonclinical study).
type Package struct {
	Base
	StudyID  uuid.UUID `gorm:"type:text;not null;index"`
	Name     string    `gorm:"not null"`
	Standard string    `gorm:"not null;default:'SEND'"` // "SEND", "SDTM", "ADaM"
	Status   string    `gorm:"not null;default:'draft'"` // "draft", "in_review", "published"
	DueDate  *time.Time
}

// PackageItem is a single deliverable inside a package: a dataset domain,
// a define file, a reviewer guide.
type PackageItem struct {
	Base
	PackageID  uuid.UUID `gorm:"type:text;not null;index"`
	Name       string    `gorm:"not null"`
	DomainCode string    `gorm:"not null;default:''"` // e.g. "DM", "EX", "LB"
	Status     string    `gorm:"not null;default:'pending'"` // "pending", "in_progress", "complete"
	SortOrder  int       `gorm:"not null;default:0"`
}

// -----------------------------------------------------------------------------
// Reporting efforts
// -----------------------------------------------------------------------------

// ReportingEffortTracker tracks one item of work inside a reporting effort
// for a study (e.g. "Interim CSR / PC dataset review"). This is the most
// frequently edited entity in the application, which makes it the main
// beneficiary of the live-refresh broadcast.
type ReportingEffortTracker struct {
	Base
	StudyID    uuid.UUID `gorm:"type:text;not null;index"`
	Effort     string    `gorm:"not null"` // reporting effort label, e.g. "Interim CSR"
	Item       string    `gorm:"not null"` // tracked work item
	Status     string    `gorm:"not null;default:'open'"` // "open", "blocked", "done"
	AssigneeID *uuid.UUID `gorm:"type:text;index"`
	DueDate    *time.Time
	Notes      string `gorm:"type:text;not null;default:''"`
}

// -----------------------------------------------------------------------------
// Users & auth
// -----------------------------------------------------------------------------

// User is a local account. PasswordHash holds the encoded Argon2id hash —
// never the plain-text password.
type User struct {
	Base
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	DisplayName  string `gorm:"not null"`
	Role         string `gorm:"not null;default:'user'"` // "admin" or "user"
	IsActive     bool   `gorm:"not null;default:true"`
	LastLoginAt  *time.Time
}

// RefreshToken stores a hashed refresh token associated with a user session.
// The raw token is never stored — only its SHA-256 hash. Tokens are rotated
// on every use.
type RefreshToken struct {
	Base
	UserID    uuid.UUID `gorm:"type:text;not null;index"`
	TokenHash string    `gorm:"not null;uniqueIndex"` // SHA-256 hex of the raw token
	ExpiresAt time.Time `gorm:"not null;index"`
	RevokedAt *time.Time
	UserAgent string
	IPAddress string
}

// -----------------------------------------------------------------------------
// Text elements & comments
// -----------------------------------------------------------------------------

// TextElement is a reusable block of report text keyed by a stable
// identifier so reports can reference it across revisions.
type TextElement struct {
	Base
	Key      string `gorm:"uniqueIndex;not null"`
	Title    string `gorm:"not null"`
	Body     string `gorm:"type:text;not null;default:''"`
	Category string `gorm:"not null;default:''"`
}

// Comment is a free-text annotation attached to any tracked entity.
// EntityType holds the events.EntityType tag of the target record.
type Comment struct {
	Base
	EntityType string    `gorm:"not null;index:idx_comments_entity"`
	EntityID   uuid.UUID `gorm:"type:text;not null;index:idx_comments_entity"`
	AuthorID   uuid.UUID `gorm:"type:text;not null;index"`
	Body       string    `gorm:"type:text;not null"`
}

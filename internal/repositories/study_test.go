package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pearl-rdm/pearl/internal/db"
)

// newTestDB opens an in-memory SQLite database with migrations applied.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	return database
}

func TestStudyCRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewStudyRepository(newTestDB(t))

	study := &db.Study{
		Code:   "ONC-2026-001",
		Title:  "Sample Study",
		Status: "planned",
	}
	require.NoError(t, repo.Create(ctx, study))
	require.NotEqual(t, uuid.UUID{}, study.ID, "BeforeCreate must assign an id")

	got, err := repo.GetByID(ctx, study.ID)
	require.NoError(t, err)
	assert.Equal(t, "ONC-2026-001", got.Code)

	got, err = repo.GetByCode(ctx, "ONC-2026-001")
	require.NoError(t, err)
	assert.Equal(t, study.ID, got.ID)

	got.Title = "Renamed"
	require.NoError(t, repo.Update(ctx, got))
	got, err = repo.GetByID(ctx, study.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
}

func TestStudyCodeIsUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewStudyRepository(newTestDB(t))

	require.NoError(t, repo.Create(ctx, &db.Study{Code: "DUP", Title: "first"}))
	err := repo.Create(ctx, &db.Study{Code: "DUP", Title: "second"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStudyDeleteIsSoft(t *testing.T) {
	ctx := context.Background()
	repo := NewStudyRepository(newTestDB(t))

	study := &db.Study{Code: "ONC-2026-001", Title: "Doomed"}
	require.NoError(t, repo.Create(ctx, study))
	require.NoError(t, repo.Delete(ctx, study.ID))

	_, err := repo.GetByID(ctx, study.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRefreshTokenDeleteExpired(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	users := NewUserRepository(database)
	tokens := NewRefreshTokenRepository(database)

	user := &db.User{Email: "ada@example.com", PasswordHash: "x", DisplayName: "Ada"}
	require.NoError(t, users.Create(ctx, user))

	live := &db.RefreshToken{UserID: user.ID, TokenHash: "live", ExpiresAt: time.Now().Add(time.Hour)}
	expired := &db.RefreshToken{UserID: user.ID, TokenHash: "expired", ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, tokens.Create(ctx, live))
	require.NoError(t, tokens.Create(ctx, expired))

	n, err := tokens.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = tokens.GetByHash(ctx, "live")
	assert.NoError(t, err)
	_, err = tokens.GetByHash(ctx, "expired")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPackageDeleteRemovesItems(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	studies := NewStudyRepository(database)
	packages := NewPackageRepository(database)
	items := NewPackageItemRepository(database)

	study := &db.Study{Code: "ONC-2026-001", Title: "Sample"}
	require.NoError(t, studies.Create(ctx, study))

	pkg := &db.Package{StudyID: study.ID, Name: "SEND Package"}
	require.NoError(t, packages.Create(ctx, pkg))
	require.NoError(t, items.Create(ctx, &db.PackageItem{PackageID: pkg.ID, Name: "DM dataset"}))

	require.NoError(t, packages.Delete(ctx, pkg.ID))

	left, err := items.ListByPackage(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Empty(t, left, "package items must be removed with their package")
}

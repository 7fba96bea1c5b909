package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pearl-rdm/pearl/internal/db"
	"github.com/pearl-rdm/pearl/internal/repositories"
)

// fakeUserRepo is an in-memory UserRepository for service tests.
type fakeUserRepo struct {
	users map[uuid.UUID]*db.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*db.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *db.User) error {
	if user.ID == (uuid.UUID{}) {
		user.ID = uuid.New()
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*db.User, error) {
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*db.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeUserRepo) Update(_ context.Context, user *db.User) error {
	if _, ok := f.users[user.ID]; !ok {
		return repositories.ErrNotFound
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.users[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) List(_ context.Context, _ repositories.ListOptions) ([]db.User, int64, error) {
	return nil, 0, nil
}

func (f *fakeUserRepo) ListAll(_ context.Context) ([]db.User, error) {
	return nil, nil
}

// fakeTokenRepo is an in-memory RefreshTokenRepository.
type fakeTokenRepo struct {
	tokens map[uuid.UUID]*db.RefreshToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[uuid.UUID]*db.RefreshToken)}
}

func (f *fakeTokenRepo) Create(_ context.Context, token *db.RefreshToken) error {
	if token.ID == (uuid.UUID{}) {
		token.ID = uuid.New()
	}
	f.tokens[token.ID] = token
	return nil
}

func (f *fakeTokenRepo) GetByHash(_ context.Context, hash string) (*db.RefreshToken, error) {
	for _, tok := range f.tokens {
		if tok.TokenHash == hash {
			cp := *tok
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeTokenRepo) Revoke(_ context.Context, id uuid.UUID) error {
	tok, ok := f.tokens[id]
	if !ok {
		return repositories.ErrNotFound
	}
	now := time.Now()
	tok.RevokedAt = &now
	return nil
}

func (f *fakeTokenRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID) error {
	now := time.Now()
	for _, tok := range f.tokens {
		if tok.UserID == userID {
			tok.RevokedAt = &now
		}
	}
	return nil
}

func (f *fakeTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	var n int64
	for id, tok := range f.tokens {
		if time.Now().After(tok.ExpiresAt) || tok.RevokedAt != nil {
			delete(f.tokens, id)
			n++
		}
	}
	return n, nil
}

func newTestService(t *testing.T) (*Service, *fakeUserRepo, *fakeTokenRepo) {
	t.Helper()
	jwtMgr, err := NewJWTManagerGenerated("pearl-test")
	require.NoError(t, err)
	users := newFakeUserRepo()
	tokens := newFakeTokenRepo()
	return NewService(users, tokens, jwtMgr), users, tokens
}

func createTestUser(t *testing.T, users *fakeUserRepo, email, password string, active bool) *db.User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	user := &db.User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  "Test User",
		Role:         "user",
		IsActive:     active,
	}
	require.NoError(t, users.Create(context.Background(), user))
	return user
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("anything", "not-a-valid-hash")
	assert.Error(t, err)
}

func TestLoginIssuesValidTokenPair(t *testing.T) {
	svc, users, _ := newTestService(t)
	createTestUser(t, users, "ada@example.com", "s3cret", true)

	pair, err := svc.Login(context.Background(), LoginRequest{
		Email:    "ada@example.com",
		Password: "s3cret",
	})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := svc.JWTManager().ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, users, _ := newTestService(t)
	createTestUser(t, users, "ada@example.com", "s3cret", true)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: "nope"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "s3cret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsDisabledUser(t *testing.T) {
	svc, users, _ := newTestService(t)
	createTestUser(t, users, "ada@example.com", "s3cret", false)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: "s3cret"})
	assert.ErrorIs(t, err, ErrUserDisabled)
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, users, _ := newTestService(t)
	createTestUser(t, users, "ada@example.com", "s3cret", true)

	pair, err := svc.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: "s3cret"})
	require.NoError(t, err)

	rotated, err := svc.Refresh(context.Background(), pair.RefreshToken, "", "")
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The old token was revoked by the rotation and cannot be used again.
	_, err = svc.Refresh(context.Background(), pair.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Refresh(context.Background(), "never-issued", "", "")
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, users, _ := newTestService(t)
	createTestUser(t, users, "ada@example.com", "s3cret", true)

	pair, err := svc.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: "s3cret"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), pair.RefreshToken))
	_, err = svc.Refresh(context.Background(), pair.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrRefreshTokenInvalid)

	// Logging out an unknown token is still a success.
	assert.NoError(t, svc.Logout(context.Background(), "never-issued"))
}

func TestValidateAccessTokenRejectsForeignIssuer(t *testing.T) {
	mgrA, err := NewJWTManagerGenerated("issuer-a")
	require.NoError(t, err)
	mgrB, err := NewJWTManagerGenerated("issuer-b")
	require.NoError(t, err)

	token, err := mgrA.GenerateAccessToken(uuid.NewString(), "ada@example.com", "user")
	require.NoError(t, err)

	_, err = mgrB.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = mgrA.ValidateAccessToken(token + "tampered")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

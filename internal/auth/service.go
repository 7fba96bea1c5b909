// Package auth implements local email/password authentication for the PEARL
// server: Argon2id password hashing, RS256 access tokens, and rotating
// refresh tokens stored as SHA-256 hashes so the raw token is never
// persisted. OIDC and other federated flows are intentionally not supported.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/pearl-rdm/pearl/internal/db"
	"github.com/pearl-rdm/pearl/internal/repositories"
)

const (
	// refreshTokenDuration defines how long a refresh token remains valid.
	refreshTokenDuration = 7 * 24 * time.Hour

	// Argon2id parameters. OWASP minimum time cost is 1; 2 gives a margin.
	argon2Time    = 2
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 2
	argon2KeyLen  = 32
	argon2SaltLen = 16

	// refreshTokenBytes is the length of the random refresh token before
	// encoding.
	refreshTokenBytes = 32
)

// TokenPair is returned on successful login and refresh.
type TokenPair struct {
	AccessToken           string
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// LoginRequest carries the credentials for a local login attempt, plus the
// client metadata recorded on the refresh token for session auditing.
type LoginRequest struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

// Service is the single entry point for all authentication operations.
type Service struct {
	users  repositories.UserRepository
	tokens repositories.RefreshTokenRepository
	jwtMgr *JWTManager
}

// NewService creates an auth Service.
func NewService(users repositories.UserRepository, tokens repositories.RefreshTokenRepository, jwtMgr *JWTManager) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		jwtMgr: jwtMgr,
	}
}

// JWTManager exposes the underlying manager for middleware construction.
func (s *Service) JWTManager() *JWTManager {
	return s.jwtMgr
}

// Login authenticates via email/password and issues a token pair.
// Returns ErrInvalidCredentials for unknown email or wrong password and
// ErrUserDisabled for deactivated accounts.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: login lookup: %w", err)
	}

	ok, err := VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("auth: password verification: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	now := time.Now().UTC()
	user.LastLoginAt = &now
	// Best-effort bookkeeping; the login itself already succeeded.
	_ = s.users.Update(ctx, user)

	return s.issueTokens(ctx, user, req.UserAgent, req.IPAddress)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued. An unknown, expired or already-revoked token yields
// ErrRefreshTokenInvalid.
func (s *Service) Refresh(ctx context.Context, rawToken, userAgent, ipAddress string) (*TokenPair, error) {
	record, err := s.tokens.GetByHash(ctx, hashToken(rawToken))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrRefreshTokenInvalid
		}
		return nil, fmt.Errorf("auth: refresh lookup: %w", err)
	}

	if record.RevokedAt != nil || time.Now().After(record.ExpiresAt) {
		return nil, ErrRefreshTokenInvalid
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrRefreshTokenInvalid
		}
		return nil, fmt.Errorf("auth: refresh user lookup: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	if err := s.tokens.Revoke(ctx, record.ID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("auth: revoking rotated token: %w", err)
	}

	return s.issueTokens(ctx, user, userAgent, ipAddress)
}

// Logout revokes the presented refresh token. Unknown tokens are treated as
// success — the session is gone either way.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	record, err := s.tokens.GetByHash(ctx, hashToken(rawToken))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("auth: logout lookup: %w", err)
	}
	if err := s.tokens.Revoke(ctx, record.ID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("auth: logout revoke: %w", err)
	}
	return nil
}

// issueTokens creates an access token and a fresh refresh token record.
func (s *Service) issueTokens(ctx context.Context, user *db.User, userAgent, ipAddress string) (*TokenPair, error) {
	access, err := s.jwtMgr.GenerateAccessToken(user.ID.String(), user.Email, user.Role)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("auth: generating refresh token: %w", err)
	}
	refresh := base64.RawURLEncoding.EncodeToString(raw)
	expiresAt := time.Now().UTC().Add(refreshTokenDuration)

	if err := s.tokens.Create(ctx, &db.RefreshToken{
		UserID:    user.ID,
		TokenHash: hashToken(refresh),
		ExpiresAt: expiresAt,
		UserAgent: userAgent,
		IPAddress: ipAddress,
	}); err != nil {
		return nil, fmt.Errorf("auth: storing refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: expiresAt,
	}, nil
}

// hashToken returns the SHA-256 hex digest of a raw refresh token.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashPassword hashes a plain-text password with Argon2id and returns the
// encoded form "argon2id$<base64 salt>$<base64 hash>".
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf("argon2id$%s$%s",
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a plain-text password against an encoded hash in
// constant time. A malformed stored hash is an error, not a mismatch.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != "argon2id" {
		return false, errors.New("auth: malformed password hash")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("auth: decoding salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("auth: decoding hash: %w", err)
	}

	got := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

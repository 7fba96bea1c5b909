package auth

import "errors"

var (
	// ErrInvalidCredentials is returned when the email/password pair does
	// not match a local account. Deliberately indistinguishable from an
	// unknown email to prevent user enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserDisabled is returned when the account exists but is inactive.
	ErrUserDisabled = errors.New("user account is disabled")

	// ErrTokenExpired is returned for structurally valid but expired JWTs.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned for malformed, tampered or otherwise
	// unverifiable tokens.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrRefreshTokenInvalid is returned when a refresh token is unknown,
	// expired, or already revoked (possible token reuse).
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
)

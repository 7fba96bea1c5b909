package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/auth"
)

// refreshCookieName is the httpOnly cookie holding the raw refresh token.
// It is scoped to the auth endpoints so it is not sent with every API call.
const refreshCookieName = "pearl_refresh_token"

// AuthHandler serves the public authentication endpoints.
type AuthHandler struct {
	svc          *auth.Service
	secureCookie bool
	logger       *zap.Logger
}

// NewAuthHandler creates the handler. secureCookie should be true whenever
// the server is reached over HTTPS (i.e. everywhere except local dev).
func NewAuthHandler(svc *auth.Service, secureCookie bool, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		svc:          svc,
		secureCookie: secureCookie,
		logger:       logger.Named("auth"),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		ErrBadRequest(w, "email and password are required")
		return
	}

	pair, err := h.svc.Login(r.Context(), auth.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: r.UserAgent(),
		IPAddress: r.RemoteAddr,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			errJSON(w, http.StatusUnauthorized, "invalid email or password", "invalid_credentials")
		case errors.Is(err, auth.ErrUserDisabled):
			ErrForbidden(w)
		default:
			h.logger.Error("login failed", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshTokenExpiresAt)
	Ok(w, tokenResponse{AccessToken: pair.AccessToken, TokenType: "Bearer"})
}

// Refresh handles POST /api/v1/auth/refresh. The refresh token is rotated on
// every use; a reused or expired token invalidates the session.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		ErrUnauthorized(w)
		return
	}

	pair, err := h.svc.Refresh(r.Context(), cookie.Value, r.UserAgent(), r.RemoteAddr)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRefreshTokenInvalid), errors.Is(err, auth.ErrUserDisabled):
			h.clearRefreshCookie(w)
			ErrUnauthorized(w)
		default:
			h.logger.Error("refresh failed", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshTokenExpiresAt)
	Ok(w, tokenResponse{AccessToken: pair.AccessToken, TokenType: "Bearer"})
}

// Logout handles POST /api/v1/auth/logout. Always succeeds from the client's
// point of view, even when the token was already gone.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		if err := h.svc.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("logout revoke failed", zap.Error(err))
		}
	}
	h.clearRefreshCookie(w)
	NoContent(w)
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/api/v1/auth",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/api/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

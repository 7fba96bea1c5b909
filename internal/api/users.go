package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/auth"
	"github.com/pearl-rdm/pearl/internal/db"
	"github.com/pearl-rdm/pearl/internal/events"
	"github.com/pearl-rdm/pearl/internal/repositories"
)

// UserHandler serves /api/v1/users. All routes require the admin role except
// Me, which any authenticated user can call.
type UserHandler struct {
	users       repositories.UserRepository
	tokens      repositories.RefreshTokenRepository
	broadcaster events.Broadcaster
	logger      *zap.Logger
}

// NewUserHandler creates the handler.
func NewUserHandler(users repositories.UserRepository, tokens repositories.RefreshTokenRepository, broadcaster events.Broadcaster, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:       users,
		tokens:      tokens,
		broadcaster: broadcaster,
		logger:      logger.Named("users"),
	}
}

// userResponse is the public shape of a user. The password hash never leaves
// the server, and broadcast payloads use this shape too.
type userResponse struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toUserResponse(u *db.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

type createUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type updateUserRequest struct {
	Email       *string `json:"email"`
	Password    *string `json:"password"`
	DisplayName *string `json:"display_name"`
	Role        *string `json:"role"`
	IsActive    *bool   `json:"is_active"`
}

var userRoles = map[string]bool{"admin": true, "user": true}

// Me handles GET /api/v1/users/me for the authenticated user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		ErrUnauthorized(w)
		return
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		ErrUnauthorized(w)
		return
	}
	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrUnauthorized(w)
			return
		}
		h.logger.Error("me lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, toUserResponse(user))
}

// List handles GET /api/v1/users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationOpts(r)
	users, total, err := h.users.List(r.Context(), repositories.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	Ok(w, envelope{"items": out, "total": total})
}

// Get handles GET /api/v1/users/{id}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("get failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, toUserResponse(user))
}

// Create handles POST /api/v1/users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		ErrBadRequest(w, "email, password and display_name are required")
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}
	if !userRoles[req.Role] {
		ErrBadRequest(w, "invalid role")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("password hashing failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	user := &db.User{
		Email:        req.Email,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		IsActive:     true,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			ErrConflict(w, "a user with this email already exists")
			return
		}
		h.logger.Error("create failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	resp := toUserResponse(user)
	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityUser,
		Operation:       events.OpCreated,
		EntityID:        user.ID.String(),
		Payload:         resp,
		OriginSessionID: originSession(r),
	})
	Created(w, resp)
}

// Update handles PATCH /api/v1/users/{id}. Deactivating a user also revokes
// all their refresh tokens so existing sessions die at access-token expiry.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	deactivated := false
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			h.logger.Error("password hashing failed", zap.Error(err))
			ErrInternal(w)
			return
		}
		user.PasswordHash = hash
	}
	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.Role != nil {
		if !userRoles[*req.Role] {
			ErrBadRequest(w, "invalid role")
			return
		}
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		deactivated = user.IsActive && !*req.IsActive
		user.IsActive = *req.IsActive
	}

	if err := h.users.Update(r.Context(), user); err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			ErrNotFound(w)
		case errors.Is(err, repositories.ErrConflict):
			ErrConflict(w, "a user with this email already exists")
		default:
			h.logger.Error("update failed", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	if deactivated {
		if err := h.tokens.RevokeAllForUser(r.Context(), user.ID); err != nil {
			h.logger.Warn("revoking sessions of deactivated user failed", zap.Error(err))
		}
	}

	resp := toUserResponse(user)
	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityUser,
		Operation:       events.OpUpdated,
		EntityID:        user.ID.String(),
		Payload:         resp,
		OriginSessionID: originSession(r),
	})
	Ok(w, resp)
}

// Delete handles DELETE /api/v1/users/{id}. Admins cannot delete themselves.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	if claims := ClaimsFromContext(r.Context()); claims != nil && claims.UserID == id.String() {
		ErrBadRequest(w, "cannot delete your own account")
		return
	}

	if err := h.tokens.RevokeAllForUser(r.Context(), id); err != nil {
		h.logger.Warn("revoking sessions of deleted user failed", zap.Error(err))
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("delete failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityUser,
		Operation:       events.OpDeleted,
		EntityID:        id.String(),
		Payload:         map[string]string{"id": id.String()},
		OriginSessionID: originSession(r),
	})
	NoContent(w)
}

package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/db"
	"github.com/pearl-rdm/pearl/internal/events"
	"github.com/pearl-rdm/pearl/internal/repositories"
)

// CommentHandler serves /api/v1/comments. The author is always the
// authenticated user; comments may only be edited or deleted by their author
// or an admin.
type CommentHandler struct {
	comments    repositories.CommentRepository
	broadcaster events.Broadcaster
	logger      *zap.Logger
}

// NewCommentHandler creates the handler.
func NewCommentHandler(comments repositories.CommentRepository, broadcaster events.Broadcaster, logger *zap.Logger) *CommentHandler {
	return &CommentHandler{
		comments:    comments,
		broadcaster: broadcaster,
		logger:      logger.Named("comments"),
	}
}

type createCommentRequest struct {
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
	Body       string    `json:"body"`
}

type updateCommentRequest struct {
	Body *string `json:"body"`
}

// commentableTypes are the entity types a comment may attach to.
var commentableTypes = func() map[string]bool {
	m := make(map[string]bool, len(events.AllEntityTypes))
	for _, t := range events.AllEntityTypes {
		if t == events.EntityComment {
			continue // no comments on comments
		}
		m[string(t)] = true
	}
	return m
}()

// List handles GET /api/v1/comments?entity_type=...&entity_id=...
func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	if !commentableTypes[entityType] {
		ErrBadRequest(w, "entity_type must be a commentable entity type")
		return
	}
	entityID, err := uuid.Parse(r.URL.Query().Get("entity_id"))
	if err != nil {
		ErrBadRequest(w, "entity_id must be a valid UUID")
		return
	}

	comments, err := h.comments.ListByEntity(r.Context(), entityType, entityID)
	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"items": comments, "total": int64(len(comments))})
}

// Create handles POST /api/v1/comments.
func (h *CommentHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		ErrUnauthorized(w)
		return
	}
	authorID, err := uuid.Parse(claims.UserID)
	if err != nil {
		ErrUnauthorized(w)
		return
	}

	var req createCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !commentableTypes[req.EntityType] {
		ErrBadRequest(w, "entity_type must be a commentable entity type")
		return
	}
	if req.EntityID == (uuid.UUID{}) || req.Body == "" {
		ErrBadRequest(w, "entity_id and body are required")
		return
	}

	comment := &db.Comment{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		AuthorID:   authorID,
		Body:       req.Body,
	}
	if err := h.comments.Create(r.Context(), comment); err != nil {
		h.logger.Error("create failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityComment,
		Operation:       events.OpCreated,
		EntityID:        comment.ID.String(),
		Payload:         comment,
		OriginSessionID: originSession(r),
	})
	Created(w, comment)
}

// Update handles PATCH /api/v1/comments/{id}.
func (h *CommentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Body == nil || *req.Body == "" {
		ErrBadRequest(w, "body is required")
		return
	}

	comment, err := h.comments.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	if !h.canModify(r, comment) {
		ErrForbidden(w)
		return
	}

	comment.Body = *req.Body
	if err := h.comments.Update(r.Context(), comment); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityComment,
		Operation:       events.OpUpdated,
		EntityID:        comment.ID.String(),
		Payload:         comment,
		OriginSessionID: originSession(r),
	})
	Ok(w, comment)
}

// Delete handles DELETE /api/v1/comments/{id}.
func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	comment, err := h.comments.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("delete lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	if !h.canModify(r, comment) {
		ErrForbidden(w)
		return
	}

	if err := h.comments.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("delete failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityComment,
		Operation:       events.OpDeleted,
		EntityID:        id.String(),
		Payload:         map[string]string{"id": id.String()},
		OriginSessionID: originSession(r),
	})
	NoContent(w)
}

// canModify reports whether the caller may edit or delete the comment.
func (h *CommentHandler) canModify(r *http.Request, comment *db.Comment) bool {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return false
	}
	return claims.Role == "admin" || claims.UserID == comment.AuthorID.String()
}

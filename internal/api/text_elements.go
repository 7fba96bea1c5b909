package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/db"
	"github.com/pearl-rdm/pearl/internal/events"
	"github.com/pearl-rdm/pearl/internal/repositories"
)

// TextElementHandler serves /api/v1/text-elements.
type TextElementHandler struct {
	texts       repositories.TextElementRepository
	broadcaster events.Broadcaster
	logger      *zap.Logger
}

// NewTextElementHandler creates the handler.
func NewTextElementHandler(texts repositories.TextElementRepository, broadcaster events.Broadcaster, logger *zap.Logger) *TextElementHandler {
	return &TextElementHandler{
		texts:       texts,
		broadcaster: broadcaster,
		logger:      logger.Named("text_elements"),
	}
}

type createTextElementRequest struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

type updateTextElementRequest struct {
	Title    *string `json:"title"`
	Body     *string `json:"body"`
	Category *string `json:"category"`
}

// List handles GET /api/v1/text-elements.
func (h *TextElementHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationOpts(r)
	elements, total, err := h.texts.List(r.Context(), repositories.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"items": elements, "total": total})
}

// Get handles GET /api/v1/text-elements/{id}.
func (h *TextElementHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	element, err := h.texts.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("get failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, element)
}

// Create handles POST /api/v1/text-elements. The key is immutable after
// creation — reports reference elements by key across revisions.
func (h *TextElementHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTextElementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Key == "" || req.Title == "" {
		ErrBadRequest(w, "key and title are required")
		return
	}

	element := &db.TextElement{
		Key:      req.Key,
		Title:    req.Title,
		Body:     req.Body,
		Category: req.Category,
	}
	if err := h.texts.Create(r.Context(), element); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			ErrConflict(w, "a text element with this key already exists")
			return
		}
		h.logger.Error("create failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityTextElement,
		Operation:       events.OpCreated,
		EntityID:        element.ID.String(),
		Payload:         element,
		OriginSessionID: originSession(r),
	})
	Created(w, element)
}

// Update handles PATCH /api/v1/text-elements/{id}.
func (h *TextElementHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateTextElementRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	element, err := h.texts.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	if req.Title != nil {
		element.Title = *req.Title
	}
	if req.Body != nil {
		element.Body = *req.Body
	}
	if req.Category != nil {
		element.Category = *req.Category
	}

	if err := h.texts.Update(r.Context(), element); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityTextElement,
		Operation:       events.OpUpdated,
		EntityID:        element.ID.String(),
		Payload:         element,
		OriginSessionID: originSession(r),
	})
	Ok(w, element)
}

// Delete handles DELETE /api/v1/text-elements/{id}.
func (h *TextElementHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.texts.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("delete failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityTextElement,
		Operation:       events.OpDeleted,
		EntityID:        id.String(),
		Payload:         map[string]string{"id": id.String()},
		OriginSessionID: originSession(r),
	})
	NoContent(w)
}

package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/db"
	"github.com/pearl-rdm/pearl/internal/events"
	"github.com/pearl-rdm/pearl/internal/repositories"
)

// StudyHandler serves /api/v1/studies.
type StudyHandler struct {
	studies     repositories.StudyRepository
	broadcaster events.Broadcaster
	logger      *zap.Logger
}

// NewStudyHandler creates the handler.
func NewStudyHandler(studies repositories.StudyRepository, broadcaster events.Broadcaster, logger *zap.Logger) *StudyHandler {
	return &StudyHandler{
		studies:     studies,
		broadcaster: broadcaster,
		logger:      logger.Named("studies"),
	}
}

type createStudyRequest struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	Phase       string `json:"phase"`
	Species     string `json:"species"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// updateStudyRequest uses pointer fields so PATCH can distinguish "not
// provided" from "set to zero value".
type updateStudyRequest struct {
	Code        *string `json:"code"`
	Title       *string `json:"title"`
	Phase       *string `json:"phase"`
	Species     *string `json:"species"`
	Status      *string `json:"status"`
	Description *string `json:"description"`
}

var studyStatuses = map[string]bool{
	"planned": true, "active": true, "locked": true, "archived": true,
}

// List handles GET /api/v1/studies.
func (h *StudyHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationOpts(r)
	studies, total, err := h.studies.List(r.Context(), repositories.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"items": studies, "total": total})
}

// Get handles GET /api/v1/studies/{id}.
func (h *StudyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	study, err := h.studies.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("get failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, study)
}

// Create handles POST /api/v1/studies.
func (h *StudyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStudyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" || req.Title == "" {
		ErrBadRequest(w, "code and title are required")
		return
	}
	if req.Status == "" {
		req.Status = "planned"
	}
	if !studyStatuses[req.Status] {
		ErrBadRequest(w, "invalid status")
		return
	}

	study := &db.Study{
		Code:        req.Code,
		Title:       req.Title,
		Phase:       req.Phase,
		Species:     req.Species,
		Status:      req.Status,
		Description: req.Description,
	}
	if err := h.studies.Create(r.Context(), study); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			ErrConflict(w, "a study with this code already exists")
			return
		}
		h.logger.Error("create failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityStudy,
		Operation:       events.OpCreated,
		EntityID:        study.ID.String(),
		Payload:         study,
		OriginSessionID: originSession(r),
	})
	Created(w, study)
}

// Update handles PATCH /api/v1/studies/{id}.
func (h *StudyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateStudyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	study, err := h.studies.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	if req.Code != nil {
		study.Code = *req.Code
	}
	if req.Title != nil {
		study.Title = *req.Title
	}
	if req.Phase != nil {
		study.Phase = *req.Phase
	}
	if req.Species != nil {
		study.Species = *req.Species
	}
	if req.Status != nil {
		if !studyStatuses[*req.Status] {
			ErrBadRequest(w, "invalid status")
			return
		}
		study.Status = *req.Status
	}
	if req.Description != nil {
		study.Description = *req.Description
	}

	if err := h.studies.Update(r.Context(), study); err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			ErrNotFound(w)
		case errors.Is(err, repositories.ErrConflict):
			ErrConflict(w, "a study with this code already exists")
		default:
			h.logger.Error("update failed", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityStudy,
		Operation:       events.OpUpdated,
		EntityID:        study.ID.String(),
		Payload:         study,
		OriginSessionID: originSession(r),
	})
	Ok(w, study)
}

// Delete handles DELETE /api/v1/studies/{id}. Studies are soft-deleted.
func (h *StudyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.studies.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("delete failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityStudy,
		Operation:       events.OpDeleted,
		EntityID:        id.String(),
		Payload:         map[string]string{"id": id.String()},
		OriginSessionID: originSession(r),
	})
	NoContent(w)
}

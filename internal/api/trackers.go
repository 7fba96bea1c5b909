package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pearl-rdm/pearl/internal/db"
	"github.com/pearl-rdm/pearl/internal/events"
	"github.com/pearl-rdm/pearl/internal/repositories"
)

// TrackerHandler serves /api/v1/trackers — the reporting effort trackers that
// make up the busiest screen in the application. Its update path is the
// hottest broadcast source.
type TrackerHandler struct {
	trackers    repositories.TrackerRepository
	studies     repositories.StudyRepository
	broadcaster events.Broadcaster
	logger      *zap.Logger
}

// NewTrackerHandler creates the handler.
func NewTrackerHandler(trackers repositories.TrackerRepository, studies repositories.StudyRepository, broadcaster events.Broadcaster, logger *zap.Logger) *TrackerHandler {
	return &TrackerHandler{
		trackers:    trackers,
		studies:     studies,
		broadcaster: broadcaster,
		logger:      logger.Named("trackers"),
	}
}

type createTrackerRequest struct {
	StudyID    uuid.UUID  `json:"study_id"`
	Effort     string     `json:"effort"`
	Item       string     `json:"item"`
	Status     string     `json:"status"`
	AssigneeID *uuid.UUID `json:"assignee_id"`
	DueDate    *time.Time `json:"due_date"`
	Notes      string     `json:"notes"`
}

type updateTrackerRequest struct {
	Effort     *string    `json:"effort"`
	Item       *string    `json:"item"`
	Status     *string    `json:"status"`
	AssigneeID *uuid.UUID `json:"assignee_id"`
	DueDate    *time.Time `json:"due_date"`
	Notes      *string    `json:"notes"`
}

var trackerStatuses = map[string]bool{"open": true, "blocked": true, "done": true}

// List handles GET /api/v1/trackers. An optional study_id query parameter
// narrows the result to one study.
func (h *TrackerHandler) List(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("study_id"); v != "" {
		studyID, err := uuid.Parse(v)
		if err != nil {
			ErrBadRequest(w, "study_id must be a valid UUID")
			return
		}
		trackers, err := h.trackers.ListByStudy(r.Context(), studyID)
		if err != nil {
			h.logger.Error("list by study failed", zap.Error(err))
			ErrInternal(w)
			return
		}
		Ok(w, envelope{"items": trackers, "total": int64(len(trackers))})
		return
	}

	limit, offset := paginationOpts(r)
	trackers, total, err := h.trackers.List(r.Context(), repositories.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"items": trackers, "total": total})
}

// Get handles GET /api/v1/trackers/{id}.
func (h *TrackerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	tracker, err := h.trackers.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("get failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, tracker)
}

// Create handles POST /api/v1/trackers.
func (h *TrackerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTrackerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StudyID == (uuid.UUID{}) || req.Effort == "" || req.Item == "" {
		ErrBadRequest(w, "study_id, effort and item are required")
		return
	}
	if req.Status == "" {
		req.Status = "open"
	}
	if !trackerStatuses[req.Status] {
		ErrBadRequest(w, "invalid status")
		return
	}

	if _, err := h.studies.GetByID(r.Context(), req.StudyID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrBadRequest(w, "study does not exist")
			return
		}
		h.logger.Error("study lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	tracker := &db.ReportingEffortTracker{
		StudyID:    req.StudyID,
		Effort:     req.Effort,
		Item:       req.Item,
		Status:     req.Status,
		AssigneeID: req.AssigneeID,
		DueDate:    req.DueDate,
		Notes:      req.Notes,
	}
	if err := h.trackers.Create(r.Context(), tracker); err != nil {
		h.logger.Error("create failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityReportingEffortTracker,
		Operation:       events.OpCreated,
		EntityID:        tracker.ID.String(),
		Payload:         tracker,
		OriginSessionID: originSession(r),
	})
	Created(w, tracker)
}

// Update handles PATCH /api/v1/trackers/{id}.
func (h *TrackerHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateTrackerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tracker, err := h.trackers.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	if req.Effort != nil {
		tracker.Effort = *req.Effort
	}
	if req.Item != nil {
		tracker.Item = *req.Item
	}
	if req.Status != nil {
		if !trackerStatuses[*req.Status] {
			ErrBadRequest(w, "invalid status")
			return
		}
		tracker.Status = *req.Status
	}
	if req.AssigneeID != nil {
		tracker.AssigneeID = req.AssigneeID
	}
	if req.DueDate != nil {
		tracker.DueDate = req.DueDate
	}
	if req.Notes != nil {
		tracker.Notes = *req.Notes
	}

	if err := h.trackers.Update(r.Context(), tracker); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityReportingEffortTracker,
		Operation:       events.OpUpdated,
		EntityID:        tracker.ID.String(),
		Payload:         tracker,
		OriginSessionID: originSession(r),
	})
	Ok(w, tracker)
}

// Delete handles DELETE /api/v1/trackers/{id}.
func (h *TrackerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.trackers.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("delete failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityReportingEffortTracker,
		Operation:       events.OpDeleted,
		EntityID:        id.String(),
		Payload:         map[string]string{"id": id.String()},
		OriginSessionID: originSession(r),
	})
	NoContent(w)
}

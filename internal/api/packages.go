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

// PackageHandler serves /api/v1/packages.
type PackageHandler struct {
	packages    repositories.PackageRepository
	studies     repositories.StudyRepository
	broadcaster events.Broadcaster
	logger      *zap.Logger
}

// NewPackageHandler creates the handler.
func NewPackageHandler(packages repositories.PackageRepository, studies repositories.StudyRepository, broadcaster events.Broadcaster, logger *zap.Logger) *PackageHandler {
	return &PackageHandler{
		packages:    packages,
		studies:     studies,
		broadcaster: broadcaster,
		logger:      logger.Named("packages"),
	}
}

type createPackageRequest struct {
	StudyID  uuid.UUID  `json:"study_id"`
	Name     string     `json:"name"`
	Standard string     `json:"standard"`
	Status   string     `json:"status"`
	DueDate  *time.Time `json:"due_date"`
}

type updatePackageRequest struct {
	Name     *string    `json:"name"`
	Standard *string    `json:"standard"`
	Status   *string    `json:"status"`
	DueDate  *time.Time `json:"due_date"`
}

var (
	packageStandards = map[string]bool{"SEND": true, "SDTM": true, "ADaM": true}
	packageStatuses  = map[string]bool{"draft": true, "in_review": true, "published": true}
)

// List handles GET /api/v1/packages. An optional study_id query parameter
// narrows the result to one study.
func (h *PackageHandler) List(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("study_id"); v != "" {
		studyID, err := uuid.Parse(v)
		if err != nil {
			ErrBadRequest(w, "study_id must be a valid UUID")
			return
		}
		pkgs, err := h.packages.ListByStudy(r.Context(), studyID)
		if err != nil {
			h.logger.Error("list by study failed", zap.Error(err))
			ErrInternal(w)
			return
		}
		Ok(w, envelope{"items": pkgs, "total": int64(len(pkgs))})
		return
	}

	limit, offset := paginationOpts(r)
	pkgs, total, err := h.packages.List(r.Context(), repositories.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"items": pkgs, "total": total})
}

// Get handles GET /api/v1/packages/{id}.
func (h *PackageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	pkg, err := h.packages.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("get failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, pkg)
}

// Create handles POST /api/v1/packages. The referenced study must exist.
func (h *PackageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPackageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StudyID == (uuid.UUID{}) || req.Name == "" {
		ErrBadRequest(w, "study_id and name are required")
		return
	}
	if req.Standard == "" {
		req.Standard = "SEND"
	}
	if !packageStandards[req.Standard] {
		ErrBadRequest(w, "invalid standard")
		return
	}
	if req.Status == "" {
		req.Status = "draft"
	}
	if !packageStatuses[req.Status] {
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

	pkg := &db.Package{
		StudyID:  req.StudyID,
		Name:     req.Name,
		Standard: req.Standard,
		Status:   req.Status,
		DueDate:  req.DueDate,
	}
	if err := h.packages.Create(r.Context(), pkg); err != nil {
		h.logger.Error("create failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityPackage,
		Operation:       events.OpCreated,
		EntityID:        pkg.ID.String(),
		Payload:         pkg,
		OriginSessionID: originSession(r),
	})
	Created(w, pkg)
}

// Update handles PATCH /api/v1/packages/{id}.
func (h *PackageHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	var req updatePackageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pkg, err := h.packages.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	if req.Name != nil {
		pkg.Name = *req.Name
	}
	if req.Standard != nil {
		if !packageStandards[*req.Standard] {
			ErrBadRequest(w, "invalid standard")
			return
		}
		pkg.Standard = *req.Standard
	}
	if req.Status != nil {
		if !packageStatuses[*req.Status] {
			ErrBadRequest(w, "invalid status")
			return
		}
		pkg.Status = *req.Status
	}
	if req.DueDate != nil {
		pkg.DueDate = req.DueDate
	}

	if err := h.packages.Update(r.Context(), pkg); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityPackage,
		Operation:       events.OpUpdated,
		EntityID:        pkg.ID.String(),
		Payload:         pkg,
		OriginSessionID: originSession(r),
	})
	Ok(w, pkg)
}

// Delete handles DELETE /api/v1/packages/{id}. The package's items are
// removed in the same transaction, but no item events are broadcast —
// clients drop orphaned items when the package disappears from their cache.
func (h *PackageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.packages.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("delete failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityPackage,
		Operation:       events.OpDeleted,
		EntityID:        id.String(),
		Payload:         map[string]string{"id": id.String()},
		OriginSessionID: originSession(r),
	})
	NoContent(w)
}

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

// PackageItemHandler serves /api/v1/package-items.
type PackageItemHandler struct {
	items       repositories.PackageItemRepository
	packages    repositories.PackageRepository
	broadcaster events.Broadcaster
	logger      *zap.Logger
}

// NewPackageItemHandler creates the handler.
func NewPackageItemHandler(items repositories.PackageItemRepository, packages repositories.PackageRepository, broadcaster events.Broadcaster, logger *zap.Logger) *PackageItemHandler {
	return &PackageItemHandler{
		items:       items,
		packages:    packages,
		broadcaster: broadcaster,
		logger:      logger.Named("package_items"),
	}
}

type createPackageItemRequest struct {
	PackageID  uuid.UUID `json:"package_id"`
	Name       string    `json:"name"`
	DomainCode string    `json:"domain_code"`
	Status     string    `json:"status"`
	SortOrder  int       `json:"sort_order"`
}

type updatePackageItemRequest struct {
	Name       *string `json:"name"`
	DomainCode *string `json:"domain_code"`
	Status     *string `json:"status"`
	SortOrder  *int    `json:"sort_order"`
}

var packageItemStatuses = map[string]bool{
	"pending": true, "in_progress": true, "complete": true,
}

// List handles GET /api/v1/package-items?package_id=...
// The package_id filter is mandatory — items are meaningless without their
// package context, and the snapshot already carries the full collection.
func (h *PackageItemHandler) List(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("package_id")
	if v == "" {
		ErrBadRequest(w, "package_id query parameter is required")
		return
	}
	packageID, err := uuid.Parse(v)
	if err != nil {
		ErrBadRequest(w, "package_id must be a valid UUID")
		return
	}

	items, err := h.items.ListByPackage(r.Context(), packageID)
	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"items": items, "total": int64(len(items))})
}

// Get handles GET /api/v1/package-items/{id}.
func (h *PackageItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	item, err := h.items.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("get failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, item)
}

// Create handles POST /api/v1/package-items.
func (h *PackageItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPackageItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PackageID == (uuid.UUID{}) || req.Name == "" {
		ErrBadRequest(w, "package_id and name are required")
		return
	}
	if req.Status == "" {
		req.Status = "pending"
	}
	if !packageItemStatuses[req.Status] {
		ErrBadRequest(w, "invalid status")
		return
	}

	if _, err := h.packages.GetByID(r.Context(), req.PackageID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrBadRequest(w, "package does not exist")
			return
		}
		h.logger.Error("package lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	item := &db.PackageItem{
		PackageID:  req.PackageID,
		Name:       req.Name,
		DomainCode: req.DomainCode,
		Status:     req.Status,
		SortOrder:  req.SortOrder,
	}
	if err := h.items.Create(r.Context(), item); err != nil {
		h.logger.Error("create failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityPackageItem,
		Operation:       events.OpCreated,
		EntityID:        item.ID.String(),
		Payload:         item,
		OriginSessionID: originSession(r),
	})
	Created(w, item)
}

// Update handles PATCH /api/v1/package-items/{id}.
func (h *PackageItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	var req updatePackageItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := h.items.GetByID(r.Context(), id)
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
		item.Name = *req.Name
	}
	if req.DomainCode != nil {
		item.DomainCode = *req.DomainCode
	}
	if req.Status != nil {
		if !packageItemStatuses[*req.Status] {
			ErrBadRequest(w, "invalid status")
			return
		}
		item.Status = *req.Status
	}
	if req.SortOrder != nil {
		item.SortOrder = *req.SortOrder
	}

	if err := h.items.Update(r.Context(), item); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("update failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityPackageItem,
		Operation:       events.OpUpdated,
		EntityID:        item.ID.String(),
		Payload:         item,
		OriginSessionID: originSession(r),
	})
	Ok(w, item)
}

// Delete handles DELETE /api/v1/package-items/{id}.
func (h *PackageItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.items.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("delete failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.broadcaster.Broadcast(events.ChangeEvent{
		EntityType:      events.EntityPackageItem,
		Operation:       events.OpDeleted,
		EntityID:        id.String(),
		Payload:         map[string]string{"id": id.String()},
		OriginSessionID: originSession(r),
	})
	NoContent(w)
}

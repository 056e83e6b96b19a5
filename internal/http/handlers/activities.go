package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/http/respond"
	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/models/dto"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

type ActivityHandler struct {
	store  storage.ActivityStore
	logger *zap.Logger
}

func NewActivityHandler(store storage.ActivityStore, logger *zap.Logger) *ActivityHandler {
	return &ActivityHandler{store: store, logger: logger}
}

func (h *ActivityHandler) Register(r chi.Router, guard Guard) {
	r.Route("/activity", func(r chi.Router) {
		r.Get("/{id}", h.handleGet)
		r.Get("/prospects/{prospect_id}", h.handleListByProspect)

		r.Group(func(r chi.Router) {
			r.Use(guard(models.PermPipelineWrite))
			r.Post("/", h.handleCreate)
			r.Put("/{id}", h.handleUpdate)
			r.Delete("/{id}", h.handleDelete)
		})
	})
}

func (h *ActivityHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	activity, err := h.store.GetActivity(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "activity")
		return
	}
	respond.JSON(w, http.StatusOK, activity)
}

func (h *ActivityHandler) handleListByProspect(w http.ResponseWriter, r *http.Request) {
	prospectID, ok := idParam(w, r, "prospect_id")
	if !ok {
		return
	}
	activities, err := h.store.ListActivitiesByProspect(r.Context(), prospectID)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "activity")
		return
	}
	respond.JSON(w, http.StatusOK, activities)
}

func (h *ActivityHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	activity, ok := decodeActivity(w, r)
	if !ok {
		return
	}
	if activity.ProspectID <= 0 {
		badRequest(w, "prospect_id is required")
		return
	}
	if activity.ActivityDate.IsZero() {
		activity.ActivityDate = time.Now().UTC()
	}
	created, err := h.store.CreateActivity(r.Context(), activity)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "activity")
		return
	}
	respond.JSON(w, http.StatusCreated, created)
}

func (h *ActivityHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	activity, ok := decodeActivity(w, r)
	if !ok {
		return
	}
	activity.ID = id
	updated, err := h.store.UpdateActivity(r.Context(), activity)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "activity")
		return
	}
	respond.JSON(w, http.StatusOK, updated)
}

func (h *ActivityHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteActivity(r.Context(), id); err != nil {
		writeStoreError(w, r, h.logger, err, "activity")
		return
	}
	respond.JSON(w, http.StatusOK, dto.MessageResponse{Message: "activity deleted"})
}

func decodeActivity(w http.ResponseWriter, r *http.Request) (models.Activity, bool) {
	var req dto.ActivityRequest
	if !decodeJSON(w, r, &req) {
		return models.Activity{}, false
	}
	activity := models.Activity{
		ProspectID:   req.ProspectID,
		ActivityType: strings.TrimSpace(req.ActivityType),
		Notes:        strings.TrimSpace(req.Notes),
	}
	if activity.ActivityType == "" {
		badRequest(w, "activity_type is required")
		return models.Activity{}, false
	}
	if req.ActivityDate != nil {
		activity.ActivityDate = req.ActivityDate.UTC()
	}
	return activity, true
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/http/respond"
	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/models/dto"
	"github.com/hongminglow/pipeline-crm/internal/pipeline"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

// FunnelHandler serves /funnels and /funnel-stages. Writes go through the
// pipeline service; reads hit the store directly.
type FunnelHandler struct {
	service *pipeline.Service
	store   storage.FunnelStore
	logger  *zap.Logger
}

func NewFunnelHandler(service *pipeline.Service, store storage.FunnelStore, logger *zap.Logger) *FunnelHandler {
	return &FunnelHandler{service: service, store: store, logger: logger}
}

func (h *FunnelHandler) Register(r chi.Router, guard Guard) {
	write := guard(models.PermPipelineWrite)

	r.Route("/funnels", func(r chi.Router) {
		r.Get("/", h.handleListFunnels)
		r.Get("/{id}", h.handleGetFunnel)
		r.With(write).Post("/", h.handleCreateFunnel)
		r.With(write).Put("/{id}", h.handleUpdateFunnel)
		r.With(write).Delete("/{id}", h.handleDeleteFunnel)
	})

	r.Route("/funnel-stages", func(r chi.Router) {
		r.Get("/{id}", h.handleGetStage)
		r.With(write).Post("/", h.handleCreateStage)
		r.With(write).Put("/{id}", h.handleUpdateStage)
		r.With(write).Delete("/{id}", h.handleDeleteStage)
	})
}

func (h *FunnelHandler) handleListFunnels(w http.ResponseWriter, r *http.Request) {
	funnels, err := h.store.ListFunnels(r.Context())
	if err != nil {
		writeStoreError(w, r, h.logger, err, "funnel")
		return
	}
	respond.JSON(w, http.StatusOK, funnels)
}

func (h *FunnelHandler) handleGetFunnel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	funnel, err := h.store.GetFunnel(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "funnel")
		return
	}
	respond.JSON(w, http.StatusOK, funnel)
}

func (h *FunnelHandler) handleCreateFunnel(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateFunnelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	funnel, err := h.service.CreateFunnel(r.Context(), req)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "funnel")
		return
	}
	respond.JSON(w, http.StatusCreated, funnel)
}

func (h *FunnelHandler) handleUpdateFunnel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req dto.UpdateFunnelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	funnel, err := h.service.UpdateFunnel(r.Context(), id, req)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "funnel")
		return
	}
	respond.JSON(w, http.StatusOK, funnel)
}

func (h *FunnelHandler) handleDeleteFunnel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteFunnel(r.Context(), id); err != nil {
		writeStoreError(w, r, h.logger, err, "funnel")
		return
	}
	respond.JSON(w, http.StatusOK, dto.MessageResponse{Message: "funnel deleted"})
}

func (h *FunnelHandler) handleGetStage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	stage, err := h.store.GetStage(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "stage")
		return
	}
	respond.JSON(w, http.StatusOK, stage)
}

func (h *FunnelHandler) handleCreateStage(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateStageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	stage, err := h.service.CreateStage(r.Context(), req)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "stage")
		return
	}
	respond.JSON(w, http.StatusCreated, stage)
}

func (h *FunnelHandler) handleUpdateStage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req dto.UpdateStageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	stage, err := h.service.UpdateStage(r.Context(), id, req)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "stage")
		return
	}
	respond.JSON(w, http.StatusOK, stage)
}

func (h *FunnelHandler) handleDeleteStage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteStage(r.Context(), id); err != nil {
		writeStoreError(w, r, h.logger, err, "stage")
		return
	}
	respond.JSON(w, http.StatusOK, dto.MessageResponse{Message: "stage deleted"})
}

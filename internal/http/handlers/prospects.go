package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/http/respond"
	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/models/dto"
	"github.com/hongminglow/pipeline-crm/internal/pipeline"
)

type ProspectHandler struct {
	service *pipeline.Service
	store   pipeline.Store
	logger  *zap.Logger
}

func NewProspectHandler(service *pipeline.Service, store pipeline.Store, logger *zap.Logger) *ProspectHandler {
	return &ProspectHandler{service: service, store: store, logger: logger}
}

// TransitionResponse reports the moved prospect and the activity logged for the move.
type TransitionResponse struct {
	Prospect models.Prospect `json:"prospect"`
	Activity models.Activity `json:"activity"`
}

func (h *ProspectHandler) Register(r chi.Router, guard Guard) {
	write := guard(models.PermPipelineWrite)

	r.Route("/prospects", func(r chi.Router) {
		r.Get("/{id}", h.handleGet)
		r.Get("/funnel/{funnel_id}", h.handleListByFunnel)
		r.Get("/funnel/{funnel_id}/{prospect_id}", h.handleGetInFunnel)
		r.Get("/stages/{id}", h.handleStagesOfFunnel)

		r.With(write).Post("/funnel", h.handleCreate)
		r.With(write).Put("/{id}/stage", h.handleTransition)
		r.With(write).Delete("/{id}", h.handleDelete)
	})
}

func (h *ProspectHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	prospect, err := h.store.GetProspect(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "prospect")
		return
	}
	respond.JSON(w, http.StatusOK, prospect)
}

func (h *ProspectHandler) handleListByFunnel(w http.ResponseWriter, r *http.Request) {
	funnelID, ok := idParam(w, r, "funnel_id")
	if !ok {
		return
	}
	if _, err := h.store.GetFunnel(r.Context(), funnelID); err != nil {
		writeStoreError(w, r, h.logger, err, "funnel")
		return
	}
	prospects, err := h.store.ListProspectsByFunnel(r.Context(), funnelID)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "prospect")
		return
	}
	respond.JSON(w, http.StatusOK, prospects)
}

func (h *ProspectHandler) handleGetInFunnel(w http.ResponseWriter, r *http.Request) {
	funnelID, ok := idParam(w, r, "funnel_id")
	if !ok {
		return
	}
	prospectID, ok := idParam(w, r, "prospect_id")
	if !ok {
		return
	}
	prospect, err := h.store.GetProspect(r.Context(), prospectID)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "prospect")
		return
	}
	if prospect.FunnelID != funnelID {
		respond.Error(w, http.StatusNotFound, "prospect not found")
		return
	}
	respond.JSON(w, http.StatusOK, prospect)
}

func (h *ProspectHandler) handleStagesOfFunnel(w http.ResponseWriter, r *http.Request) {
	funnelID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.store.GetFunnel(r.Context(), funnelID); err != nil {
		writeStoreError(w, r, h.logger, err, "funnel")
		return
	}
	stages, err := h.store.ListStages(r.Context(), funnelID)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "stage")
		return
	}
	respond.JSON(w, http.StatusOK, stages)
}

func (h *ProspectHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateProspectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	prospect, err := h.service.CreateProspect(r.Context(), req)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "prospect")
		return
	}
	respond.JSON(w, http.StatusCreated, prospect)
}

func (h *ProspectHandler) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req dto.StageTransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	prospect, activity, err := h.service.TransitionStage(r.Context(), id, req)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "prospect")
		return
	}
	respond.JSON(w, http.StatusOK, TransitionResponse{Prospect: prospect, Activity: activity})
}

func (h *ProspectHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteProspect(r.Context(), id); err != nil {
		writeStoreError(w, r, h.logger, err, "prospect")
		return
	}
	respond.JSON(w, http.StatusOK, dto.MessageResponse{Message: "prospect deleted"})
}

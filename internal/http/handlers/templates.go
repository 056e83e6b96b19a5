package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/campaign"
	"github.com/hongminglow/pipeline-crm/internal/http/respond"
	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/models/dto"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

// TemplateStore is what template editing and preview need.
type TemplateStore interface {
	storage.TemplateStore
	storage.ProspectStore
	storage.FunnelStore
}

// GeneratedTemplate is a template rendered for one prospect.
type GeneratedTemplate struct {
	ProspectID int64  `json:"prospect_id"`
	Email      string `json:"email"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

type TemplateHandler struct {
	store  TemplateStore
	logger *zap.Logger
}

func NewTemplateHandler(store TemplateStore, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{store: store, logger: logger}
}

func (h *TemplateHandler) Register(r chi.Router, guard Guard) {
	r.Route("/email-template", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/generate", h.handleGenerate)

		r.Group(func(r chi.Router) {
			r.Use(guard(models.PermTemplatesWrite))
			r.Post("/save", h.handleSave)
			r.Put("/{id}", h.handleUpdate)
			r.Delete("/{id}", h.handleDelete)
		})
	})
}

func (h *TemplateHandler) handleList(w http.ResponseWriter, r *http.Request) {
	templates, err := h.store.ListTemplates(r.Context())
	if err != nil {
		writeStoreError(w, r, h.logger, err, "template")
		return
	}
	respond.JSON(w, http.StatusOK, templates)
}

func (h *TemplateHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	tpl, err := h.store.GetTemplate(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "template")
		return
	}
	respond.JSON(w, http.StatusOK, tpl)
}

func (h *TemplateHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	tpl, ok := decodeTemplate(w, r)
	if !ok {
		return
	}
	created, err := h.store.CreateTemplate(r.Context(), tpl)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "template")
		return
	}
	respond.JSON(w, http.StatusCreated, created)
}

func (h *TemplateHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	tpl, ok := decodeTemplate(w, r)
	if !ok {
		return
	}
	tpl.ID = id
	updated, err := h.store.UpdateTemplate(r.Context(), tpl)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "template")
		return
	}
	respond.JSON(w, http.StatusOK, updated)
}

func (h *TemplateHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteTemplate(r.Context(), id); err != nil {
		writeStoreError(w, r, h.logger, err, "template")
		return
	}
	respond.JSON(w, http.StatusOK, dto.MessageResponse{Message: "template deleted"})
}

// handleGenerate previews a template, stored or inline, rendered for one prospect.
func (h *TemplateHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req dto.GenerateTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProspectID <= 0 {
		badRequest(w, "prospect_id is required")
		return
	}

	var title string
	content := req.Content
	if req.TemplateID != nil {
		tpl, err := h.store.GetTemplate(r.Context(), *req.TemplateID)
		if err != nil {
			writeStoreError(w, r, h.logger, err, "template")
			return
		}
		title = tpl.Title
		if strings.TrimSpace(content) == "" {
			content = tpl.Content
		}
	}
	if strings.TrimSpace(content) == "" {
		badRequest(w, "content or template_id is required")
		return
	}

	recipient, err := h.recipientFor(r.Context(), req.ProspectID)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "prospect")
		return
	}
	respond.JSON(w, http.StatusOK, GeneratedTemplate{
		ProspectID: recipient.ProspectID,
		Email:      recipient.Email,
		Title:      campaign.Render(title, recipient),
		Content:    campaign.Render(content, recipient),
	})
}

func (h *TemplateHandler) recipientFor(ctx context.Context, prospectID int64) (models.Recipient, error) {
	prospect, err := h.store.GetProspect(ctx, prospectID)
	if err != nil {
		return models.Recipient{}, err
	}
	funnel, err := h.store.GetFunnel(ctx, prospect.FunnelID)
	if err != nil {
		return models.Recipient{}, err
	}
	recipient := models.Recipient{
		ProspectID: prospect.ID,
		ClientID:   prospect.ClientID,
		FunnelName: funnel.Name,
		StageName:  prospect.StageName,
	}
	if prospect.Client != nil {
		recipient.ClientName = prospect.Client.Name
		recipient.Company = prospect.Client.Company
		recipient.Email = prospect.Client.Email
	}
	return recipient, nil
}

func decodeTemplate(w http.ResponseWriter, r *http.Request) (models.EmailTemplate, bool) {
	var req dto.TemplateRequest
	if !decodeJSON(w, r, &req) {
		return models.EmailTemplate{}, false
	}
	tpl := models.EmailTemplate{Title: strings.TrimSpace(req.Title), Content: req.Content}
	if tpl.Title == "" {
		badRequest(w, "title is required")
		return models.EmailTemplate{}, false
	}
	if strings.TrimSpace(tpl.Content) == "" {
		badRequest(w, "content is required")
		return models.EmailTemplate{}, false
	}
	return tpl, true
}

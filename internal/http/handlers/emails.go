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

// Campaigner fans a message out to matching prospects.
type Campaigner interface {
	Dispatch(ctx context.Context, req campaign.Request) (campaign.Report, error)
}

type EmailHandler struct {
	dispatcher Campaigner
	templates  storage.TemplateStore
	logger     *zap.Logger
}

func NewEmailHandler(dispatcher Campaigner, templates storage.TemplateStore, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{dispatcher: dispatcher, templates: templates, logger: logger}
}

func (h *EmailHandler) Register(r chi.Router, guard Guard) {
	r.With(guard(models.PermEmailsSend)).Post("/sendemails", h.handleSend)
}

// handleSend answers 200 with per-recipient results even when every send
// fails; only an empty recipient set is an error.
func (h *EmailHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req dto.SendEmailsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	subject, message := req.Subject, req.Message
	if req.TemplateID != nil {
		tpl, err := h.templates.GetTemplate(r.Context(), *req.TemplateID)
		if err != nil {
			writeStoreError(w, r, h.logger, err, "template")
			return
		}
		if strings.TrimSpace(subject) == "" {
			subject = tpl.Title
		}
		if strings.TrimSpace(message) == "" {
			message = tpl.Content
		}
	}

	report, err := h.dispatcher.Dispatch(r.Context(), campaign.Request{
		Filter:  models.ProspectFilter{FunnelID: req.FunnelID, StageID: req.StageID},
		Subject: subject,
		Message: message,
	})
	if err != nil {
		writeStoreError(w, r, h.logger, err, "email")
		return
	}
	respond.JSON(w, http.StatusOK, report)
}

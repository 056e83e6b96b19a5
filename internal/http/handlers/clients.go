package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/http/respond"
	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/models/dto"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

type ClientHandler struct {
	store  storage.ClientStore
	logger *zap.Logger
}

func NewClientHandler(store storage.ClientStore, logger *zap.Logger) *ClientHandler {
	return &ClientHandler{store: store, logger: logger}
}

// Register attaches /clients. Reads are open to any caller; writes need
// clients:write.
func (h *ClientHandler) Register(r chi.Router, guard Guard) {
	r.Route("/clients", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)

		r.Group(func(r chi.Router) {
			r.Use(guard(models.PermClientsWrite))
			r.Post("/", h.handleCreate)
			r.Put("/{id}", h.handleUpdate)
			r.Delete("/{id}", h.handleDelete)
		})
	})
}

func (h *ClientHandler) handleList(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.ListClients(r.Context())
	if err != nil {
		writeStoreError(w, r, h.logger, err, "client")
		return
	}
	respond.JSON(w, http.StatusOK, clients)
}

func (h *ClientHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	client, err := h.store.GetClient(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "client")
		return
	}
	respond.JSON(w, http.StatusOK, client)
}

func (h *ClientHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	client, ok := decodeClient(w, r)
	if !ok {
		return
	}
	created, err := h.store.CreateClient(r.Context(), client)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "client")
		return
	}
	respond.JSON(w, http.StatusCreated, created)
}

func (h *ClientHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	client, ok := decodeClient(w, r)
	if !ok {
		return
	}
	client.ID = id
	updated, err := h.store.UpdateClient(r.Context(), client)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "client")
		return
	}
	respond.JSON(w, http.StatusOK, updated)
}

func (h *ClientHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteClient(r.Context(), id); err != nil {
		writeStoreError(w, r, h.logger, err, "client")
		return
	}
	respond.JSON(w, http.StatusOK, dto.MessageResponse{Message: "client deleted"})
}

func decodeClient(w http.ResponseWriter, r *http.Request) (models.Client, bool) {
	var req dto.ClientRequest
	if !decodeJSON(w, r, &req) {
		return models.Client{}, false
	}
	client := models.Client{
		Name:    strings.TrimSpace(req.Name),
		Phone:   strings.TrimSpace(req.Phone),
		Company: strings.TrimSpace(req.Company),
		Notes:   strings.TrimSpace(req.Notes),
	}
	if client.Name == "" {
		badRequest(w, "name is required")
		return models.Client{}, false
	}
	if strings.TrimSpace(req.Email) != "" {
		email, err := normalizeEmail(req.Email)
		if err != nil {
			badRequest(w, err.Error())
			return models.Client{}, false
		}
		client.Email = email
	}
	return client, true
}

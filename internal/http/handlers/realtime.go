package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/pipeline-crm/internal/http/respond"
	"github.com/hongminglow/pipeline-crm/internal/middleware"
)

// Upgrader serves a websocket connection.
type Upgrader interface {
	Serve(w http.ResponseWriter, r *http.Request)
}

// RealtimeHandler exposes the pipeline board socket. Browsers cannot set
// headers on a websocket handshake, so the token may also come as ?token=.
type RealtimeHandler struct {
	hub    Upgrader
	tokens middleware.TokenValidator
}

func NewRealtimeHandler(hub Upgrader, tokens middleware.TokenValidator) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, tokens: tokens}
}

func (h *RealtimeHandler) Register(r chi.Router) {
	r.Get("/ws/pipeline", h.handle)
}

func (h *RealtimeHandler) handle(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		respond.Error(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	id, err := h.tokens.Validate(token)
	if err != nil {
		respond.Error(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	h.hub.Serve(w, r.WithContext(middleware.WithIdentity(r.Context(), id)))
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/campaign"
	"github.com/hongminglow/pipeline-crm/internal/http/respond"
	"github.com/hongminglow/pipeline-crm/internal/middleware"
	"github.com/hongminglow/pipeline-crm/internal/pipeline"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

// Guard returns the middleware enforcing one permission.
type Guard func(permission string) func(http.Handler) http.Handler

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

// idParam parses a positive integer URL parameter, answering 400 otherwise.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respond.Error(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

// writeStoreError maps domain and storage errors onto HTTP statuses. what
// names the entity in not-found messages.
func writeStoreError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, what string) {
	var (
		verr *pipeline.ValidationError
		nerr *pipeline.NotFoundError
	)
	switch {
	case errors.As(err, &nerr):
		respond.Error(w, http.StatusNotFound, nerr.Entity+" not found")
	case errors.Is(err, storage.ErrNotFound):
		respond.Error(w, http.StatusNotFound, what+" not found")
	case errors.As(err, &verr):
		respond.Error(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, storage.ErrAlreadyExists):
		respond.Error(w, http.StatusConflict, what+" already exists")
	case errors.Is(err, storage.ErrInvalidReference):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrInUse):
		respond.Error(w, http.StatusBadRequest, what+" is still in use")
	case errors.Is(err, campaign.ErrNoRecipients):
		respond.Error(w, http.StatusNotFound, "no recipients")
	case errors.Is(err, campaign.ErrEmptyMessage):
		respond.Error(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("request failed",
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
			zap.String("entity", what),
			zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

func badRequest(w http.ResponseWriter, message string) {
	respond.Error(w, http.StatusBadRequest, message)
}

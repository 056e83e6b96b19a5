package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/auth"
	"github.com/hongminglow/pipeline-crm/internal/events"
	"github.com/hongminglow/pipeline-crm/internal/http/respond"
	"github.com/hongminglow/pipeline-crm/internal/middleware"
	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/models/dto"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

// DirectoryStore is the persistence behind profile and invitation endpoints.
type DirectoryStore interface {
	storage.UserStore
	storage.BusinessStore
	storage.RoleStore
}

// UserHandler serves the caller's profile and the admin invitation endpoints.
type UserHandler struct {
	store  DirectoryStore
	bus    Publisher
	logger *zap.Logger
}

func NewUserHandler(store DirectoryStore, bus Publisher, logger *zap.Logger) *UserHandler {
	return &UserHandler{store: store, bus: bus, logger: logger}
}

// Register attaches the routes. Invitation routes require invitations:manage.
func (h *UserHandler) Register(r chi.Router, guard Guard) {
	r.Get("/user", h.handleProfile)
	r.Put("/user", h.handleUpdateProfile)

	r.Route("/create-user-invitation", func(r chi.Router) {
		r.Use(middleware.RequireAdmin, guard(models.PermInvitationsManage))
		r.Get("/", h.handleListMembers)
		r.Post("/", h.handleInvite)
		r.Put("/", h.handleUpdateMember)
		r.Get("/{id}", h.handleGetMember)
		r.Delete("/{id}", h.handleDeleteMember)
	})
}

func (h *UserHandler) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFrom(r.Context())
	user, err := h.store.FindByID(r.Context(), id.UserID)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	respond.JSON(w, http.StatusOK, user)
}

func (h *UserHandler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFrom(r.Context())

	var req dto.ProfileUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.store.FindByID(r.Context(), id.UserID)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		email, err := normalizeEmail(*req.Email)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		user.Email = email
	}

	updated, err := h.store.UpdateUser(r.Context(), user)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	respond.JSON(w, http.StatusOK, updated)
}

func (h *UserHandler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	businessID, ok := callerBusiness(w, r)
	if !ok {
		return
	}
	users, err := h.store.ListUsersByBusiness(r.Context(), businessID)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	respond.JSON(w, http.StatusOK, users)
}

func (h *UserHandler) handleInvite(w http.ResponseWriter, r *http.Request) {
	businessID, ok := callerBusiness(w, r)
	if !ok {
		return
	}

	var req dto.InvitationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if !h.validRole(w, r, req.Role) {
		return
	}

	password, err := auth.GeneratePassword()
	if err != nil {
		writeStoreError(w, r, h.logger, err, "invitation")
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "invitation")
		return
	}
	user, err := h.store.CreateUser(r.Context(), models.User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Role:         strings.TrimSpace(req.Role),
		BusinessID:   &businessID,
		Status:       models.StatusActive,
	})
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}

	var businessName string
	if business, err := h.store.GetBusiness(r.Context(), businessID); err == nil {
		businessName = business.Name
	} else {
		h.logger.Warn("load business for invitation", zap.Int64("business_id", businessID), zap.Error(err))
	}
	h.bus.Publish(r.Context(), events.New(events.TopicUserInvited, events.UserInvited{
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Role:         user.Role,
		BusinessName: businessName,
		Password:     password,
	}))

	respond.JSON(w, http.StatusCreated, user)
}

func (h *UserHandler) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var req dto.InvitationUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID <= 0 {
		badRequest(w, "id is required")
		return
	}
	user, ok := h.memberOf(w, r, req.ID)
	if !ok {
		return
	}

	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Role != nil {
		if !h.validRole(w, r, *req.Role) {
			return
		}
		user.Role = strings.TrimSpace(*req.Role)
	}
	if req.Status != nil {
		switch *req.Status {
		case models.StatusActive, models.StatusPendingBusiness:
			user.Status = *req.Status
		default:
			badRequest(w, "status must be Active or PENDING_BUSINESS")
			return
		}
	}

	updated, err := h.store.UpdateUser(r.Context(), user)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	respond.JSON(w, http.StatusOK, updated)
}

func (h *UserHandler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	user, ok := h.memberOf(w, r, id)
	if !ok {
		return
	}
	respond.JSON(w, http.StatusOK, user)
}

func (h *UserHandler) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	caller, _ := middleware.IdentityFrom(r.Context())
	if caller.UserID == id {
		badRequest(w, "you cannot delete your own account")
		return
	}
	if _, ok := h.memberOf(w, r, id); !ok {
		return
	}
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return
	}
	respond.JSON(w, http.StatusOK, dto.MessageResponse{Message: "user deleted"})
}

// memberOf loads a user of the caller's business. Users of other businesses
// are reported as missing.
func (h *UserHandler) memberOf(w http.ResponseWriter, r *http.Request, id int64) (models.User, bool) {
	businessID, ok := callerBusiness(w, r)
	if !ok {
		return models.User{}, false
	}
	user, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "user")
		return models.User{}, false
	}
	if user.BusinessID == nil || *user.BusinessID != businessID {
		respond.Error(w, http.StatusNotFound, "user not found")
		return models.User{}, false
	}
	return user, true
}

func (h *UserHandler) validRole(w http.ResponseWriter, r *http.Request, role string) bool {
	role = strings.TrimSpace(role)
	if role == "" {
		badRequest(w, "role is required")
		return false
	}
	exists, err := h.store.RoleExists(r.Context(), role)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "role")
		return false
	}
	if !exists {
		badRequest(w, "unknown role "+role)
		return false
	}
	return true
}

func callerBusiness(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, _ := middleware.IdentityFrom(r.Context())
	if id.BusinessID == nil {
		badRequest(w, "register a business first")
		return 0, false
	}
	return *id.BusinessID, true
}

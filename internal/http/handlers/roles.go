package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/http/respond"
	"github.com/hongminglow/pipeline-crm/internal/middleware"
	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/models/dto"
	"github.com/hongminglow/pipeline-crm/internal/storage"
)

// PolicyLoader receives roles created at runtime.
type PolicyLoader interface {
	AddRole(role models.Role) error
}

type RoleHandler struct {
	store    storage.RoleStore
	policies PolicyLoader
	logger   *zap.Logger
}

func NewRoleHandler(store storage.RoleStore, policies PolicyLoader, logger *zap.Logger) *RoleHandler {
	return &RoleHandler{store: store, policies: policies, logger: logger}
}

func (h *RoleHandler) Register(r chi.Router, guard Guard) {
	r.Route("/createroles", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/permissions", h.handlePermissions)
		r.With(middleware.RequireAdmin, guard(models.PermRolesManage)).Post("/", h.handleCreate)
	})
}

func (h *RoleHandler) handleList(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		writeStoreError(w, r, h.logger, err, "role")
		return
	}
	respond.JSON(w, http.StatusOK, roles)
}

func (h *RoleHandler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		writeStoreError(w, r, h.logger, err, "permission")
		return
	}
	respond.JSON(w, http.StatusOK, perms)
}

func (h *RoleHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		badRequest(w, "name is required")
		return
	}
	if len(req.PermissionIDs) == 0 {
		badRequest(w, "permission_ids must not be empty")
		return
	}
	if !strings.EqualFold(name, models.AdminRole) {
		ok, err := h.grantable(r, req.PermissionIDs)
		if err != nil {
			writeStoreError(w, r, h.logger, err, "permission")
			return
		}
		if !ok {
			badRequest(w, "invitations:manage and roles:manage are reserved for the Admin role")
			return
		}
	}

	role, err := h.store.CreateRole(r.Context(), models.Role{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
	}, req.PermissionIDs)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "role")
		return
	}
	if err := h.policies.AddRole(role); err != nil {
		h.logger.Error("load role policies", zap.String("role", role.Name), zap.Error(err))
	}
	respond.JSON(w, http.StatusCreated, role)
}

// grantable reports whether none of ids names an Admin-only permission.
func (h *RoleHandler) grantable(r *http.Request, ids []int64) (bool, error) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		return false, err
	}
	requested := make(map[int64]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}
	for _, p := range perms {
		if requested[p.ID] && models.AdminOnly(p.Name) {
			return false, nil
		}
	}
	return true, nil
}

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

const defaultTaskStatus = "pending"

type TaskHandler struct {
	store  storage.TaskStore
	logger *zap.Logger
}

func NewTaskHandler(store storage.TaskStore, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{store: store, logger: logger}
}

func (h *TaskHandler) Register(r chi.Router, guard Guard) {
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)

		r.Group(func(r chi.Router) {
			r.Use(guard(models.PermTasksWrite))
			r.Post("/", h.handleCreate)
			r.Put("/{id}", h.handleUpdate)
			r.Put("/{id}/status", h.handleStatus)
			r.Delete("/{id}", h.handleDelete)
		})
	})
}

func (h *TaskHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListTasks(r.Context())
	if err != nil {
		writeStoreError(w, r, h.logger, err, "task")
		return
	}
	respond.JSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	task, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "task")
		return
	}
	respond.JSON(w, http.StatusOK, task)
}

func (h *TaskHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	task, ok := decodeTask(w, r)
	if !ok {
		return
	}
	if task.Status == "" {
		task.Status = defaultTaskStatus
	}
	created, err := h.store.CreateTask(r.Context(), task)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "task")
		return
	}
	respond.JSON(w, http.StatusCreated, created)
}

func (h *TaskHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	task, ok := decodeTask(w, r)
	if !ok {
		return
	}
	// An empty status keeps the stored one.
	task.ID = id
	updated, err := h.store.UpdateTask(r.Context(), task)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "task")
		return
	}
	respond.JSON(w, http.StatusOK, updated)
}

func (h *TaskHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req dto.TaskStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status := strings.TrimSpace(req.Status)
	if status == "" {
		badRequest(w, "status is required")
		return
	}
	task, err := h.store.UpdateTaskStatus(r.Context(), id, status)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "task")
		return
	}
	respond.JSON(w, http.StatusOK, task)
}

func (h *TaskHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteTask(r.Context(), id); err != nil {
		writeStoreError(w, r, h.logger, err, "task")
		return
	}
	respond.JSON(w, http.StatusOK, dto.MessageResponse{Message: "task deleted"})
}

func decodeTask(w http.ResponseWriter, r *http.Request) (models.Task, bool) {
	var req dto.TaskRequest
	if !decodeJSON(w, r, &req) {
		return models.Task{}, false
	}
	task := models.Task{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Status:      strings.TrimSpace(req.Status),
		DueDate:     req.DueDate,
		AssignedTo:  req.AssignedTo,
		ProspectID:  req.ProspectID,
	}
	if task.Title == "" {
		badRequest(w, "title is required")
		return models.Task{}, false
	}
	return task, true
}

package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tasktrack/apiserver/internal/logging"
	"github.com/tasktrack/apiserver/internal/services"
	"github.com/tasktrack/apiserver/types"
)

// TaskHandler serves the task endpoints. All of them expect an identity on
// the request context.
type TaskHandler struct {
	taskService   *services.TaskService
	exportService *services.ExportService
	logger        logging.Logger
}

// NewTaskHandler constructs a TaskHandler. exportService may be nil, in
// which case the export routes are not registered.
func NewTaskHandler(taskService *services.TaskService, exportService *services.ExportService, logger logging.Logger) *TaskHandler {
	return &TaskHandler{
		taskService:   taskService,
		exportService: exportService,
		logger:        logger,
	}
}

// TaskRouter registers task routes on the given router behind requireSession.
func TaskRouter(r chi.Router, handler *TaskHandler, requireSession func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(requireSession)

		r.Get("/", handler.ListTasks)
		r.Post("/", handler.CreateTask)
		r.Get("/user/{userID}", handler.ListUserTasks)
		if handler.exportService != nil {
			r.Get("/exports", handler.ListExports)
			r.Post("/exports", handler.ExportTasks)
			r.Get("/exports/*", handler.DownloadExport)
		}
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", handler.GetTask)
			r.Put("/", handler.ReplaceTask)
			r.Delete("/", handler.DeleteTask)
			r.Patch("/status", handler.UpdateTaskStatus)
		})
	})
}

func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	tasks, err := h.taskService.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{internal: "Error retrieving tasks"})
		return
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Retrieved %d tasks", len(tasks)), tasks)
}

// ListUserTasks accepts user id 0, which lists every task.
func (h *TaskHandler) ListUserTasks(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "userID")), 10, 64)
	if err != nil || userID < 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "invalid userID")
		return
	}

	tasks, err := h.taskService.ListByUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{internal: "Error retrieving tasks"})
		return
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Retrieved %d tasks", len(tasks)), tasks)
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "taskID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	task, err := h.taskService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{notFound: "Task not found", internal: "Error retrieving task"})
		return
	}
	writeSuccess(w, http.StatusOK, "", task)
}

func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var req types.CreateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	task, err := h.taskService.Create(r.Context(), req, id.Username)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{internal: "Error creating task"})
		return
	}
	writeSuccess(w, http.StatusCreated, "Task created successfully", task)
}

func (h *TaskHandler) ReplaceTask(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	taskID, err := parseIDParam(r, "taskID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	var req types.UpdateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	task, err := h.taskService.ReplaceTask(r.Context(), taskID, req, id.Username)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{notFound: "Task not found", internal: "Error updating task"})
		return
	}
	writeSuccess(w, http.StatusOK, "Task updated successfully", task)
}

func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	taskID, err := parseIDParam(r, "taskID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	deleted, err := h.taskService.Delete(r.Context(), taskID, id.Username)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{notFound: "Task not found", internal: "Error deleting task"})
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	writeSuccess(w, http.StatusOK, "Task deleted successfully", nil)
}

func (h *TaskHandler) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	taskID, err := parseIDParam(r, "taskID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	var req types.UpdateTaskStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if req.Status == nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "Status is required")
		return
	}

	task, err := h.taskService.UpdateStatus(r.Context(), taskID, *req.Status, id.Username)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{notFound: "Task not found", internal: "Error updating task status"})
		return
	}
	writeSuccess(w, http.StatusOK, "Task status updated successfully", task)
}

// ExportTasks writes the tasks matching the query filter to object storage.
func (h *TaskHandler) ExportTasks(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	filter, err := parseTaskFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	export, err := h.exportService.Export(r.Context(), filter, id.Username)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{internal: "Error exporting tasks"})
		return
	}
	writeSuccess(w, http.StatusCreated, fmt.Sprintf("Exported %d tasks", export.Count), export)
}

func (h *TaskHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	exports, err := h.exportService.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{internal: "Error listing exports"})
		return
	}
	if exports == nil {
		exports = []types.StoredObject{}
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Retrieved %d exports", len(exports)), exports)
}

func (h *TaskHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	key := "exports/" + chi.URLParam(r, "*")

	body, err := h.exportService.Open(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{notFound: "Export not found", internal: "Error reading export"})
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn(r.Context(), "stream export failed", "key", key, "error", err)
	}
}

// parseTaskFilter returns nil when the query names no filter field.
func parseTaskFilter(r *http.Request) (*types.TaskFilter, error) {
	q := r.URL.Query()
	var (
		filter types.TaskFilter
		set    bool
	)

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := types.ParseTaskStatus(raw)
		if err != nil {
			return nil, err
		}
		filter.Status = &status
		set = true
	}
	if raw := strings.TrimSpace(q.Get("assignedUserID")); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.New("invalid assignedUserID")
		}
		filter.AssignedUserID = &userID
		set = true
	}
	if raw := strings.TrimSpace(q.Get("isDelayed")); raw != "" {
		delayed, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("invalid isDelayed")
		}
		filter.IsDelayed = &delayed
		set = true
	}
	if term := strings.TrimSpace(q.Get("searchTerm")); term != "" {
		filter.SearchTerm = term
		set = true
	}
	if sortBy := strings.TrimSpace(q.Get("sortBy")); sortBy != "" {
		filter.SortBy = sortBy
		set = true
	}
	desc, err := parseOptionalBool(q.Get("sortDescending"), false)
	if err != nil {
		return nil, errors.New("invalid sortDescending")
	}
	if desc {
		filter.SortDescending = true
		set = true
	}

	if !set {
		return nil, nil
	}
	return &filter, nil
}

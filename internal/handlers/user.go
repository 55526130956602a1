package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tasktrack/apiserver/internal/logging"
	"github.com/tasktrack/apiserver/internal/services"
	"github.com/tasktrack/apiserver/internal/session"
	"github.com/tasktrack/apiserver/types"
)

// UserHandler provides account management endpoints.
type UserHandler struct {
	userService *services.UserService
	sessions    *session.Manager
	logger      logging.Logger
}

func NewUserHandler(userService *services.UserService, sessions *session.Manager, logger logging.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		sessions:    sessions,
		logger:      logger,
	}
}

// UserRouter registers user routes. Registration is public; everything
// else goes through requireSession.
func UserRouter(r chi.Router, handler *UserHandler, requireSession func(http.Handler) http.Handler) {
	r.Post("/register", handler.RegisterUser)

	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Get("/", handler.ListUsers)
		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", handler.GetUser)
			r.Put("/", handler.UpdateUser)
			r.Delete("/", handler.DeleteUser)
		})
	})
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{internal: "Error retrieving users"})
		return
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Retrieved %d users", len(users)), users)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	user, err := h.userService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{notFound: "User not found", internal: "Error retrieving user"})
		return
	}
	writeSuccess(w, http.StatusOK, "", user)
}

func (h *UserHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	user, err := h.userService.Create(r.Context(), req, actorOrSystem(r, h.sessions))
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{internal: "Error registering user"})
		return
	}
	writeSuccess(w, http.StatusCreated, "User registered successfully", user)
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	var req types.PatchUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	user, err := h.userService.PatchUser(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{notFound: "User not found or update failed", internal: "Error updating user"})
		return
	}
	writeSuccess(w, http.StatusOK, "User updated successfully", user)
}

// DeleteUser soft-deletes unless softDelete=false is given.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	soft, err := parseOptionalBool(r.URL.Query().Get("softDelete"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "invalid softDelete")
		return
	}

	deleted, err := h.userService.SoftDelete(r.Context(), id, soft)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{internal: "Error deleting user"})
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "User not found or could not be deleted")
		return
	}
	writeSuccess(w, http.StatusOK, "User deleted successfully", nil)
}

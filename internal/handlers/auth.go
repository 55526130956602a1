package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tasktrack/apiserver/internal/logging"
	"github.com/tasktrack/apiserver/internal/services"
	"github.com/tasktrack/apiserver/internal/session"
	"github.com/tasktrack/apiserver/types"
)

// AuthHandler provides login, logout and self-service registration.
type AuthHandler struct {
	authService *services.AuthService
	sessions    *session.Manager
	audit       AuditRecorder
	logger      logging.Logger
}

func NewAuthHandler(authService *services.AuthService, sessions *session.Manager, audit AuditRecorder, logger logging.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
		audit:       audit,
		logger:      logger,
	}
}

// AuthRouter registers auth routes on the given router. None of them
// require a session.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.Get("/current-user", handler.CurrentUser)
	r.Post("/register", handler.Register)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	result, err := h.authService.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			h.logger.Warn(r.Context(), "login failed", "username", req.Username, "remote_addr", r.RemoteAddr)
			recordAudit(r, h.audit, h.logger, types.AuthAuditLoginFailed, req.Username)
		}
		writeServiceError(w, r, h.logger, err, failure{internal: "An error occurred during login"})
		return
	}

	token, err := h.sessions.Issue(r.Context(), w, result.UserID, result.Username)
	if err != nil {
		h.logger.Error(r.Context(), "issue session failed", "user_id", result.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred during login")
		return
	}
	result.Token = token

	h.logger.Info(r.Context(), "user logged in", "user_id", result.UserID)
	writeSuccess(w, http.StatusOK, "Login successful", result)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Clear(r.Context(), w, r); err != nil {
		h.logger.Warn(r.Context(), "clear session failed", "error", err)
	}
	writeSuccess(w, http.StatusOK, "Logged out successfully", nil)
}

func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	id, err := h.sessions.Resolve(r)
	if err != nil {
		if !errors.Is(err, session.ErrUnauthenticated) {
			h.logger.Error(r.Context(), "resolve session failed", "error", err)
		}
		writeError(w, http.StatusUnauthorized, "No active session")
		return
	}
	writeSuccess(w, http.StatusOK, "", types.CurrentUser{UserID: id.UserID, Username: id.Username})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input", err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.CreatedBy = actorOrSystem(r, h.sessions)

	result, err := h.authService.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, failure{
			invalid:  "Invalid input",
			internal: "An error occurred during registration",
		})
		return
	}

	writeSuccess(w, http.StatusOK, "User registered successfully", result)
}

// actorOrSystem names the logged-in caller of a public endpoint, falling
// back to the system actor.
func actorOrSystem(r *http.Request, sessions *session.Manager) string {
	if id, ok := identityFromContext(r.Context()); ok {
		return id.Username
	}
	if id, err := sessions.Resolve(r); err == nil {
		return id.Username
	}
	return types.SystemActor
}

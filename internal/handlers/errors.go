package handlers

import (
	"errors"
	"net/http"

	"github.com/tasktrack/apiserver/internal/logging"
	"github.com/tasktrack/apiserver/internal/services"
	"github.com/tasktrack/apiserver/internal/storage"
	"github.com/tasktrack/apiserver/internal/store"
)

// failure holds the messages an endpoint uses for its not-found and
// unexpected error cases.
type failure struct {
	invalid  string
	notFound string
	internal string
}

// writeServiceError maps a service error onto the envelope. Unexpected
// errors are logged and answered with the generic internal message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error, f failure) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, f.invalidMessage(), verr.Fields...)
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, store.ErrDuplicateUsername):
		writeError(w, http.StatusBadRequest, "Username already exists")
	case errors.Is(err, store.ErrDuplicateEmail):
		writeError(w, http.StatusBadRequest, "Email already exists")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusBadRequest, "Username or email already exists")
	case errors.Is(err, services.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "Invalid status transition", err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, f.notFound)
	default:
		logger.Error(r.Context(), f.internal, "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, f.internal)
	}
}

func (f failure) invalidMessage() string {
	if f.invalid != "" {
		return f.invalid
	}
	return "Invalid request"
}

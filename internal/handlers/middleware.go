package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/tasktrack/apiserver/internal/logging"
	"github.com/tasktrack/apiserver/internal/session"
	"github.com/tasktrack/apiserver/types"
)

// AuditRecorder receives authentication failures. Recording is best effort.
type AuditRecorder interface {
	PublishAuthAudit(ctx context.Context, event types.AuthAuditEvent) error
}

// RequireSession rejects requests without a valid session and puts the
// resolved identity on the request context.
func RequireSession(sessions *session.Manager, audit AuditRecorder, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := sessions.Resolve(r)
			if err != nil {
				if !errors.Is(err, session.ErrUnauthenticated) {
					logger.Error(r.Context(), "resolve session failed", "path", r.URL.Path, "error", err)
					writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
					return
				}
				logger.Warn(r.Context(), "Unauthorized access attempt",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				recordAudit(r, audit, logger, types.AuthAuditUnauthenticated, "")
				writeError(w, http.StatusUnauthorized, "Authentication required. Please login.")
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
		})
	}
}

func recordAudit(r *http.Request, audit AuditRecorder, logger logging.Logger, reason types.AuthAuditReason, username string) {
	if audit == nil {
		return
	}
	event := types.AuthAuditEvent{
		Reason:     reason,
		Path:       r.URL.Path,
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Username:   username,
		RequestID:  middleware.GetReqID(r.Context()),
		OccurredAt: time.Now().UTC(),
	}
	if err := audit.PublishAuthAudit(r.Context(), event); err != nil {
		logger.Warn(r.Context(), "publish auth audit failed", "reason", string(reason), "error", err)
	}
}

// RequestLogger writes one structured log line per request.
func RequestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info(r.Context(), "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
					"remote_addr", r.RemoteAddr,
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Healthz reports that the process is serving.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "ok", nil)
}

// Package session issues and resolves login sessions. A session lives in a
// Store keyed by a random id; clients hold that id signed into a JWT, either
// as a cookie or as a Bearer token.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tasktrack/apiserver/config"
	"github.com/tasktrack/apiserver/internal/logging"
	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
)

const (
	defaultTTL        = 24 * time.Hour
	defaultCookieName = "tasktrack_session"
)

// ErrUnauthenticated is returned by Resolve when the request carries no
// usable session.
var ErrUnauthenticated = errors.New("unauthenticated")

// Store persists sessions. Get must not return sessions expired at now.
type Store interface {
	Create(ctx context.Context, session types.Session) error
	Get(ctx context.Context, token string, now time.Time) (types.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// DeleteByUser ends every session of the user and reports how many.
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
}

// Identity is what a valid session resolves to.
type Identity struct {
	UserID   int64  `json:"userID"`
	Username string `json:"username"`
}

type Manager struct {
	store        Store
	secret       []byte
	ttl          time.Duration
	cookieName   string
	cookieSecure bool
	logger       logging.Logger
	now          func() time.Time
}

func NewManager(store Store, cfg config.SessionConfig, logger logging.Logger) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	name := strings.TrimSpace(cfg.CookieName)
	if name == "" {
		name = defaultCookieName
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		store:        store,
		secret:       []byte(cfg.Secret),
		ttl:          ttl,
		cookieName:   name,
		cookieSecure: cfg.CookieSecure,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

// Issue stores a new session for the user, sets the session cookie on w and
// returns the signed token.
func (m *Manager) Issue(ctx context.Context, w http.ResponseWriter, userID int64, username string) (string, error) {
	now := m.now()
	sess := types.Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if !sess.Valid() {
		return "", fmt.Errorf("issue session: incomplete identity for user %d", userID)
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	token, err := m.sign(sess)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// Resolve returns the identity bound to the request's session. Any missing,
// malformed, unknown or expired token yields ErrUnauthenticated; store
// failures are returned as is.
func (m *Manager) Resolve(r *http.Request) (Identity, error) {
	id, err := m.sessionID(r)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}

	sess, err := m.store.Get(r.Context(), id, m.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, ErrUnauthenticated
		}
		return Identity{}, fmt.Errorf("load session: %w", err)
	}
	if !sess.Valid() {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{UserID: sess.UserID, Username: sess.Username}, nil
}

// Clear deletes the request's session, if any, and expires the cookie.
func (m *Manager) Clear(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	id, err := m.sessionID(r)
	if err != nil {
		return nil
	}
	return m.store.Delete(ctx, id)
}

// RunJanitor purges expired sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.DeleteExpired(ctx, m.now())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Warn(ctx, "purge expired sessions failed", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Debug(ctx, "purged expired sessions", "count", n)
			}
		}
	}
}

// sessionID prefers a cookie that verifies and otherwise falls back to the
// Authorization header, so a stale cookie does not hide a valid bearer token.
func (m *Manager) sessionID(r *http.Request) (string, error) {
	if c, err := r.Cookie(m.cookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		if id, err := parseTokenSubject(strings.TrimSpace(c.Value), m.secret); err == nil {
			return id, nil
		}
	}
	token, err := bearerToken(r)
	if err != nil {
		return "", err
	}
	return parseTokenSubject(token, m.secret)
}

func (m *Manager) sign(sess types.Session) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   sess.Token,
		IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func parseTokenSubject(tokenString string, secret []byte) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

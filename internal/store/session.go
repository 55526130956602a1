package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tasktrack/apiserver/types"
)

// SessionRepository persists login sessions.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session types.Session) error {
	const query = `
		INSERT INTO sessions (token, user_id, username, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		session.Token,
		session.UserID,
		session.Username,
		session.CreatedAt,
		session.ExpiresAt,
	)
	return err
}

// Get returns the session for token if it has not expired at now.
func (r *SessionRepository) Get(ctx context.Context, token string, now time.Time) (types.Session, error) {
	const query = `
		SELECT token, user_id, username, created_at, expires_at
		FROM sessions
		WHERE token = $1 AND expires_at > $2`
	var session types.Session
	err := r.db.QueryRowContext(ctx, query, token, now).Scan(
		&session.Token,
		&session.UserID,
		&session.Username,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Session{}, ErrNotFound
		}
		return types.Session{}, err
	}
	return session, nil
}

// Delete removes the session. Deleting an unknown token is not an error.
func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	const query = `DELETE FROM sessions WHERE token = $1`
	_, err := r.db.ExecContext(ctx, query, token)
	return err
}

// DeleteByUser removes every session belonging to userID.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	const query = `DELETE FROM sessions WHERE user_id = $1`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteExpired removes sessions that expired at or before now and reports how many.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tasktrack/apiserver/types"
)

// UserRepository handles persistence for users.
// Soft-deleted users are invisible to every read.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, first_name, middle_name, last_name, display_name, username, password_hash,
		role, email, is_deleted, created_at, created_by, updated_at, updated_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	var middleName, displayName sql.NullString
	if err := row.Scan(
		&user.ID,
		&user.FirstName,
		&middleName,
		&user.LastName,
		&displayName,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.Email,
		&user.IsDeleted,
		&user.CreatedAt,
		&user.CreatedBy,
		&user.UpdatedAt,
		&user.UpdatedBy,
	); err != nil {
		return types.User{}, err
	}
	user.MiddleName = stringPtr(middleName)
	user.DisplayName = stringPtr(displayName)
	return user, nil
}

func (r *UserRepository) List(ctx context.Context) ([]types.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE NOT is_deleted
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (types.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND NOT is_deleted`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// GetByUsername matches the username exactly, including case.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username = $1 AND NOT is_deleted`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 AND NOT is_deleted)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND NOT is_deleted)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Create inserts user and returns it with the assigned id. A duplicate
// username or email yields ErrDuplicateUsername or ErrDuplicateEmail.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		INSERT INTO users (first_name, middle_name, last_name, display_name, username, password_hash,
			role, email, created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.FirstName,
		nullString(user.MiddleName),
		user.LastName,
		nullString(user.DisplayName),
		user.Username,
		user.PasswordHash,
		user.Role,
		user.Email,
		user.CreatedAt,
		user.CreatedBy,
		user.UpdatedAt,
		user.UpdatedBy,
	).Scan(&user.ID); err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}

func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		UPDATE users
		SET first_name = $1,
			middle_name = $2,
			last_name = $3,
			display_name = $4,
			username = $5,
			password_hash = $6,
			role = $7,
			email = $8,
			updated_at = $9,
			updated_by = $10
		WHERE id = $11 AND NOT is_deleted`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.FirstName,
		nullString(user.MiddleName),
		user.LastName,
		nullString(user.DisplayName),
		user.Username,
		user.PasswordHash,
		user.Role,
		user.Email,
		user.UpdatedAt,
		user.UpdatedBy,
		user.ID,
	)
	if err != nil {
		return types.User{}, translateError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

// Delete marks the user deleted when soft is true and removes the row
// otherwise. It reports whether a row was affected.
func (r *UserRepository) Delete(ctx context.Context, id int64, soft bool) (bool, error) {
	query := `DELETE FROM users WHERE id = $1`
	if soft {
		query = `UPDATE users SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND NOT is_deleted`
	}
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

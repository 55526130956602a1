package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktrack/apiserver/types"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

var userRowColumns = []string{
	"id", "first_name", "middle_name", "last_name", "display_name", "username", "password_hash",
	"role", "email", "is_deleted", "created_at", "created_by", "updated_at", "updated_by",
}

func TestUserRepository_Create_Success(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+users\s*\(.+\)\s*VALUES\s*\(.+\)\s*RETURNING\s+id\s*$`).
		WithArgs("Ada", nil, "Lovelace", nil, "ada", "hash", "user", "ada@example.com", now, "System", now, "System").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	got, err := repo.Create(context.Background(), types.User{
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Username:     "ada",
		PasswordHash: "hash",
		Role:         "user",
		Email:        "ada@example.com",
		CreatedAt:    now,
		CreatedBy:    "System",
		UpdatedAt:    now,
		UpdatedBy:    "System",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, "ada", got.Username)
}

func TestUserRepository_Create_UniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "lib/pq username",
			err:  &pq.Error{Code: "23505", Constraint: "users_username_key"},
			want: ErrDuplicateUsername,
		},
		{
			name: "lib/pq email",
			err:  &pq.Error{Code: "23505", Constraint: "users_email_key"},
			want: ErrDuplicateEmail,
		},
		{
			name: "pgx email",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"},
			want: ErrDuplicateEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewUserRepository(db)

			mock.ExpectQuery(`INSERT\s+INTO\s+users`).WillReturnError(tt.err)

			_, err := repo.Create(context.Background(), types.User{Username: "ada", Email: "ada@example.com"})
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrConflict)
		})
	}
}

func TestUserRepository_Create_OtherErrorPassesThrough(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), types.User{Username: "ada"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestUserRepository_GetByUsername(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	now := time.Now().UTC()
	display := "Countess"

	mock.ExpectQuery(`(?s)FROM\s+users\s+WHERE\s+username\s*=\s*\$1\s+AND\s+NOT\s+is_deleted`).
		WithArgs("ada").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(int64(1), "Ada", nil, "Lovelace", display, "ada", "hash", "admin", "ada@example.com", false, now, "System", now, ""))

	got, err := repo.GetByUsername(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.Nil(t, got.MiddleName)
	require.NotNil(t, got.DisplayName)
	assert.Equal(t, "Countess", *got.DisplayName)
	assert.Equal(t, "admin", got.Role)
}

func TestUserRepository_GetByUsername_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`FROM\s+users`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepository_Exists(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`SELECT\s+EXISTS.+username\s*=\s*\$1`).
		WithArgs("ada").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT\s+EXISTS.+email\s*=\s*\$1`).
		WithArgs("x@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := repo.UsernameExists(context.Background(), "ada")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.EmailExists(context.Background(), "x@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUserRepository_Update_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(`(?s)UPDATE\s+users\s+SET.+WHERE\s+id\s*=\s*\$11\s+AND\s+NOT\s+is_deleted`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.Update(context.Background(), types.User{ID: 9})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepository_Delete(t *testing.T) {
	t.Run("soft", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db)

		mock.ExpectExec(`UPDATE\s+users\s+SET\s+is_deleted\s*=\s*TRUE`).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.Delete(context.Background(), 3, true)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("hard, no row", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db)

		mock.ExpectExec(`DELETE\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.Delete(context.Background(), 3, false)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

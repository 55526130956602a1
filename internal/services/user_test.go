package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

func strPtr(s string) *string { return &s }

func newUserFixture(t *testing.T) (*UserService, *store.MemoryUserRepository, types.User) {
	t.Helper()
	repo := store.NewMemoryUserRepository()
	svc := NewUserService(repo, NewBcryptHasher(bcrypt.MinCost))
	svc.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }

	user, err := svc.Create(context.Background(), types.CreateUserRequest{
		FirstName: "Grace",
		LastName:  "Hopper",
		Username:  "grace",
		Password:  "cobol-rules",
		Role:      "admin",
		Email:     "grace@example.com",
	}, "")
	require.NoError(t, err)
	return svc, repo, user
}

func TestUserService_Create(t *testing.T) {
	svc, _, user := newUserFixture(t)

	assert.Equal(t, "admin", user.Role)
	require.NotNil(t, user.DisplayName)
	assert.Equal(t, "Grace Hopper", *user.DisplayName)
	assert.Equal(t, types.SystemActor, user.CreatedBy)
	assert.True(t, svc.hasher.Verify("cobol-rules", user.PasswordHash))

	_, err := svc.Create(context.Background(), types.CreateUserRequest{
		FirstName: "G", LastName: "H", Username: "grace", Password: "123456", Role: "user", Email: "g2@example.com",
	}, "grace")
	assert.ErrorIs(t, err, store.ErrDuplicateUsername)

	_, err = svc.Create(context.Background(), types.CreateUserRequest{
		FirstName: "G", LastName: "H", Username: "g2", Password: "123456", Email: "g2@example.com",
	}, "grace")
	assert.ErrorIs(t, err, ErrValidation, "role is required")
}

func TestUserService_PatchUser_Partial(t *testing.T) {
	svc, _, user := newUserFixture(t)
	ctx := context.Background()

	updated, err := svc.PatchUser(ctx, user.ID, types.PatchUserRequest{
		LastName: strPtr("Murray Hopper"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Grace", updated.FirstName)
	assert.Equal(t, "Murray Hopper", updated.LastName)
	assert.Equal(t, "grace", updated.Username)
	assert.Equal(t, "grace@example.com", updated.Email)
	assert.Equal(t, user.PasswordHash, updated.PasswordHash, "absent password keeps the hash")
	assert.Equal(t, user.UpdatedBy, updated.UpdatedBy, "no username means updatedBy is unchanged")
	assert.Equal(t, svc.now(), updated.UpdatedAt)
}

func TestUserService_PatchUser_PasswordAndUsername(t *testing.T) {
	svc, repo, user := newUserFixture(t)
	ctx := context.Background()

	updated, err := svc.PatchUser(ctx, user.ID, types.PatchUserRequest{
		Username: strPtr("admiral"),
		Password: strPtr("new-password"),
	})
	require.NoError(t, err)
	assert.Equal(t, "admiral", updated.Username)
	assert.Equal(t, "admiral", updated.UpdatedBy)

	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "new-password", stored.PasswordHash, "passwords are never stored in plaintext")
	assert.True(t, svc.hasher.Verify("new-password", stored.PasswordHash))

	unchanged, err := svc.PatchUser(ctx, user.ID, types.PatchUserRequest{Password: strPtr("")})
	require.NoError(t, err)
	assert.Equal(t, stored.PasswordHash, unchanged.PasswordHash, "empty password keeps the hash")
}

func TestUserService_PatchUser_Errors(t *testing.T) {
	svc, _, user := newUserFixture(t)
	ctx := context.Background()

	_, err := svc.PatchUser(ctx, 999, types.PatchUserRequest{FirstName: strPtr("X")})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.PatchUser(ctx, user.ID, types.PatchUserRequest{Email: strPtr("bad")})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, types.CreateUserRequest{
		FirstName: "Alan", LastName: "Turing", Username: "alan", Password: "enigma1", Role: "user", Email: "alan@example.com",
	}, "grace")
	require.NoError(t, err)

	_, err = svc.PatchUser(ctx, user.ID, types.PatchUserRequest{Username: strPtr("alan")})
	assert.ErrorIs(t, err, store.ErrDuplicateUsername)
}

func TestUserService_SoftDelete(t *testing.T) {
	svc, repo, user := newUserFixture(t)
	ctx := context.Background()

	ok, err := svc.SoftDelete(ctx, 404, true)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.SoftDelete(ctx, user.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.GetByID(ctx, user.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	ok, err = svc.SoftDelete(ctx, user.ID, true)
	require.NoError(t, err)
	assert.False(t, ok, "already deleted")
}

type failingRevoker struct{}

func (failingRevoker) DeleteByUser(context.Context, int64) (int64, error) {
	return 0, errors.New("connection reset")
}

func newRevokingUserFixture(t *testing.T) (*UserService, *store.MemorySessionRepository, types.User) {
	t.Helper()
	svc, _, user := newUserFixture(t)
	sessions := store.NewMemorySessionRepository()
	svc.sessions = sessions
	return svc, sessions, user
}

func seedSession(t *testing.T, sessions *store.MemorySessionRepository, token string, user types.User) {
	t.Helper()
	require.NoError(t, sessions.Create(context.Background(), types.Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))
}

func TestUserService_RevokesSessions(t *testing.T) {
	tests := []struct {
		name    string
		patch   *types.PatchUserRequest
		revoked bool
	}{
		{name: "delete", revoked: true},
		{name: "rename", patch: &types.PatchUserRequest{Username: strPtr("admiral")}, revoked: true},
		{name: "new password", patch: &types.PatchUserRequest{Password: strPtr("new-password")}, revoked: true},
		{name: "same username", patch: &types.PatchUserRequest{Username: strPtr("grace")}, revoked: false},
		{name: "empty password", patch: &types.PatchUserRequest{Password: strPtr("")}, revoked: false},
		{name: "display name", patch: &types.PatchUserRequest{DisplayName: strPtr("Amazing Grace")}, revoked: false},
		{name: "invalid patch", patch: &types.PatchUserRequest{Email: strPtr("bad")}, revoked: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, sessions, user := newRevokingUserFixture(t)
			ctx := context.Background()
			seedSession(t, sessions, "tok", user)

			if tt.patch == nil {
				ok, err := svc.SoftDelete(ctx, user.ID, true)
				require.NoError(t, err)
				assert.True(t, ok)
			} else {
				_, _ = svc.PatchUser(ctx, user.ID, *tt.patch)
			}

			_, err := sessions.Get(ctx, "tok", time.Now().UTC())
			if tt.revoked {
				assert.ErrorIs(t, err, store.ErrNotFound)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUserService_SoftDelete_KeepsOtherSessions(t *testing.T) {
	svc, sessions, user := newRevokingUserFixture(t)
	ctx := context.Background()

	other, err := svc.Create(ctx, types.CreateUserRequest{
		FirstName: "Alan", LastName: "Turing", Username: "alan", Password: "enigma1", Role: "user", Email: "alan@example.com",
	}, "grace")
	require.NoError(t, err)
	seedSession(t, sessions, "grace-tok", user)
	seedSession(t, sessions, "alan-tok", other)

	ok, err := svc.SoftDelete(ctx, user.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = sessions.Get(ctx, "alan-tok", time.Now().UTC())
	assert.NoError(t, err)

	// A missing user revokes nothing.
	ok, err = svc.SoftDelete(ctx, 404, true)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = sessions.Get(ctx, "alan-tok", time.Now().UTC())
	assert.NoError(t, err)
}

func TestUserService_RevokeFailure(t *testing.T) {
	svc, _, user := newUserFixture(t)
	svc.sessions = failingRevoker{}
	ctx := context.Background()

	_, err := svc.PatchUser(ctx, user.ID, types.PatchUserRequest{Username: strPtr("admiral")})
	assert.ErrorContains(t, err, "revoke sessions")

	ok, err := svc.SoftDelete(ctx, user.ID, true)
	assert.ErrorContains(t, err, "revoke sessions")
	assert.False(t, ok)
}

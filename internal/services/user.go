package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	List(ctx context.Context) ([]types.User, error)
	GetByID(ctx context.Context, id int64) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id int64, soft bool) (bool, error)
}

// SessionRevoker ends the login sessions of a user.
type SessionRevoker interface {
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo     UserRepository
	hasher   PasswordHasher
	sessions SessionRevoker
	now      func() time.Time
}

type UserOption func(*UserService)

// WithSessionRevoker ends a user's sessions when the account is deleted or
// its username or password changes.
func WithSessionRevoker(sessions SessionRevoker) UserOption {
	return func(s *UserService) { s.sessions = sessions }
}

func NewUserService(repo UserRepository, hasher PasswordHasher, opts ...UserOption) *UserService {
	s := &UserService{
		repo:   repo,
		hasher: hasher,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *UserService) List(ctx context.Context) ([]types.User, error) {
	return s.repo.List(ctx)
}

func (s *UserService) Get(ctx context.Context, id int64) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

// Create registers a user with an explicit role on behalf of createdBy.
func (s *UserService) Create(ctx context.Context, req types.CreateUserRequest, createdBy string) (types.User, error) {
	var v validator
	v.required(req.FirstName, "First name", maxPersonNameLen)
	v.optional(req.MiddleName, "Middle name", maxPersonNameLen)
	v.required(req.LastName, "Last name", maxPersonNameLen)
	v.optional(req.DisplayName, "Display name", maxDisplayNameLen)
	v.required(req.Username, "Username", maxUsernameLen)
	v.password(req.Password)
	v.required(req.Role, "User role", maxRoleLen)
	v.email(req.Email)
	if err := v.err(); err != nil {
		return types.User{}, err
	}

	if err := checkIdentityAvailable(ctx, s.repo, req.Username, req.Email); err != nil {
		return types.User{}, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return types.User{}, err
	}

	if blank(createdBy) {
		createdBy = types.SystemActor
	}
	now := s.now()
	return s.repo.Create(ctx, types.User{
		FirstName:    req.FirstName,
		MiddleName:   req.MiddleName,
		LastName:     req.LastName,
		DisplayName:  resolveDisplayName(req.DisplayName, req.FirstName, req.LastName),
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
		Email:        req.Email,
		CreatedAt:    now,
		CreatedBy:    createdBy,
		UpdatedAt:    now,
		UpdatedBy:    createdBy,
	})
}

// PatchUser applies every non-nil field of req to the stored user. A
// non-empty password is re-hashed; an empty one leaves the hash untouched.
// UpdatedBy follows the request's username when one is given.
func (s *UserService) PatchUser(ctx context.Context, id int64, req types.PatchUserRequest) (types.User, error) {
	var v validator
	if req.FirstName != nil {
		v.required(*req.FirstName, "First name", maxPersonNameLen)
	}
	v.optional(req.MiddleName, "Middle name", maxPersonNameLen)
	if req.LastName != nil {
		v.required(*req.LastName, "Last name", maxPersonNameLen)
	}
	v.optional(req.DisplayName, "Display name", maxDisplayNameLen)
	if req.Username != nil {
		v.required(*req.Username, "Username", maxUsernameLen)
	}
	if req.Password != nil && *req.Password != "" {
		v.password(*req.Password)
	}
	if req.Role != nil {
		v.required(*req.Role, "User role", maxRoleLen)
	}
	if req.Email != nil {
		v.email(*req.Email)
	}
	if err := v.err(); err != nil {
		return types.User{}, err
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	previousUsername := user.Username

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.MiddleName != nil {
		user.MiddleName = req.MiddleName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.DisplayName != nil {
		user.DisplayName = req.DisplayName
	}
	if req.Username != nil {
		user.Username = *req.Username
		user.UpdatedBy = *req.Username
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := s.hasher.Hash(*req.Password)
		if err != nil {
			return types.User{}, err
		}
		user.PasswordHash = hash
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	user.UpdatedAt = s.now()

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, err
	}

	// Sessions carry the username, so a rename or a new password ends them.
	passwordChanged := req.Password != nil && *req.Password != ""
	if updated.Username != previousUsername || passwordChanged {
		if err := s.revokeSessions(ctx, id); err != nil {
			return types.User{}, err
		}
	}
	return updated, nil
}

// SoftDelete removes the user, softly or physically depending on soft.
// It reports false when the user does not exist or nothing was removed.
func (s *UserService) SoftDelete(ctx context.Context, id int64, soft bool) (bool, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	deleted, err := s.repo.Delete(ctx, id, soft)
	if err != nil || !deleted {
		return deleted, err
	}
	if err := s.revokeSessions(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

func (s *UserService) revokeSessions(ctx context.Context, userID int64) error {
	if s.sessions == nil {
		return nil
	}
	if _, err := s.sessions.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions of user %d: %w", userID, err)
	}
	return nil
}

// resolveDisplayName falls back to "First Last" when no display name is given.
func resolveDisplayName(displayName *string, firstName, lastName string) *string {
	if displayName != nil && !blank(*displayName) {
		return displayName
	}
	resolved := strings.TrimSpace(firstName + " " + lastName)
	return &resolved
}

// checkIdentityAvailable looks up the username first and the email second so
// callers always see the username conflict when both are taken. The store's
// unique indexes still decide races between concurrent registrations.
func checkIdentityAvailable(ctx context.Context, repo UserRepository, username, email string) error {
	exists, err := repo.UsernameExists(ctx, username)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrDuplicateUsername
	}

	exists, err = repo.EmailExists(ctx, email)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrDuplicateEmail
	}
	return nil
}

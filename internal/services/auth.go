package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tasktrack/apiserver/internal/store"
	"github.com/tasktrack/apiserver/types"
)

// AuthService verifies credentials and registers new accounts. It never
// touches sessions; the HTTP layer issues them after a successful login.
type AuthService struct {
	users  UserRepository
	hasher PasswordHasher
	now    func() time.Time

	decoyOnce sync.Once
	decoyHash string
}

func NewAuthService(users UserRepository, hasher PasswordHasher) *AuthService {
	return &AuthService{
		users:  users,
		hasher: hasher,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate returns ErrInvalidCredentials for an unknown username and for a
// wrong password, so callers cannot tell the two apart.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (types.LoginResult, error) {
	var v validator
	v.check(!blank(username), "Username is required")
	v.check(password != "", "Password is required")
	if err := v.err(); err != nil {
		return types.LoginResult{}, err
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Spend the same hashing time as a real comparison.
			s.hasher.Verify(password, s.decoy())
			return types.LoginResult{}, ErrInvalidCredentials
		}
		return types.LoginResult{}, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return types.LoginResult{}, ErrInvalidCredentials
	}

	return types.LoginResult{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		DisplayName: user.ResolvedDisplayName(),
		Email:       user.Email,
	}, nil
}

// Register creates a self-service account with the default role. Username
// conflicts are reported before email conflicts.
func (s *AuthService) Register(ctx context.Context, req types.RegisterRequest) (types.RegisterResult, error) {
	var v validator
	v.required(req.FirstName, "First name", maxPersonNameLen)
	v.optional(req.MiddleName, "Middle name", maxPersonNameLen)
	v.required(req.LastName, "Last name", maxPersonNameLen)
	v.optional(req.DisplayName, "Display name", maxDisplayNameLen)
	v.required(req.Username, "Username", maxUsernameLen)
	v.password(req.Password)
	v.email(req.Email)
	if err := v.err(); err != nil {
		return types.RegisterResult{}, err
	}

	if err := checkIdentityAvailable(ctx, s.users, req.Username, req.Email); err != nil {
		return types.RegisterResult{}, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return types.RegisterResult{}, err
	}

	createdBy := req.CreatedBy
	if blank(createdBy) {
		createdBy = types.SystemActor
	}
	now := s.now()
	user, err := s.users.Create(ctx, types.User{
		FirstName:    req.FirstName,
		MiddleName:   req.MiddleName,
		LastName:     req.LastName,
		DisplayName:  resolveDisplayName(req.DisplayName, req.FirstName, req.LastName),
		Username:     req.Username,
		PasswordHash: hash,
		Role:         types.DefaultUserRole,
		Email:        req.Email,
		CreatedAt:    now,
		CreatedBy:    createdBy,
		UpdatedAt:    now,
		UpdatedBy:    createdBy,
	})
	if err != nil {
		return types.RegisterResult{}, err
	}
	return types.RegisterResult{UserID: user.ID}, nil
}

func (s *AuthService) decoy() string {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash("decoy-password-for-timing")
		if err == nil {
			s.decoyHash = hash
		}
	})
	return s.decoyHash
}

package types

import (
	"strings"
	"time"
)

// DefaultUserRole is assigned to self-registered accounts.
const DefaultUserRole = "user"

// SystemActor is recorded as the creator when no authenticated user is known.
const SystemActor = "System"

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int64 `json:"userId" db:"id"`

	FirstName  string  `json:"firstName" db:"first_name"`
	MiddleName *string `json:"middleName,omitempty" db:"middle_name"`
	LastName   string  `json:"lastName" db:"last_name"`

	// DisplayName is optional; ResolvedDisplayName falls back to "First Last".
	DisplayName *string `json:"displayName,omitempty" db:"display_name"`

	// Username is the unique login name chosen by the user.
	// Uniqueness only applies among accounts that are not deleted.
	Username string `json:"username" db:"username"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Role is stored and returned but not enforced anywhere.
	Role string `json:"userRole" db:"role"`

	// Email is the user's email address.
	Email string `json:"email" db:"email"`

	IsDeleted bool `json:"-" db:"is_deleted"`

	CreatedAt time.Time `json:"createdOn" db:"created_at"`
	CreatedBy string    `json:"createdBy,omitempty" db:"created_by"`
	UpdatedAt time.Time `json:"updatedOn" db:"updated_at"`
	UpdatedBy string    `json:"updatedBy,omitempty" db:"updated_by"`
}

// ResolvedDisplayName returns the stored display name, or "First Last" when unset.
func (u User) ResolvedDisplayName() string {
	if u.DisplayName != nil && strings.TrimSpace(*u.DisplayName) != "" {
		return *u.DisplayName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// LoginRequest carries credentials for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is returned by a successful authentication.
type LoginResult struct {
	UserID      int64  `json:"userID"`
	Username    string `json:"username"`
	Role        string `json:"userRole"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Token       string `json:"token,omitempty"`
}

// RegisterRequest is the self-service registration payload.
type RegisterRequest struct {
	FirstName   string  `json:"firstName"`
	MiddleName  *string `json:"middleName,omitempty"`
	LastName    string  `json:"lastName"`
	DisplayName *string `json:"displayName,omitempty"`
	Username    string  `json:"username"`
	Password    string  `json:"password"`
	Email       string  `json:"email"`
	CreatedBy   string  `json:"-"`
}

// RegisterResult carries the id assigned to a newly registered user.
type RegisterResult struct {
	UserID int64 `json:"userID"`
}

// CreateUserRequest is the administrative registration payload, which
// additionally names the role and display name.
type CreateUserRequest struct {
	FirstName   string  `json:"firstName"`
	MiddleName  *string `json:"middleName,omitempty"`
	LastName    string  `json:"lastName"`
	DisplayName *string `json:"displayName,omitempty"`
	Username    string  `json:"username"`
	Password    string  `json:"password"`
	Role        string  `json:"userRole"`
	Email       string  `json:"email"`
}

// PatchUserRequest applies a partial update. Nil fields keep their stored value.
type PatchUserRequest struct {
	FirstName   *string `json:"firstName,omitempty"`
	MiddleName  *string `json:"middleName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
	Username    *string `json:"username,omitempty"`
	Password    *string `json:"password,omitempty"`
	Role        *string `json:"userRole,omitempty"`
	Email       *string `json:"email,omitempty"`
}

// CurrentUser is the identity bound to the caller's session.
type CurrentUser struct {
	UserID   int64  `json:"userID"`
	Username string `json:"username"`
}

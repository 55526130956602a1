package types

import "time"

// Session binds an opaque token to an authenticated identity until ExpiresAt.
type Session struct {
	Token     string    `json:"-" db:"token"`
	UserID    int64     `json:"userID" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

// Valid reports whether every identity field is populated.
func (s Session) Valid() bool {
	return s.Token != "" && s.UserID > 0 && s.Username != ""
}

package users

import "time"

// User account
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	IsAdmin      bool      `json:"is_admin" db:"is_admin"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Session binds a token pair to a user.
type Session struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	RefreshTokenHash string    `json:"-" db:"refresh_token_hash"`
	ExpiresAt        time.Time `json:"expires_at" db:"expires_at"`
	IsActive         bool      `json:"is_active" db:"is_active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Valid reports whether the session can still authenticate requests.
func (s *Session) Valid(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// Principal is the authenticated caller passed into owner-scoped operations.
type Principal struct {
	UserID   string
	Username string
	IsAdmin  bool
}

// Scope returns the owner filter for reads that admins may perform on any record.
func (p Principal) Scope() string {
	if p.IsAdmin {
		return ""
	}
	return p.UserID
}

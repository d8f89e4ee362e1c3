package models

import "time"

// Role is the closed set of capabilities an operator account can hold.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCounter Role = "counter"
)

// ParseRole maps a stored role string onto the enum. Unknown values are
// rejected rather than defaulted so a bad row cannot widen permissions.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleCounter:
		return RoleCounter, true
	}
	return "", false
}

func (r Role) IsValid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

// AdminUser is an operator account (admin or counter staff).
type AdminUser struct {
	ID             string     `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	Email          string     `json:"email,omitempty" db:"email"`
	Role           Role       `json:"role" db:"role"`
	PasswordHash   string     `json:"-" db:"password_hash"`
	FailedAttempts int        `json:"-" db:"failed_attempts"`
	LockedUntil    *time.Time `json:"-" db:"locked_until"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Session is the verified identity carried by a signed session token.
type Session struct {
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	Name      string    `json:"name"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

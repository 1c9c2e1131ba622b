package domain

import "time"

// Role classifies what a principal may do.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is a known enum value.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents an account record. The secret hash is never serialized.
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	SecretHash []byte    `json:"-"`
	Role       Role      `json:"role"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Principal is the identity resolved from a verified token for one request.
type Principal struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

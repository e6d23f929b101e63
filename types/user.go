package types

import "time"

// Roles a user can hold.
const (
	RoleOperator      = "operator"
	RoleAdministrator = "admin"
)

// User represents an account in the system.
// It is keyed by username and owns its quiz scores.
type User struct {
	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username" validate:"required,max=64"`

	// PasswordHash stores the one-way digest of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password" validate:"required,passwordhash"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name" validate:"max=128"`

	// Role indicates the user's authorization level
	// (operator or admin).
	Role string `json:"role" db:"role" validate:"required,oneof=operator admin"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// LastLogin is the timestamp of the most recent successful login,
	// nil if the user never logged in.
	LastLogin *time.Time `json:"last_login,omitempty" db:"last_login"`
}

// IsAdmin reports whether the user holds the administrator role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdministrator
}

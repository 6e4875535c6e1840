package domain

import "time"

// UserRole represents the access role of a user
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleManager UserRole = "manager"
	RoleUser    UserRole = "user"
)

// User is the account the core bills against. Users are created by the
// out-of-scope account service; the core only reads them.
type User struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	Balance   Money     `json:"balance"`
	IsActive  bool      `json:"is_active"`
}

package users

import (
	"errors"
	"time"
)

// Roles understood by the application.
const (
	RoleAdmin   = "ADMIN"
	RoleSeller  = "VENDEDOR"
	RoleCashier = "CAJERO"
)

// User is an application operator. The password hash never leaves the
// package.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	passwordHash string
}

// CreateUserRequest is the payload for creating users.
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	FullName string `json:"full_name" validate:"required,max=200"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"required,oneof=ADMIN VENDEDOR CAJERO"`
}

// Credentials is the authentication payload.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

var (
	// ErrNotFound indicates a missing user.
	ErrNotFound = errors.New("users: user not found")
	// ErrDuplicateUsername indicates the username is taken.
	ErrDuplicateUsername = errors.New("users: username already exists")
	// ErrInvalidCredentials covers both unknown user and wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInactive indicates a deactivated account.
	ErrInactive = errors.New("users: account is deactivated")
)

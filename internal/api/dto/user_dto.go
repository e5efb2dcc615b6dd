package dto

import (
	"time"

	"github.com/lyanjo/fila-service/internal/domain"
)

// LoginRequest payload for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateUserRequest payload for POST /users.
type CreateUserRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
	Active   *bool       `json:"active"`
}

// UpdateUserRequest payload for PATCH /users/:email.
type UpdateUserRequest struct {
	Email    *string      `json:"email"`
	Password *string      `json:"password"`
	Role     *domain.Role `json:"role"`
	Active   *bool        `json:"active"`
}

// UserResponse describes an operator account without credentials.
type UserResponse struct {
	ID        string      `json:"id,omitempty"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	Active    bool        `json:"active"`
	LastLogin *time.Time  `json:"last_login,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

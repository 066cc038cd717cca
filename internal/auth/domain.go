package auth

import (
	"time"

	"github.com/projectdesk/projectdesk/internal/users"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Status       users.Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SignupInput carries the self-registration form.
type SignupInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"required,max=120"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginInput carries credentials.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

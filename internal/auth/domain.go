package auth

import (
	"time"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

// User represents an account that can authenticate against the API.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Role         shared.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

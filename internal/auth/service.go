package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens *TokenStore
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenStore) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// Login validates credentials and issues a bearer token on success.
func (s *Service) Login(ctx context.Context, email, password string) (string, shared.Identity, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return "", shared.Identity{}, err
	}
	identity := shared.Identity{UserID: user.ID, Email: user.Email, Role: user.Role}
	token, err := s.tokens.Issue(ctx, identity)
	if err != nil {
		return "", shared.Identity{}, err
	}
	return token, identity, nil
}

// Authenticate validates email/password credentials. Inactive accounts and
// unknown emails fail identically so callers cannot probe for accounts.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.Role.Valid() {
		user.Role = shared.RoleUser
	}
	return user, nil
}

// Logout revokes the presented token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

// HashPassword produces a bcrypt hash for seeding and user management.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

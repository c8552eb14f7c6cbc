package identity

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/foreman-pm/foreman/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials. Every failure is
// reported as shared.ErrInvalidCredentials except backend outages.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Identity, error) {
	creds, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Identity{}, shared.ErrInvalidCredentials
		}
		return Identity{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return Identity{}, shared.ErrInvalidCredentials
	}
	return creds.Identity, nil
}

// Get loads an identity by id.
func (s *Service) Get(ctx context.Context, id string) (Identity, error) {
	return s.repo.Get(ctx, id)
}

package identity

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/openshelf/openshelf/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials. Inactive accounts fail
// identically to wrong passwords so the response reveals nothing.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	ident, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !ident.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return ident, nil
}

// Register creates a new account. The fresh identity holds no roles; callers
// must not assume a student row exists.
func (s *Service) Register(ctx context.Context, email, password string) (*Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return s.repo.CreateIdentity(ctx, email, string(hash))
}

// GetByID loads an identity record.
func (s *Service) GetByID(ctx context.Context, id int64) (*Identity, error) {
	return s.repo.FindByID(ctx, id)
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, identityID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, identityID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

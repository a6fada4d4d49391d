package users

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	ListActive(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, u User) (int64, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// Service coordinates user operations.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateUser hashes the password and inserts the user.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := User{
		Username:     req.Username,
		FullName:     req.FullName,
		Role:         req.Role,
		IsActive:     true,
		passwordHash: string(hash),
	}
	id, err := s.repo.CreateUser(ctx, u)
	if err != nil {
		return nil, err
	}
	u.ID = id
	return &u, nil
}

// Authenticate verifies the credentials. Unknown users and bad passwords
// produce the same error so usernames cannot be probed.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (*User, error) {
	u, err := s.repo.GetByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// burn a comparison so timing does not reveal existence
			_ = bcrypt.CompareHashAndPassword(
				[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"),
				[]byte(creds.Password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(creds.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrInactive
	}
	return u, nil
}

// GetUser fetches a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListActive returns active users.
func (s *Service) ListActive(ctx context.Context) ([]User, error) {
	return s.repo.ListActive(ctx)
}

// Deactivate disables an account.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, false)
}

package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
)

// ServiceConfig holds auth service configuration.
type ServiceConfig struct {
	PasswordMinLength int
}

// DefaultServiceConfig returns the default configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{PasswordMinLength: 8}
}

// Service authenticates operators and issues tokens.
type Service struct {
	repo   Repository
	jwt    *JWTService
	config ServiceConfig
}

// NewService creates an auth Service.
func NewService(repo Repository, jwtService *JWTService, config ServiceConfig) *Service {
	return &Service{repo: repo, jwt: jwtService, config: config}
}

// LoginResult carries the issued token.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Role      Role      `json:"role"`
}

// Login verifies credentials and issues an access token. Unknown usernames
// and wrong passwords return the same error.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	op, err := s.repo.ByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load operator: %w", err)
	}
	if op == nil {
		// Burn a comparison anyway to keep timing uniform.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinval"), []byte(password))
		return nil, apperror.NewUnauthorized("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, apperror.NewUnauthorized("invalid credentials")
	}

	token, expiresAt, err := s.jwt.GenerateToken(op)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Role: op.Role}, nil
}

// CreateOperator registers a new operator with a hashed password.
func (s *Service) CreateOperator(ctx context.Context, username, password string, role Role) (*Operator, error) {
	if len(password) < s.config.PasswordMinLength {
		return nil, apperror.NewValidation(
			fmt.Sprintf("password must be at least %d characters", s.config.PasswordMinLength),
		).WithDetail("field", "password")
	}

	existing, err := s.repo.ByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if existing != nil {
		return nil, apperror.NewValidation("username already taken").WithDetail("username", username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	op := &Operator{
		ID:           id.New(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := op.Validate(ctx); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("create operator: %w", err)
	}
	return op, nil
}

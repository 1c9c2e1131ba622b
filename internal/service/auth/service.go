package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/userdesk/userdesk/internal/domain"
	"github.com/userdesk/userdesk/internal/repository"
	"github.com/userdesk/userdesk/pkg/config"
	"github.com/userdesk/userdesk/pkg/crypto"
	jwtpkg "github.com/userdesk/userdesk/pkg/jwt"
)

// Service handles credential issuance and verification.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// Register creates a self-registered account. The role is always the
// default regardless of what the caller asked for, and a session token
// is minted for the new record.
func (s Service) Register(ctx context.Context, name, email, secret string) (*domain.User, string, error) {
	email = domain.NormalizeEmail(email)
	if err := domain.ValidateNewUser(name, email, secret, domain.RoleUser); err != nil {
		return nil, "", err
	}
	hash, err := crypto.HashSecret(secret, s.cfg.BcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash secret: %w", err)
	}
	now := time.Now().UTC()
	user := &domain.User{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(name),
		Email:      email,
		SecretHash: hash,
		Role:       domain.RoleUser,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, "", domain.ErrEmailTaken
		}
		return nil, "", err
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login verifies credentials and mints a session token. Unknown email
// and wrong secret are indistinguishable to the caller.
func (s Service) Login(ctx context.Context, email, secret string) (*domain.User, string, error) {
	user, err := s.users.GetUserByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", domain.ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := crypto.CompareSecret(user.SecretHash, secret); err != nil {
		return nil, "", domain.ErrInvalidCredentials
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize verifies a bearer token and resolves the acting principal.
// A token whose subject no longer exists is rejected.
func (s Service) Authorize(ctx context.Context, token string) (domain.Principal, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return domain.Principal{}, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return domain.Principal{}, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Principal{}, errors.New("token subject no longer exists")
		}
		return domain.Principal{}, err
	}
	return domain.Principal{ID: user.ID, Role: user.Role}, nil
}

func (s Service) issueToken(user *domain.User) (string, error) {
	token, err := jwtpkg.GenerateToken(user.ID, string(user.Role), s.cfg.JWTSecret, s.cfg.TokenTTL)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

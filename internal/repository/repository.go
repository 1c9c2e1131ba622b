package repository

import (
	"context"

	"github.com/userdesk/userdesk/internal/domain"
)

// UserRepository persists user records.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	DeleteUser(ctx context.Context, id string) error
	CountUsers(ctx context.Context, filter domain.Filter) (int, error)
	ListUsers(ctx context.Context, query domain.ListQuery) ([]domain.User, error)
}

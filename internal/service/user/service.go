package user

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
)

// Service implements the listing pipeline and record mutations.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// ListInput carries raw, client-supplied listing parameters.
type ListInput struct {
	Page   int
	Limit  int
	Search string
	Role   string
	Active string
	Sort   string
}

// Pagination describes the position of a page within the result set.
type Pagination struct {
	Current int `json:"current"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
}

// Page is one page of records plus pagination metadata.
type Page struct {
	Records    []domain.User `json:"records"`
	Pagination Pagination    `json:"pagination"`
}

// List executes the filter/sort/paginate pipeline against the store.
func (s Service) List(ctx context.Context, in ListInput) (*Page, error) {
	query := s.buildQuery(in)

	total, err := s.users.CountUsers(ctx, query.Filter)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	records, err := s.users.ListUsers(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if records == nil {
		records = []domain.User{}
	}

	pages := 0
	if total > 0 {
		pages = (total + query.Limit - 1) / query.Limit
	}
	return &Page{
		Records: records,
		Pagination: Pagination{
			Current: query.Page,
			Pages:   pages,
			Total:   total,
		},
	}, nil
}

// buildQuery normalizes raw parameters into a store query. Unrecognized
// values degrade per documented rules rather than erroring.
func (s Service) buildQuery(in ListInput) domain.ListQuery {
	page := in.Page
	if page < 1 {
		page = 1
	}
	limit := in.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if max := s.cfg.MaxPageSize; max > 0 && limit > max {
		limit = max
	}
	return domain.ListQuery{
		Filter: buildFilter(in.Search, in.Role, in.Active),
		Sort:   parseSort(in.Sort),
		Page:   page,
		Limit:  limit,
	}
}

// buildFilter translates raw filter parameters into a store predicate.
// Only the literal strings "true"/"false" activate the active filter.
func buildFilter(search, role, active string) domain.Filter {
	f := domain.Filter{
		Search: strings.TrimSpace(search),
		Role:   strings.TrimSpace(role),
	}
	switch strings.TrimSpace(active) {
	case "true":
		v := true
		f.Active = &v
	case "false":
		v := false
		f.Active = &v
	}
	return f
}

// parseSort interprets "field:direction", falling back to the default
// order for anything unrecognized.
func parseSort(raw string) domain.Sort {
	sort := domain.DefaultSort()
	field, direction, _ := strings.Cut(strings.TrimSpace(raw), ":")
	switch domain.SortField(field) {
	case domain.SortByName, domain.SortByEmail, domain.SortByRole, domain.SortByCreatedAt, domain.SortByUpdatedAt:
		sort.Field = domain.SortField(field)
		sort.Desc = true
	default:
		return sort
	}
	if strings.EqualFold(direction, "asc") {
		sort.Desc = false
	}
	return sort
}

// Get fetches a single record by id.
func (s Service) Get(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// CreateInput carries fields for an admin-initiated creation.
type CreateInput struct {
	Name   string
	Email  string
	Secret string
	Role   string
	Active *bool
}

// Create inserts a record on behalf of an administrator. Unlike self
// registration, the supplied role and active flag are honored.
func (s Service) Create(ctx context.Context, in CreateInput) (*domain.User, error) {
	role := domain.Role(strings.TrimSpace(in.Role))
	if role == "" {
		role = domain.RoleUser
	}
	email := domain.NormalizeEmail(in.Email)
	if err := domain.ValidateNewUser(in.Name, email, in.Secret, role); err != nil {
		return nil, err
	}
	hash, err := crypto.HashSecret(in.Secret, s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	now := time.Now().UTC()
	user := &domain.User{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(in.Name),
		Email:      email,
		SecretHash: hash,
		Role:       role,
		Active:     active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, domain.ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("user created", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// UpdateInput carries a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Name   *string
	Email  *string
	Secret *string
	Role   *string
	Active *bool
}

// Update applies supplied fields to an existing record. The updated
// timestamp refreshes even when no data field changes, and a supplied
// secret is re-hashed before storage.
func (s Service) Update(ctx context.Context, id string, in UpdateInput) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	var fields []string
	if in.Name != nil {
		if !domain.ValidName(*in.Name) {
			fields = append(fields, "name")
		} else {
			user.Name = strings.TrimSpace(*in.Name)
		}
	}
	if in.Email != nil {
		if !domain.ValidEmail(*in.Email) {
			fields = append(fields, "email")
		} else {
			user.Email = domain.NormalizeEmail(*in.Email)
		}
	}
	if in.Secret != nil && *in.Secret != "" {
		if !domain.ValidSecret(*in.Secret) {
			fields = append(fields, "secret")
		} else {
			hash, err := crypto.HashSecret(*in.Secret, s.cfg.BcryptCost)
			if err != nil {
				return nil, fmt.Errorf("hash secret: %w", err)
			}
			user.SecretHash = hash
		}
	}
	if in.Role != nil {
		role := domain.Role(strings.TrimSpace(*in.Role))
		if !role.Valid() {
			fields = append(fields, "role")
		} else {
			user.Role = role
		}
	}
	if in.Active != nil {
		user.Active = *in.Active
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	user.UpdatedAt = time.Now().UTC()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, domain.ErrEmailTaken
		case errors.Is(err, repository.ErrNotFound):
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	s.logger.Info("user updated", "user_id", user.ID)
	return user, nil
}

// Delete removes a record permanently. A second delete of the same id
// reports not found again.
func (s Service) Delete(ctx context.Context, id string) error {
	if err := s.users.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrUserNotFound
		}
		return err
	}
	s.logger.Info("user deleted", "user_id", id)
	return nil
}

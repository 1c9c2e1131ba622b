package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/userdesk/userdesk/internal/domain"
	"github.com/userdesk/userdesk/internal/repository"
	"github.com/userdesk/userdesk/internal/service/auth"
	usersvc "github.com/userdesk/userdesk/internal/service/user"
	"github.com/userdesk/userdesk/pkg/config"
	"github.com/userdesk/userdesk/pkg/crypto"
	jwtpkg "github.com/userdesk/userdesk/pkg/jwt"
)

const testJWTSecret = "router-test-secret"

// fakeUserRepository is an in-memory store honoring filter semantics so
// the full listing pipeline can be exercised end to end.
type fakeUserRepository struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{users: make(map[string]*domain.User)}
}

func (f *fakeUserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return repository.ErrConflict
		}
	}
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == email {
			copied := *existing
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.users[id]; ok {
		copied := *existing
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepository) UpdateUser(ctx context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	for _, existing := range f.users {
		if existing.ID != user.ID && strings.EqualFold(existing.Email, user.Email) {
			return repository.ErrConflict
		}
	}
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepository) DeleteUser(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepository) CountUsers(ctx context.Context, filter domain.Filter) (int, error) {
	return len(f.matching(filter)), nil
}

func (f *fakeUserRepository) ListUsers(ctx context.Context, query domain.ListQuery) ([]domain.User, error) {
	matched := f.matching(query.Filter)
	sortUsers(matched, query.Sort)
	offset := query.Offset()
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + query.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (f *fakeUserRepository) matching(filter domain.Filter) []domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []domain.User
	needle := strings.ToLower(filter.Search)
	for _, u := range f.users {
		if needle != "" &&
			!strings.Contains(strings.ToLower(u.Name), needle) &&
			!strings.Contains(strings.ToLower(u.Email), needle) {
			continue
		}
		if filter.Role != "" && string(u.Role) != filter.Role {
			continue
		}
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		matched = append(matched, *u)
	}
	return matched
}

func sortUsers(users []domain.User, by domain.Sort) {
	sort.SliceStable(users, func(i, j int) bool {
		var less bool
		switch by.Field {
		case domain.SortByName:
			less = users[i].Name < users[j].Name
		case domain.SortByEmail:
			less = users[i].Email < users[j].Email
		case domain.SortByRole:
			less = users[i].Role < users[j].Role
		case domain.SortByUpdatedAt:
			less = users[i].UpdatedAt.Before(users[j].UpdatedAt)
		default:
			less = users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		if by.Desc {
			return !less
		}
		return less
	})
}

func testRouterConfig() config.APIConfig {
	return config.APIConfig{
		JWTSecret:       testJWTSecret,
		TokenTTL:        time.Hour,
		BcryptCost:      bcrypt.MinCost,
		DefaultPageSize: 10,
		MaxPageSize:     100,
	}
}

func newTestRouter(t *testing.T) (*Router, *fakeUserRepository) {
	t.Helper()
	repo := newFakeUserRepository()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testRouterConfig()
	router := NewRouter(log, auth.New(repo, log, cfg), usersvc.New(repo, log, cfg), NewMemoryRateLimiter(), nil)
	t.Cleanup(router.Close)
	return router, repo
}

func seedUser(t *testing.T, repo *fakeUserRepository, name, email string, role domain.Role, active bool, createdAt time.Time) *domain.User {
	t.Helper()
	hash, err := crypto.HashSecret("secret123", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash seed secret: %v", err)
	}
	seeded := &domain.User{
		ID:         "id-" + strings.ToLower(strings.ReplaceAll(name, " ", "-")),
		Name:       name,
		Email:      email,
		SecretHash: hash,
		Role:       role,
		Active:     active,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := repo.CreateUser(context.Background(), seeded); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return seeded
}

func adminToken(t *testing.T, repo *fakeUserRepository) string {
	t.Helper()
	admin := seedUser(t, repo, "Admin", "admin@example.com", domain.RoleAdmin, true, time.Now().UTC().Add(-time.Hour))
	token, err := jwtpkg.GenerateToken(admin.ID, string(admin.Role), testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("mint admin token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, router *Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestRegisterMintsTokenAndHidesSecret(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/users", "", map[string]any{
		"name":   "John Doe",
		"email":  "John@Example.com",
		"secret": "secret123",
		"role":   "admin",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if payload["token"] == "" || payload["token"] == nil {
		t.Fatal("expected a session token")
	}
	userBody, ok := payload["user"].(map[string]any)
	if !ok {
		t.Fatalf("missing user object: %v", payload)
	}
	if userBody["role"] != "user" {
		t.Fatalf("self-registration must not honor requested role, got %v", userBody["role"])
	}
	if userBody["email"] != "john@example.com" {
		t.Fatalf("expected normalized email, got %v", userBody["email"])
	}
	if _, leaked := userBody["secretHash"]; leaked {
		t.Fatal("secret hash serialized into response")
	}
	if strings.Contains(rr.Body.String(), "secret123") {
		t.Fatalf("plaintext secret leaked into response: %s", rr.Body.String())
	}

	// The plaintext secret still logs in.
	rr = doJSON(t, router, http.MethodPost, "/users/login", "", map[string]any{
		"email":  "john@example.com",
		"secret": "secret123",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login after registration: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRegisterDuplicateEmailCaseInsensitive(t *testing.T) {
	router, _ := newTestRouter(t)

	first := doJSON(t, router, http.MethodPost, "/users", "", map[string]any{
		"name": "John Doe", "email": "john@example.com", "secret": "secret123",
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("first registration failed: %d", first.Code)
	}
	second := doJSON(t, router, http.MethodPost, "/users", "", map[string]any{
		"name": "Johnny", "email": "JOHN@EXAMPLE.COM", "secret": "secret123",
	})
	if second.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", second.Code)
	}
}

func TestRegisterValidationListsFields(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/users", "", map[string]any{
		"name": "J", "email": "nope", "secret": "123",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	fields, ok := payload["fields"].([]any)
	if !ok || len(fields) != 3 {
		t.Fatalf("expected three offending fields, got %v", payload["fields"])
	}
}

func TestLoginWrongSecretIsBadRequest(t *testing.T) {
	router, repo := newTestRouter(t)
	seedUser(t, repo, "John Doe", "john@example.com", domain.RoleUser, true, time.Now().UTC())

	rr := doJSON(t, router, http.MethodPost, "/users/login", "", map[string]any{
		"email": "john@example.com", "secret": "wrongsecret",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["error"] != "Invalid credentials" {
		t.Fatalf("unexpected error message: %v", payload["error"])
	}
}

func TestListRequiresAdmin(t *testing.T) {
	router, repo := newTestRouter(t)
	member := seedUser(t, repo, "John Doe", "john@example.com", domain.RoleUser, true, time.Now().UTC())
	memberToken, err := jwtpkg.GenerateToken(member.ID, string(member.Role), testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("mint member token: %v", err)
	}

	if rr := doJSON(t, router, http.MethodGet, "/users", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodGet, "/users", "garbage-token", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with invalid token, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodGet, "/users", memberToken, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}
}

func TestListRejectsTokenOfDeletedUser(t *testing.T) {
	router, repo := newTestRouter(t)
	token := adminToken(t, repo)
	if err := repo.DeleteUser(context.Background(), "id-admin"); err != nil {
		t.Fatalf("delete admin: %v", err)
	}

	if rr := doJSON(t, router, http.MethodGet, "/users", token, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deleted subject, got %d", rr.Code)
	}
}

func TestListRoleActiveScenario(t *testing.T) {
	router, repo := newTestRouter(t)
	token := adminToken(t, repo)
	base := time.Now().UTC().Add(-time.Hour)
	seedUser(t, repo, "John Doe", "john@example.com", domain.RoleUser, true, base)
	seedUser(t, repo, "Jane Smith", "jane@example.com", domain.RoleUser, true, base.Add(time.Minute))
	seedUser(t, repo, "Bob Stone", "bob@example.com", domain.RoleUser, false, base.Add(2*time.Minute))

	rr := doJSON(t, router, http.MethodGet, "/users?role=user&active=false", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	records, ok := payload["records"].([]any)
	if !ok || len(records) != 1 {
		t.Fatalf("expected exactly one record, got %v", payload["records"])
	}
	record := records[0].(map[string]any)
	if record["name"] != "Bob Stone" {
		t.Fatalf("expected Bob, got %v", record["name"])
	}
	pagination := payload["pagination"].(map[string]any)
	if pagination["total"] != float64(1) {
		t.Fatalf("expected total 1, got %v", pagination["total"])
	}
}

func TestListSearchScenario(t *testing.T) {
	router, repo := newTestRouter(t)
	token := adminToken(t, repo)
	base := time.Now().UTC().Add(-time.Hour)
	seedUser(t, repo, "John Doe", "john@example.com", domain.RoleUser, true, base)
	seedUser(t, repo, "Jane Smith", "jane@example.com", domain.RoleUser, true, base.Add(time.Minute))

	rr := doJSON(t, router, http.MethodGet, "/users?search=jo", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	records := payload["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("expected one match, got %d", len(records))
	}
	if records[0].(map[string]any)["name"] != "John Doe" {
		t.Fatalf("expected John Doe, got %v", records[0])
	}
}

func TestListPaginationAndSort(t *testing.T) {
	router, repo := newTestRouter(t)
	token := adminToken(t, repo)
	base := time.Now().UTC().Add(-24 * time.Hour)
	for i := 0; i < 24; i++ {
		seedUser(t, repo,
			fmt.Sprintf("Member %02d", i),
			fmt.Sprintf("member%02d@example.com", i),
			domain.RoleUser, true, base.Add(time.Duration(i)*time.Minute))
	}

	rr := doJSON(t, router, http.MethodGet, "/users?role=user&page=3&limit=10&sort=email:asc", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	records := payload["records"].([]any)
	if len(records) != 4 {
		t.Fatalf("expected 4 records on the last page, got %d", len(records))
	}
	pagination := payload["pagination"].(map[string]any)
	if pagination["current"] != float64(3) || pagination["pages"] != float64(3) || pagination["total"] != float64(24) {
		t.Fatalf("unexpected pagination: %v", pagination)
	}
	first := records[0].(map[string]any)
	if first["email"] != "member20@example.com" {
		t.Fatalf("unexpected first record on page 3: %v", first["email"])
	}
}

func TestGetUpdateDeleteLifecycle(t *testing.T) {
	router, repo := newTestRouter(t)
	token := adminToken(t, repo)
	seeded := seedUser(t, repo, "John Doe", "john@example.com", domain.RoleUser, true, time.Now().UTC().Add(-time.Hour))

	rr := doJSON(t, router, http.MethodGet, "/users/"+seeded.ID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPut, "/users/"+seeded.ID, token, map[string]any{
		"name": "Johnny Doe", "role": "admin",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if payload["name"] != "Johnny Doe" || payload["role"] != "admin" {
		t.Fatalf("update not applied: %v", payload)
	}
	if payload["email"] != "john@example.com" {
		t.Fatalf("unsupplied field changed: %v", payload["email"])
	}

	rr = doJSON(t, router, http.MethodDelete, "/users/"+seeded.ID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodDelete, "/users/"+seeded.ID, token, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodGet, "/users/"+seeded.ID, token, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rr.Code)
	}
}

func TestAdminCreateHonorsRoleWithoutToken(t *testing.T) {
	router, repo := newTestRouter(t)
	token := adminToken(t, repo)

	rr := doJSON(t, router, http.MethodPost, "/users", token, map[string]any{
		"name": "Ops Admin", "email": "ops@example.com", "secret": "secret123", "role": "admin",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if _, hasToken := payload["token"]; hasToken {
		t.Fatal("admin creation must not mint a session token")
	}
	created := payload["user"].(map[string]any)
	if created["role"] != "admin" {
		t.Fatalf("expected admin role to be honored, got %v", created["role"])
	}
}

func TestRegisterRateLimited(t *testing.T) {
	router, _ := newTestRouter(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < rateLimitRegister+1; i++ {
		last = doJSON(t, router, http.MethodPost, "/users", "", map[string]any{
			"name":   fmt.Sprintf("Member %d", i),
			"email":  fmt.Sprintf("member%d@example.com", i),
			"secret": "secret123",
		})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting the window, got %d", last.Code)
	}
	if last.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatal("expected rate limit headers on limited response")
	}
}

func TestHealthzReportsDatabaseState(t *testing.T) {
	repo := newFakeUserRepository()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testRouterConfig()
	down := func(ctx context.Context) error { return context.DeadlineExceeded }
	router := NewRouter(log, auth.New(repo, log, cfg), usersvc.New(repo, log, cfg), NewMemoryRateLimiter(), down)
	t.Cleanup(router.Close)

	rr := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when database is down, got %d", rr.Code)
	}
}

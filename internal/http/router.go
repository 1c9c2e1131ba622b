package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/userdesk/userdesk/internal/domain"
	"github.com/userdesk/userdesk/internal/service/auth"
	"github.com/userdesk/userdesk/internal/service/user"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	users    user.Service
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault   = time.Minute
	rateLimitRegister   = 5
	rateLimitLogin      = 12
	rateLimitAdminRead  = 120
	rateLimitAdminWrite = 60
	healthCheckTimeout  = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, userSvc user.Service, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     authSvc,
		users:    userSvc,
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/users", r.audit("/users", r.handleUsers))
	r.mux.HandleFunc("/users/", r.audit("/users/{id}", r.handleUserSubroutes))
}

func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.withRateLimit("/users", rateLimitRegister, rateWindowDefault, rateLimitKeyIP, r.handleCreateUser)(w, req)
	case http.MethodGet:
		r.adminRate("/users", rateLimitAdminRead, rateWindowDefault, r.handleListUsers)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleUserSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/users/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		r.notFound(w)
		return
	}
	if trimmed == "login" {
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		r.withRateLimit("/users/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)(w, req)
		return
	}
	id := trimmed
	r.adminRate("/users/{id}", rateLimitAdminWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
		r.handleUserByID(w, req, id)
	})(w, req)
}

// handleCreateUser serves both self-registration and admin creation.
// Without an admin bearer token the stored role is always the default
// and a session token is minted; with one, role and active flags from
// the body are honored and no token is issued.
func (r *Router) handleCreateUser(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Name   string `json:"name"`
		Email  string `json:"email"`
		Secret string `json:"secret"`
		Role   string `json:"role"`
		Active *bool  `json:"active"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Header.Get("Authorization")) != "" {
		ctx, principal, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if !principal.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		created, err := r.users.Create(ctx, user.CreateInput{
			Name:   payload.Name,
			Email:  payload.Email,
			Secret: payload.Secret,
			Role:   payload.Role,
			Active: payload.Active,
		})
		if err != nil {
			r.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": created})
		return
	}

	created, token, err := r.auth.Register(req.Context(), payload.Name, payload.Email, payload.Secret)
	if err != nil {
		r.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  created,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Email  string `json:"email"`
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	logged, token, err := r.auth.Login(req.Context(), payload.Email, payload.Secret)
	if err != nil {
		r.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  logged,
	})
}

func (r *Router) handleListUsers(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))
	input := user.ListInput{
		Page:   page,
		Limit:  limit,
		Search: query.Get("search"),
		Role:   query.Get("role"),
		Active: query.Get("active"),
		Sort:   query.Get("sort"),
	}
	result, err := r.users.List(req.Context(), input)
	if err != nil {
		r.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleUserByID(w http.ResponseWriter, req *http.Request, id string) {
	switch req.Method {
	case http.MethodGet:
		found, err := r.users.Get(req.Context(), id)
		if err != nil {
			r.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, found)
	case http.MethodPut:
		var payload struct {
			Name   *string `json:"name"`
			Email  *string `json:"email"`
			Secret *string `json:"secret"`
			Role   *string `json:"role"`
			Active *bool   `json:"active"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := r.users.Update(req.Context(), id, user.UpdateInput{
			Name:   payload.Name,
			Email:  payload.Email,
			Secret: payload.Secret,
			Role:   payload.Role,
			Active: payload.Active,
		})
		if err != nil {
			r.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := r.users.Delete(req.Context(), id); err != nil {
			r.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Duplicate
// email intentionally maps to 400 on this surface.
func (r *Router) writeDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, verr.Fields)
	case errors.Is(err, domain.ErrEmailTaken):
		writeError(w, http.StatusBadRequest, domain.ErrEmailTaken.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "Invalid credentials")
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, domain.ErrUserNotFound.Error())
	default:
		r.logger.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/userdesk/userdesk/internal/domain"
)

type authContextKey string

const contextKeyPrincipal authContextKey = "userdesk-principal"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAdmin ensures the request carries a valid bearer token whose
// principal holds the admin role before invoking the handler.
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, principal, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if !principal.IsAdmin() {
			r.logger.Warn("admin role required", "user_id", principal.ID, "role", principal.Role, "path", req.URL.Path)
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the Authorization header, resolves the acting
// principal and enriches the context. It writes the 401 itself.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, domain.Principal, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), domain.Principal{}, false
	}
	principal, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return req.Context(), domain.Principal{}, false
	}
	ctx := context.WithValue(req.Context(), contextKeyPrincipal, principal)
	return ctx, principal, true
}

// principalFromContext extracts the resolved principal from context.
func principalFromContext(ctx context.Context) (domain.Principal, bool) {
	value := ctx.Value(contextKeyPrincipal)
	if value == nil {
		return domain.Principal{}, false
	}
	principal, ok := value.(domain.Principal)
	return principal, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

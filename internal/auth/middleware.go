package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const principalContextKey contextKey = "auth_principal"

// PrincipalFromContext returns the authenticated caller, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalContextKey).(*Principal); ok {
		return p
	}
	return nil
}

// ContextWithPrincipal returns a new context carrying p.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// Middleware validates bearer tokens. A nil validator disables
// authentication and every request passes through.
type Middleware struct {
	validator *Validator
}

// NewMiddleware creates authentication middleware over validator.
func NewMiddleware(validator *Validator) *Middleware {
	return &Middleware{validator: validator}
}

// RequireAuth rejects requests without a valid token with 401.
func (m *Middleware) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.validator == nil {
				next.ServeHTTP(w, r)
				return
			}
			p, err := m.validator.ValidateToken(r.Context(), ExtractToken(r))
			if err != nil {
				message := "invalid token"
				switch {
				case errors.Is(err, ErrMissingToken):
					message = "authentication required"
				case errors.Is(err, ErrExpiredToken), errors.Is(err, ErrInvalidIssuer), errors.Is(err, ErrInvalidAudience):
					message = err.Error()
				}
				writeJSONError(w, http.StatusUnauthorized, message)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole rejects callers without role with 403. Must be used after
// RequireAuth.
func (m *Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.validator == nil {
				next.ServeHTTP(w, r)
				return
			}
			p := PrincipalFromContext(r.Context())
			if p == nil {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !p.HasRole(role) {
				writeJSONError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractToken returns the bearer token of r.
func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Middleware authenticates API requests with bearer JWTs and enforces the
// per-route role policy. Exempt routes and routes without a role entry pass
// through untouched, so the ingest path keeps its own signature scheme.
type Middleware struct {
	Secret []byte
	Policy Policy
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// Wrap applies authentication and the role policy to the handler. Requests
// that pass carry the token's tenant, role and subject in their context.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, role, err := m.authenticate(r, required)
		switch {
		case err == nil:
		case errors.Is(err, ErrForbidden):
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		default:
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := WithIdentity(r.Context(), claims.TenantID, role, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate resolves the request's bearer token into verified claims and a
// normalized role, and checks the role against the route's requirement.
func (m *Middleware) authenticate(r *http.Request, required Role) (*Claims, Role, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, "", ErrUnauthorized
	}
	claims, err := ParseJWT(token, m.Secret)
	if err != nil {
		return nil, "", ErrInvalidToken
	}
	role, ok := NormalizeRole(claims.Role)
	if !ok {
		return nil, "", ErrInvalidToken
	}
	if !RoleAtLeast(role, required) {
		return nil, "", ErrForbidden
	}
	return claims, role, nil
}

func bearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

package adminauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type contextKey string

const (
	contextKeyAdminID contextKey = "admin_id"
	contextKeyScopes  contextKey = "admin_scopes"
)

// SetAdminIDInContext returns ctx carrying adminID
func SetAdminIDInContext(ctx context.Context, adminID string) context.Context {
	return context.WithValue(ctx, contextKeyAdminID, adminID)
}

// GetAdminIDFromContext retrieves the authenticated admin ID, or "" when absent
func GetAdminIDFromContext(ctx context.Context) string {
	if v := ctx.Value(contextKeyAdminID); v != nil {
		if adminID, ok := v.(string); ok {
			return adminID
		}
	}
	return ""
}

// SetScopesInContext returns ctx carrying the granted scopes
func SetScopesInContext(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, contextKeyScopes, scopes)
}

// GetScopesFromContext retrieves the granted scopes
func GetScopesFromContext(ctx context.Context) []string {
	if v := ctx.Value(contextKeyScopes); v != nil {
		if scopes, ok := v.([]string); ok {
			return scopes
		}
	}
	return nil
}

var (
	errMissingToken      = errors.New("missing authorization header")
	errInsufficientScope = errors.New("insufficient scope")
)

// APIMiddleware validates access tokens on admin API routes
type APIMiddleware struct {
	// JWT validation (uses same config as APIAuth)
	JWTSecretKey string
	JWTIssuer    string
	JWTAudience  string

	// Token header configuration
	AuthHeader string // Defaults to "Authorization"

	// Cookie holding the access token, checked when the header is absent
	AuthCookieName string

	// Error handling
	OnAuthError func(w http.ResponseWriter, r *http.Request, status int, err error)
}

// ValidateToken rejects requests without a valid access token and sets the admin in context
func (m *APIMiddleware) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID, scopes, err := m.validateRequest(r)
		if err != nil {
			m.handleAuthError(w, r, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAdmin(r.Context(), adminID, scopes)))
	})
}

// RequireScopes ensures the authenticated admin has all required scopes.
// A missing token is a 401; a valid token lacking a scope is a 403.
func (m *APIMiddleware) RequireScopes(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adminID, grantedScopes, err := m.validateRequest(r)
			if err != nil {
				m.handleAuthError(w, r, http.StatusUnauthorized, err)
				return
			}

			if !ContainsAllScopes(grantedScopes, requiredScopes) {
				m.handleAuthError(w, r, http.StatusForbidden, fmt.Errorf("%w: requires %v", errInsufficientScope, requiredScopes))
				return
			}

			next.ServeHTTP(w, r.WithContext(withAdmin(r.Context(), adminID, grantedScopes)))
		})
	}
}

// Optional allows requests without auth but sets admin info if present
func (m *APIMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminID, scopes, err := m.validateRequest(r); err == nil && adminID != "" {
			r = r.WithContext(withAdmin(r.Context(), adminID, scopes))
		}
		next.ServeHTTP(w, r)
	})
}

func withAdmin(ctx context.Context, adminID string, scopes []string) context.Context {
	return SetScopesInContext(SetAdminIDInContext(ctx, adminID), scopes)
}

// validateRequest extracts and validates the token from the request
func (m *APIMiddleware) validateRequest(r *http.Request) (string, []string, error) {
	header := m.AuthHeader
	if header == "" {
		header = "Authorization"
	}

	token := ""
	if authHeader := r.Header.Get(header); authHeader != "" {
		token = bearerToken(authHeader)
		if token == "" {
			return "", nil, fmt.Errorf("invalid authorization header format")
		}
	} else if m.AuthCookieName != "" {
		if cookie, err := r.Cookie(m.AuthCookieName); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return "", nil, errMissingToken
	}

	return parseAccessToken(token, m.JWTSecretKey, m.JWTIssuer, m.JWTAudience)
}

func (m *APIMiddleware) handleAuthError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if m.OnAuthError != nil {
		m.OnAuthError(w, r, status, err)
		return
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
		writeError(w, status, "unauthorized", err.Error())
		return
	}
	writeError(w, status, "forbidden", err.Error())
}

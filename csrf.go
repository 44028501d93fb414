package adminauth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
)

// DefaultCSRFHeaderName is the header clients echo the CSRF token in
const DefaultCSRFHeaderName = "X-XSRF-TOKEN"

// CSRF issues per-session CSRF tokens and rejects unsafe requests that do not echo
// them. Tokens live in the scs session, so handlers must run inside
// Session.LoadAndSave.
type CSRF struct {
	Session *scs.SessionManager

	HeaderName   string // Defaults to X-XSRF-TOKEN
	CookieName   string // Readable copy of the token; defaults to HeaderName
	SessionKey   string // Defaults to "csrf_token"
	CookieSecure bool
	TokenExpiry  time.Duration // Cookie lifetime, defaults to 1 day

	// Paths that skip the check, e.g. the refresh endpoint which is
	// authenticated by its bearer refresh token
	ExemptPaths []string

	Logger *slog.Logger
}

func (c *CSRF) EnsureDefaults() *CSRF {
	if c.HeaderName == "" {
		c.HeaderName = DefaultCSRFHeaderName
	}
	if c.CookieName == "" {
		c.CookieName = c.HeaderName
	}
	if c.SessionKey == "" {
		c.SessionKey = "csrf_token"
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = TokenExpiryCSRF
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// HandleToken handles GET /api/auth/csrf, returning the session's CSRF token
func (c *CSRF) HandleToken(w http.ResponseWriter, r *http.Request) {
	c.EnsureDefaults()

	token := c.Session.GetString(r.Context(), c.SessionKey)
	if token == "" {
		var err error
		token, err = GenerateSecureToken()
		if err != nil {
			c.Logger.Error("failed to generate CSRF token", "error", err)
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to generate CSRF token")
			return
		}
		c.Session.Put(r.Context(), c.SessionKey, token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(c.TokenExpiry),
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"token":      token,
		"headerName": c.HeaderName,
	})
}

// Protect rejects unsafe requests whose CSRF header does not match the session token
func (c *CSRF) Protect(next http.Handler) http.Handler {
	c.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) || slices.Contains(c.ExemptPaths, strings.TrimSuffix(r.URL.Path, "/")) {
			next.ServeHTTP(w, r)
			return
		}

		expected := c.Session.GetString(r.Context(), c.SessionKey)
		got := r.Header.Get(c.HeaderName)
		if expected == "" || got == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
			c.Logger.Warn("rejected request with invalid CSRF token", "method", r.Method, "path", r.URL.Path, "has_header", got != "")
			writeError(w, http.StatusForbidden, "csrf_failed", "Invalid CSRF token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

package adminauth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// Default route paths
const (
	DefaultLoginPath          = "/api/admin/auth/login"
	DefaultRefreshPath        = "/api/admin/auth/refresh-token"
	DefaultLogoutPath         = "/api/admin/auth/logout"
	DefaultLogoutAllPath      = "/api/admin/auth/logout-all"
	DefaultMePath             = "/api/admin/auth/me"
	DefaultSessionsPath       = "/api/admin/auth/sessions"
	DefaultChangePasswordPath = "/api/admin/auth/change-password"
	DefaultCSRFPath           = "/api/auth/csrf"
	DefaultAPIPrefix          = "/api/admin"
)

// RouterConfig collects the pieces NewRouter wires together. Zero-valued paths
// take the defaults above.
type RouterConfig struct {
	Auth    *APIAuth
	CSRF    *CSRF
	Session *scs.SessionManager

	LoginPath          string
	RefreshPath        string
	LogoutPath         string
	LogoutAllPath      string
	MePath             string
	SessionsPath       string
	ChangePasswordPath string
	CSRFPath           string
	APIPrefix          string

	// Lifetime of the scs session holding the CSRF token
	SessionLifetime time.Duration

	Logger *slog.Logger
}

func (c *RouterConfig) ensureDefaults() {
	setDefault := func(p *string, v string) {
		if *p == "" {
			*p = v
		}
	}
	setDefault(&c.LoginPath, DefaultLoginPath)
	setDefault(&c.RefreshPath, DefaultRefreshPath)
	setDefault(&c.LogoutPath, DefaultLogoutPath)
	setDefault(&c.LogoutAllPath, DefaultLogoutAllPath)
	setDefault(&c.MePath, DefaultMePath)
	setDefault(&c.SessionsPath, DefaultSessionsPath)
	setDefault(&c.ChangePasswordPath, DefaultChangePasswordPath)
	setDefault(&c.CSRFPath, DefaultCSRFPath)
	setDefault(&c.APIPrefix, DefaultAPIPrefix)

	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.SessionLifetime == 0 {
		c.SessionLifetime = TokenExpiryCSRF
	}
	if c.Session == nil {
		c.Session = scs.New()
		c.Session.Lifetime = c.SessionLifetime
		c.Session.Cookie.Name = "adminauth_session"
		c.Session.Cookie.HttpOnly = true
		c.Session.Cookie.SameSite = http.SameSiteLaxMode
	}
	if c.CSRF == nil {
		c.CSRF = &CSRF{}
	}
	if c.CSRF.Session == nil {
		c.CSRF.Session = c.Session
	}
	if c.CSRF.Logger == nil {
		c.CSRF.Logger = c.Logger
	}
	if c.Auth.Logger == nil {
		c.Auth.Logger = c.Logger
	}
}

// Router serves the admin auth endpoints plus any protected application routes
// registered through API.
type Router struct {
	*mux.Router
	Config     RouterConfig
	Middleware *APIMiddleware
	api        *mux.Router
}

// NewRouter registers the auth, CSRF and session endpoints on a gorilla/mux router
func NewRouter(cfg RouterConfig) *Router {
	cfg.ensureDefaults()
	cfg.Auth.EnsureDefaults()
	cfg.CSRF.EnsureDefaults()

	// The refresh call authenticates with its bearer refresh token and never carries CSRF
	cfg.CSRF.ExemptPaths = append(cfg.CSRF.ExemptPaths, strings.TrimSuffix(cfg.RefreshPath, "/"))

	r := mux.NewRouter()
	mw := cfg.Auth.Middleware()

	r.HandleFunc(cfg.CSRFPath, cfg.CSRF.HandleToken).Methods(http.MethodGet)
	r.HandleFunc(cfg.LoginPath, cfg.Auth.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc(cfg.RefreshPath, cfg.Auth.HandleRefresh).Methods(http.MethodPost)
	r.HandleFunc(cfg.LogoutPath, cfg.Auth.HandleLogout).Methods(http.MethodPost)
	r.Handle(cfg.LogoutAllPath, mw.ValidateToken(http.HandlerFunc(cfg.Auth.HandleLogoutAll))).Methods(http.MethodPost)
	r.Handle(cfg.MePath, mw.ValidateToken(http.HandlerFunc(cfg.Auth.HandleMe))).Methods(http.MethodGet)
	r.Handle(cfg.SessionsPath, mw.ValidateToken(http.HandlerFunc(cfg.Auth.HandleListSessions))).Methods(http.MethodGet)
	r.Handle(cfg.ChangePasswordPath, mw.ValidateToken(http.HandlerFunc(cfg.Auth.HandleChangePassword))).Methods(http.MethodPost)

	api := r.PathPrefix(cfg.APIPrefix).Subrouter()
	api.Use(mw.ValidateToken)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	cfg.Logger.Debug("admin auth routes registered", "login", cfg.LoginPath, "refresh", cfg.RefreshPath, "csrf", cfg.CSRFPath)

	return &Router{Router: r, Config: cfg, Middleware: mw, api: api}
}

// API returns the subrouter under APIPrefix. Every route on it requires a valid access token.
func (rt *Router) API() *mux.Router {
	return rt.api
}

// Handler wraps the router with session loading and CSRF enforcement
func (rt *Router) Handler() http.Handler {
	return rt.Config.Session.LoadAndSave(rt.Config.CSRF.Protect(rt.Router))
}

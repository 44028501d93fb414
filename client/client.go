package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"
)

// Default endpoint paths and policies
const (
	DefaultRefreshEndpoint = "/api/admin/auth/refresh-token"
	DefaultCSRFEndpoint    = "/api/auth/csrf"
	DefaultLoginEndpoint   = "/api/admin/auth/login"
	DefaultLogoutEndpoint  = "/api/admin/auth/logout"
	DefaultLoginPath       = "/login"

	DefaultRememberDays = 365
	DefaultCSRFDays     = 1

	// BaseURLEnvVar names the environment variable DefaultBaseURL reads
	BaseURLEnvVar  = "ADMIN_API_BASE_URL"
	defaultBaseURL = "http://localhost:5000"
)

// DefaultBaseURL returns the API base URL from the environment, or the local default
func DefaultBaseURL() string {
	if v := strings.TrimSpace(os.Getenv(BaseURLEnvVar)); v != "" {
		return v
	}
	return defaultBaseURL
}

// Navigator is implemented by browser-like environments that can send the user to
// the login surface. Clients without a navigator never redirect.
type Navigator interface {
	CurrentPath() string
	Redirect(path string)
}

// Client is an HTTP client that attaches bearer and CSRF tokens to outgoing requests
// and recovers from expired access tokens with a single shared refresh.
type Client struct {
	mu            sync.RWMutex
	baseURL       string
	transport     *authTransport
	httpClient    *http.Client // decorated, carries cookies
	anonClient    *http.Client // decorated, no cookie jar
	baseTransport http.RoundTripper
	jar           http.CookieJar
	timeout       time.Duration
	checkRedirect func(req *http.Request, via []*http.Request) error

	store     CredentialStore
	logger    *slog.Logger
	navigator Navigator

	refreshEndpoint string
	csrfEndpoint    string
	loginEndpoint   string
	logoutEndpoint  string
	loginPath       string
	csrfHeaderName  string
	rememberDays    int
	csrfDays        int

	refreshGroup singleflight.Group
	// completed refreshes that stored a new access token
	refreshes atomic.Uint64
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc == nil {
			return
		}
		if hc.Transport != nil {
			c.baseTransport = hc.Transport
		}
		if hc.Jar != nil {
			c.jar = hc.Jar
		}
		c.timeout = hc.Timeout
		c.checkRedirect = hc.CheckRedirect
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.baseTransport = transport
	}
}

// WithCookieJar sets the jar used for cookie credentials
func WithCookieJar(jar http.CookieJar) ClientOption {
	return func(c *Client) {
		c.jar = jar
	}
}

// WithRefreshEndpoint sets a custom refresh-token endpoint path
func WithRefreshEndpoint(path string) ClientOption {
	return func(c *Client) {
		c.refreshEndpoint = path
	}
}

// WithCSRFEndpoint sets a custom CSRF token endpoint path
func WithCSRFEndpoint(path string) ClientOption {
	return func(c *Client) {
		c.csrfEndpoint = path
	}
}

// WithLoginEndpoint sets a custom login endpoint path
func WithLoginEndpoint(path string) ClientOption {
	return func(c *Client) {
		c.loginEndpoint = path
	}
}

// WithLogoutEndpoint sets a custom logout endpoint path
func WithLogoutEndpoint(path string) ClientOption {
	return func(c *Client) {
		c.logoutEndpoint = path
	}
}

// WithCSRFHeaderName sets the header (and credential name) used for CSRF tokens
func WithCSRFHeaderName(name string) ClientOption {
	return func(c *Client) {
		c.csrfHeaderName = name
	}
}

// WithRememberDays sets how long refreshed tokens are kept
func WithRememberDays(days int) ClientOption {
	return func(c *Client) {
		c.rememberDays = days
	}
}

// WithCSRFDays sets how long fetched CSRF tokens are kept
func WithCSRFDays(days int) ClientOption {
	return func(c *Client) {
		c.csrfDays = days
	}
}

// WithNavigator installs the navigator used to redirect to the login surface
func WithNavigator(nav Navigator) ClientOption {
	return func(c *Client) {
		c.navigator = nav
	}
}

// WithLoginPath sets the path the navigator is sent to on unrecoverable auth failure
func WithLoginPath(path string) ClientOption {
	return func(c *Client) {
		c.loginPath = path
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new authenticated client for the API at baseURL.
// A nil store defaults to an in-memory store.
func NewClient(baseURL string, store CredentialStore, opts ...ClientOption) *Client {
	if store == nil {
		store = NewMemoryStore()
	}

	c := &Client{
		store:           store,
		baseTransport:   http.DefaultTransport,
		refreshEndpoint: DefaultRefreshEndpoint,
		csrfEndpoint:    DefaultCSRFEndpoint,
		loginEndpoint:   DefaultLoginEndpoint,
		logoutEndpoint:  DefaultLogoutEndpoint,
		loginPath:       DefaultLoginPath,
		csrfHeaderName:  DefaultCSRFHeaderName,
		rememberDays:    DefaultRememberDays,
		csrfDays:        DefaultCSRFDays,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.jar == nil {
		// cookiejar.New never returns an error
		c.jar, _ = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	}

	c.SetBaseURL(baseURL)
	return c
}

// SetBaseURL rebinds the client to a new API base URL. The decorated transport is
// rebuilt and the CSRF fetch-once cache starts clean; a refresh already in flight
// is unaffected.
func (c *Client) SetBaseURL(baseURL string) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")

	t := &authTransport{
		client:  c,
		base:    c.baseTransport,
		baseURL: baseURL,
		csrf:    &singleflight.Group{},
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = baseURL
	c.transport = t
	c.httpClient = &http.Client{
		Transport:     t,
		Jar:           c.jar,
		Timeout:       c.timeout,
		CheckRedirect: c.checkRedirect,
	}
	c.anonClient = &http.Client{
		Transport:     t,
		Timeout:       c.timeout,
		CheckRedirect: c.checkRedirect,
	}
}

// BaseURL returns the API base URL this client is bound to
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// HTTPClient returns the underlying HTTP client with auth handling
func (c *Client) HTTPClient() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient
}

// Store returns the credential store
func (c *Client) Store() CredentialStore {
	return c.store
}

// Do sends a prepared request through the decorated client
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.HTTPClient().Do(req)
}

func (c *Client) currentTransport() *authTransport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

// URL resolves a path against the base URL. Absolute URLs are returned unchanged.
func (c *Client) URL(path string) string {
	return resolveURL(c.BaseURL(), path)
}

func resolveURL(baseURL, path string) string {
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path
	}
	if path == "" {
		return baseURL
	}
	return baseURL + "/" + strings.TrimPrefix(path, "/")
}

// bareClient is an HTTP client that bypasses the auth interceptors. It is used for
// the refresh and CSRF calls so a 401 there can never recurse into another refresh.
func (c *Client) bareClient(transport http.RoundTripper) *http.Client {
	if transport == nil {
		transport = c.baseTransport
	}
	return &http.Client{
		Transport: transport,
		Jar:       c.jar,
		Timeout:   c.timeout,
	}
}

// credentialOptions returns the options new credentials are stored with
func (c *Client) credentialOptions(days int) CredentialOptions {
	return CredentialOptions{
		Days:     days,
		Path:     "/",
		SameSite: SameSiteLax,
		Secure:   strings.HasPrefix(c.BaseURL(), "https://"),
	}
}

// AccessToken returns the stored access token, falling back to the legacy auth token
func (c *Client) AccessToken() string {
	if token := credentialValue(c.store, CredentialAccessToken); token != "" {
		return token
	}
	return credentialValue(c.store, CredentialAuthToken)
}

// IsLoggedIn returns true if an access or refresh token is available
func (c *Client) IsLoggedIn() bool {
	return c.AccessToken() != "" || credentialValue(c.store, CredentialRefreshToken) != ""
}

// ExpireSession clears the session credentials and, in a browser-like environment
// not already on the login page, redirects to it.
func (c *Client) ExpireSession() {
	c.clearSession()
	if c.navigator != nil && c.navigator.CurrentPath() != c.loginPath {
		c.logger.Info("session expired, redirecting to login", "path", c.loginPath)
		c.navigator.Redirect(c.loginPath)
	}
}

func (c *Client) clearSession() {
	for _, name := range []string{CredentialAccessToken, CredentialRefreshToken, CredentialAuthToken} {
		if err := c.store.RemoveCredential(name); err != nil {
			c.logger.Warn("failed to remove credential", "name", name, "error", err)
		}
	}
	if err := c.store.Save(); err != nil {
		c.logger.Warn("failed to save credentials", "error", err)
	}
}

// Request sends a request to path (relative to the base URL) and returns the
// buffered response. Non-2xx responses are returned as *RequestError.
func (c *Client) Request(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error) {
	ro := newRequestOptions()
	for _, opt := range opts {
		opt(ro)
	}

	if ro.omitCredentials {
		ctx = context.WithValue(ctx, omitCookiesKey{}, true)
	}
	req, err := c.newRequest(ctx, method, path, ro)
	if err != nil {
		return nil, err
	}

	hc := c.HTTPClient()
	if ro.omitCredentials {
		c.mu.RLock()
		hc = c.anonClient
		c.mu.RUnlock()
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, newTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp.StatusCode, body)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, opts...)
}

// Delete sends a DELETE request
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, path, opts...)
}

// Post sends a POST request with the given body
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, append([]RequestOption{WithBody(body)}, opts...)...)
}

// Put sends a PUT request with the given body
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPut, path, append([]RequestOption{WithBody(body)}, opts...)...)
}

// Patch sends a PATCH request with the given body
func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Request(ctx, http.MethodPatch, path, append([]RequestOption{WithBody(body)}, opts...)...)
}

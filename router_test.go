package adminauth_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oa "github.com/panyam/adminauth"
	"github.com/panyam/adminauth/client"
	"github.com/panyam/adminauth/stores/memory"
)

type testServer struct {
	*httptest.Server
	refreshCalls atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	adminStore := memory.NewAdminStore()
	createAdmin := oa.NewCreateAdminFunc(adminStore, nil)
	_, err := createAdmin(&oa.AdminCredentials{Email: testEmail, Name: "Ops", Password: testPassword})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := oa.NewRouter(oa.RouterConfig{
		Auth: &oa.APIAuth{
			AdminStore:        adminStore,
			RefreshTokenStore: memory.NewRefreshTokenStore(),
			JWTSecretKey:      testSecret,
		},
		Logger: logger,
	})
	router.API().HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"data":{"admins":1}}`)
	}).Methods(http.MethodGet)
	router.API().HandleFunc("/notes", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
	}).Methods(http.MethodPost)

	ts := &testServer{}
	handler := router.Handler()
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == oa.DefaultRefreshPath {
			ts.refreshCalls.Add(1)
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newClient(ts *testServer) *client.Client {
	return client.NewClient(ts.URL, client.NewMemoryStore(),
		client.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestRouterCSRFToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + oa.DefaultCSRFPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"headerName":"X-XSRF-TOKEN"`)

	var csrfCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == oa.DefaultCSRFHeaderName {
			csrfCookie = c
		}
	}
	require.NotNil(t, csrfCookie, "expected readable CSRF cookie")
	assert.False(t, csrfCookie.HttpOnly)
}

func TestRouterRejectsUnsafeRequestWithoutCSRF(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+oa.DefaultLoginPath, "application/json",
		strings.NewReader(`{"email":"ops@example.com","password":"password123"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Invalid CSRF token")
}

func TestRouterUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestClientLoginAndMe(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts)
	ctx := context.Background()

	session, err := c.Login(ctx, testEmail, testPassword, true)
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	require.NotNil(t, session.Admin)
	assert.Equal(t, testEmail, session.Admin.Email)
	assert.True(t, c.IsLoggedIn())

	me, err := c.Me(ctx, oa.DefaultMePath)
	require.NoError(t, err)
	assert.Equal(t, testEmail, me.Email)

	resp, err := c.Post(ctx, "/api/admin/notes", map[string]string{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.JSONEq(t, `{"text":"hello"}`, string(resp.Body))
}

func TestClientWrongPasswordIsNormalized(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts)

	_, err := c.Login(context.Background(), testEmail, "wrong-password", false)
	require.Error(t, err)

	reqErr, ok := client.AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	assert.Equal(t, "Invalid email or password", reqErr.Message)
	assert.Equal(t, int32(0), ts.refreshCalls.Load(), "a failed login must not trigger a refresh")
}

func TestClientRecoversExpiredAccessToken(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts)
	ctx := context.Background()

	_, err := c.Login(ctx, testEmail, testPassword, false)
	require.NoError(t, err)

	// Simulate an access token the server no longer accepts
	require.NoError(t, c.Store().SetCredential(client.CredentialAccessToken, "expired", client.CredentialOptions{}))

	resp, err := c.Get(ctx, "/api/admin/stats")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"admins": float64(1)}, resp.Data())
	assert.Equal(t, int32(1), ts.refreshCalls.Load())
	assert.NotEqual(t, "expired", c.AccessToken())
}

func TestClientConcurrentRequestsShareOneRefresh(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts)
	ctx := context.Background()

	_, err := c.Login(ctx, testEmail, testPassword, false)
	require.NoError(t, err)
	require.NoError(t, c.Store().SetCredential(client.CredentialAccessToken, "expired", client.CredentialOptions{}))

	const n = 6
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(ctx, "/api/admin/stats"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("request failed: %v", err)
	}
	// A second rotation would present a revoked token and end the session
	assert.Equal(t, int32(1), ts.refreshCalls.Load())
	assert.True(t, c.IsLoggedIn())
}

func TestClientLogoutRevokesRefreshToken(t *testing.T) {
	ts := newTestServer(t)
	c := newClient(ts)
	ctx := context.Background()

	session, err := c.Login(ctx, testEmail, testPassword, false)
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))
	assert.False(t, c.IsLoggedIn())

	// The server no longer honours the old refresh token
	require.NoError(t, c.Store().SetCredential(client.CredentialRefreshToken, session.RefreshToken, client.CredentialOptions{}))
	_, ok := c.RefreshAccessToken(ctx)
	assert.False(t, ok)
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNavigator struct {
	mu        sync.Mutex
	current   string
	redirects []string
}

func (n *mockNavigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *mockNavigator) Redirect(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.redirects = append(n.redirects, path)
	n.current = path
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func seededStore(t *testing.T, access, refresh string) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	if access != "" {
		require.NoError(t, store.SetCredential(CredentialAccessToken, access, CredentialOptions{}))
	}
	if refresh != "" {
		require.NoError(t, store.SetCredential(CredentialRefreshToken, refresh, CredentialOptions{}))
	}
	return store
}

func newTestClient(baseURL string, store CredentialStore, opts ...ClientOption) *Client {
	return NewClient(baseURL, store, append([]ClientOption{WithLogger(discardLogger())}, opts...)...)
}

func TestClient_AttachesBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer a1" {
			t.Errorf("Authorization = %q, want Bearer a1", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"count": 3}})
	}))
	defer server.Close()

	c := newTestClient(server.URL, seededStore(t, "a1", ""))
	resp, err := c.Get(context.Background(), "/api/admin/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, map[string]any{"count": float64(3)}, resp.Data())
}

func TestClient_FallsBackToAuthToken(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := NewMemoryStore()
	require.NoError(t, store.SetCredential(CredentialAuthToken, "legacy", CredentialOptions{}))

	c := newTestClient(server.URL, store)
	_, err := c.Get(context.Background(), "/api/x")
	require.NoError(t, err)
	assert.Equal(t, "Bearer legacy", got.Load())
}

func TestClient_SingleFlightRefresh(t *testing.T) {
	const n = 8
	var refreshCalls, unauthorized atomic.Int32
	var retriedWith sync.Map

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DefaultRefreshEndpoint:
			refreshCalls.Add(1)
			if got := r.Header.Get("Authorization"); got != "Bearer r1" {
				t.Errorf("refresh Authorization = %q, want Bearer r1", got)
			}
			// Hold the refresh until every original request has been rejected
			deadline := time.Now().Add(2 * time.Second)
			for unauthorized.Load() < n && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			time.Sleep(50 * time.Millisecond)
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"accessToken": "new", "refreshToken": "r2"}})
		case "/api/data":
			auth := r.Header.Get("Authorization")
			if auth != "Bearer new" {
				unauthorized.Add(1)
				writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "expired"})
				return
			}
			retriedWith.Store(r.URL.Query().Get("i"), auth)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		}
	}))
	defer server.Close()

	store := seededStore(t, "old", "r1")
	c := newTestClient(server.URL, store)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Get(context.Background(), "/api/data", WithQuery("i", string(rune('a'+i))))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), refreshCalls.Load())

	count := 0
	retriedWith.Range(func(_, v any) bool {
		count++
		assert.Equal(t, "Bearer new", v)
		return true
	})
	assert.Equal(t, n, count)
	assert.Equal(t, "new", credentialValue(store, CredentialAccessToken))
	assert.Equal(t, "r2", credentialValue(store, CredentialRefreshToken))
}

func TestClient_SingleFlightCSRF(t *testing.T) {
	const n = 6
	var csrfCalls atomic.Int32
	var seen sync.Map

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DefaultCSRFEndpoint:
			csrfCalls.Add(1)
			time.Sleep(50 * time.Millisecond)
			writeJSON(w, http.StatusOK, map[string]any{"token": "csrf-1"})
		case "/api/items":
			seen.Store(r.URL.Query().Get("i"), r.Header.Get(DefaultCSRFHeaderName))
			writeJSON(w, http.StatusCreated, map[string]any{"success": true})
		}
	}))
	defer server.Close()

	store := seededStore(t, "a1", "")
	c := newTestClient(server.URL, store)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Post(context.Background(), "/api/items", map[string]int{"i": i}, WithQuery("i", string(rune('a'+i))))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), csrfCalls.Load())
	count := 0
	seen.Range(func(_, v any) bool {
		count++
		assert.Equal(t, "csrf-1", v)
		return true
	})
	assert.Equal(t, n, count)
	assert.Equal(t, "csrf-1", credentialValue(store, DefaultCSRFHeaderName))
}

func TestClient_CSRFStoredTokenSkipsFetch(t *testing.T) {
	var csrfCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == DefaultCSRFEndpoint {
			csrfCalls.Add(1)
		}
		if r.Method == http.MethodGet && r.Header.Get(DefaultCSRFHeaderName) != "" {
			t.Errorf("GET request carried a CSRF header")
		}
		if r.Method == http.MethodDelete && r.Header.Get(DefaultCSRFHeaderName) != "stored" {
			t.Errorf("CSRF header = %q, want stored", r.Header.Get(DefaultCSRFHeaderName))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := NewMemoryStore()
	require.NoError(t, store.SetCredential(DefaultCSRFHeaderName, "stored", CredentialOptions{Days: 1}))

	c := newTestClient(server.URL, store)
	_, err := c.Get(context.Background(), "/api/items")
	require.NoError(t, err)
	_, err = c.Delete(context.Background(), "/api/items/1")
	require.NoError(t, err)
	assert.Equal(t, int32(0), csrfCalls.Load())
}

func TestClient_CSRFFailureDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DefaultCSRFEndpoint:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			if r.Header.Get(DefaultCSRFHeaderName) != "" {
				t.Errorf("unexpected CSRF header")
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL, nil)
	_, err := c.Put(context.Background(), "/api/items/1", map[string]string{"name": "x"})
	assert.NoError(t, err)
	assert.Nil(t, c.FetchCSRFTokenOnce(context.Background()))
}

func TestClient_CSRFHeaderNameFromServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"_csrf": "c9"}, "headerName": "X-CSRF-Token"})
	}))
	defer server.Close()

	store := NewMemoryStore()
	c := newTestClient(server.URL, store)

	token := c.FetchCSRFTokenOnce(context.Background())
	require.NotNil(t, token)
	assert.Equal(t, "c9", token.Token)
	assert.Equal(t, "X-CSRF-Token", token.HeaderName)
	assert.Equal(t, "c9", credentialValue(store, "X-CSRF-Token"))
}

func TestClient_NoDoubleRetry(t *testing.T) {
	var dataCalls, refreshCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DefaultRefreshEndpoint:
			refreshCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": "new"})
		default:
			dataCalls.Add(1)
			writeJSON(w, http.StatusForbidden, map[string]any{"message": "forbidden"})
		}
	}))
	defer server.Close()

	store := seededStore(t, "old", "r1")
	c := newTestClient(server.URL, store)

	_, err := c.Get(context.Background(), "/api/admin/users")
	reqErr, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, reqErr.Status)
	assert.Equal(t, "forbidden", reqErr.Message)
	assert.Equal(t, int32(2), dataCalls.Load())
	assert.Equal(t, int32(1), refreshCalls.Load())
	// Refresh succeeded, so the session survives
	assert.Equal(t, "new", credentialValue(store, CredentialAccessToken))
}

func TestClient_RefreshWithoutRefreshToken(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	c := newTestClient(server.URL, seededStore(t, "a1", ""))
	token, ok := c.RefreshAccessToken(context.Background())
	assert.False(t, ok)
	assert.Empty(t, token)
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_RefreshEndpointNeverRecurses(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		if r.Header.Get(DefaultCSRFHeaderName) != "" {
			t.Errorf("refresh endpoint received a CSRF header")
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "invalid refresh token"})
	}))
	defer server.Close()

	store := seededStore(t, "a1", "r1")
	c := newTestClient(server.URL, store)

	_, err := c.Post(context.Background(), DefaultRefreshEndpoint, nil)
	reqErr, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, "r1", credentialValue(store, CredentialRefreshToken))
}

func TestClient_UnrecoverableAuthClearsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
	}))
	defer server.Close()

	tests := []struct {
		name          string
		currentPath   string
		wantRedirects []string
	}{
		{"redirects to login", "/admin/users", []string{"/login"}},
		{"already on login", "/login", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seededStore(t, "old", "r1")
			require.NoError(t, store.SetCredential(CredentialAuthToken, "legacy", CredentialOptions{}))
			nav := &mockNavigator{current: tt.currentPath}
			c := newTestClient(server.URL, store, WithNavigator(nav))

			_, err := c.Get(context.Background(), "/api/admin/users")
			reqErr, ok := AsRequestError(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusUnauthorized, reqErr.Status)

			names, _ := store.ListNames()
			assert.Empty(t, names)
			assert.Equal(t, tt.wantRedirects, nav.redirects)
		})
	}
}

func TestClient_CSRFBypassForAuthEndpoints(t *testing.T) {
	var csrfCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == DefaultCSRFEndpoint {
			csrfCalls.Add(1)
		}
		if r.Header.Get(DefaultCSRFHeaderName) != "" {
			t.Errorf("%s received a CSRF header", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": "t"})
	}))
	defer server.Close()

	c := newTestClient(server.URL, NewMemoryStore())
	_, err := c.Post(context.Background(), DefaultRefreshEndpoint, nil)
	require.NoError(t, err)
	_, err = c.Post(context.Background(), DefaultCSRFEndpoint, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), csrfCalls.Load(), "only the direct POST to the CSRF endpoint")
}

func TestClient_ErrorNormalization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "X"})
	}))
	defer server.Close()

	c := newTestClient(server.URL, nil)
	_, err := c.Get(context.Background(), "/api/items")
	reqErr, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, 422, reqErr.Status)
	assert.Equal(t, "X", reqErr.Message)
	assert.Equal(t, map[string]any{"message": "X"}, reqErr.Data)
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(url, nil)
	_, err := c.Get(context.Background(), "/api/items")
	reqErr, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, 0, reqErr.Status)
	assert.Contains(t, reqErr.Message, "network error")
	assert.NotNil(t, reqErr.Err)
}

func TestClient_RetryCarriesRefreshedToken(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DefaultRefreshEndpoint:
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"accessToken": "new123"}})
		default:
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			seen = append(seen, r.Header.Get("Authorization")+" "+string(body))
			mu.Unlock()
			if r.Header.Get("Authorization") != "Bearer new123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		}
	}))
	defer server.Close()

	store := seededStore(t, "", "r1")
	require.NoError(t, store.SetCredential(DefaultCSRFHeaderName, "c1", CredentialOptions{}))
	c := newTestClient(server.URL, store)

	_, err := c.Patch(context.Background(), "/api/admin/settings", []byte(`{"a":1}`),
		WithHeader("Authorization", "Bearer old"), WithContentType("application/json"))
	require.NoError(t, err)

	assert.Equal(t, []string{`Bearer old {"a":1}`, `Bearer new123 {"a":1}`}, seen)
	assert.Equal(t, "new123", credentialValue(store, CredentialAccessToken))
	// No refresh token in the response, so the old one is kept
	assert.Equal(t, "r1", credentialValue(store, CredentialRefreshToken))
}

func TestClient_ExplicitHeaderStillRefreshes(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == DefaultRefreshEndpoint:
			refreshCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"accessToken": "new123"}})
		case r.Header.Get("Authorization") == "Bearer new123":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	store := seededStore(t, "expired-too", "r1")
	c := newTestClient(server.URL, store)
	_, err := c.Get(context.Background(), "/api/items", WithHeader("Authorization", "Bearer old"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, "new123", credentialValue(store, CredentialAccessToken))
}

func TestClient_RefreshedElsewhereRetriesWithoutRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	var c *Client
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == DefaultRefreshEndpoint:
			refreshCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": "current"})
		case r.Header.Get("Authorization") == "Bearer current":
			w.WriteHeader(http.StatusOK)
		default:
			// Another caller finishes a refresh while this response is in flight
			if _, ok := c.RefreshAccessToken(context.Background()); !ok {
				t.Error("concurrent refresh failed")
			}
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	store := seededStore(t, "stale", "r1")
	c = newTestClient(server.URL, store)
	_, err := c.Get(context.Background(), "/api/items")
	require.NoError(t, err)
	assert.Equal(t, int32(1), refreshCalls.Load())
}

func TestClient_RejectedNewerTokenFallsBackToRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	var c *Client
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == DefaultRefreshEndpoint:
			if refreshCalls.Add(1) == 1 {
				writeJSON(w, http.StatusOK, map[string]any{"accessToken": "current"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": "fresh"})
		case r.Header.Get("Authorization") == "Bearer fresh":
			w.WriteHeader(http.StatusOK)
		case r.Header.Get("Authorization") == "Bearer stale":
			if _, ok := c.RefreshAccessToken(context.Background()); !ok {
				t.Error("concurrent refresh failed")
			}
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	store := seededStore(t, "stale", "r1")
	c = newTestClient(server.URL, store)
	_, err := c.Get(context.Background(), "/api/items")
	require.NoError(t, err)
	assert.Equal(t, int32(2), refreshCalls.Load())
	assert.Equal(t, "fresh", credentialValue(store, CredentialAccessToken))
}

func TestClient_RedirectAfterRetryDoesNotRefreshAgain(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == DefaultRefreshEndpoint:
			refreshCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": "new123"})
		case r.URL.Path == "/api/items" && r.Header.Get("Authorization") == "Bearer new123":
			http.Redirect(w, r, "/api/moved", http.StatusFound)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL, seededStore(t, "old", "r1"))
	_, err := c.Get(context.Background(), "/api/items")
	reqErr, ok := AsRequestError(err)
	require.True(t, ok, "err = %v", err)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	assert.Equal(t, int32(1), refreshCalls.Load())
}

func TestClient_CancelledWaiterLeavesRefreshRunning(t *testing.T) {
	var refreshCalls atomic.Int32
	refreshStarted := make(chan struct{})
	releaseRefresh := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DefaultRefreshEndpoint:
			if refreshCalls.Add(1) == 1 {
				close(refreshStarted)
			}
			<-releaseRefresh
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": "new"})
		default:
			if r.Header.Get("Authorization") != "Bearer new" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	store := seededStore(t, "old", "r1")
	c := newTestClient(server.URL, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "/api/a")
		cancelled <- err
	}()

	<-refreshStarted
	patient := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "/api/b")
		patient <- err
	}()

	cancel()
	err := <-cancelled
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)

	close(releaseRefresh)
	assert.NoError(t, <-patient)
	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, "new", credentialValue(store, CredentialAccessToken))
	assert.Equal(t, "r1", credentialValue(store, CredentialRefreshToken))
}

func TestClient_SetBaseURLStartsCleanCSRFCache(t *testing.T) {
	releaseA := make(chan struct{})
	startedA := make(chan struct{})
	serverA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(startedA)
		<-releaseA
		writeJSON(w, http.StatusOK, map[string]any{"token": "from-a"})
	}))
	defer serverA.Close()

	serverB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"token": "from-b"})
	}))
	defer serverB.Close()

	c := newTestClient(serverA.URL, NewMemoryStore())

	resultA := make(chan *CSRFToken, 1)
	go func() {
		resultA <- c.FetchCSRFTokenOnce(context.Background())
	}()
	<-startedA

	c.SetBaseURL(serverB.URL)
	tokenB := c.FetchCSRFTokenOnce(context.Background())
	require.NotNil(t, tokenB)
	assert.Equal(t, "from-b", tokenB.Token)

	close(releaseA)
	tokenA := <-resultA
	require.NotNil(t, tokenA)
	assert.Equal(t, "from-a", tokenA.Token)
}

func TestClient_LoginAndLogout(t *testing.T) {
	var revoked atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DefaultCSRFEndpoint:
			writeJSON(w, http.StatusOK, map[string]any{"token": "c1"})
		case DefaultLoginEndpoint:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["password"] != "secret" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
				return
			}
			if r.Header.Get(DefaultCSRFHeaderName) != "c1" {
				t.Errorf("login missing CSRF header")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data": map[string]any{
					"accessToken":  "a1",
					"refreshToken": "r1",
					"expiresIn":    900,
					"admin":        map[string]any{"id": "adm-1", "email": "root@example.com", "role": "super_admin"},
				},
			})
		case DefaultLogoutEndpoint:
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			revoked.Store(body["refreshToken"])
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		}
	}))
	defer server.Close()

	store := NewMemoryStore()
	nav := &mockNavigator{current: "/login"}
	c := newTestClient(server.URL, store, WithNavigator(nav))

	_, err := c.Login(context.Background(), "root@example.com", "wrong", false)
	reqErr, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid credentials", reqErr.Message)
	assert.False(t, c.IsLoggedIn())

	session, err := c.Login(context.Background(), "root@example.com", "secret", true)
	require.NoError(t, err)
	assert.Equal(t, "a1", session.AccessToken)
	assert.Equal(t, 900, session.ExpiresIn)
	require.NotNil(t, session.Admin)
	assert.Equal(t, "super_admin", session.Admin.Role)
	assert.True(t, c.IsLoggedIn())

	cred, _ := store.GetCredential(CredentialRefreshToken)
	require.NotNil(t, cred)
	assert.WithinDuration(t, time.Now().Add(DefaultRememberDays*24*time.Hour), cred.ExpiresAt, time.Minute)

	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, "r1", revoked.Load())
	assert.False(t, c.IsLoggedIn())
	assert.Empty(t, nav.redirects)
}

func TestClient_FailedLoginKeepsCredentials(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DefaultCSRFEndpoint:
			writeJSON(w, http.StatusOK, map[string]any{"token": "c1"})
		case DefaultRefreshEndpoint:
			refreshCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": "new123"})
		case DefaultLoginEndpoint:
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
		}
	}))
	defer server.Close()

	store := seededStore(t, "a0", "r0")
	nav := &mockNavigator{current: "/login"}
	c := newTestClient(server.URL, store, WithNavigator(nav))

	_, err := c.Login(context.Background(), "root@example.com", "wrong", false)
	reqErr, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	assert.Equal(t, int32(0), refreshCalls.Load())
	assert.Equal(t, "a0", credentialValue(store, CredentialAccessToken))
	assert.Equal(t, "r0", credentialValue(store, CredentialRefreshToken))
	assert.Empty(t, nav.redirects)
}

func TestClient_TokenSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "fresh"})
	}))
	defer server.Close()

	// Opaque tokens never expire from the token source's point of view
	c := newTestClient(server.URL, seededStore(t, "opaque", "r1"))
	tok, err := c.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, "opaque", tok.AccessToken)

	c = newTestClient(server.URL, seededStore(t, "", "r1"))
	tok, err = c.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)

	c = newTestClient(server.URL, NewMemoryStore())
	_, err = c.TokenSource(context.Background()).Token()
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

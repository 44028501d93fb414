package adminauth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexedwards/scs/v2"

	oa "github.com/panyam/adminauth"
)

func TestCSRFProtect(t *testing.T) {
	session := scs.New()
	csrf := &oa.CSRF{Session: session, ExemptPaths: []string{"/refresh"}}

	mux := http.NewServeMux()
	mux.HandleFunc("/csrf", csrf.HandleToken)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := session.LoadAndSave(csrf.Protect(mux))

	// Fetch a token and keep the session cookie
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/csrf", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 from token endpoint, got %d", rr.Code)
	}
	var body struct {
		Success    bool   `json:"success"`
		Token      string `json:"token"`
		HeaderName string `json:"headerName"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Token == "" || body.HeaderName != oa.DefaultCSRFHeaderName {
		t.Fatalf("Unexpected token response %+v", body)
	}

	var sessionCookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == session.Cookie.Name {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("Expected a session cookie")
	}

	send := func(method, path, token string, withSession bool) int {
		req := httptest.NewRequest(method, path, nil)
		if withSession {
			req.AddCookie(sessionCookie)
		}
		if token != "" {
			req.Header.Set(oa.DefaultCSRFHeaderName, token)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	tests := []struct {
		name        string
		method      string
		path        string
		token       string
		withSession bool
		expected    int
	}{
		{"safe method skips check", http.MethodGet, "/data", "", false, http.StatusNoContent},
		{"matching token", http.MethodPost, "/data", body.Token, true, http.StatusNoContent},
		{"missing header", http.MethodPost, "/data", "", true, http.StatusForbidden},
		{"wrong token", http.MethodDelete, "/data", "not-the-token", true, http.StatusForbidden},
		{"token without session", http.MethodPut, "/data", body.Token, false, http.StatusForbidden},
		{"exempt path", http.MethodPost, "/refresh/", "", false, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := send(tt.method, tt.path, tt.token, tt.withSession); got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
		})
	}

	// The same session keeps its token
	req := httptest.NewRequest(http.MethodGet, "/csrf", nil)
	req.AddCookie(sessionCookie)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	var again struct {
		Token string `json:"token"`
	}
	json.Unmarshal(rr.Body.Bytes(), &again)
	if again.Token != body.Token {
		t.Errorf("Expected stable token per session, got %q then %q", body.Token, again.Token)
	}
}

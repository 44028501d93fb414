// Package jar provides a credential store backed by an http.CookieJar.
//
// Credentials are cookies scoped to the API's base URL, so a client sharing the
// jar (client.WithCookieJar) sends them to the server and sees cookies the
// server sets, the way a browser session does.
package jar

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/panyam/adminauth/client"
)

// CookieStore is a client.CredentialStore over a cookie jar
type CookieStore struct {
	jar  http.CookieJar
	site *url.URL
}

// NewCookieStore creates a store for baseURL. A nil jar gets a fresh jar using the
// public suffix list.
func NewCookieStore(baseURL string, jar http.CookieJar) (*CookieStore, error) {
	site, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if site.Scheme == "" || site.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}
	site = &url.URL{Scheme: site.Scheme, Host: site.Host, Path: "/"}

	if jar == nil {
		jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
	}

	return &CookieStore{jar: jar, site: site}, nil
}

// Jar returns the underlying cookie jar, to be shared with the HTTP client
func (s *CookieStore) Jar() http.CookieJar {
	return s.jar
}

// GetCredential returns the cookie with the given name. The jar does not expose
// cookie attributes, so only the name and value are set.
func (s *CookieStore) GetCredential(name string) (*client.Credential, error) {
	for _, cookie := range s.jar.Cookies(s.site) {
		if cookie.Name == name {
			return &client.Credential{Name: cookie.Name, Value: cookie.Value, Path: "/"}, nil
		}
	}
	return nil, nil
}

// SetCredential stores a credential as a cookie
func (s *CookieStore) SetCredential(name, value string, opts client.CredentialOptions) error {
	cred := client.NewCredential(name, value, opts)
	cookie := &http.Cookie{
		Name:     cred.Name,
		Value:    cred.Value,
		Path:     cred.Path,
		Secure:   cred.Secure,
		SameSite: cred.SameSite.HTTP(),
	}
	if !cred.ExpiresAt.IsZero() {
		cookie.Expires = cred.ExpiresAt
	}
	s.jar.SetCookies(s.site, []*http.Cookie{cookie})
	return nil
}

// RemoveCredential expires the cookie
func (s *CookieStore) RemoveCredential(name string) error {
	s.jar.SetCookies(s.site, []*http.Cookie{{
		Name:    name,
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	}})
	return nil
}

// ListNames returns the names of all cookies visible to the base URL
func (s *CookieStore) ListNames() ([]string, error) {
	cookies := s.jar.Cookies(s.site)
	names := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		names = append(names, cookie.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Save is a no-op: the jar holds cookies in memory
func (s *CookieStore) Save() error {
	return nil
}

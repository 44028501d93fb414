// Package client provides the authenticated HTTP client used by the admin dashboard.
// It includes credential storage, single-flight token refresh, CSRF token handling
// and the normalized request errors the UI layer displays.
package client

import (
	"net/http"
	"time"
)

// Well-known credential names
const (
	CredentialAccessToken  = "access_token"
	CredentialRefreshToken = "refresh_token"
	CredentialAuthToken    = "auth_token"

	// DefaultCSRFHeaderName is both the header the CSRF token is sent in and the
	// credential name it is stored under, unless the server names another header.
	DefaultCSRFHeaderName = "X-XSRF-TOKEN"
)

// SameSite mirrors the cookie SameSite attribute for stored credentials
type SameSite string

const (
	SameSiteLax    SameSite = "lax"
	SameSiteStrict SameSite = "strict"
	SameSiteNone   SameSite = "none"
)

// HTTP converts the attribute to its net/http value
func (s SameSite) HTTP() http.SameSite {
	switch s {
	case SameSiteStrict:
		return http.SameSiteStrictMode
	case SameSiteNone:
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// Credential is a single named secret held by a CredentialStore
type Credential struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Path      string    `json:"path,omitempty"`
	SameSite  SameSite  `json:"same_site,omitempty"`
	Secure    bool      `json:"secure,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"` // zero means session credential
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired returns true if the credential has an expiry and it has passed
func (c *Credential) IsExpired() bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(c.ExpiresAt)
}

// CredentialOptions controls how a credential is stored
type CredentialOptions struct {
	Days     int      // expiry in days, 0 for a session credential
	Path     string   // defaults to "/"
	SameSite SameSite // defaults to lax
	Secure   bool
}

// NewCredential builds a credential from a name, value and options, applying defaults
func NewCredential(name, value string, opts CredentialOptions) *Credential {
	now := time.Now()
	cred := &Credential{
		Name:      name,
		Value:     value,
		Path:      opts.Path,
		SameSite:  opts.SameSite,
		Secure:    opts.Secure,
		CreatedAt: now,
	}
	if cred.Path == "" {
		cred.Path = "/"
	}
	if cred.SameSite == "" {
		cred.SameSite = SameSiteLax
	}
	if opts.Days > 0 {
		cred.ExpiresAt = now.Add(time.Duration(opts.Days) * 24 * time.Hour)
	}
	return cred
}

// CredentialStore defines the interface for storing and retrieving named credentials.
// Writes must be idempotent and last-writer-wins.
type CredentialStore interface {
	// GetCredential retrieves a credential by name
	// Returns nil, nil if the credential does not exist or has expired
	GetCredential(name string) (*Credential, error)

	// SetCredential stores (or overwrites) a credential
	SetCredential(name, value string, opts CredentialOptions) error

	// RemoveCredential removes a credential; removing a missing credential is not an error
	RemoveCredential(name string) error

	// ListNames returns the names of all live credentials
	ListNames() ([]string, error)

	// Save persists any pending changes (for stores that batch writes)
	Save() error
}

// credentialValue reads a credential value, treating lookup errors as absence
func credentialValue(store CredentialStore, name string) string {
	cred, err := store.GetCredential(name)
	if err != nil || cred == nil {
		return ""
	}
	return cred.Value
}

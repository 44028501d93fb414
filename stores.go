package adminauth

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrTokenNotFound = errors.New("refresh token not found")
	ErrTokenExpired  = errors.New("refresh token expired")
	ErrTokenReused   = errors.New("refresh token reused")
	ErrAdminNotFound = errors.New("admin not found")
	ErrAdminExists   = errors.New("admin already exists")
)

// Admin is an account allowed to sign in to the admin dashboard
type Admin struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Role         string    `json:"role,omitempty"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Active       bool      `json:"active"`
	Scopes       []string  `json:"scopes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastLoginAt  time.Time `json:"last_login_at,omitempty"`
}

// Profile is the public view of an admin, safe to return to clients
func (a *Admin) Profile() map[string]any {
	return map[string]any{
		"id":     a.ID,
		"email":  a.Email,
		"name":   a.Name,
		"role":   a.Role,
		"scopes": a.Scopes,
	}
}

// NormalizeEmail lowercases and trims an email so lookups are case-insensitive
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AdminStore manages admin accounts
type AdminStore interface {
	// CreateAdmin stores a new admin. Returns ErrAdminExists if the email is taken.
	CreateAdmin(admin *Admin) error

	// GetAdminByID returns ErrAdminNotFound if there is no such admin
	GetAdminByID(id string) (*Admin, error)

	// GetAdminByEmail looks up an admin by normalized email
	GetAdminByEmail(email string) (*Admin, error)

	// SaveAdmin updates an existing admin (upsert)
	SaveAdmin(admin *Admin) error
}

// RefreshToken is a long-lived, rotating credential used to mint access tokens.
// Only the SHA-256 hash of the token is persisted.
type RefreshToken struct {
	Token      string         `json:"-"` // plaintext, only set when issued
	TokenHash  string         `json:"token_hash"`
	AdminID    string         `json:"admin_id"`
	DeviceInfo map[string]any `json:"device_info,omitempty"`
	Family     string         `json:"family"`
	Generation int            `json:"generation"`
	Scopes     []string       `json:"scopes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	LastUsedAt time.Time      `json:"last_used_at"`
	RevokedAt  *time.Time     `json:"revoked_at,omitempty"`
	Revoked    bool           `json:"revoked"`
}

// IsExpired checks if the token has expired
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsValid checks the token is neither revoked nor expired
func (t *RefreshToken) IsValid() bool {
	return !t.Revoked && !t.IsExpired()
}

// TTL is the lifetime the token was issued with; rotations keep it
func (t *RefreshToken) TTL() time.Duration {
	return t.ExpiresAt.Sub(t.CreatedAt)
}

// RefreshTokenStore manages refresh tokens for API access
type RefreshTokenStore interface {
	// CreateRefreshToken starts a new token family for an admin
	CreateRefreshToken(adminID string, ttl time.Duration, deviceInfo map[string]any, scopes []string) (*RefreshToken, error)

	// GetRefreshToken retrieves a refresh token by its value
	GetRefreshToken(token string) (*RefreshToken, error)

	// RotateRefreshToken invalidates old token and creates new one in same family
	// Returns ErrTokenReused if the old token was already revoked (theft detection)
	RotateRefreshToken(oldToken string) (*RefreshToken, error)

	// RevokeRefreshToken marks a token as revoked
	RevokeRefreshToken(token string) error

	// RevokeAdminTokens revokes all refresh tokens for an admin
	RevokeAdminTokens(adminID string) error

	// RevokeTokenFamily revokes all tokens in a family (theft detection)
	RevokeTokenFamily(family string) error

	// GetAdminTokens lists all active (non-revoked, non-expired) refresh tokens for an admin
	GetAdminTokens(adminID string) ([]*RefreshToken, error)

	// CleanupExpiredTokens removes expired tokens (for maintenance)
	CleanupExpiredTokens() error
}

package adminauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Default token expiry durations
const (
	TokenExpiryAccessToken  = 15 * time.Minute
	TokenExpiryRefreshToken = 7 * 24 * time.Hour
	TokenExpiryRememberMe   = 365 * 24 * time.Hour
	TokenExpiryCSRF         = 24 * time.Hour
)

// TokenPair is the data returned by the login and refresh endpoints
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"` // access token lifetime in seconds
	Scope        string `json:"scope,omitempty"`
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 of a token, the form tokens are stored in
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// NewTokenFamily returns an ID for a new refresh-token family
func NewTokenFamily() string {
	return uuid.NewString()
}

// NewAdminID returns an ID for a new admin
func NewAdminID() string {
	return uuid.NewString()
}

// NewRefreshToken builds a token issued at now. Stores call it for both new
// families (previous nil) and rotations.
func NewRefreshToken(adminID string, ttl time.Duration, deviceInfo map[string]any, scopes []string, previous *RefreshToken) (*RefreshToken, error) {
	token, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = TokenExpiryRefreshToken
	}

	now := time.Now()
	rt := &RefreshToken{
		Token:      token,
		TokenHash:  HashToken(token),
		AdminID:    adminID,
		DeviceInfo: deviceInfo,
		Family:     NewTokenFamily(),
		Generation: 1,
		Scopes:     scopes,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastUsedAt: now,
	}
	if previous != nil {
		rt.AdminID = previous.AdminID
		rt.DeviceInfo = previous.DeviceInfo
		rt.Scopes = previous.Scopes
		rt.Family = previous.Family
		rt.Generation = previous.Generation + 1
		rt.ExpiresAt = now.Add(previous.TTL())
	}
	return rt, nil
}

package fs

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	oa "github.com/panyam/adminauth"
)

// RefreshTokenStore stores refresh tokens as JSON files named by token hash
type RefreshTokenStore struct {
	StoragePath string
	mu          sync.RWMutex
}

// NewRefreshTokenStore creates a new file-based refresh token store
func NewRefreshTokenStore(storagePath string) *RefreshTokenStore {
	return &RefreshTokenStore{StoragePath: storagePath}
}

// getTokenDir returns the directory for refresh tokens
func (s *RefreshTokenStore) getTokenDir() string {
	return filepath.Join(s.StoragePath, "refresh_tokens")
}

func (s *RefreshTokenStore) getTokenPath(tokenHash string) string {
	return filepath.Join(s.getTokenDir(), tokenHash+".json")
}

// CreateRefreshToken starts a new token family for an admin
func (s *RefreshTokenStore) CreateRefreshToken(adminID string, ttl time.Duration, deviceInfo map[string]any, scopes []string) (*oa.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := oa.NewRefreshToken(adminID, ttl, deviceInfo, scopes, nil)
	if err != nil {
		return nil, err
	}
	if err := s.saveToken(token); err != nil {
		return nil, err
	}
	return token, nil
}

// saveToken saves a refresh token to disk. The plaintext never reaches the file.
func (s *RefreshTokenStore) saveToken(token *oa.RefreshToken) error {
	path := s.getTokenPath(token.TokenHash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}

	return writeAtomicFile(path, data)
}

// GetRefreshToken retrieves a refresh token by its value
func (s *RefreshTokenStore) GetRefreshToken(token string) (*oa.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getTokenUnsafe(token)
}

// getTokenUnsafe retrieves a token without locking (caller must hold lock)
func (s *RefreshTokenStore) getTokenUnsafe(token string) (*oa.RefreshToken, error) {
	data, err := os.ReadFile(s.getTokenPath(oa.HashToken(token)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, oa.ErrTokenNotFound
		}
		return nil, err
	}

	var refreshToken oa.RefreshToken
	if err := json.Unmarshal(data, &refreshToken); err != nil {
		return nil, err
	}
	refreshToken.Token = token

	return &refreshToken, nil
}

// RotateRefreshToken invalidates old token and creates new one in same family
// Returns ErrTokenReused if the old token was already revoked (theft detection)
func (s *RefreshTokenStore) RotateRefreshToken(oldToken string) (*oa.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.getTokenUnsafe(oldToken)
	if err != nil {
		return nil, err
	}

	// Check if already revoked (token reuse attack detection)
	if old.Revoked {
		return nil, oa.ErrTokenReused
	}

	if old.IsExpired() {
		return nil, oa.ErrTokenExpired
	}

	next, err := oa.NewRefreshToken(old.AdminID, 0, nil, nil, old)
	if err != nil {
		return nil, err
	}

	// Mark old token as revoked
	now := time.Now()
	old.Revoked = true
	old.RevokedAt = &now
	if err := s.saveToken(old); err != nil {
		return nil, err
	}

	if err := s.saveToken(next); err != nil {
		return nil, err
	}

	return next, nil
}

// RevokeRefreshToken marks a token as revoked
func (s *RefreshTokenStore) RevokeRefreshToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	refreshToken, err := s.getTokenUnsafe(token)
	if err != nil {
		if errors.Is(err, oa.ErrTokenNotFound) {
			return nil // Already gone
		}
		return err
	}

	if refreshToken.Revoked {
		return nil
	}

	now := time.Now()
	refreshToken.Revoked = true
	refreshToken.RevokedAt = &now
	return s.saveToken(refreshToken)
}

// RevokeAdminTokens revokes all refresh tokens for an admin
func (s *RefreshTokenStore) RevokeAdminTokens(adminID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revokeWhere(func(token *oa.RefreshToken) bool { return token.AdminID == adminID })
}

// RevokeTokenFamily revokes all tokens in a family (theft detection)
func (s *RefreshTokenStore) RevokeTokenFamily(family string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revokeWhere(func(token *oa.RefreshToken) bool { return token.Family == family })
}

func (s *RefreshTokenStore) revokeWhere(match func(token *oa.RefreshToken) bool) error {
	return s.forEachToken(func(token *oa.RefreshToken, path string) error {
		if !match(token) || token.Revoked {
			return nil
		}
		now := time.Now()
		token.Revoked = true
		token.RevokedAt = &now
		data, err := json.MarshalIndent(token, "", "  ")
		if err != nil {
			return err
		}
		return writeAtomicFile(path, data)
	})
}

// GetAdminTokens lists all active (non-revoked, non-expired) refresh tokens for an admin
func (s *RefreshTokenStore) GetAdminTokens(adminID string) ([]*oa.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []*oa.RefreshToken
	err := s.forEachToken(func(token *oa.RefreshToken, path string) error {
		if token.AdminID == adminID && token.IsValid() {
			tokens = append(tokens, token)
		}
		return nil
	})

	return tokens, err
}

// CleanupExpiredTokens removes expired tokens and tokens revoked more than a day ago
func (s *RefreshTokenStore) CleanupExpiredTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.forEachToken(func(token *oa.RefreshToken, path string) error {
		if token.IsExpired() || (token.Revoked && token.RevokedAt != nil && time.Since(*token.RevokedAt) > 24*time.Hour) {
			_ = os.Remove(path)
		}
		return nil
	})
}

// forEachToken iterates over all tokens in the store. Unreadable files are skipped.
func (s *RefreshTokenStore) forEachToken(fn func(token *oa.RefreshToken, path string) error) error {
	tokensDir := s.getTokenDir()
	entries, err := os.ReadDir(tokensDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(tokensDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var token oa.RefreshToken
		if err := json.Unmarshal(data, &token); err != nil {
			continue
		}

		if err := fn(&token, path); err != nil {
			return err
		}
	}

	return nil
}

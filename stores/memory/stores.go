// Package memory holds in-process AdminStore and RefreshTokenStore
// implementations, used by tests and single-instance deployments.
package memory

import (
	"sync"
	"time"

	oa "github.com/panyam/adminauth"
)

// AdminStore keeps admins in a map keyed by ID
type AdminStore struct {
	mu      sync.RWMutex
	admins  map[string]*oa.Admin
	byEmail map[string]string
}

func NewAdminStore() *AdminStore {
	return &AdminStore{
		admins:  make(map[string]*oa.Admin),
		byEmail: make(map[string]string),
	}
}

func (s *AdminStore) CreateAdmin(admin *oa.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := oa.NormalizeEmail(admin.Email)
	if _, exists := s.byEmail[email]; exists {
		return oa.ErrAdminExists
	}
	stored := *admin
	stored.Email = email
	s.admins[admin.ID] = &stored
	s.byEmail[email] = admin.ID
	return nil
}

func (s *AdminStore) GetAdminByID(id string) (*oa.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	admin, ok := s.admins[id]
	if !ok {
		return nil, oa.ErrAdminNotFound
	}
	out := *admin
	return &out, nil
}

func (s *AdminStore) GetAdminByEmail(email string) (*oa.Admin, error) {
	s.mu.RLock()
	id, ok := s.byEmail[oa.NormalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, oa.ErrAdminNotFound
	}
	return s.GetAdminByID(id)
}

func (s *AdminStore) SaveAdmin(admin *oa.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := oa.NormalizeEmail(admin.Email)
	if prev, ok := s.admins[admin.ID]; ok && prev.Email != email {
		delete(s.byEmail, prev.Email)
	}
	stored := *admin
	stored.Email = email
	s.admins[admin.ID] = &stored
	s.byEmail[email] = admin.ID
	return nil
}

// RefreshTokenStore keeps refresh tokens keyed by their hash
type RefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*oa.RefreshToken
}

func NewRefreshTokenStore() *RefreshTokenStore {
	return &RefreshTokenStore{tokens: make(map[string]*oa.RefreshToken)}
}

func (s *RefreshTokenStore) CreateRefreshToken(adminID string, ttl time.Duration, deviceInfo map[string]any, scopes []string) (*oa.RefreshToken, error) {
	token, err := oa.NewRefreshToken(adminID, ttl, deviceInfo, scopes, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(token)
	return token, nil
}

func (s *RefreshTokenStore) GetRefreshToken(token string) (*oa.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tokens[oa.HashToken(token)]
	if !ok {
		return nil, oa.ErrTokenNotFound
	}
	out := *stored
	out.Token = token
	return &out, nil
}

func (s *RefreshTokenStore) RotateRefreshToken(oldToken string) (*oa.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tokens[oa.HashToken(oldToken)]
	if !ok {
		return nil, oa.ErrTokenNotFound
	}
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
	now := time.Now()
	old.Revoked = true
	old.RevokedAt = &now
	s.put(next)
	return next, nil
}

func (s *RefreshTokenStore) RevokeRefreshToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.tokens[oa.HashToken(token)]; ok {
		revoke(stored)
	}
	return nil
}

func (s *RefreshTokenStore) RevokeAdminTokens(adminID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.AdminID == adminID {
			revoke(t)
		}
	}
	return nil
}

func (s *RefreshTokenStore) RevokeTokenFamily(family string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.Family == family {
			revoke(t)
		}
	}
	return nil
}

func (s *RefreshTokenStore) GetAdminTokens(adminID string) ([]*oa.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*oa.RefreshToken
	for _, t := range s.tokens {
		if t.AdminID == adminID && t.IsValid() {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *RefreshTokenStore) CleanupExpiredTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, t := range s.tokens {
		if t.IsExpired() || (t.Revoked && t.RevokedAt != nil && time.Since(*t.RevokedAt) > 24*time.Hour) {
			delete(s.tokens, hash)
		}
	}
	return nil
}

// put stores a copy without the plaintext token
func (s *RefreshTokenStore) put(token *oa.RefreshToken) {
	stored := *token
	stored.Token = ""
	s.tokens[token.TokenHash] = &stored
}

func revoke(t *oa.RefreshToken) {
	if t.Revoked {
		return
	}
	now := time.Now()
	t.Revoked = true
	t.RevokedAt = &now
}

// Package fs provides file-based AdminStore and RefreshTokenStore
// implementations suitable for development and small deployments.
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	oa "github.com/panyam/adminauth"
)

// emailIndex maps a normalized email to an admin ID
type emailIndex struct {
	Email   string `json:"email"`
	AdminID string `json:"admin_id"`
}

// AdminStore stores admins as JSON files.
//
//	{StoragePath}/
//	└── admins/
//	    ├── <id>.json
//	    └── by_email/
//	        └── <sha256(email)>.json   # {"email": ..., "admin_id": ...}
type AdminStore struct {
	StoragePath string
	mu          sync.RWMutex
}

func NewAdminStore(storagePath string) *AdminStore {
	return &AdminStore{StoragePath: storagePath}
}

func (s *AdminStore) adminPath(id string) string {
	// filepath.Base prevents path traversal
	return filepath.Join(s.StoragePath, "admins", filepath.Base(id)+".json")
}

func (s *AdminStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "admins", "by_email", oa.HashToken(oa.NormalizeEmail(email))+".json")
}

func (s *AdminStore) CreateAdmin(admin *oa.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	admin.Email = oa.NormalizeEmail(admin.Email)
	if _, err := os.Stat(s.emailPath(admin.Email)); err == nil {
		return fmt.Errorf("%s: %w", admin.Email, oa.ErrAdminExists)
	}
	return s.writeAdmin(admin)
}

func (s *AdminStore) GetAdminByID(id string) (*oa.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readAdmin(id)
}

func (s *AdminStore) GetAdminByEmail(email string) (*oa.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var idx emailIndex
	if err := readJSON(s.emailPath(email), &idx); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, oa.ErrAdminNotFound
		}
		return nil, err
	}
	return s.readAdmin(idx.AdminID)
}

// SaveAdmin writes the admin, moving the email index if the email changed
func (s *AdminStore) SaveAdmin(admin *oa.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	admin.Email = oa.NormalizeEmail(admin.Email)
	if prev, err := s.readAdmin(admin.ID); err == nil && prev.Email != admin.Email {
		_ = os.Remove(s.emailPath(prev.Email))
	}
	return s.writeAdmin(admin)
}

func (s *AdminStore) readAdmin(id string) (*oa.Admin, error) {
	var admin oa.Admin
	if err := readJSON(s.adminPath(id), &admin); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, oa.ErrAdminNotFound
		}
		return nil, err
	}
	return &admin, nil
}

func (s *AdminStore) writeAdmin(admin *oa.Admin) error {
	if err := writeJSON(s.adminPath(admin.ID), admin); err != nil {
		return err
	}
	return writeJSON(s.emailPath(admin.Email), emailIndex{Email: admin.Email, AdminID: admin.ID})
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

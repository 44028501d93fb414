//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	oa "github.com/panyam/adminauth"
)

// JSONMap is a helper type for storing JSON maps in GORM
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value any) error {
	return scanJSON(value, m)
}

// StringSlice is a helper type for storing string slices in GORM
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSlice) Scan(value any) error {
	return scanJSON(value, s)
}

// scanJSON accepts both TEXT and BLOB columns; drivers differ in which they return
func scanJSON(value any, dest any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", value)
	}
}

// AdminModel is the GORM model for admins
type AdminModel struct {
	ID           string      `gorm:"primaryKey;size:64"`
	Email        string      `gorm:"size:255;uniqueIndex"`
	Name         string      `gorm:"size:255"`
	Role         string      `gorm:"size:64"`
	PasswordHash string      `gorm:"size:255"`
	Active       bool        `gorm:"index"`
	Scopes       StringSlice `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

func (AdminModel) TableName() string {
	return "admins"
}

func (m *AdminModel) ToAdmin() *oa.Admin {
	admin := &oa.Admin{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		Role:         m.Role,
		PasswordHash: m.PasswordHash,
		Active:       m.Active,
		Scopes:       m.Scopes,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.LastLoginAt != nil {
		admin.LastLoginAt = *m.LastLoginAt
	}
	return admin
}

func AdminToModel(a *oa.Admin) *AdminModel {
	m := &AdminModel{
		ID:           a.ID,
		Email:        oa.NormalizeEmail(a.Email),
		Name:         a.Name,
		Role:         a.Role,
		PasswordHash: a.PasswordHash,
		Active:       a.Active,
		Scopes:       StringSlice(a.Scopes),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	if !a.LastLoginAt.IsZero() {
		t := a.LastLoginAt.UTC()
		m.LastLoginAt = &t
	}
	return m
}

// RefreshTokenModel is the GORM model for refresh tokens
type RefreshTokenModel struct {
	TokenHash  string      `gorm:"primaryKey;size:64"`
	AdminID    string      `gorm:"size:64;index"`
	DeviceInfo JSONMap     `gorm:"type:text"`
	Family     string      `gorm:"size:64;index"`
	Generation int         `gorm:"default:1"`
	Scopes     StringSlice `gorm:"type:text"`
	CreatedAt  time.Time
	ExpiresAt  time.Time `gorm:"index"`
	LastUsedAt time.Time
	RevokedAt  *time.Time
	Revoked    bool `gorm:"index"`
}

func (RefreshTokenModel) TableName() string {
	return "refresh_tokens"
}

func (m *RefreshTokenModel) ToRefreshToken() *oa.RefreshToken {
	return &oa.RefreshToken{
		TokenHash:  m.TokenHash,
		AdminID:    m.AdminID,
		DeviceInfo: m.DeviceInfo,
		Family:     m.Family,
		Generation: m.Generation,
		Scopes:     m.Scopes,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
		LastUsedAt: m.LastUsedAt,
		RevokedAt:  m.RevokedAt,
		Revoked:    m.Revoked,
	}
}

// RefreshTokenToModel converts a token for storage. Times are kept in UTC so
// range queries compare consistently across drivers.
func RefreshTokenToModel(t *oa.RefreshToken) *RefreshTokenModel {
	return &RefreshTokenModel{
		TokenHash:  t.TokenHash,
		AdminID:    t.AdminID,
		DeviceInfo: JSONMap(t.DeviceInfo),
		Family:     t.Family,
		Generation: t.Generation,
		Scopes:     StringSlice(t.Scopes),
		CreatedAt:  t.CreatedAt.UTC(),
		ExpiresAt:  t.ExpiresAt.UTC(),
		LastUsedAt: t.LastUsedAt.UTC(),
		RevokedAt:  t.RevokedAt,
		Revoked:    t.Revoked,
	}
}

//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"

	oa "github.com/panyam/adminauth"
)

// AdminEntity is the Datastore entity for admins. Key name is the admin ID.
type AdminEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Email        string         `datastore:"email"`
	Name         string         `datastore:"name,noindex"`
	Role         string         `datastore:"role"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	Active       bool           `datastore:"active"`
	Scopes       []string       `datastore:"scopes,noindex"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
	LastLoginAt  time.Time      `datastore:"last_login_at,noindex,omitempty"`
}

func (e *AdminEntity) ToAdmin() *oa.Admin {
	return &oa.Admin{
		ID:           e.Key.Name,
		Email:        e.Email,
		Name:         e.Name,
		Role:         e.Role,
		PasswordHash: e.PasswordHash,
		Active:       e.Active,
		Scopes:       e.Scopes,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		LastLoginAt:  e.LastLoginAt,
	}
}

func AdminToEntity(a *oa.Admin, key *datastore.Key) *AdminEntity {
	return &AdminEntity{
		Key:          key,
		Email:        oa.NormalizeEmail(a.Email),
		Name:         a.Name,
		Role:         a.Role,
		PasswordHash: a.PasswordHash,
		Active:       a.Active,
		Scopes:       a.Scopes,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		LastLoginAt:  a.LastLoginAt,
	}
}

// AdminEmailEntity reserves an email for one admin. Key name is the normalized email.
type AdminEmailEntity struct {
	AdminID   string    `datastore:"admin_id"`
	CreatedAt time.Time `datastore:"created_at"`
}

// RefreshTokenEntity is the Datastore entity for refresh tokens
type RefreshTokenEntity struct {
	Key        *datastore.Key `datastore:"__key__"` // Key is the token hash
	AdminID    string         `datastore:"admin_id"`
	DeviceInfo []byte         `datastore:"device_info,noindex"` // JSON encoded
	Family     string         `datastore:"family"`
	Generation int            `datastore:"generation"`
	Scopes     []string       `datastore:"scopes,noindex"`
	CreatedAt  time.Time      `datastore:"created_at"`
	ExpiresAt  time.Time      `datastore:"expires_at"`
	LastUsedAt time.Time      `datastore:"last_used_at"`
	RevokedAt  time.Time      `datastore:"revoked_at,omitempty"`
	Revoked    bool           `datastore:"revoked"`
}

func (e *RefreshTokenEntity) ToRefreshToken() *oa.RefreshToken {
	var deviceInfo map[string]any
	if len(e.DeviceInfo) > 0 {
		_ = json.Unmarshal(e.DeviceInfo, &deviceInfo)
	}

	rt := &oa.RefreshToken{
		TokenHash:  e.Key.Name,
		AdminID:    e.AdminID,
		DeviceInfo: deviceInfo,
		Family:     e.Family,
		Generation: e.Generation,
		Scopes:     e.Scopes,
		CreatedAt:  e.CreatedAt,
		ExpiresAt:  e.ExpiresAt,
		LastUsedAt: e.LastUsedAt,
		Revoked:    e.Revoked,
	}
	if !e.RevokedAt.IsZero() {
		revokedAt := e.RevokedAt
		rt.RevokedAt = &revokedAt
	}
	return rt
}

func RefreshTokenToEntity(t *oa.RefreshToken, key *datastore.Key) (*RefreshTokenEntity, error) {
	var deviceBytes []byte
	if t.DeviceInfo != nil {
		var err error
		if deviceBytes, err = json.Marshal(t.DeviceInfo); err != nil {
			return nil, err
		}
	}
	e := &RefreshTokenEntity{
		Key:        key,
		AdminID:    t.AdminID,
		DeviceInfo: deviceBytes,
		Family:     t.Family,
		Generation: t.Generation,
		Scopes:     t.Scopes,
		CreatedAt:  t.CreatedAt,
		ExpiresAt:  t.ExpiresAt,
		LastUsedAt: t.LastUsedAt,
		Revoked:    t.Revoked,
	}
	if t.RevokedAt != nil {
		e.RevokedAt = *t.RevokedAt
	}
	return e, nil
}

//go:build !wasm
// +build !wasm

package gorm

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	oa "github.com/panyam/adminauth"
)

// AutoMigrate runs database migrations for all adminauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AdminModel{},
		&RefreshTokenModel{},
	)
}

// =============================================================================
// AdminStore
// =============================================================================

// AdminStore implements oa.AdminStore using GORM
type AdminStore struct {
	db *gorm.DB
}

func NewAdminStore(db *gorm.DB) *AdminStore {
	return &AdminStore{db: db}
}

func (s *AdminStore) CreateAdmin(admin *oa.Admin) error {
	model := AdminToModel(admin)
	var count int64
	if err := s.db.Model(&AdminModel{}).Where("email = ?", model.Email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%s: %w", model.Email, oa.ErrAdminExists)
	}
	return s.db.Create(model).Error
}

func (s *AdminStore) GetAdminByID(id string) (*oa.Admin, error) {
	var model AdminModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, oa.ErrAdminNotFound
		}
		return nil, err
	}
	return model.ToAdmin(), nil
}

func (s *AdminStore) GetAdminByEmail(email string) (*oa.Admin, error) {
	var model AdminModel
	if err := s.db.First(&model, "email = ?", oa.NormalizeEmail(email)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, oa.ErrAdminNotFound
		}
		return nil, err
	}
	return model.ToAdmin(), nil
}

func (s *AdminStore) SaveAdmin(admin *oa.Admin) error {
	return s.db.Save(AdminToModel(admin)).Error
}

// =============================================================================
// RefreshTokenStore
// =============================================================================

// RefreshTokenStore implements oa.RefreshTokenStore using GORM
type RefreshTokenStore struct {
	db *gorm.DB
}

func NewRefreshTokenStore(db *gorm.DB) *RefreshTokenStore {
	return &RefreshTokenStore{db: db}
}

func (s *RefreshTokenStore) CreateRefreshToken(adminID string, ttl time.Duration, deviceInfo map[string]any, scopes []string) (*oa.RefreshToken, error) {
	rt, err := oa.NewRefreshToken(adminID, ttl, deviceInfo, scopes, nil)
	if err != nil {
		return nil, err
	}
	if err := s.db.Create(RefreshTokenToModel(rt)).Error; err != nil {
		return nil, err
	}
	return rt, nil
}

func (s *RefreshTokenStore) GetRefreshToken(token string) (*oa.RefreshToken, error) {
	var model RefreshTokenModel
	if err := s.db.First(&model, "token_hash = ?", oa.HashToken(token)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, oa.ErrTokenNotFound
		}
		return nil, err
	}

	rt := model.ToRefreshToken()
	rt.Token = token // Restore the actual token value
	return rt, nil
}

func (s *RefreshTokenStore) RotateRefreshToken(oldToken string) (*oa.RefreshToken, error) {
	var next *oa.RefreshToken

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var oldModel RefreshTokenModel
		if err := tx.First(&oldModel, "token_hash = ?", oa.HashToken(oldToken)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return oa.ErrTokenNotFound
			}
			return err
		}

		if oldModel.Revoked {
			return oa.ErrTokenReused
		}

		old := oldModel.ToRefreshToken()
		if old.IsExpired() {
			return oa.ErrTokenExpired
		}

		// Only the caller that flips revoked wins the rotation
		now := time.Now().UTC()
		res := tx.Model(&RefreshTokenModel{}).
			Where("token_hash = ? AND revoked = ?", oldModel.TokenHash, false).
			Updates(map[string]any{"revoked": true, "revoked_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return oa.ErrTokenReused
		}

		var err error
		next, err = oa.NewRefreshToken(old.AdminID, 0, nil, nil, old)
		if err != nil {
			return err
		}
		return tx.Create(RefreshTokenToModel(next)).Error
	})

	if err != nil {
		return nil, err
	}
	return next, nil
}

func (s *RefreshTokenStore) RevokeRefreshToken(token string) error {
	return s.revokeWhere("token_hash = ? AND revoked = ?", oa.HashToken(token), false)
}

func (s *RefreshTokenStore) RevokeAdminTokens(adminID string) error {
	return s.revokeWhere("admin_id = ? AND revoked = ?", adminID, false)
}

func (s *RefreshTokenStore) RevokeTokenFamily(family string) error {
	return s.revokeWhere("family = ? AND revoked = ?", family, false)
}

func (s *RefreshTokenStore) revokeWhere(query string, args ...any) error {
	now := time.Now().UTC()
	return s.db.Model(&RefreshTokenModel{}).
		Where(query, args...).
		Updates(map[string]any{"revoked": true, "revoked_at": now}).Error
}

func (s *RefreshTokenStore) GetAdminTokens(adminID string) ([]*oa.RefreshToken, error) {
	var models []RefreshTokenModel
	if err := s.db.Where("admin_id = ? AND revoked = ? AND expires_at > ?", adminID, false, time.Now().UTC()).
		Find(&models).Error; err != nil {
		return nil, err
	}

	tokens := make([]*oa.RefreshToken, len(models))
	for i := range models {
		tokens[i] = models[i].ToRefreshToken()
	}
	return tokens, nil
}

func (s *RefreshTokenStore) CleanupExpiredTokens() error {
	now := time.Now().UTC()
	return s.db.Delete(&RefreshTokenModel{},
		"expires_at < ? OR (revoked = ? AND revoked_at < ?)",
		now, true, now.Add(-24*time.Hour)).Error
}

//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	oa "github.com/panyam/adminauth"
)

// Kind constants for Datastore entities
const (
	KindAdmin        = "Admin"
	KindAdminEmail   = "AdminEmail"
	KindRefreshToken = "RefreshToken"
)

// ============================================================================
// AdminStore
// ============================================================================

// AdminStore implements oa.AdminStore using Google Cloud Datastore
type AdminStore struct {
	client    *datastore.Client
	namespace string
	ctx       context.Context
}

// NewAdminStore creates a new Datastore-backed AdminStore
func NewAdminStore(client *datastore.Client, namespace string) *AdminStore {
	return &AdminStore{
		client:    client,
		namespace: namespace,
		ctx:       context.Background(),
	}
}

// WithContext returns a copy of the store with the given context
func (s *AdminStore) WithContext(ctx context.Context) *AdminStore {
	return &AdminStore{
		client:    s.client,
		namespace: s.namespace,
		ctx:       ctx,
	}
}

func (s *AdminStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

// CreateAdmin reserves the email and writes the admin in one transaction
func (s *AdminStore) CreateAdmin(admin *oa.Admin) error {
	email := oa.NormalizeEmail(admin.Email)
	emailKey := s.namespacedKey(KindAdminEmail, email)
	adminKey := s.namespacedKey(KindAdmin, admin.ID)

	_, err := s.client.RunInTransaction(s.ctx, func(tx *datastore.Transaction) error {
		var existing AdminEmailEntity
		err := tx.Get(emailKey, &existing)
		if err == nil {
			return fmt.Errorf("%s: %w", email, oa.ErrAdminExists)
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}

		if _, err := tx.Put(emailKey, &AdminEmailEntity{AdminID: admin.ID, CreatedAt: time.Now()}); err != nil {
			return err
		}
		_, err = tx.Put(adminKey, AdminToEntity(admin, adminKey))
		return err
	})
	return err
}

func (s *AdminStore) GetAdminByID(id string) (*oa.Admin, error) {
	var entity AdminEntity
	if err := s.client.Get(s.ctx, s.namespacedKey(KindAdmin, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oa.ErrAdminNotFound
		}
		return nil, err
	}
	return entity.ToAdmin(), nil
}

func (s *AdminStore) GetAdminByEmail(email string) (*oa.Admin, error) {
	var reservation AdminEmailEntity
	if err := s.client.Get(s.ctx, s.namespacedKey(KindAdminEmail, oa.NormalizeEmail(email)), &reservation); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oa.ErrAdminNotFound
		}
		return nil, err
	}
	return s.GetAdminByID(reservation.AdminID)
}

// SaveAdmin upserts the admin, moving the email reservation if the email changed
func (s *AdminStore) SaveAdmin(admin *oa.Admin) error {
	email := oa.NormalizeEmail(admin.Email)
	adminKey := s.namespacedKey(KindAdmin, admin.ID)

	_, err := s.client.RunInTransaction(s.ctx, func(tx *datastore.Transaction) error {
		var prev AdminEntity
		err := tx.Get(adminKey, &prev)
		if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if err == nil && prev.Email != email {
			if err := tx.Delete(s.namespacedKey(KindAdminEmail, prev.Email)); err != nil {
				return err
			}
		}
		if _, err := tx.Put(s.namespacedKey(KindAdminEmail, email), &AdminEmailEntity{AdminID: admin.ID, CreatedAt: time.Now()}); err != nil {
			return err
		}
		_, err = tx.Put(adminKey, AdminToEntity(admin, adminKey))
		return err
	})
	return err
}

// ============================================================================
// RefreshTokenStore
// ============================================================================

// RefreshTokenStore implements oa.RefreshTokenStore using Google Cloud Datastore
type RefreshTokenStore struct {
	client    *datastore.Client
	namespace string
	ctx       context.Context
}

// NewRefreshTokenStore creates a new Datastore-backed RefreshTokenStore
func NewRefreshTokenStore(client *datastore.Client, namespace string) *RefreshTokenStore {
	return &RefreshTokenStore{
		client:    client,
		namespace: namespace,
		ctx:       context.Background(),
	}
}

func (s *RefreshTokenStore) WithContext(ctx context.Context) *RefreshTokenStore {
	return &RefreshTokenStore{
		client:    s.client,
		namespace: s.namespace,
		ctx:       ctx,
	}
}

func (s *RefreshTokenStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *RefreshTokenStore) query() *datastore.Query {
	query := datastore.NewQuery(KindRefreshToken)
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	return query
}

func (s *RefreshTokenStore) CreateRefreshToken(adminID string, ttl time.Duration, deviceInfo map[string]any, scopes []string) (*oa.RefreshToken, error) {
	rt, err := oa.NewRefreshToken(adminID, ttl, deviceInfo, scopes, nil)
	if err != nil {
		return nil, err
	}

	key := s.namespacedKey(KindRefreshToken, rt.TokenHash)
	entity, err := RefreshTokenToEntity(rt, key)
	if err != nil {
		return nil, err
	}
	if _, err := s.client.Put(s.ctx, key, entity); err != nil {
		return nil, err
	}
	return rt, nil
}

func (s *RefreshTokenStore) GetRefreshToken(token string) (*oa.RefreshToken, error) {
	key := s.namespacedKey(KindRefreshToken, oa.HashToken(token))

	var entity RefreshTokenEntity
	if err := s.client.Get(s.ctx, key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oa.ErrTokenNotFound
		}
		return nil, err
	}

	rt := entity.ToRefreshToken()
	rt.Token = token
	return rt, nil
}

func (s *RefreshTokenStore) RotateRefreshToken(oldToken string) (*oa.RefreshToken, error) {
	key := s.namespacedKey(KindRefreshToken, oa.HashToken(oldToken))

	var next *oa.RefreshToken
	_, err := s.client.RunInTransaction(s.ctx, func(tx *datastore.Transaction) error {
		var entity RefreshTokenEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return oa.ErrTokenNotFound
			}
			return err
		}

		old := entity.ToRefreshToken()

		// Check if already revoked - potential token reuse attack
		if old.Revoked {
			return oa.ErrTokenReused
		}
		if old.IsExpired() {
			return oa.ErrTokenExpired
		}

		now := time.Now()
		entity.Revoked = true
		entity.RevokedAt = now
		if _, err := tx.Put(key, &entity); err != nil {
			return err
		}

		var err error
		if next, err = oa.NewRefreshToken(old.AdminID, 0, nil, nil, old); err != nil {
			return err
		}
		newKey := s.namespacedKey(KindRefreshToken, next.TokenHash)
		newEntity, err := RefreshTokenToEntity(next, newKey)
		if err != nil {
			return err
		}
		_, err = tx.Put(newKey, newEntity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (s *RefreshTokenStore) RevokeRefreshToken(token string) error {
	key := s.namespacedKey(KindRefreshToken, oa.HashToken(token))

	_, err := s.client.RunInTransaction(s.ctx, func(tx *datastore.Transaction) error {
		var entity RefreshTokenEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return nil // Already gone
			}
			return err
		}

		if entity.Revoked {
			return nil
		}

		entity.Revoked = true
		entity.RevokedAt = time.Now()
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}

func (s *RefreshTokenStore) RevokeAdminTokens(adminID string) error {
	return s.revokeAll(s.query().FilterField("admin_id", "=", adminID).FilterField("revoked", "=", false))
}

func (s *RefreshTokenStore) RevokeTokenFamily(family string) error {
	return s.revokeAll(s.query().FilterField("family", "=", family).FilterField("revoked", "=", false))
}

func (s *RefreshTokenStore) revokeAll(query *datastore.Query) error {
	now := time.Now()
	it := s.client.Run(s.ctx, query)
	for {
		var entity RefreshTokenEntity
		key, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}

		entity.Key = key
		entity.Revoked = true
		entity.RevokedAt = now
		if _, err := s.client.Put(s.ctx, key, &entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *RefreshTokenStore) GetAdminTokens(adminID string) ([]*oa.RefreshToken, error) {
	query := s.query().
		FilterField("admin_id", "=", adminID).
		FilterField("revoked", "=", false)

	var tokens []*oa.RefreshToken
	it := s.client.Run(s.ctx, query)
	for {
		var entity RefreshTokenEntity
		key, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		entity.Key = key

		rt := entity.ToRefreshToken()
		if rt.IsExpired() {
			continue
		}
		tokens = append(tokens, rt)
	}
	return tokens, nil
}

func (s *RefreshTokenStore) CleanupExpiredTokens() error {
	now := time.Now()

	expired, err := s.client.GetAll(s.ctx, s.query().FilterField("expires_at", "<", now).KeysOnly(), nil)
	if err != nil {
		return err
	}
	if len(expired) > 0 {
		if err := s.client.DeleteMulti(s.ctx, expired); err != nil {
			return err
		}
	}

	// Delete tokens revoked more than a day ago
	stale, err := s.client.GetAll(s.ctx, s.query().
		FilterField("revoked", "=", true).
		FilterField("revoked_at", "<", now.Add(-24*time.Hour)).
		KeysOnly(), nil)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		return s.client.DeleteMulti(s.ctx, stale)
	}
	return nil
}

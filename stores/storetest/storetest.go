// Package storetest runs the behaviour every AdminStore and RefreshTokenStore
// implementation must share.
package storetest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oa "github.com/panyam/adminauth"
)

// RunAdminStoreTests exercises an AdminStore created fresh by newStore for each subtest
func RunAdminStoreTests(t *testing.T, newStore func(t *testing.T) oa.AdminStore) {
	t.Run("CreateAndGet", func(t *testing.T) {
		store := newStore(t)
		admin := newAdmin("Ops@Example.com")
		require.NoError(t, store.CreateAdmin(admin))

		byID, err := store.GetAdminByID(admin.ID)
		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", byID.Email)
		assert.Equal(t, []string{oa.ScopeRead, oa.ScopeWrite}, byID.Scopes)
		assert.True(t, byID.Active)

		byEmail, err := store.GetAdminByEmail(" OPS@example.com ")
		require.NoError(t, err)
		assert.Equal(t, admin.ID, byEmail.ID)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.CreateAdmin(newAdmin("dup@example.com")))
		err := store.CreateAdmin(newAdmin("dup@example.com"))
		assert.True(t, errors.Is(err, oa.ErrAdminExists), "got %v", err)
	})

	t.Run("NotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetAdminByID("missing")
		assert.True(t, errors.Is(err, oa.ErrAdminNotFound), "got %v", err)
		_, err = store.GetAdminByEmail("missing@example.com")
		assert.True(t, errors.Is(err, oa.ErrAdminNotFound), "got %v", err)
	})

	t.Run("Save", func(t *testing.T) {
		store := newStore(t)
		admin := newAdmin("save@example.com")
		require.NoError(t, store.CreateAdmin(admin))

		admin.Name = "Renamed"
		admin.Active = false
		require.NoError(t, store.SaveAdmin(admin))

		got, err := store.GetAdminByID(admin.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.False(t, got.Active)
	})
}

// RunRefreshTokenStoreTests exercises a RefreshTokenStore created fresh by newStore for each subtest
func RunRefreshTokenStoreTests(t *testing.T, newStore func(t *testing.T) oa.RefreshTokenStore) {
	scopes := []string{oa.ScopeRead, oa.ScopeWrite}

	t.Run("CreateAndGet", func(t *testing.T) {
		store := newStore(t)
		token, err := store.CreateRefreshToken("admin-1", time.Hour, map[string]any{"ip": "127.0.0.1"}, scopes)
		require.NoError(t, err)
		assert.NotEmpty(t, token.Token)
		assert.Equal(t, oa.HashToken(token.Token), token.TokenHash)
		assert.Equal(t, 1, token.Generation)

		got, err := store.GetRefreshToken(token.Token)
		require.NoError(t, err)
		assert.Equal(t, "admin-1", got.AdminID)
		assert.Equal(t, token.Family, got.Family)
		assert.Equal(t, scopes, got.Scopes)
		assert.False(t, got.Revoked)
		assert.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, time.Second)

		_, err = store.GetRefreshToken("not-a-token")
		assert.True(t, errors.Is(err, oa.ErrTokenNotFound), "got %v", err)
	})

	t.Run("RotateKeepsFamilyAndTTL", func(t *testing.T) {
		store := newStore(t)
		first, err := store.CreateRefreshToken("admin-1", 48*time.Hour, nil, scopes)
		require.NoError(t, err)

		second, err := store.RotateRefreshToken(first.Token)
		require.NoError(t, err)
		assert.NotEqual(t, first.Token, second.Token)
		assert.Equal(t, first.Family, second.Family)
		assert.Equal(t, 2, second.Generation)
		assert.Equal(t, "admin-1", second.AdminID)
		assert.InDelta(t, (48 * time.Hour).Seconds(), second.TTL().Seconds(), 2)

		old, err := store.GetRefreshToken(first.Token)
		require.NoError(t, err)
		assert.True(t, old.Revoked)
	})

	t.Run("ReuseDetected", func(t *testing.T) {
		store := newStore(t)
		first, err := store.CreateRefreshToken("admin-1", time.Hour, nil, scopes)
		require.NoError(t, err)
		_, err = store.RotateRefreshToken(first.Token)
		require.NoError(t, err)

		_, err = store.RotateRefreshToken(first.Token)
		assert.True(t, errors.Is(err, oa.ErrTokenReused), "got %v", err)
	})

	t.Run("RevokeFamily", func(t *testing.T) {
		store := newStore(t)
		first, err := store.CreateRefreshToken("admin-1", time.Hour, nil, scopes)
		require.NoError(t, err)
		second, err := store.RotateRefreshToken(first.Token)
		require.NoError(t, err)
		other, err := store.CreateRefreshToken("admin-1", time.Hour, nil, scopes)
		require.NoError(t, err)

		require.NoError(t, store.RevokeTokenFamily(first.Family))

		got, err := store.GetRefreshToken(second.Token)
		require.NoError(t, err)
		assert.True(t, got.Revoked)

		got, err = store.GetRefreshToken(other.Token)
		require.NoError(t, err)
		assert.False(t, got.Revoked)
	})

	t.Run("RevokeAndList", func(t *testing.T) {
		store := newStore(t)
		a, err := store.CreateRefreshToken("admin-1", time.Hour, nil, scopes)
		require.NoError(t, err)
		_, err = store.CreateRefreshToken("admin-1", time.Hour, nil, scopes)
		require.NoError(t, err)
		_, err = store.CreateRefreshToken("admin-2", time.Hour, nil, scopes)
		require.NoError(t, err)

		tokens, err := store.GetAdminTokens("admin-1")
		require.NoError(t, err)
		assert.Len(t, tokens, 2)

		require.NoError(t, store.RevokeRefreshToken(a.Token))
		tokens, err = store.GetAdminTokens("admin-1")
		require.NoError(t, err)
		assert.Len(t, tokens, 1)

		// Unknown tokens revoke silently
		require.NoError(t, store.RevokeRefreshToken("unknown"))

		require.NoError(t, store.RevokeAdminTokens("admin-1"))
		tokens, err = store.GetAdminTokens("admin-1")
		require.NoError(t, err)
		assert.Empty(t, tokens)

		tokens, err = store.GetAdminTokens("admin-2")
		require.NoError(t, err)
		assert.Len(t, tokens, 1)
	})

	t.Run("ExpiredTokens", func(t *testing.T) {
		store := newStore(t)
		expired, err := store.CreateRefreshToken("admin-1", time.Millisecond, nil, scopes)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)

		_, err = store.RotateRefreshToken(expired.Token)
		assert.True(t, errors.Is(err, oa.ErrTokenExpired), "got %v", err)

		tokens, err := store.GetAdminTokens("admin-1")
		require.NoError(t, err)
		assert.Empty(t, tokens)

		require.NoError(t, store.CleanupExpiredTokens())
		_, err = store.GetRefreshToken(expired.Token)
		assert.True(t, errors.Is(err, oa.ErrTokenNotFound), "got %v", err)
	})
}

func newAdmin(email string) *oa.Admin {
	now := time.Now()
	return &oa.Admin{
		ID:           oa.NewAdminID(),
		Email:        oa.NormalizeEmail(email),
		Name:         "Ops",
		Role:         "owner",
		PasswordHash: "hash",
		Active:       true,
		Scopes:       []string{oa.ScopeRead, oa.ScopeWrite},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

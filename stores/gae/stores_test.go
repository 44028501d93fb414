//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/datastore"

	oa "github.com/panyam/adminauth"
	"github.com/panyam/adminauth/stores/storetest"
)

// newTestClient connects to the Datastore emulator; tests skip without one
func newTestClient(t *testing.T) (*datastore.Client, string) {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	client, err := datastore.NewClient(context.Background(), "adminauth-test")
	if err != nil {
		t.Fatalf("datastore.NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, fmt.Sprintf("test-%d", time.Now().UnixNano())
}

func TestAdminStore(t *testing.T) {
	storetest.RunAdminStoreTests(t, func(t *testing.T) oa.AdminStore {
		client, ns := newTestClient(t)
		return NewAdminStore(client, ns)
	})
}

func TestRefreshTokenStore(t *testing.T) {
	storetest.RunRefreshTokenStoreTests(t, func(t *testing.T) oa.RefreshTokenStore {
		client, ns := newTestClient(t)
		return NewRefreshTokenStore(client, ns)
	})
}

func TestRefreshTokenEntityRoundTrip(t *testing.T) {
	rt, err := oa.NewRefreshToken("admin-1", time.Hour, map[string]any{"ip": "10.0.0.1"}, []string{oa.ScopeRead}, nil)
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	now := time.Now()
	rt.Revoked = true
	rt.RevokedAt = &now

	key := datastore.NameKey(KindRefreshToken, rt.TokenHash, nil)
	entity, err := RefreshTokenToEntity(rt, key)
	if err != nil {
		t.Fatalf("RefreshTokenToEntity: %v", err)
	}

	got := entity.ToRefreshToken()
	if got.TokenHash != rt.TokenHash || got.Family != rt.Family || got.AdminID != "admin-1" {
		t.Errorf("identity fields lost: %+v", got)
	}
	if got.DeviceInfo["ip"] != "10.0.0.1" {
		t.Errorf("device info lost: %v", got.DeviceInfo)
	}
	if got.RevokedAt == nil || !got.RevokedAt.Equal(now) {
		t.Errorf("revokedAt lost: %v", got.RevokedAt)
	}
}

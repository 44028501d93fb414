package memory

import (
	"testing"

	oa "github.com/panyam/adminauth"
	"github.com/panyam/adminauth/stores/storetest"
)

func TestAdminStore(t *testing.T) {
	storetest.RunAdminStoreTests(t, func(t *testing.T) oa.AdminStore {
		return NewAdminStore()
	})
}

func TestRefreshTokenStore(t *testing.T) {
	storetest.RunRefreshTokenStoreTests(t, func(t *testing.T) oa.RefreshTokenStore {
		return NewRefreshTokenStore()
	})
}

package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panyam/adminauth/client"
)

func newTestStore(t *testing.T, path, server string) *FSCredentialStore {
	t.Helper()
	store, err := NewFSCredentialStore(path, "", server)
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	return store
}

func TestFSCredentialStore_GetSetCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := newTestStore(t, path, "http://localhost:5000")

	// Initially empty
	cred, err := store.GetCredential(client.CredentialAccessToken)
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred != nil {
		t.Errorf("expected nil credential, got %+v", cred)
	}

	opts := client.CredentialOptions{Days: 365}
	if err := store.SetCredential(client.CredentialAccessToken, "test-token", opts); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}

	cred, err = store.GetCredential(client.CredentialAccessToken)
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred == nil {
		t.Fatal("expected credential, got nil")
	}
	if cred.Value != "test-token" {
		t.Errorf("Value = %v, want test-token", cred.Value)
	}
	if cred.Path != "/" {
		t.Errorf("Path = %v, want /", cred.Path)
	}
}

func TestFSCredentialStore_ServersAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	local := newTestStore(t, path, "http://localhost:5000/api")
	local.SetCredential(client.CredentialAccessToken, "local-token", client.CredentialOptions{})
	if err := local.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	prod := newTestStore(t, path, "https://admin.example.com")
	prod.SetCredential(client.CredentialAccessToken, "prod-token", client.CredentialOptions{})
	if err := prod.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Different path, same host: same section
	reloaded := newTestStore(t, path, "http://localhost:5000/other")
	cred, _ := reloaded.GetCredential(client.CredentialAccessToken)
	if cred == nil || cred.Value != "local-token" {
		t.Errorf("local credential = %+v, want local-token", cred)
	}

	reloaded = newTestStore(t, path, "https://admin.example.com")
	cred, _ = reloaded.GetCredential(client.CredentialAccessToken)
	if cred == nil || cred.Value != "prod-token" {
		t.Errorf("prod credential = %+v, want prod-token", cred)
	}
}

func TestFSCredentialStore_RemoveCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := newTestStore(t, path, "http://localhost:5000")

	store.SetCredential(client.CredentialAccessToken, "a", client.CredentialOptions{})
	store.SetCredential(client.CredentialRefreshToken, "r", client.CredentialOptions{})

	if err := store.RemoveCredential(client.CredentialAccessToken); err != nil {
		t.Fatalf("RemoveCredential() error = %v", err)
	}
	if err := store.RemoveCredential("missing"); err != nil {
		t.Fatalf("RemoveCredential(missing) error = %v", err)
	}

	cred, _ := store.GetCredential(client.CredentialAccessToken)
	if cred != nil {
		t.Error("credential should be removed")
	}

	cred, _ = store.GetCredential(client.CredentialRefreshToken)
	if cred == nil {
		t.Error("other credential should still exist")
	}
}

func TestFSCredentialStore_ListNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := newTestStore(t, path, "http://localhost:5000")

	store.SetCredential(client.CredentialRefreshToken, "r", client.CredentialOptions{})
	store.SetCredential(client.CredentialAccessToken, "a", client.CredentialOptions{})
	store.SetCredential(client.DefaultCSRFHeaderName, "c", client.CredentialOptions{Days: 1})

	names, err := store.ListNames()
	if err != nil {
		t.Fatalf("ListNames() error = %v", err)
	}

	want := []string{client.DefaultCSRFHeaderName, client.CredentialAccessToken, client.CredentialRefreshToken}
	if len(names) != len(want) {
		t.Fatalf("len(names) = %d, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %v, want %v", i, names[i], want[i])
		}
	}
}

func TestFSCredentialStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	store1 := newTestStore(t, path, "http://localhost:5000")
	store1.SetCredential(client.CredentialAccessToken, "persisted-token", client.CredentialOptions{Days: 1})
	store1.SetCredential(client.CredentialRefreshToken, "refresh-token", client.CredentialOptions{Days: 365, Secure: true})

	if err := store1.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("credentials file not created")
	}

	store2 := newTestStore(t, path, "http://localhost:5000")
	cred, err := store2.GetCredential(client.CredentialRefreshToken)
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if cred == nil {
		t.Fatal("expected credential to be persisted")
	}
	if cred.Value != "refresh-token" {
		t.Errorf("Value = %v, want refresh-token", cred.Value)
	}
	if !cred.Secure {
		t.Error("Secure flag was not persisted")
	}
	if time.Until(cred.ExpiresAt) < 364*24*time.Hour {
		t.Errorf("ExpiresAt = %v, want about a year from now", cred.ExpiresAt)
	}
}

func TestFSCredentialStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := newTestStore(t, path, "http://localhost:5000")

	store.SetCredential(client.CredentialAccessToken, "token", client.CredentialOptions{})
	store.Save()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		t.Errorf("file permissions = %o, want 0600", mode)
	}
}

func TestFSCredentialStore_DefaultPath(t *testing.T) {
	store, err := NewFSCredentialStore("", "testapp", "http://localhost:5000")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	path := store.Path()
	if path == "" {
		t.Error("path should not be empty")
	}

	if filepath.Base(filepath.Dir(path)) != "testapp" {
		t.Logf("path = %s (app name dir may vary by platform)", path)
	}
}

func TestFSCredentialStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	watched := newTestStore(t, path, "http://localhost:5000")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	if err := watched.Watch(ctx, func() { reloads.Add(1) }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Another process logs in
	writer := newTestStore(t, path, "http://localhost:5000")
	writer.SetCredential(client.CredentialAccessToken, "from-elsewhere", client.CredentialOptions{})
	if err := writer.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if reloads.Load() > 0 {
			cred, _ := watched.GetCredential(client.CredentialAccessToken)
			if cred == nil || cred.Value != "from-elsewhere" {
				t.Errorf("credential = %+v, want from-elsewhere", cred)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watched store did not pick up the external change")
}

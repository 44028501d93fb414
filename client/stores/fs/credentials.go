// Package fs provides a file system-based credential store for the admin client.
// One JSON file holds the credentials of every server the user has logged in to;
// each store instance reads and writes the section for a single server.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/panyam/adminauth/client"
)

const reloadDelay = 200 * time.Millisecond

// FSCredentialStore stores credentials as a JSON file on the filesystem
type FSCredentialStore struct {
	mu       sync.RWMutex
	path     string
	server   string
	creds    map[string]*client.Credential
	modified bool
}

// credentialFile is the JSON structure stored on disk
type credentialFile struct {
	Servers map[string]map[string]*client.Credential `json:"servers"`
}

// NewFSCredentialStore creates a new FS-based credential store for serverURL.
// If path is empty, defaults to ~/.config/<appName>/credentials.json
func NewFSCredentialStore(path, appName, serverURL string) (*FSCredentialStore, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "adminauth"
		}
		path = filepath.Join(configDir, appName, "credentials.json")
	}

	server, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}

	store := &FSCredentialStore{
		path:   path,
		server: server,
		creds:  make(map[string]*client.Credential),
	}

	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return store, nil
}

// normalizeURL normalizes a server URL for use as a key
func normalizeURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	if u.Scheme == "" {
		u.Scheme = "https"
	}

	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

func (s *FSCredentialStore) readFile() (*credentialFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if file.Servers == nil {
		file.Servers = make(map[string]map[string]*client.Credential)
	}
	return &file, nil
}

// load reads this server's credentials from disk
func (s *FSCredentialStore) load() error {
	file, err := s.readFile()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = file.Servers[s.server]
	if s.creds == nil {
		s.creds = make(map[string]*client.Credential)
	}
	return nil
}

// GetCredential retrieves a live credential by name
func (s *FSCredentialStore) GetCredential(name string) (*client.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[name]
	if !ok || cred.IsExpired() {
		return nil, nil
	}

	copied := *cred
	return &copied, nil
}

// SetCredential stores a credential
func (s *FSCredentialStore) SetCredential(name, value string, opts client.CredentialOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[name] = client.NewCredential(name, value, opts)
	s.modified = true

	return nil
}

// RemoveCredential removes a credential
func (s *FSCredentialStore) RemoveCredential(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[name]; ok {
		delete(s.creds, name)
		s.modified = true
	}

	return nil
}

// ListNames returns the names of all live credentials
func (s *FSCredentialStore) ListNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.creds))
	for name, cred := range s.creds {
		if !cred.IsExpired() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}

// Save persists credentials to disk. Sections for other servers are re-read
// first so concurrent processes bound to different servers do not clobber each other.
func (s *FSCredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.modified {
		return nil
	}

	// Ensure directory exists with restricted permissions
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := s.readFile()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		file = &credentialFile{Servers: make(map[string]map[string]*client.Credential)}
	}

	live := make(map[string]*client.Credential, len(s.creds))
	for name, cred := range s.creds {
		if !cred.IsExpired() {
			live[name] = cred
		}
	}
	if len(live) == 0 {
		delete(file.Servers, s.server)
	} else {
		file.Servers[s.server] = live
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	if err := writeAtomicFile(s.path, data); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	s.modified = false
	return nil
}

// Path returns the path to the credentials file
func (s *FSCredentialStore) Path() string {
	return s.path
}

// Server returns the normalized server URL this store is bound to
func (s *FSCredentialStore) Server() string {
	return s.server
}

// Watch reloads the store when another process rewrites the credentials file,
// calling onChange (if set) after each reload. Unsaved local changes are never
// overwritten. Watching stops when ctx is done.
func (s *FSCredentialStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory: atomic saves replace the file rather than write to it
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	reload := make(chan struct{}, 1)
	go s.scheduleReload(ctx, reload, onChange)
	go s.handleWatcher(ctx, watcher, reload)
	return nil
}

func (s *FSCredentialStore) handleWatcher(ctx context.Context, watcher *fsnotify.Watcher, reload chan<- struct{}) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("credential watcher error", "path", s.path, "error", err)
		}
	}
}

func (s *FSCredentialStore) scheduleReload(ctx context.Context, reload <-chan struct{}, onChange func()) {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-reload:
			if timer != nil {
				timer.Reset(reloadDelay)
			} else {
				timer = time.NewTimer(reloadDelay)
				fire = timer.C
			}
		case <-fire:
			timer, fire = nil, nil
			if s.reload() && onChange != nil {
				onChange()
			}
		}
	}
}

// reload re-reads the file unless there are unsaved changes
func (s *FSCredentialStore) reload() bool {
	s.mu.RLock()
	modified := s.modified
	s.mu.RUnlock()
	if modified {
		return false
	}

	if err := s.load(); err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.creds = make(map[string]*client.Credential)
			s.mu.Unlock()
			return true
		}
		slog.Warn("failed to reload credentials", "path", s.path, "error", err)
		return false
	}
	return true
}

// writeAtomicFile writes data to a file atomically by writing to a temp file first
func writeAtomicFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to restrict temp file: %w", err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

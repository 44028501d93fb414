package client

import (
	"sort"
	"sync"
)

// MemoryStore is an in-memory CredentialStore, the default when none is supplied
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryStore creates an empty in-memory credential store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

// GetCredential retrieves a live credential by name
func (m *MemoryStore) GetCredential(name string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.creds[name]
	if !ok || cred.IsExpired() {
		return nil, nil
	}
	copied := *cred
	return &copied, nil
}

// SetCredential stores a credential
func (m *MemoryStore) SetCredential(name, value string, opts CredentialOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[name] = NewCredential(name, value, opts)
	return nil
}

// RemoveCredential removes a credential
func (m *MemoryStore) RemoveCredential(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, name)
	return nil
}

// ListNames returns the sorted names of all live credentials
func (m *MemoryStore) ListNames() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.creds))
	for name, cred := range m.creds {
		if !cred.IsExpired() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Save is a no-op for the memory store
func (m *MemoryStore) Save() error {
	return nil
}

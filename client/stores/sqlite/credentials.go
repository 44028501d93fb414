// Package sqlite provides a SQLite-backed credential store for the admin client,
// for hosts that keep several sessions (one per server) in a single database.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/panyam/adminauth/client"
)

// SQLiteCredentialStore keeps credentials in a SQLite table keyed by server and name.
// Writes go straight to the database, so Save is a no-op.
type SQLiteCredentialStore struct {
	db     *sql.DB
	server string
}

// NewSQLiteCredentialStore opens (or creates) the database at dbPath and binds the
// store to serverURL
func NewSQLiteCredentialStore(dbPath, serverURL string) (*SQLiteCredentialStore, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteCredentialStore{
		db:     db,
		server: fmt.Sprintf("%s://%s", u.Scheme, u.Host),
	}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			server      TEXT NOT NULL,
			name        TEXT NOT NULL,
			value       TEXT NOT NULL,
			path        TEXT NOT NULL DEFAULT '/',
			same_site   TEXT NOT NULL DEFAULT 'lax',
			secure      INTEGER NOT NULL DEFAULT 0,
			expires_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			PRIMARY KEY (server, name)
		);`)
	if err != nil {
		return fmt.Errorf("failed to init 'credentials' table schema: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteCredentialStore) Close() error {
	return s.db.Close()
}

// GetCredential retrieves a live credential by name
func (s *SQLiteCredentialStore) GetCredential(name string) (*client.Credential, error) {
	row := s.db.QueryRow(`
		SELECT value, path, same_site, secure, expires_at, created_at
		FROM credentials WHERE server = ? AND name = ?`, s.server, name)

	var (
		cred               = client.Credential{Name: name}
		sameSite           string
		secure             int
		expiresAt, created int64
	)
	err := row.Scan(&cred.Value, &cred.Path, &sameSite, &secure, &expiresAt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential %q: %w", name, err)
	}

	cred.SameSite = client.SameSite(sameSite)
	cred.Secure = secure != 0
	cred.CreatedAt = time.Unix(created, 0)
	if expiresAt > 0 {
		cred.ExpiresAt = time.Unix(expiresAt, 0)
	}
	if cred.IsExpired() {
		return nil, nil
	}
	return &cred, nil
}

// SetCredential stores (or overwrites) a credential
func (s *SQLiteCredentialStore) SetCredential(name, value string, opts client.CredentialOptions) error {
	cred := client.NewCredential(name, value, opts)

	var expiresAt int64
	if !cred.ExpiresAt.IsZero() {
		expiresAt = cred.ExpiresAt.Unix()
	}
	secure := 0
	if cred.Secure {
		secure = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO credentials (server, name, value, path, same_site, secure, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server, name) DO UPDATE SET
			value = excluded.value,
			path = excluded.path,
			same_site = excluded.same_site,
			secure = excluded.secure,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at`,
		s.server, name, cred.Value, cred.Path, string(cred.SameSite), secure, expiresAt, cred.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to store credential %q: %w", name, err)
	}
	return nil
}

// RemoveCredential removes a credential
func (s *SQLiteCredentialStore) RemoveCredential(name string) error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE server = ? AND name = ?`, s.server, name); err != nil {
		return fmt.Errorf("failed to remove credential %q: %w", name, err)
	}
	return nil
}

// ListNames returns the sorted names of all live credentials
func (s *SQLiteCredentialStore) ListNames() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT name FROM credentials
		WHERE server = ? AND (expires_at = 0 OR expires_at > ?)
		ORDER BY name`, s.server, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Save is a no-op: every write is committed immediately
func (s *SQLiteCredentialStore) Save() error {
	return nil
}

// Prune deletes expired credentials for every server
func (s *SQLiteCredentialStore) Prune() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM credentials WHERE expires_at > 0 AND expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune credentials: %w", err)
	}
	return res.RowsAffected()
}

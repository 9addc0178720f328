package secure

import (
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

const (
	KeyAccessToken = "accessToken"
	KeyHasLaunched = "hasLaunched"
)

// Store is the client's secure key/value storage: a single SQLite table of
// named blobs, each sealed with XChaCha20-Poly1305. The sealing key lives in
// a 0600 file next to the database.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	aead cipher.AEAD
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	key, err := loadOrCreateKey(filepath.Join(dir, "store.key"))
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "bazarbook.db"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS secrets (
		name TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create secrets table: %w", err)
	}

	return &Store{db: db, aead: aead}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("key file %s has wrong size", path)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

// Set seals value and upserts it under name.
func (s *Store) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), []byte(name))

	_, err := s.db.Exec(
		`INSERT INTO secrets (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, sealed,
	)
	return err
}

// Get returns the stored value, or "" when the name is absent.
func (s *Store) Get(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sealed []byte
	err := s.db.QueryRow(`SELECT value FROM secrets WHERE name = ?`, name).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if len(sealed) < s.aead.NonceSize() {
		return "", fmt.Errorf("stored value for %s is corrupted", name)
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return "", fmt.Errorf("unseal %s: %w", name, err)
	}
	return string(plain), nil
}

func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM secrets WHERE name = ?`, name)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

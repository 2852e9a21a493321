// Package secrets provides the credential store backing provider tokens.
// Values are sealed at rest with XChaCha20-Poly1305 under a key derived from
// the configured passphrase.
package secrets

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// ErrNotFound is returned when no value exists for a key.
var ErrNotFound = errors.New("secret not found")

// Store is an opaque secret key-value store. Last write wins per key.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

const saltSize = 16

// FileStore keeps sealed secrets in a single JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  []byte
	salt []byte
}

type fileFormat struct {
	Salt    []byte            `json:"salt"`
	Entries map[string][]byte `json:"entries"`
}

// NewFileStore opens or creates the secret file at path, deriving the
// sealing key from passphrase via scrypt.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	s := &FileStore{path: path}

	f, err := s.read()
	if err != nil {
		return nil, err
	}
	if f.Salt == nil {
		f.Salt = make([]byte, saltSize)
		if _, err := rand.Read(f.Salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		if err := s.write(f); err != nil {
			return nil, err
		}
	}
	s.salt = f.Salt

	s.key, err = scrypt.Key([]byte(passphrase), f.Salt, 1<<15, 8, 1, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return s, nil
}

// Get returns the plaintext value for key, or ErrNotFound.
func (s *FileStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return nil, err
	}
	sealed, ok := f.Entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.open(sealed)
}

// Set seals and stores value under key.
func (s *FileStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	if f.Entries == nil {
		f.Entries = make(map[string][]byte)
	}
	f.Entries[key] = sealed
	f.Salt = s.salt
	return s.write(f)
}

// Delete removes key. Deleting an absent key is not an error.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	delete(f.Entries, key)
	return s.write(f)
}

func (s *FileStore) seal(value []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, value, nil), nil
}

func (s *FileStore) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed value too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal: %w", err)
	}
	return plain, nil
}

func (s *FileStore) read() (*fileFormat, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &fileFormat{Entries: make(map[string][]byte)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secret file: %w", err)
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse secret file: %w", err)
	}
	if f.Entries == nil {
		f.Entries = make(map[string][]byte)
	}
	return &f, nil
}

func (s *FileStore) write(f *fileFormat) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write secret file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// MemoryStore is an unencrypted in-process store used in tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = v
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

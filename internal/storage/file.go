package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dimaakimm/hseai-session/internal/crypto"
)

// Ensure FileStorage implements KeyValueStore
var _ KeyValueStore = (*FileStorage)(nil)

// FileStorage persists values as a single JSON object on disk, written
// atomically via rename. Values are encrypted when an encryptor is set.
type FileStorage struct {
	mu        sync.Mutex
	path      string
	encryptor crypto.Encryptor
}

// NewFileStorage creates a file-backed store at path. The parent directory is
// created on first write. encryptor may be nil.
func NewFileStorage(path string, encryptor crypto.Encryptor) (*FileStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return &FileStorage{path: path, encryptor: encryptor}, nil
}

// Get returns the value for key or ErrNotFound
func (s *FileStorage) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	if s.encryptor == nil {
		return v, nil
	}
	plain, err := s.encryptor.Decrypt(v)
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", key, err)
	}
	return plain, nil
}

// Set stores value under key
func (s *FileStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if s.encryptor != nil {
		sealed, err := s.encryptor.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", key, err)
		}
		value = sealed
	}
	values[key] = value
	return s.save(values)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FileStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

func (s *FileStorage) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, s.path, err)
	}

	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrUnavailable, s.path, err)
	}
	return values, nil
}

func (s *FileStorage) save(values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding values: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("%w: creating directory: %v", ErrUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".storage-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing temp file: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: replacing %s: %v", ErrUnavailable, s.path, err)
	}
	return nil
}

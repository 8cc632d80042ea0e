package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dimaakimm/hseai-session/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every KeyValueStore must share.
func exerciseStore(t *testing.T, s KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "hse_sid")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "hse_sid", "abc123"))
	v, err := s.Get(ctx, "hse_sid")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)

	require.NoError(t, s.Set(ctx, "hse_sid", "def456"))
	v, err = s.Get(ctx, "hse_sid")
	require.NoError(t, err)
	assert.Equal(t, "def456", v)

	require.NoError(t, s.Delete(ctx, "hse_sid"))
	require.NoError(t, s.Delete(ctx, "hse_sid"))
	_, err = s.Get(ctx, "hse_sid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage(t *testing.T) {
	exerciseStore(t, NewMemoryStorage())
}

func TestFileStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s, err := NewFileStorage(path, nil)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileStorageEncrypted(t *testing.T) {
	enc, err := crypto.NewEncryptor([]byte("test-encryption-key-32-bytes-ok!"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFileStorage(path, enc)
	require.NoError(t, err)
	exerciseStore(t, s)

	require.NoError(t, s.Set(context.Background(), "hse_sid", "abc123"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "abc123")
}

func TestFileStoragePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	first, err := NewFileStorage(path, nil)
	require.NoError(t, err)
	require.NoError(t, first.Set(context.Background(), "hse_sid", "abc123"))

	second, err := NewFileStorage(path, nil)
	require.NoError(t, err)
	v, err := second.Get(context.Background(), "hse_sid")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)
}

func TestFileStorageCorruptFileIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := NewFileStorage(path, nil)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "hse_sid")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFileStorageRequiresPath(t *testing.T) {
	_, err := NewFileStorage("", nil)
	assert.ErrorContains(t, err, "path is required")
}

func TestFirestoreStorageConfig(t *testing.T) {
	ctx := context.Background()
	encryptor, err := crypto.NewEncryptor([]byte("test-encryption-key-32-bytes-ok!"))
	require.NoError(t, err)

	t.Run("nil encryptor", func(t *testing.T) {
		_, err := NewFirestoreStorage(ctx, FirestoreOptions{ProjectID: "p", Collection: "c", Namespace: "n"}, nil)
		assert.ErrorContains(t, err, "encryptor is required")
	})

	t.Run("missing project", func(t *testing.T) {
		_, err := NewFirestoreStorage(ctx, FirestoreOptions{Collection: "c", Namespace: "n"}, encryptor)
		assert.ErrorContains(t, err, "projectID is required")
	})

	t.Run("missing collection", func(t *testing.T) {
		_, err := NewFirestoreStorage(ctx, FirestoreOptions{ProjectID: "p", Namespace: "n"}, encryptor)
		assert.ErrorContains(t, err, "collection is required")
	})

	t.Run("missing namespace", func(t *testing.T) {
		_, err := NewFirestoreStorage(ctx, FirestoreOptions{ProjectID: "p", Collection: "c"}, encryptor)
		assert.ErrorContains(t, err, "namespace is required")
	})
}

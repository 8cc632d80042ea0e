package sid

import (
	"context"
	"errors"
	"testing"

	"github.com/dimaakimm/hseai-session/internal/storage"
	"github.com/dimaakimm/hseai-session/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newAddressBar(t *testing.T, raw string) *AddressBar {
	t.Helper()
	bar, err := NewAddressBar(raw)
	require.NoError(t, err)
	return bar
}

func TestResolveFromAddress(t *testing.T) {
	ctx := context.Background()
	bar := newAddressBar(t, "https://app.example.com/chat?sid=abc123&lang=ru")
	store := storage.NewMemoryStorage()

	id, ok := NewResolver(bar, store).Resolve(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc123", id)

	persisted, err := store.Get(ctx, DefaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, "abc123", persisted)

	assert.NotContains(t, bar.URL().RawQuery, "sid")
	assert.Equal(t, "https://app.example.com/chat?lang=ru", bar.URL().String())
	assert.Equal(t, 1, bar.Len(), "address must be replaced, not pushed")
}

func TestResolveRoundTripAfterAddressCleared(t *testing.T) {
	ctx := context.Background()
	bar := newAddressBar(t, "https://app.example.com/?sid=abc123")
	store := storage.NewMemoryStorage()

	_, ok := NewResolver(bar, store).Resolve(ctx)
	require.True(t, ok)

	// A later page load with the cleaned address still finds it.
	reloaded := NewResolver(newAddressBar(t, bar.URL().String()), store)
	id, ok := reloaded.Resolve(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc123", id)
}

func TestResolveAddressWinsOverStorage(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Set(ctx, DefaultStorageKey, "old"))

	id, ok := NewResolver(newAddressBar(t, "https://app.example.com/?sid=%20new%20"), store).Resolve(ctx)
	require.True(t, ok)
	assert.Equal(t, "new", id)

	persisted, _ := store.Get(ctx, DefaultStorageKey)
	assert.Equal(t, "new", persisted)
}

func TestResolveBlankAddressFallsBackToStorage(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Set(ctx, DefaultStorageKey, " stored "))

	id, ok := NewResolver(newAddressBar(t, "https://app.example.com/?sid=%20"), store).Resolve(ctx)
	require.True(t, ok)
	assert.Equal(t, "stored", id)
}

func TestResolveAbsent(t *testing.T) {
	id, ok := NewResolver(newAddressBar(t, "https://app.example.com/"), storage.NewMemoryStorage()).Resolve(context.Background())
	assert.False(t, ok)
	assert.Empty(t, id)

	_, ok = NewResolver(nil, nil).Resolve(context.Background())
	assert.False(t, ok)
}

func TestResolveStorageUnavailableIsAbsence(t *testing.T) {
	store := new(testutil.MockKeyValueStore)
	store.On("Get", mock.Anything, DefaultStorageKey).Return("", storage.ErrUnavailable)

	id, ok := NewResolver(newAddressBar(t, "https://app.example.com/"), store).Resolve(context.Background())
	assert.False(t, ok)
	assert.Empty(t, id)
	store.AssertExpectations(t)
}

func TestResolveStillStripsWhenPersistFails(t *testing.T) {
	store := new(testutil.MockKeyValueStore)
	store.On("Set", mock.Anything, DefaultStorageKey, "abc123").Return(errors.New("quota exceeded"))

	bar := newAddressBar(t, "https://app.example.com/?sid=abc123")
	r := NewResolver(bar, store)

	id, ok := r.Resolve(context.Background())
	require.True(t, ok)
	assert.Equal(t, "abc123", id)
	assert.Empty(t, bar.URL().RawQuery)

	// Remembered in memory even though storage refused it.
	id, ok = r.Current(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "abc123", id)
	store.AssertExpectations(t)
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	r := NewResolver(newAddressBar(t, "https://app.example.com/?sid=abc123"), store)
	_, ok := r.Resolve(ctx)
	require.True(t, ok)

	r.Forget(ctx)
	r.Forget(ctx)

	_, err := store.Get(ctx, DefaultStorageKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, ok = r.Current(ctx)
	assert.False(t, ok)
}

func TestForgetSwallowsStorageErrors(t *testing.T) {
	store := new(testutil.MockKeyValueStore)
	store.On("Delete", mock.Anything, DefaultStorageKey).Return(storage.ErrUnavailable)

	assert.NotPanics(t, func() {
		NewResolver(nil, store).Forget(context.Background())
	})
	store.AssertExpectations(t)
}

func TestCustomNames(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	r := NewResolver(newAddressBar(t, "https://app.example.com/?session=xyz"), store,
		WithQueryParam("session"), WithStorageKey("custom_key"))

	id, ok := r.Resolve(ctx)
	require.True(t, ok)
	assert.Equal(t, "xyz", id)
	v, err := store.Get(ctx, "custom_key")
	require.NoError(t, err)
	assert.Equal(t, "xyz", v)
}

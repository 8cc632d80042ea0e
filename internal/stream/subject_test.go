package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestSubjectReplaysLatest(t *testing.T) {
	s := NewSubject("loading")
	s.Publish("authorized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	assert.Equal(t, "authorized", receive(t, ch))
	assert.Equal(t, "authorized", s.Value())
}

func TestSubjectPreservesPublishOrder(t *testing.T) {
	s := NewSubject(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	// Publish everything before reading so a slow reader is exercised.
	for i := 1; i <= 100; i++ {
		s.Publish(i)
	}

	for want := 0; want <= 100; want++ {
		assert.Equal(t, want, receive(t, ch))
	}
}

func TestSubjectDuplicatesAreDelivered(t *testing.T) {
	s := NewSubject("a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	s.Publish("a")
	s.Publish("a")

	assert.Equal(t, "a", receive(t, ch))
	assert.Equal(t, "a", receive(t, ch))
	assert.Equal(t, "a", receive(t, ch))
}

func TestSubjectUnsubscribeOnContextCancel(t *testing.T) {
	s := NewSubject(1)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	receive(t, ch)
	require.Equal(t, 1, s.Len())

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return s.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubjectClose(t *testing.T) {
	s := NewSubject(1)
	ch := s.Subscribe(context.Background())
	receive(t, ch)

	s.Close()
	s.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late := s.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok)

	s.Publish(2)
	assert.Equal(t, 2, s.Value())
}

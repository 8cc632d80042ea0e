package credential

import (
	"context"
	"sync"
	"time"

	"github.com/dimaakimm/hseai-session/internal/log"
	"github.com/dimaakimm/hseai-session/internal/stream"
)

// Store is the in-memory owner of the current access credential.
//
// Every mutation publishes to a replay-latest stream. The epoch advances on
// Clear so a network result started before a sign-out can be recognised as
// stale and dropped with SetIfEpoch.
type Store struct {
	mu      sync.RWMutex
	current *AccessCredential
	epoch   uint64
	changes *stream.Subject[*AccessCredential]
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		changes: stream.NewSubject[*AccessCredential](nil),
	}
}

// Current returns a snapshot of the stored credential.
func (s *Store) Current() (AccessCredential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return AccessCredential{}, false
	}
	return *s.current, true
}

// Fresh returns the stored credential if it passes Fresh at now.
func (s *Store) Fresh(now time.Time) (AccessCredential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !Fresh(s.current, now) {
		return AccessCredential{}, false
	}
	return *s.current, true
}

// Set replaces the stored credential.
func (s *Store) Set(c AccessCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(c)
}

// SetIfEpoch stores c only if no Clear happened since epoch was read.
func (s *Store) SetIfEpoch(c AccessCredential, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		log.LogDebugWithFields("credential", "Dropping credential from a previous epoch", map[string]any{
			"epoch":   epoch,
			"current": s.epoch,
		})
		return false
	}
	s.setLocked(c)
	return true
}

func (s *Store) setLocked(c AccessCredential) {
	stored := c
	published := c
	s.current = &stored
	s.changes.Publish(&published)

	log.LogTraceWithFields("credential", "Credential stored", map[string]any{
		"token":      log.Redact(c.Token),
		"expires_at": c.ExpiresAt,
	})
}

// Clear removes the credential and starts a new epoch.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	if s.current == nil {
		return
	}
	s.current = nil
	s.changes.Publish(nil)
}

// Discard removes the credential only if it still holds token. It is used to
// drop a credential a backend has just rejected without touching a newer one.
func (s *Store) Discard(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.Token != token {
		return false
	}
	s.current = nil
	s.changes.Publish(nil)
	return true
}

// Epoch returns the current epoch.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Subscribe streams the current credential (nil when absent) and every
// subsequent change in the order it was applied.
func (s *Store) Subscribe(ctx context.Context) <-chan *AccessCredential {
	return s.changes.Subscribe(ctx)
}

// Close ends all subscriptions.
func (s *Store) Close() {
	s.changes.Close()
}

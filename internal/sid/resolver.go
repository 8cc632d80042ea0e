// Package sid resolves the session identifier that attaches this client to a
// backend session, and attaches it to outbound requests.
package sid

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/dimaakimm/hseai-session/internal/log"
	"github.com/dimaakimm/hseai-session/internal/storage"
	"github.com/dimaakimm/hseai-session/internal/urlutil"
)

const (
	// DefaultQueryParam carries the identifier in the page address
	DefaultQueryParam = "sid"
	// DefaultStorageKey holds the persisted identifier
	DefaultStorageKey = "hse_sid"
)

// Resolver finds the session identifier. The page address wins over durable
// storage; an identifier found in the address is persisted and then removed
// from the address with a history replace.
//
// Storage failures never surface: they are logged and reported as absence.
type Resolver struct {
	location   Location
	store      storage.KeyValueStore
	queryParam string
	storageKey string

	mu     sync.RWMutex
	cached string
}

// Option configures a Resolver
type Option func(*Resolver)

// WithQueryParam overrides the address parameter name
func WithQueryParam(name string) Option {
	return func(r *Resolver) {
		r.queryParam = name
	}
}

// WithStorageKey overrides the durable storage key
func WithStorageKey(key string) Option {
	return func(r *Resolver) {
		r.storageKey = key
	}
}

// NewResolver creates a resolver. location and store may be nil, in which
// case that source is simply never consulted.
func NewResolver(location Location, store storage.KeyValueStore, opts ...Option) *Resolver {
	r := &Resolver{
		location:   location,
		store:      store,
		queryParam: DefaultQueryParam,
		storageKey: DefaultStorageKey,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// QueryParam returns the parameter name used for the identifier
func (r *Resolver) QueryParam() string {
	return r.queryParam
}

// Resolve looks the identifier up, address first, then storage.
func (r *Resolver) Resolve(ctx context.Context) (string, bool) {
	if id, ok := r.fromAddress(); ok {
		// Persist before touching the address so a crash in between cannot
		// lose the identifier.
		r.persist(ctx, id)
		r.stripAddress()
		r.remember(id)
		log.LogInfoWithFields("sid", "Session identifier captured from address", map[string]any{
			"sid": log.Redact(id),
		})
		return id, true
	}

	id, ok := r.fromStorage(ctx)
	r.remember(id)
	return id, ok
}

// Current returns the identifier resolved earlier in this process, resolving
// it now if nothing is remembered yet.
func (r *Resolver) Current(ctx context.Context) (string, bool) {
	r.mu.RLock()
	id := r.cached
	r.mu.RUnlock()
	if id != "" {
		return id, true
	}
	return r.Resolve(ctx)
}

// Forget deletes the persisted identifier and the remembered one.
func (r *Resolver) Forget(ctx context.Context) {
	r.remember("")
	if r.store == nil {
		return
	}
	if err := r.store.Delete(ctx, r.storageKey); err != nil {
		log.LogWarnWithFields("sid", "Failed to delete persisted session identifier", map[string]any{
			"error": err.Error(),
		})
	}
}

func (r *Resolver) remember(id string) {
	r.mu.Lock()
	r.cached = id
	r.mu.Unlock()
}

func (r *Resolver) fromAddress() (string, bool) {
	if r.location == nil {
		return "", false
	}
	return urlutil.QueryParam(r.location.URL(), r.queryParam)
}

func (r *Resolver) stripAddress() {
	stripped, had := urlutil.StripQueryParam(r.location.URL(), r.queryParam)
	if had {
		r.location.Replace(stripped)
	}
}

func (r *Resolver) fromStorage(ctx context.Context) (string, bool) {
	if r.store == nil {
		return "", false
	}
	v, err := r.store.Get(ctx, r.storageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.LogWarnWithFields("sid", "Session identifier storage unavailable", map[string]any{
				"error": err.Error(),
			})
		}
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *Resolver) persist(ctx context.Context, id string) {
	if r.store == nil {
		return
	}
	if err := r.store.Set(ctx, r.storageKey, id); err != nil {
		log.LogWarnWithFields("sid", "Failed to persist session identifier", map[string]any{
			"error": err.Error(),
		})
	}
}

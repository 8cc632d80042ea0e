// Package storage provides durable client-side key/value storage for the
// persisted session identifier. It stands in for browser local storage: one
// key per value, string values only.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no value
var ErrNotFound = errors.New("key not found")

// ErrUnavailable is returned when the storage medium cannot be reached
var ErrUnavailable = errors.New("storage unavailable")

// KeyValueStore is the durable storage used by the session identifier resolver.
// Implementations must be safe for concurrent use.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Kind names a storage backend in configuration
type Kind string

const (
	KindMemory    Kind = "memory"
	KindFile      Kind = "file"
	KindFirestore Kind = "firestore"
)

package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dimaakimm/hseai-session/internal/crypto"
	"github.com/dimaakimm/hseai-session/internal/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ensure FirestoreStorage implements KeyValueStore
var _ KeyValueStore = (*FirestoreStorage)(nil)

// FirestoreStorage keeps values in Google Cloud Firestore, one document per
// (namespace, key). Values are always encrypted at rest.
//
// Error handling strategy: every Firestore failure other than NotFound is
// reported as ErrUnavailable. Callers treat that as absence, so a Firestore
// outage degrades to "no persisted session" rather than a crash.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
	namespace  string
	encryptor  crypto.Encryptor
}

// valueDoc represents a stored value in Firestore
type valueDoc struct {
	Namespace string    `firestore:"namespace"`
	Key       string    `firestore:"key"`
	Value     string    `firestore:"value"` // encrypted
	UpdatedAt time.Time `firestore:"updated_at"`
}

// FirestoreOptions configures NewFirestoreStorage
type FirestoreOptions struct {
	ProjectID       string
	Database        string
	Collection      string
	Namespace       string // separates devices or profiles sharing a collection
	CredentialsFile string
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, opts FirestoreOptions, encryptor crypto.Encryptor) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	var client *firestore.Client
	var err error

	// Firestore client with custom database
	if opts.Database != "" && opts.Database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, opts.ProjectID, opts.Database, clientOpts...)
	} else {
		client, err = firestore.NewClient(ctx, opts.ProjectID, clientOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
		"project":    opts.ProjectID,
		"database":   opts.Database,
		"collection": opts.Collection,
	})

	return &FirestoreStorage{
		client:     client,
		collection: opts.Collection,
		namespace:  opts.Namespace,
		encryptor:  encryptor,
	}, nil
}

func (s *FirestoreStorage) docRef(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(s.namespace + ":" + key)
}

// Get returns the value for key or ErrNotFound
func (s *FirestoreStorage) Get(ctx context.Context, key string) (string, error) {
	doc, err := s.docRef(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: failed to get %s from Firestore: %v", ErrUnavailable, key, err)
	}

	var vd valueDoc
	if err := doc.DataTo(&vd); err != nil {
		return "", fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}

	plain, err := s.encryptor.Decrypt(vd.Value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt %s: %w", key, err)
	}
	return plain, nil
}

// Set stores value under key
func (s *FirestoreStorage) Set(ctx context.Context, key, value string) error {
	sealed, err := s.encryptor.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}

	_, err = s.docRef(key).Set(ctx, valueDoc{
		Namespace: s.namespace,
		Key:       key,
		Value:     sealed,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to store %s in Firestore: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Delete removes key. Firestore deletes of missing documents succeed.
func (s *FirestoreStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.docRef(key).Delete(ctx); err != nil {
		return fmt.Errorf("%w: failed to delete %s from Firestore: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Close releases the Firestore client
func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}

package repository

import (
	"context"

	"github.com/and161185/consent-keeper/internal/model"
)

// DefaultAreaName is the name of the single persisted area holding all envelopes.
const DefaultAreaName = "consent_agreements"

// DocumentStore persists id -> encrypted envelope. It never sees plaintext or keys.
type DocumentStore interface {
	// Put inserts or overwrites the envelope for id.
	Put(ctx context.Context, id string, env model.Envelope) error

	// GetEnvelope returns the envelope for id or errs.ErrNotFound.
	GetEnvelope(ctx context.Context, id string) (model.Envelope, error)

	// Has reports whether an envelope exists for id.
	Has(ctx context.Context, id string) (bool, error)

	// ListMetadata returns the cleartext metadata of every envelope.
	ListMetadata(ctx context.Context) ([]model.ListEntry, error)

	// Delete removes the envelope for id and reports whether one existed.
	Delete(ctx context.Context, id string) (bool, error)
}

// Area is a named, durable slot holding one serialized value, in the manner
// of browser localStorage. Implementations: file, postgres, redis.
type Area interface {
	// Load returns the stored bytes or errs.ErrNotFound if never written.
	Load(ctx context.Context) ([]byte, error)

	// Store replaces the stored bytes.
	Store(ctx context.Context, value []byte) error
}

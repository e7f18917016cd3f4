package store

import (
	"context"
	"errors"
	"time"
)

// DefaultKey is the key the session record is stored under inside an origin.
const DefaultKey = "docgate_session"

// ErrUnparsable is returned by Load when the stored value exists but cannot be decoded.
var ErrUnparsable = errors.New("store: stored record is unparsable")

// Record is the persisted session record.
// This is a copy of the main Record type to avoid circular imports.
// IssuedAt is not persisted; it lives inside the token.
type Record struct {
	Token          string
	Principal      string
	SessionNonce   string
	ExpiresAt      time.Time
	LastActivityAt time.Time
}

// RecordStore defines the interface for session record storage backends.
// A store is scoped to one origin and holds at most one record.
// Writes are last-writer-wins. Implementations must be safe for concurrent use.
type RecordStore interface {
	// Load returns the stored record, or nil with a nil error if none is stored.
	// Content that cannot be decoded yields an error wrapping ErrUnparsable.
	Load(ctx context.Context) (*Record, error)

	// Save overwrites the stored record.
	Save(ctx context.Context, rec *Record) error

	// Clear removes the stored record. Clearing an empty store is not an error.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

package sessions

import (
	"context"
	"time"
)

// Store persists session records keyed by token. Implementations must be
// safe for concurrent use and must not judge validity; that is the
// authority's job.
type Store interface {
	// Get returns the record for token, or ErrNotFound.
	Get(ctx context.Context, token string) (*Session, error)

	// Put inserts or replaces the record. expiresAt is the instant the record
	// stops being valid if untouched; backends with native expiry may use it
	// to reclaim abandoned records. A zero expiresAt means no hint.
	Put(ctx context.Context, s Session, expiresAt time.Time) error

	// Update replaces a record that is still stored, with the same expiry
	// hint as Put. When token is absent it writes nothing and returns
	// ErrNotFound, so a touch that loses a race with Delete cannot bring
	// the record back.
	Update(ctx context.Context, s Session, expiresAt time.Time) error

	// Delete removes the record. Deleting an absent token is not an error.
	Delete(ctx context.Context, token string) error

	// Scan calls fn for every stored record. fn may delete records, including
	// the one it was handed. A non-nil error from fn stops the scan and is
	// returned as is.
	Scan(ctx context.Context, fn func(Session) error) error
}

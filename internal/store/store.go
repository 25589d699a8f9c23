// Package store provides session and access-code storage.
package store

import (
	"context"

	"github.com/deegee85/negotiation-lab/internal/domain"
)

// SessionStore is the keyed collection of negotiation sessions. Sessions are
// created once per identity and never deleted; mutation happens through the
// Session reference under the engine's per-session turn lock.
type SessionStore interface {
	// Create returns the session for the given identity, creating it if
	// needed. Repeat calls for the same email return the existing session
	// unchanged (idempotent; a repeated start never resets history).
	Create(name, email string) (*domain.Session, bool, error)

	// Get retrieves a session by its handle. Returns domain.ErrNotFound if
	// no session exists for the handle.
	Get(handle string) (*domain.Session, error)

	// GetByEmail retrieves a session by its identity key.
	GetByEmail(email string) (*domain.Session, error)

	// All returns every session in creation order.
	All() []*domain.Session
}

// AccessCodeStore validates participant access codes.
type AccessCodeStore interface {
	// IsValid reports whether the code grants access.
	IsValid(ctx context.Context, code string) (bool, error)

	// Seed inserts codes, ignoring ones already present.
	Seed(ctx context.Context, codes []string) error

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close closes the backing database.
	Close() error
}

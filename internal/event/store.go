package event

import (
	"context"
	"errors"
	"time"
)

// ErrTransient marks infrastructure failures (store, queue, cache
// unavailable) that are safe to retry.
var ErrTransient = errors.New("transient infrastructure error")

// Store is the persistence interface for events. Upsert is keyed by
// ContentFingerprint and is last-write-wins by ParsedAt, so repeated calls
// for the same logical event are idempotent.
type Store interface {
	Upsert(ctx context.Context, e *Event) error
	GetByFingerprint(ctx context.Context, fingerprint string) (*Event, bool, error)
	ListRecent(ctx context.Context, limit int) ([]*Event, error)
	ListByState(ctx context.Context, state string, limit int) ([]*Event, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]*Event, error)
	CountByTier(ctx context.Context) (TierCounts, error)

	// Aggregate returns per-day rollups for events parsed at or after since,
	// plus tier and state counts over all events, from one consistent read.
	Aggregate(ctx context.Context, since time.Time) (*Aggregates, error)
}

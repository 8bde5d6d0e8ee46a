// Package snapshot persists the last-known surface set per user, used as a
// fallback when live connection status is unavailable.
package snapshot

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get when no snapshot exists for a user.
var ErrNotFound = errors.New("snapshot: not found")

// IsNotFound returns true if the error indicates a missing snapshot.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the durable backend for snapshots. Implementations must be safe
// for concurrent use.
type Store interface {
	Put(ctx context.Context, userID int64, platforms []string, capturedAt time.Time) error
	// Get returns the stored platforms and capture time, or ErrNotFound.
	Get(ctx context.Context, userID int64) ([]string, time.Time, error)
	Delete(ctx context.Context, userID int64) error
}

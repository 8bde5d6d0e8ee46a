package chat

import "errors"

// ErrNotFound is returned when a channel, member, role or message cannot be
// resolved on the platform even after a live fetch.
var ErrNotFound = errors.New("chat: not found")

// IsNotFound returns true if the error indicates a missing platform entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

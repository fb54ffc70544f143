// Package storage provides the TTL-aware key/value option store used for
// lock state, scan status snapshots, proxy health and notification history.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyKey is returned when an empty key is passed to a store operation.
var ErrEmptyKey = errors.New("storage key is required")

// OptionStore is the persisted key/value store abstraction. All components
// receive an explicit store; there is no ambient global access.
type OptionStore interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value under key only if the key does not exist.
	// Returns true when the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// CompareAndDelete removes key only if its current value equals expect.
	// Returns true when the key was removed.
	CompareAndDelete(ctx context.Context, key, expect string) (bool, error)
	// Increment atomically increments the integer value at key and returns
	// the new value. Missing keys start at zero.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

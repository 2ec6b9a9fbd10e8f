package cache

import (
	"context"
	"time"
)

// Stamp is the set of invalidation generations observed for a key.
// A fill carrying a stamp is stored only if none of the generations moved.
type Stamp struct {
	Global uint64
	User   uint64
	Key    uint64
}

// Backend stores serialized entries and tracks invalidation generations.
// Implementations must make SetIfCurrent atomic with respect to Delete,
// DeleteUser and Flush.
type Backend interface {
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	// Set overwrites unconditionally.
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error
	Stamp(ctx context.Context, key Key) (Stamp, error)
	// SetIfCurrent stores value only if stamp still matches the current generations.
	SetIfCurrent(ctx context.Context, key Key, stamp Stamp, value []byte, ttl time.Duration) (bool, error)
	// Delete removes the entry and advances its key generation.
	Delete(ctx context.Context, key Key) error
	// DeleteUser removes all entries of a user and advances the user generation.
	DeleteUser(ctx context.Context, userID int64) error
	// Flush removes every entry and advances the global generation.
	Flush(ctx context.Context) error
	Close() error
}

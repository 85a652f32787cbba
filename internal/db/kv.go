package db

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when the key holds no value.
var ErrKeyNotFound = errors.New("key not found")

// ErrNilStore is returned when an operation is attempted without a backing store.
var ErrNilStore = errors.New("nil store")

// KVStore is the small persistent key-value surface the rotation engine
// needs for state that must outlive a process restart.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. A zero ttl keeps the value until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

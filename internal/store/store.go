// Package store is the key-value abstraction every piece of persistent
// state goes through: calendar tokens, team preferences, cached feeds and
// the OAuth session.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// Store maps string keys to string values with an optional TTL.
// A ttl <= 0 means the value never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

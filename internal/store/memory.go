package store

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memory is a process-local Store. Contents are lost on restart, which
// costs a re-authorization and a cold feed cache but nothing else.
type Memory struct {
	cache *ttlcache.Cache[string, string]
}

// NewMemory creates a Memory store and starts its expiry loop. Call Close
// to stop it.
func NewMemory() *Memory {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go c.Start()
	return &Memory{cache: c}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	item := m.cache.Get(key)
	if item == nil || item.IsExpired() {
		return "", ErrNotFound
	}
	return item.Value(), nil
}

func (m *Memory) Put(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	m.cache.Set(key, value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	return m.cache.Len()
}

func (m *Memory) Close() error {
	m.cache.Stop()
	return nil
}

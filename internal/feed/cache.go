package feed

import (
	"context"
	"errors"
	"strconv"
	"time"

	"teamcal/internal/store"
)

// CacheTTL bounds how long a rendered document is reused.
const CacheTTL = time.Hour

// Entry is a cached document and the watermark it was rendered from.
type Entry struct {
	Body      string
	Watermark int64
}

// Cache keeps one Entry per token as a body/watermark key pair.
type Cache struct {
	kv store.Store
}

func NewCache(kv store.Store) *Cache {
	return &Cache{kv: kv}
}

func bodyKey(token string) string      { return "feed:" + token + ":body" }
func watermarkKey(token string) string { return "feed:" + token + ":updated" }

// Load returns the entry for token. A missing or unparseable half of the
// pair makes the whole entry absent.
func (c *Cache) Load(ctx context.Context, token string) (Entry, bool, error) {
	body, err := c.kv.Get(ctx, bodyKey(token))
	if errors.Is(err, store.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	raw, err := c.kv.Get(ctx, watermarkKey(token))
	if errors.Is(err, store.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	wm, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || wm <= 0 || body == "" {
		return Entry{}, false, nil
	}
	return Entry{Body: body, Watermark: wm}, true, nil
}

// Save writes both halves with CacheTTL.
func (c *Cache) Save(ctx context.Context, token string, e Entry) error {
	if err := c.kv.Put(ctx, bodyKey(token), e.Body, CacheTTL); err != nil {
		return err
	}
	return c.kv.Put(ctx, watermarkKey(token), strconv.FormatInt(e.Watermark, 10), CacheTTL)
}

// Invalidate drops the entry for token.
func (c *Cache) Invalidate(ctx context.Context, token string) error {
	if err := c.kv.Delete(ctx, bodyKey(token)); err != nil {
		return err
	}
	return c.kv.Delete(ctx, watermarkKey(token))
}

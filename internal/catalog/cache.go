package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" || c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// CachedLookup memoises barcode and id lookups in Redis. Name searches and
// not-found results are never cached so new products show up immediately.
type CachedLookup struct {
	Next   Lookup
	Cache  *Cache
	Logger zerolog.Logger
}

// FindByBarcode implements Lookup.
func (l CachedLookup) FindByBarcode(ctx context.Context, code string) (*Product, error) {
	return l.cached(ctx, barcodeCacheKey(code), func() (*Product, error) {
		return l.Next.FindByBarcode(ctx, code)
	})
}

// FindByID implements Lookup.
func (l CachedLookup) FindByID(ctx context.Context, id int64) (*Product, error) {
	return l.cached(ctx, idCacheKey(id), func() (*Product, error) {
		return l.Next.FindByID(ctx, id)
	})
}

// SearchByName implements Lookup.
func (l CachedLookup) SearchByName(ctx context.Context, term string) ([]Product, error) {
	return l.Next.SearchByName(ctx, term)
}

func (l CachedLookup) cached(ctx context.Context, key string, load func() (*Product, error)) (*Product, error) {
	var hit Product
	ok, err := l.Cache.GetJSON(ctx, key, &hit)
	if err != nil {
		l.Logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_get")
	}
	if ok {
		return &hit, nil
	}
	product, err := load()
	if err != nil || product == nil {
		return product, err
	}
	if err := l.Cache.SetJSON(ctx, key, product); err != nil {
		l.Logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_set")
	}
	return product, nil
}

func barcodeCacheKey(code string) string {
	return "catalog:barcode:" + code
}

func idCacheKey(id int64) string {
	return "catalog:id:" + strconv.FormatInt(id, 10)
}

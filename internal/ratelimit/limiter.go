// Package ratelimit throttles lane endpoints that fan out to the backoffice.
package ratelimit

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// ErrDisabled is returned by New when the rate is empty or "off".
var ErrDisabled = errors.New("ratelimit: disabled")

// New builds a limiter from a formatted rate such as "30-S" or "600-M".
// Counters live in Redis when a client is supplied and in memory otherwise.
func New(ctx context.Context, rdb *redis.Client, rate, prefix string) (*limiter.Limiter, error) {
	rate = strings.TrimSpace(rate)
	if rate == "" || strings.EqualFold(rate, "off") {
		return nil, ErrDisabled
	}
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	opts := limiter.StoreOptions{Prefix: prefix}
	var store limiter.Store
	if rdb != nil {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		store, err = limiterredis.NewStoreWithOptions(rdb, opts)
		if err != nil {
			return nil, err
		}
	} else {
		opts.CleanUpInterval = limiter.DefaultCleanUpInterval
		store = memory.NewStoreWithOptions(opts)
	}
	return limiter.New(store, parsed), nil
}

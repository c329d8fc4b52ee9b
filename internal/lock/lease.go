// Package lock keeps a lane exclusive to one running process.
package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another process already owns the lease.
var ErrHeld = errors.New("lock: lease held by another process")

// ErrLost is reported when the lease expired or was taken over while held.
var ErrLost = errors.New("lock: lease lost")

const (
	refreshScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
else
  return 0
end`
	releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
)

// Lease is a Redis key owned by a single process and refreshed while it runs.
type Lease struct {
	R   *redis.Client
	Key string
	TTL time.Duration

	mu    sync.Mutex
	token string
}

// LaneKey names the lease for a terminal id.
func LaneKey(terminalID string) string {
	return "pdv:lane:" + strings.TrimSpace(terminalID)
}

// Acquire takes the lease or returns ErrHeld.
func (l *Lease) Acquire(ctx context.Context) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, l.Key, token, l.ttl()).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrHeld
	}
	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return nil
}

// Refresh extends the lease. It returns ErrLost when the key no longer holds
// our token.
func (l *Lease) Refresh(ctx context.Context) error {
	token := l.current()
	if token == "" {
		return ErrLost
	}
	n, err := l.R.Eval(ctx, refreshScript, []string{l.Key}, token, l.ttl().Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

// Keep refreshes the lease at a third of its TTL until ctx ends. A lost lease
// or a failing refresh is passed to onLost once and stops the loop.
func (l *Lease) Keep(ctx context.Context, onLost func(error)) {
	ticker := time.NewTicker(l.ttl() / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if onLost != nil {
					onLost(err)
				}
				return
			}
		}
	}
}

// Release deletes the key if we still own it.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" || l.R == nil {
		return nil
	}
	return l.R.Eval(ctx, releaseScript, []string{l.Key}, token).Err()
}

func (l *Lease) current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token
}

func (l *Lease) ttl() time.Duration {
	if l.TTL <= 0 {
		return 30 * time.Second
	}
	return l.TTL
}

// Package redislock provides a ledger.Locker shared across server
// instances, backed by Redis.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/supply-ledger/ledger"
)

const (
	defaultTTL   = 30 * time.Second
	retryBackoff = 25 * time.Millisecond
)

// Locker obtains named locks from Redis. A holder that dies releases its
// lock when the TTL expires.
type Locker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	log    logrus.FieldLogger
}

// New wraps an existing redis client. Keys are namespaced with prefix.
func New(rdb redis.UniversalClient, prefix string, log logrus.FieldLogger) *Locker {
	return &Locker{
		client: redislock.New(rdb),
		prefix: prefix,
		ttl:    defaultTTL,
		log:    log,
	}
}

// Connect dials addr, pings it and returns a Locker on success.
func Connect(ctx context.Context, addr, prefix string, log logrus.FieldLogger) (*Locker, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       0,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(rdb, prefix, log), rdb, nil
}

// Lock blocks until the lock is obtained or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + key
	lock, err := l.client.Obtain(ctx, lockKey, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(retryBackoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) && ctx.Err() != nil {
		return nil, fmt.Errorf("lock %s not obtained: %w", lockKey, ctx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", lockKey, err)
	}

	return func() {
		// Release with a fresh context so a cancelled request still frees the lock.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(relCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.WithFields(logrus.Fields{"key": lockKey}).Warn("failed to release redis lock: " + err.Error())
		}
	}, nil
}

var _ ledger.Locker = (*Locker)(nil)

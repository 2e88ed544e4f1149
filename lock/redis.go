// Package lock provides a distributed ledger.KeyLocker backed by Redis.
//
// Several server processes sharing one database serialize writes to the same
// (store, product) balance through these locks. Within a single process the
// ledger's LocalLocker is enough.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/ledger"
)

const (
	DefaultTTL     = 30 * time.Second
	DefaultRetries = 20
	DefaultBackoff = 50 * time.Millisecond
)

// RedisLocker obtains one redislock per key, in sorted key order.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
	prefix  string
	log     logrus.FieldLogger
}

type Option func(*RedisLocker)

func WithTTL(ttl time.Duration) Option { return func(l *RedisLocker) { l.ttl = ttl } }

func WithRetry(n int, backoff time.Duration) Option {
	return func(l *RedisLocker) { l.retries, l.backoff = n, backoff }
}

func WithPrefix(prefix string) Option { return func(l *RedisLocker) { l.prefix = prefix } }

func WithLogger(log logrus.FieldLogger) Option { return func(l *RedisLocker) { l.log = log } }

func NewRedisLocker(rdb redis.UniversalClient, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     DefaultTTL,
		retries: DefaultRetries,
		backoff: DefaultBackoff,
		prefix:  "lock:",
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock obtains every key or none. A key still held elsewhere after the
// retry budget is reported as ledger.ErrConcurrentModification so the
// caller's retry policy applies.
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		// released with a fresh context: the caller's may already be done
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.log.WithError(err).WithField("key", held[i].Key()).Warn("failed to release lock")
			}
		}
	}

	for _, key := range ledger.SortedKeys(keys) {
		lk, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
		})
		if errors.Is(err, redislock.ErrNotObtained) {
			release()
			return nil, fmt.Errorf("%w: lock %s is held", ledger.ErrConcurrentModification, key)
		}
		if err != nil {
			release()
			return nil, fmt.Errorf("%w: obtain lock %s: %v", ledger.ErrStorageUnavailable, key, err)
		}
		held = append(held, lk)
	}
	return release, nil
}

var _ ledger.KeyLocker = (*RedisLocker)(nil)

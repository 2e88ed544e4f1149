package lock_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/lock"
)

func newLocker(t *testing.T, opts ...lock.Option) *lock.RedisLocker {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())

	log := logrus.New()
	log.SetOutput(io.Discard)
	base := []lock.Option{
		lock.WithPrefix("test-" + uuid.NewString() + ":"),
		lock.WithTTL(5 * time.Second),
		lock.WithLogger(log),
	}
	return lock.NewRedisLocker(rdb, append(base, opts...)...)
}

func TestRedisLocker_ExcludesOtherHolders(t *testing.T) {
	// GIVEN: One holder of the balance key
	l := newLocker(t, lock.WithRetry(2, 10*time.Millisecond))
	ctx := context.Background()
	release, err := l.Lock(ctx, "balance:1:1", "balance:1:2")
	require.NoError(t, err)

	// WHEN: A second caller wants an overlapping key
	_, err = l.Lock(ctx, "balance:1:2")

	// THEN: It gives up with a retryable error
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.True(t, ledger.IsRetryable(err))

	// AND: Disjoint keys are unaffected
	other, err := l.Lock(ctx, "balance:2:1")
	require.NoError(t, err)
	other()

	release()
	again, err := l.Lock(ctx, "balance:1:2")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_AllOrNothing(t *testing.T) {
	l := newLocker(t, lock.WithRetry(1, 10*time.Millisecond))
	ctx := context.Background()
	held, err := l.Lock(ctx, "b")
	require.NoError(t, err)

	// "a" sorts first and is obtained, then released when "b" fails
	_, err = l.Lock(ctx, "a", "b")
	require.Error(t, err)
	held()

	release, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	release()
}

func TestRedisLocker_UnreachableIsUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	l := lock.NewRedisLocker(rdb, lock.WithRetry(0, time.Millisecond))

	_, err := l.Lock(context.Background(), "k")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrStorageUnavailable))
}

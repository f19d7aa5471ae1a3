package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSortsAndDeduplicates(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, normalize([]string{"c", "a", "", "b", "a"}))
}

func TestLocalSerialisesSameKey(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "stock:1:1", "stock:2:1")
			if err != nil {
				t.Error(err)
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, maxInside.Load())
	require.Empty(t, locker.slots)
}

func TestLocalTimesOutWhileHeld(t *testing.T) {
	locker := NewLocal()
	release, err := locker.Acquire(context.Background(), "stock:1:1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "stock:0:0", "stock:1:1")
	require.ErrorIs(t, err, ErrNotObtained)

	// the partially acquired key must have been released
	other, err := locker.Acquire(context.Background(), "stock:0:0")
	require.NoError(t, err)
	other()
}

func TestLocalReleaseIsIdempotent(t *testing.T) {
	locker := NewLocal()
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
	release()

	again, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func newRedisLocker(t *testing.T, wait time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, RedisOptions{TTL: time.Second, Wait: wait, Backoff: 5 * time.Millisecond}), mr
}

func TestRedisAcquireAndRelease(t *testing.T) {
	locker, mr := newRedisLocker(t, 100*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "stock:2:9", "stock:1:9")
	require.NoError(t, err)
	require.True(t, mr.Exists("lock:stock:1:9"))
	require.True(t, mr.Exists("lock:stock:2:9"))

	release()
	require.False(t, mr.Exists("lock:stock:1:9"))
	require.False(t, mr.Exists("lock:stock:2:9"))
}

func TestRedisContentionReturnsNotObtained(t *testing.T) {
	locker, mr := newRedisLocker(t, 30*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "stock:1:9")
	require.NoError(t, err)
	defer release()

	_, err = locker.Acquire(ctx, "stock:0:9", "stock:1:9")
	require.ErrorIs(t, err, ErrNotObtained)
	require.False(t, mr.Exists("lock:stock:0:9"))
}

func TestRedisRefreshesWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedis(client, RedisOptions{TTL: 300 * time.Millisecond, Wait: 50 * time.Millisecond})

	release, err := locker.Acquire(context.Background(), "stock:1:9")
	require.NoError(t, err)

	// Each fast-forward alone would not expire the key, but together they
	// exceed the TTL unless it is extended in between.
	mr.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL("lock:stock:1:9") > 250*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)
	mr.FastForward(250 * time.Millisecond)
	require.True(t, mr.Exists("lock:stock:1:9"))

	_, err = locker.Acquire(context.Background(), "stock:1:9")
	require.ErrorIs(t, err, ErrNotObtained)

	release()
	require.False(t, mr.Exists("lock:stock:1:9"))
}

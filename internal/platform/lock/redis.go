package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Redis is a Locker shared by every process pointed at the same Redis.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
	prefix  string
}

// RedisOptions tunes lock lifetime and waiting.
type RedisOptions struct {
	// TTL bounds how long a crashed holder can keep a key. Live holders
	// refresh it while they hold the lock.
	TTL time.Duration
	// Wait bounds how long Acquire retries before giving up.
	Wait time.Duration
	// Backoff is the retry interval while waiting.
	Backoff time.Duration
	Prefix  string
}

// NewRedis constructs a Redis-backed Locker.
func NewRedis(rdb redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Wait <= 0 {
		opts.Wait = 5 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if opts.Prefix == "" {
		opts.Prefix = "lock:"
	}
	return &Redis{
		client:  redislock.New(rdb),
		ttl:     opts.TTL,
		wait:    opts.Wait,
		backoff: opts.Backoff,
		prefix:  opts.Prefix,
	}
}

// Acquire obtains every key in sorted order, releasing what it holds on failure.
func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	waitCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	held := make([]*redislock.Lock, 0, len(keys))
	releaseAll := func() {
		// Release must outlive a cancelled request context.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(releaseCtx)
		}
	}
	for _, key := range keys {
		l, err := r.client.Obtain(waitCtx, r.prefix+key, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.backoff),
		})
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
			}
			return nil, fmt.Errorf("lock: obtain %s: %w", key, err)
		}
		held = append(held, l)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(context.WithoutCancel(ctx), held, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseAll()
		})
	}, nil
}

// keepAlive extends every held lock at a third of the TTL until stop closes,
// so a holder that outlives the TTL keeps its keys.
func (r *Redis) keepAlive(ctx context.Context, held []*redislock.Lock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, r.ttl/3)
			for _, l := range held {
				_ = l.Refresh(refreshCtx, r.ttl, nil)
			}
			cancel()
		}
	}
}

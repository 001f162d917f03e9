package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"go.uber.org/zap"
)

const (
	defaultLockTTL     = 30 * time.Second
	defaultLockBackoff = 250 * time.Millisecond
	defaultLockRetries = 240
)

// Redis is a Locker shared by every API instance. Held locks are refreshed
// at half their TTL until released.
type Redis struct {
	client  *redislock.Client
	prefix  string
	ttl     time.Duration
	backoff time.Duration
	retries int
	logger  *zap.Logger
}

type RedisOption func(*Redis)

func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

func WithRetry(backoff time.Duration, retries int) RedisOption {
	return func(r *Redis) {
		r.backoff = backoff
		r.retries = retries
	}
}

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

func WithLogger(l *zap.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

func NewRedis(client redislock.RedisClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  redislock.New(client),
		prefix:  "lock:results:",
		ttl:     defaultLockTTL,
		backoff: defaultLockBackoff,
		retries: defaultLockRetries,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.backoff), r.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain redis lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.Refresh(context.Background(), r.ttl, nil); err != nil {
					r.logger.Warn("refresh redis lock", zap.String("key", key), zap.Error(err))
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.Warn("release redis lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

var _ Locker = (*Redis)(nil)

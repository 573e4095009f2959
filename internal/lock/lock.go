package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Locker serializes writers across processes ahead of the store's own row
// locks. Locks are advisory: a lock that cannot be obtained is logged and the
// caller proceeds, relying on the store to reject conflicting commits.
type Locker interface {
	Acquire(ctx context.Context, keys []string) (release func())
}

type Noop struct{}

func (Noop) Acquire(_ context.Context, _ []string) func() {
	return func() {}
}

type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   redislock.RetryStrategy
	log    *logrus.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, log *logrus.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client: redislock.New(client),
		ttl:    ttl,
		wait:   redislock.LimitRetry(redislock.LinearBackoff(25*time.Millisecond), 40),
		log:    log,
	}
}

// StockKey is the lock key guarding one product's stock.
func StockKey(productID string) string {
	return fmt.Sprintf("stock:%s", productID)
}

// Acquire obtains keys in sorted order so two callers never wait on each other
// in opposite directions.
func (l *RedisLocker) Acquire(ctx context.Context, keys []string) func() {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*redislock.Lock, 0, len(sorted))
	for _, key := range sorted {
		lk, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: l.wait})
		if errors.Is(err, redislock.ErrNotObtained) {
			l.log.WithFields(logrus.Fields{"key": key}).Warn("could not obtain redis lock; proceeding without it")
			continue
		}
		if err != nil {
			l.log.WithFields(logrus.Fields{"key": key}).WithError(err).Warn("error obtaining redis lock; proceeding without it")
			continue
		}
		held = append(held, lk)
	}

	return func() {
		// Release with a fresh context so a cancelled request still frees its keys.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.log.WithFields(logrus.Fields{"key": held[i].Key()}).WithError(err).Warn("release redis lock")
			}
		}
	}
}

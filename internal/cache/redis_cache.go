package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"koperasi/backend/internal/domain"
)

var errStaleSummary = errors.New("summary computed before a later invalidation")

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisSummaryCache stores each summary under its window key and indexes the
// key in one set per covered day, so a commit on a date can drop every window
// that includes it. A counter per day guards writes against invalidations
// that land while the summary was being computed.
type RedisSummaryCache struct {
	client *redis.Client
}

func NewRedisSummaryCache(client *redis.Client) *RedisSummaryCache {
	return &RedisSummaryCache{client: client}
}

func (c *RedisSummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSummaryCache) Close() error {
	return c.client.Close()
}

func (c *RedisSummaryCache) Get(ctx context.Context, from time.Time, to time.Time) (*domain.Summary, bool, error) {
	val, err := c.client.Get(ctx, SummaryKey(from, to)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summary domain.Summary
	if err := json.Unmarshal([]byte(val), &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisSummaryCache) Generations(ctx context.Context, from time.Time, to time.Time) (Stamp, error) {
	keys := GenerationKeys(from, to)
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	return parseGenerations(vals)
}

// Set writes value under WATCH on the covered days' counters and skips the
// write when stamp no longer matches them.
func (c *RedisSummaryCache) Set(ctx context.Context, value domain.Summary, stamp Stamp, ttl time.Duration) error {
	days := DaysCovered(value.From, value.To)
	genKeys := GenerationKeys(value.From, value.To)
	if len(days) == 0 || ttl <= 0 || len(stamp) != len(genKeys) {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	key := SummaryKey(value.From, value.To)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.MGet(ctx, genKeys...).Result()
		if err != nil {
			return err
		}
		current, err := parseGenerations(vals)
		if err != nil {
			return err
		}
		if !slices.Equal(current, stamp) {
			return errStaleSummary
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			for _, day := range days {
				pipe.SAdd(ctx, day, key)
				pipe.Expire(ctx, day, ttl)
			}
			return nil
		})
		return err
	}, genKeys...)
	if errors.Is(err, errStaleSummary) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// InvalidateDate bumps the day's generation before dropping its windows, so an
// in-flight Set stamped earlier cannot store afterwards.
func (c *RedisSummaryCache) InvalidateDate(ctx context.Context, at time.Time) error {
	if err := c.client.Incr(ctx, GenerationKey(at)).Err(); err != nil {
		return err
	}
	day := DayKey(at)
	keys, err := c.client.SMembers(ctx, day).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return c.client.Del(ctx, append(keys, day)...).Err()
}

func parseGenerations(vals []interface{}) (Stamp, error) {
	stamp := make(Stamp, 0, len(vals))
	for _, v := range vals {
		switch raw := v.(type) {
		case nil:
			stamp = append(stamp, 0)
		case string:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("summary generation %q: %w", raw, err)
			}
			stamp = append(stamp, n)
		default:
			return nil, fmt.Errorf("summary generation: unexpected %T", v)
		}
	}
	return stamp, nil
}

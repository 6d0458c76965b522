package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quizrooms/internal/apperr"
)

// DeadlineKey is the sorted set of active rooms scored by deadline.
const DeadlineKey = "rooms:deadlines"

// DeadlineCache handles the Redis ZSET of quiz deadlines
type DeadlineCache interface {
	Schedule(ctx context.Context, code string, at time.Time) error
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Remove(ctx context.Context, code string) error
}

type deadlineCache struct {
	client *redis.Client
}

// NewDeadlineCache creates a new deadline cache
func NewDeadlineCache(client *redis.Client) DeadlineCache {
	return &deadlineCache{client: client}
}

func (c *deadlineCache) Schedule(ctx context.Context, code string, at time.Time) error {
	err := c.client.ZAdd(ctx, DeadlineKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: code,
	}).Err()
	if err != nil {
		return apperr.Transient(err, "schedule deadline")
	}
	return nil
}

// Due returns rooms whose deadline is at or before now, earliest first.
func (c *deadlineCache) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	codes, err := c.client.ZRangeByScore(ctx, DeadlineKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, apperr.Transient(err, "load due deadlines")
	}
	return codes, nil
}

func (c *deadlineCache) Remove(ctx context.Context, code string) error {
	if err := c.client.ZRem(ctx, DeadlineKey, code).Err(); err != nil {
		return apperr.Transient(err, "remove deadline")
	}
	return nil
}

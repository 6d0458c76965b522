package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizrooms/internal/apperr"
	"quizrooms/internal/model"
)

// RoomCache handles Redis operations for room documents
type RoomCache interface {
	Create(ctx context.Context, room *model.Room) error
	Get(ctx context.Context, code string) (*model.Room, error)
	Mutate(ctx context.Context, code string, fn model.MutateFunc) (*model.Room, error)
	Delete(ctx context.Context, code string) error
}

const (
	defaultRoomTTL    = 2 * time.Hour
	defaultMaxRetries = 8
	retryBackoff      = 5 * time.Millisecond
)

type roomCache struct {
	client     *redis.Client
	ttl        time.Duration
	maxRetries int
}

// NewRoomCache creates a new room cache. A zero ttl uses the default.
func NewRoomCache(client *redis.Client, ttl time.Duration) RoomCache {
	if ttl <= 0 {
		ttl = defaultRoomTTL
	}
	return &roomCache{
		client:     client,
		ttl:        ttl,
		maxRetries: defaultMaxRetries,
	}
}

func (c *roomCache) key(code string) string {
	return fmt.Sprintf("room:%s", code)
}

func (c *roomCache) Create(ctx context.Context, room *model.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", room.Code, err)
	}
	ok, err := c.client.SetNX(ctx, c.key(room.Code), data, c.ttl).Result()
	if err != nil {
		return apperr.Transient(err, "create room")
	}
	if !ok {
		return apperr.ErrCodeTaken
	}
	return nil
}

func (c *roomCache) Get(ctx context.Context, code string) (*model.Room, error) {
	data, err := c.client.Get(ctx, c.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.ErrRoomNotFound
	}
	if err != nil {
		return nil, apperr.Transient(err, "load room")
	}
	var room model.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", code, err)
	}
	return &room, nil
}

// Mutate reads the room, applies fn and writes it back only if nobody else
// wrote in between (WATCH/MULTI/EXEC). Lost races are retried.
func (c *roomCache) Mutate(ctx context.Context, code string, fn model.MutateFunc) (*model.Room, error) {
	key := c.key(code)

	var (
		out   *model.Room
		fnErr error
	)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			fnErr = apperr.ErrRoomNotFound
			return fnErr
		}
		if err != nil {
			return err
		}

		var room model.Room
		if err := json.Unmarshal(data, &room); err != nil {
			fnErr = fmt.Errorf("decode room %s: %w", code, err)
			return fnErr
		}
		if err := fn(&room); err != nil {
			fnErr = err
			return err
		}
		room.Version++
		room.UpdatedAt = time.Now().UTC()

		buf, err := json.Marshal(&room)
		if err != nil {
			fnErr = fmt.Errorf("encode room %s: %w", code, err)
			return fnErr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, c.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = &room
		return nil
	}

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		fnErr = nil
		err := c.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if fnErr != nil {
			return nil, fnErr
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, apperr.Transient(err, "update room")
		}
		select {
		case <-ctx.Done():
			return nil, apperr.Transient(ctx.Err(), "update room")
		case <-time.After(time.Duration(attempt+1) * retryBackoff):
		}
	}
	return nil, apperr.New(apperr.KindTransient, "room %s: too many concurrent writers", code)
}

func (c *roomCache) Delete(ctx context.Context, code string) error {
	if err := c.client.Del(ctx, c.key(code)).Err(); err != nil {
		return apperr.Transient(err, "delete room")
	}
	return nil
}

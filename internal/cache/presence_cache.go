package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"quizrooms/internal/apperr"
)

// PresenceKey is the single hash mapping player id to connection handle.
const PresenceKey = "presence:connections"

// PresenceCache handles the Redis registry of live connections
type PresenceCache interface {
	Register(ctx context.Context, playerID, handle string) error
	Unregister(ctx context.Context, playerID, handle string) error
	Resolve(ctx context.Context, playerID string) (string, bool, error)
	ResolveMany(ctx context.Context, playerIDs []string) (map[string]string, error)
}

// unregisterScript deletes the entry only while it still points at the
// closing connection, so a newer connection is never dropped.
var unregisterScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call('HDEL', KEYS[1], ARGV[1])
end
return 0
`)

type presenceCache struct {
	client *redis.Client
}

// NewPresenceCache creates a new presence cache
func NewPresenceCache(client *redis.Client) PresenceCache {
	return &presenceCache{client: client}
}

func (c *presenceCache) Register(ctx context.Context, playerID, handle string) error {
	if err := c.client.HSet(ctx, PresenceKey, playerID, handle).Err(); err != nil {
		return apperr.Transient(err, "register presence")
	}
	return nil
}

func (c *presenceCache) Unregister(ctx context.Context, playerID, handle string) error {
	if err := unregisterScript.Run(ctx, c.client, []string{PresenceKey}, playerID, handle).Err(); err != nil {
		return apperr.Transient(err, "unregister presence")
	}
	return nil
}

func (c *presenceCache) Resolve(ctx context.Context, playerID string) (string, bool, error) {
	handle, err := c.client.HGet(ctx, PresenceKey, playerID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Transient(err, "resolve presence")
	}
	return handle, true, nil
}

// ResolveMany returns the handles of the connected players; absent ids are
// left out.
func (c *presenceCache) ResolveMany(ctx context.Context, playerIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(playerIDs))
	if len(playerIDs) == 0 {
		return out, nil
	}
	vals, err := c.client.HMGet(ctx, PresenceKey, playerIDs...).Result()
	if err != nil {
		return nil, apperr.Transient(err, "resolve presence")
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[playerIDs[i]] = s
		}
	}
	return out, nil
}

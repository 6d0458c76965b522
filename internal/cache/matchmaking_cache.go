package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quizrooms/internal/apperr"
	"quizrooms/internal/model"
)

const ticketsKey = "matchmaking:tickets"

// MatchmakingCache handles the Redis matchmaking queues
type MatchmakingCache interface {
	Enqueue(ctx context.Context, t model.Ticket) (bool, error)
	TryMatch(ctx context.Context, level, roomSize int) ([]string, error)
	Waiting(ctx context.Context, level, roomSize int) ([]string, error)
	Tickets(ctx context.Context, playerIDs []string) (map[string]model.Ticket, error)
	Cancel(ctx context.Context, playerID string, level, roomSize int) error
	CancelAll(ctx context.Context, playerID string) (int, error)
	Requeue(ctx context.Context, level, roomSize int, playerIDs []string) error
}

// enqueueScript moves the player into one queue: any other queue it
// waits in is left first, so a player is never matched twice. The ticket
// is refreshed either way. Like cancelAllScript it touches queue keys read
// from the player's set and assumes a single Redis node.
var enqueueScript = redis.NewScript(`
local queues = redis.call('SMEMBERS', KEYS[2])
for _, q in ipairs(queues) do
	if q ~= KEYS[1] then
		redis.call('LREM', q, 0, ARGV[1])
		redis.call('SREM', KEYS[2], q)
	end
end
local items = redis.call('LRANGE', KEYS[1], 0, -1)
for _, v in ipairs(items) do
	if v == ARGV[1] then
		redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
		return 0
	end
end
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], KEYS[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
return 1
`)

// matchScript pops the first n players only when n are waiting.
var matchScript = redis.NewScript(`
local n = tonumber(ARGV[1])
if redis.call('LLEN', KEYS[1]) < n then
	return {}
end
local ids = redis.call('LRANGE', KEYS[1], 0, n - 1)
redis.call('LTRIM', KEYS[1], n, -1)
return ids
`)

var cancelScript = redis.NewScript(`
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('SREM', KEYS[2], KEYS[1])
if redis.call('SCARD', KEYS[2]) == 0 then
	redis.call('HDEL', KEYS[3], ARGV[1])
end
return 1
`)

// cancelAllScript touches queue keys read from the player's set, so it
// assumes a single Redis node.
var cancelAllScript = redis.NewScript(`
local queues = redis.call('SMEMBERS', KEYS[1])
for _, q in ipairs(queues) do
	redis.call('LREM', q, 0, ARGV[1])
end
redis.call('DEL', KEYS[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return #queues
`)

type matchmakingCache struct {
	client *redis.Client
}

// NewMatchmakingCache creates a new matchmaking cache
func NewMatchmakingCache(client *redis.Client) MatchmakingCache {
	return &matchmakingCache{client: client}
}

// QueueKey names the queue of one (level, roomSize) bucket.
func QueueKey(level, roomSize int) string {
	return fmt.Sprintf("matchmaking:level:%d:roomSize:%d", level, roomSize)
}

func (c *matchmakingCache) playerKey(playerID string) string {
	return fmt.Sprintf("matchmaking:player:%s", playerID)
}

// Enqueue reports whether the player was newly added to the ticket's
// queue. A player waiting in another queue is moved.
func (c *matchmakingCache) Enqueue(ctx context.Context, t model.Ticket) (bool, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return false, fmt.Errorf("encode ticket: %w", err)
	}
	keys := []string{QueueKey(t.Level, t.RoomSize), c.playerKey(t.Player.ID), ticketsKey}
	added, err := enqueueScript.Run(ctx, c.client, keys, t.Player.ID, data).Int()
	if err != nil {
		return false, apperr.Transient(err, "enqueue ticket")
	}
	return added == 1, nil
}

// TryMatch returns exactly roomSize ids in queue order, or none.
func (c *matchmakingCache) TryMatch(ctx context.Context, level, roomSize int) ([]string, error) {
	ids, err := matchScript.Run(ctx, c.client, []string{QueueKey(level, roomSize)}, roomSize).StringSlice()
	if err != nil {
		return nil, apperr.Transient(err, "match players")
	}
	return ids, nil
}

func (c *matchmakingCache) Waiting(ctx context.Context, level, roomSize int) ([]string, error) {
	ids, err := c.client.LRange(ctx, QueueKey(level, roomSize), 0, -1).Result()
	if err != nil {
		return nil, apperr.Transient(err, "list queue")
	}
	return ids, nil
}

func (c *matchmakingCache) Tickets(ctx context.Context, playerIDs []string) (map[string]model.Ticket, error) {
	out := make(map[string]model.Ticket, len(playerIDs))
	if len(playerIDs) == 0 {
		return out, nil
	}
	vals, err := c.client.HMGet(ctx, ticketsKey, playerIDs...).Result()
	if err != nil {
		return nil, apperr.Transient(err, "load tickets")
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var t model.Ticket
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			return nil, fmt.Errorf("decode ticket %s: %w", playerIDs[i], err)
		}
		out[playerIDs[i]] = t
	}
	return out, nil
}

func (c *matchmakingCache) Cancel(ctx context.Context, playerID string, level, roomSize int) error {
	keys := []string{QueueKey(level, roomSize), c.playerKey(playerID), ticketsKey}
	if err := cancelScript.Run(ctx, c.client, keys, playerID).Err(); err != nil {
		return apperr.Transient(err, "cancel ticket")
	}
	return nil
}

// CancelAll removes the player from every queue it joined and returns how
// many queues that was.
func (c *matchmakingCache) CancelAll(ctx context.Context, playerID string) (int, error) {
	n, err := cancelAllScript.Run(ctx, c.client, []string{c.playerKey(playerID), ticketsKey}, playerID).Int()
	if err != nil {
		return 0, apperr.Transient(err, "cancel tickets")
	}
	return n, nil
}

// Requeue puts popped ids back at the head of the queue in their original
// order.
func (c *matchmakingCache) Requeue(ctx context.Context, level, roomSize int, playerIDs []string) error {
	if len(playerIDs) == 0 {
		return nil
	}
	rev := make([]interface{}, 0, len(playerIDs))
	for i := len(playerIDs) - 1; i >= 0; i-- {
		rev = append(rev, playerIDs[i])
	}
	if err := c.client.LPush(ctx, QueueKey(level, roomSize), rev...).Err(); err != nil {
		return apperr.Transient(err, "requeue players")
	}
	return nil
}

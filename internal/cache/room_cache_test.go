package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizrooms/internal/apperr"
	"quizrooms/internal/cache"
	"quizrooms/internal/model"
)

func seedRoom(code string, limit int) *model.Room {
	return model.NewRoom(code, []model.Player{{ID: "host", Username: "host"}}, model.RoomConfig{
		ParticipantLimit: limit,
		Duration:         60,
	}, time.Now().UTC())
}

func TestRoomCacheCreateAndGet(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	rooms := cache.NewRoomCache(client, time.Hour)

	require.NoError(t, rooms.Create(ctx, seedRoom("ABC234", 4)))
	assert.True(t, mr.Exists("room:ABC234"))
	assert.Equal(t, time.Hour, mr.TTL("room:ABC234"))

	err := rooms.Create(ctx, seedRoom("ABC234", 4))
	assert.True(t, errors.Is(err, apperr.ErrCodeTaken))

	got, err := rooms.Get(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, "host", got.HostID)

	_, err = rooms.Get(ctx, "NOPE99")
	assert.True(t, errors.Is(err, apperr.ErrRoomNotFound))
}

func TestRoomCacheMutate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		fn       model.MutateFunc
		validate func(t *testing.T, rooms cache.RoomCache, room *model.Room, err error)
	}{
		{
			name: "applies change and bumps version",
			fn: func(r *model.Room) error {
				return r.AddPlayer(model.Player{ID: "p2"})
			},
			validate: func(t *testing.T, rooms cache.RoomCache, room *model.Room, err error) {
				require.NoError(t, err)
				assert.Equal(t, int64(1), room.Version)
				stored, err := rooms.Get(ctx, "ABC234")
				require.NoError(t, err)
				assert.Equal(t, []string{"host", "p2"}, stored.Members)
			},
		},
		{
			name: "fn error aborts the write",
			fn: func(r *model.Room) error {
				r.Players = nil
				return apperr.ErrRoomNotWaiting
			},
			validate: func(t *testing.T, rooms cache.RoomCache, room *model.Room, err error) {
				assert.True(t, errors.Is(err, apperr.ErrRoomNotWaiting))
				assert.Nil(t, room)
				stored, err := rooms.Get(ctx, "ABC234")
				require.NoError(t, err)
				assert.Len(t, stored.Players, 1)
				assert.Equal(t, int64(0), stored.Version)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newTestRedis(t)
			rooms := cache.NewRoomCache(client, time.Hour)
			require.NoError(t, rooms.Create(ctx, seedRoom("ABC234", 4)))

			room, err := rooms.Mutate(ctx, "ABC234", tt.fn)
			tt.validate(t, rooms, room, err)
		})
	}
}

func TestRoomCacheMutateMissingRoom(t *testing.T) {
	_, client := newTestRedis(t)
	rooms := cache.NewRoomCache(client, time.Hour)

	called := false
	_, err := rooms.Mutate(context.Background(), "GONE22", func(r *model.Room) error {
		called = true
		return nil
	})
	assert.True(t, errors.Is(err, apperr.ErrRoomNotFound))
	assert.False(t, called)
}

func TestRoomCacheConcurrentJoinsRespectLimit(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	rooms := cache.NewRoomCache(client, time.Hour)
	require.NoError(t, rooms.Create(ctx, seedRoom("RACE22", 4)))

	const joiners = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
	)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rooms.Mutate(ctx, "RACE22", func(r *model.Room) error {
				return r.AddPlayer(model.Player{ID: fmt.Sprintf("p%d", i)})
			})
			switch {
			case err == nil:
				mu.Lock()
				joined++
				mu.Unlock()
			case errors.Is(err, apperr.ErrRoomFull), apperr.IsTransient(err):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	room, err := rooms.Get(ctx, "RACE22")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(room.Players), 4)
	assert.Equal(t, joined, len(room.Players)-1, "every acknowledged join is stored")
	assert.NoError(t, room.Validate())
}

func TestRoomCacheDelete(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	rooms := cache.NewRoomCache(client, 0)
	require.NoError(t, rooms.Create(ctx, seedRoom("DEL234", 2)))

	require.NoError(t, rooms.Delete(ctx, "DEL234"))
	assert.False(t, mr.Exists("room:DEL234"))
	require.NoError(t, rooms.Delete(ctx, "DEL234"))
}

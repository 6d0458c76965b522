package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizrooms/internal/apperr"
	"quizrooms/internal/cache"
	"quizrooms/internal/model"
)

func newTestMatchmaking(env *testEnv, rooms *RoomService) *MatchmakingService {
	mm := NewMatchmakingService(cache.NewMatchmakingCache(env.client), rooms, MatchmakingDefaults{
		Duration:          120,
		NumberOfQuestions: 5,
	}, testLogger())
	mm.SetBroadcaster(env.bc)
	return mm
}

type failingCreateStore struct {
	RoomStore
}

func (failingCreateStore) Create(ctx context.Context, room *model.Room) error {
	return apperr.Transient(errors.New("connection reset"), "create room")
}

func TestFindMatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	mm := newTestMatchmaking(env, env.rooms)

	first, err := mm.FindMatch(ctx, p("alice"), 4, 2, "rivers")
	require.NoError(t, err)
	assert.Equal(t, model.MatchWaiting, first.Status)
	assert.Nil(t, first.RoomCode)
	require.Len(t, first.Players, 1)
	assert.Equal(t, "user-alice", first.Players[0].Username)

	again, err := mm.FindMatch(ctx, p("alice"), 4, 2, "rivers")
	require.NoError(t, err)
	assert.Len(t, again.Players, 1, "re-queueing is idempotent")

	matched, err := mm.FindMatch(ctx, p("bob"), 4, 2, "rivers")
	require.NoError(t, err)
	assert.Equal(t, model.MatchMatched, matched.Status)
	require.NotNil(t, matched.RoomCode)
	require.Len(t, matched.Players, 2)
	assert.Equal(t, "alice", matched.Players[0].ID, "queue order kept")

	env.rooms.wg.Wait()
	room, err := env.rooms.GetRoom(ctx, *matched.RoomCode)
	require.NoError(t, err)
	assert.Equal(t, "alice", room.HostID)
	assert.Equal(t, "medium", room.Difficulty)
	assert.Equal(t, 2, room.ParticipantLimit)
	assert.Equal(t, 120, room.Duration)
	assert.Len(t, room.Questions, 5)

	var created []notification
	for _, n := range env.bc.all() {
		if n.kind == model.EventRoomCreated {
			created = append(created, n)
		}
	}
	require.Len(t, created, 1)
	assert.Equal(t, []string{"alice", "bob"}, created[0].targets)

	assert.Zero(t, env.client.LLen(ctx, cache.QueueKey(4, 2)).Val())
	assert.False(t, env.mr.Exists("matchmaking:player:alice"))
}

func TestFindMatchValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	mm := newTestMatchmaking(env, env.rooms)

	tests := []struct {
		name     string
		level    int
		roomSize int
	}{
		{name: "level too low", level: 0, roomSize: 2},
		{name: "level too high", level: 11, roomSize: 2},
		{name: "room too small", level: 1, roomSize: 1},
		{name: "room too large", level: 1, roomSize: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mm.FindMatch(ctx, p("alice"), tt.level, tt.roomSize, "")
			assert.True(t, apperr.IsKind(err, apperr.KindInvalid))
		})
	}
}

func TestFindMatchRequeuesOnRoomFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	broken := NewRoomService(failingCreateStore{env.store}, env.deadlines, &fakeGenerator{}, testLogger(), RoomServiceConfig{})
	mm := newTestMatchmaking(env, broken)

	_, err := mm.FindMatch(ctx, p("alice"), 2, 2, "")
	require.NoError(t, err)
	_, err = mm.FindMatch(ctx, p("bob"), 2, 2, "")
	assert.True(t, apperr.IsTransient(err))

	waiting, err := env.mr.List(cache.QueueKey(2, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, waiting)
}

func TestCancelMatchmaking(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	mm := newTestMatchmaking(env, env.rooms)

	_, err := mm.FindMatch(ctx, p("alice"), 1, 3, "")
	require.NoError(t, err)
	_, err = mm.FindMatch(ctx, p("alice"), 2, 3, "")
	require.NoError(t, err)
	assert.Zero(t, env.client.LLen(ctx, cache.QueueKey(1, 3)).Val(), "a new search replaces the old one")
	assert.Equal(t, int64(1), env.client.LLen(ctx, cache.QueueKey(2, 3)).Val())

	require.NoError(t, mm.Cancel(ctx, "alice", 1, 3))
	assert.Zero(t, env.client.LLen(ctx, cache.QueueKey(1, 3)).Val())

	require.NoError(t, mm.CancelAll(ctx, "alice"))
	assert.Zero(t, env.client.LLen(ctx, cache.QueueKey(2, 3)).Val())
	require.NoError(t, mm.CancelAll(ctx, "alice"), "cancelling twice is harmless")

	assert.True(t, apperr.IsKind(mm.Cancel(ctx, "alice", 0, 3), apperr.KindInvalid))
}

func TestDifficultyFor(t *testing.T) {
	assert.Equal(t, "easy", difficultyFor(1))
	assert.Equal(t, "medium", difficultyFor(5))
	assert.Equal(t, "hard", difficultyFor(10))
}

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"quizrooms/internal/cache"
	"quizrooms/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeGenerator returns Count questions whose correct answer is index 1.
type fakeGenerator struct {
	err     error
	release chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, req model.GenerationRequest) ([]model.Question, error) {
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	qs := make([]model.Question, req.Count)
	for i := range qs {
		qs[i] = model.Question{
			Question:           "q",
			Options:            []string{"a", "b", "c", "d"},
			CorrectAnswerIndex: 1,
		}
	}
	return qs, nil
}

type notification struct {
	kind    model.EventKind
	targets []string
	payload any
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []notification
}

func (b *recordingBroadcaster) Notify(ctx context.Context, kind model.EventKind, targets []string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, notification{kind: kind, targets: append([]string{}, targets...), payload: payload})
	return nil
}

func (b *recordingBroadcaster) all() []notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]notification{}, b.sent...)
}

func (b *recordingBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = nil
}

// activity returns the room_activity payloads of the given type.
func (b *recordingBroadcaster) activity(typ model.ActivityType) []notification {
	var out []notification
	for _, n := range b.all() {
		if p, ok := n.payload.(model.ActivityPayload); ok && p.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func (b *recordingBroadcaster) updates(typ model.UpdateType) []notification {
	var out []notification
	for _, n := range b.all() {
		if p, ok := n.payload.(model.UpdatePayload); ok && p.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	mr        *miniredis.Miniredis
	client    *redis.Client
	store     cache.RoomCache
	deadlines cache.DeadlineCache
	rooms     *RoomService
	bc        *recordingBroadcaster
	clock     *fakeClock
}

func newTestEnv(t *testing.T, gen QuestionGenerator) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		mr:        mr,
		client:    client,
		store:     cache.NewRoomCache(client, time.Hour),
		deadlines: cache.NewDeadlineCache(client),
		bc:        &recordingBroadcaster{},
		clock:     &fakeClock{now: time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)},
	}
	if gen == nil {
		gen = &fakeGenerator{}
	}
	env.rooms = NewRoomService(env.store, env.deadlines, gen, testLogger(), RoomServiceConfig{
		DeadlineGrace:     2 * time.Second,
		GenerationTimeout: 5 * time.Second,
	})
	env.rooms.SetBroadcaster(env.bc)
	env.rooms.now = env.clock.Now
	t.Cleanup(env.rooms.Close)
	return env
}

func testConfig(limit int) model.RoomConfig {
	return model.RoomConfig{
		Difficulty:        "easy",
		ParticipantLimit:  limit,
		Duration:          60,
		TopicPrompt:       "space",
		NumberOfQuestions: 3,
	}
}

func p(id string) model.Player {
	return model.Player{ID: id, Username: "user-" + id}
}

// readyRoom creates a room hosted by ids[0] with questions ready and the
// remaining ids joined.
func (e *testEnv) readyRoom(t *testing.T, limit int, ids ...string) *model.Room {
	t.Helper()
	ctx := context.Background()
	room, err := e.rooms.CreateRoom(ctx, p(ids[0]), testConfig(limit))
	require.NoError(t, err)
	e.rooms.wg.Wait()
	for _, id := range ids[1:] {
		_, err := e.rooms.JoinRoom(ctx, room.Code, p(id))
		require.NoError(t, err)
	}
	room, err = e.rooms.GetRoom(ctx, room.Code)
	require.NoError(t, err)
	require.True(t, room.QuestionsReady)
	e.bc.reset()
	return room
}

func (e *testEnv) activeRoom(t *testing.T, ids ...string) *model.Room {
	t.Helper()
	room := e.readyRoom(t, len(ids)+1, ids...)
	room, err := e.rooms.StartRoom(context.Background(), room.Code, ids[0])
	require.NoError(t, err)
	e.bc.reset()
	return room
}

var errGenerator = errors.New("model overloaded")

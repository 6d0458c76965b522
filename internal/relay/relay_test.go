package relay_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizrooms/internal/cache"
	"quizrooms/internal/model"
	"quizrooms/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLocal records frames for the connections it knows about.
type fakeLocal struct {
	mu     sync.Mutex
	conns  map[string]bool
	frames map[string][][]byte
}

func newFakeLocal(connIDs ...string) *fakeLocal {
	f := &fakeLocal{conns: map[string]bool{}, frames: map[string][][]byte{}}
	for _, id := range connIDs {
		f.conns[id] = true
	}
	return f
}

func (f *fakeLocal) Deliver(connID string, frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.conns[connID] {
		return false
	}
	f.frames[connID] = append(f.frames[connID], frame)
	return true
}

func (f *fakeLocal) count(connID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames[connID])
}

func (f *fakeLocal) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fr := range f.frames {
		n += len(fr)
	}
	return n
}

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client, cache.PresenceCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client, cache.NewPresenceCache(client)
}

func envelope(t *testing.T, targets ...string) []byte {
	t.Helper()
	data, err := json.Marshal(model.Envelope{
		Event:   model.EventRoomActivity,
		Targets: targets,
		Data:    json.RawMessage(`{"type":"quiz_start","code":"ABC234"}`),
	})
	require.NoError(t, err)
	return data
}

func TestHandleMessageRoutesToLocalConnectionsOnly(t *testing.T) {
	ctx := context.Background()
	_, client, presence := setup(t)

	require.NoError(t, presence.Register(ctx, "alice", relay.Handle("node-a", "c1")))
	require.NoError(t, presence.Register(ctx, "bob", relay.Handle("node-b", "c2")))
	require.NoError(t, presence.Register(ctx, "stale", relay.Handle("node-a", "gone")))

	localA := newFakeLocal("c1")
	localB := newFakeLocal("c2")
	broker := relay.NewRedisBroker(client)
	a := relay.New("node-a", broker, presence, localA, testLogger())
	b := relay.New("node-b", broker, presence, localB, testLogger())

	tests := []struct {
		name     string
		targets  []string
		validate func(t *testing.T, nA, nB int)
	}{
		{
			name:    "each instance delivers its own targets",
			targets: []string{"alice", "bob"},
			validate: func(t *testing.T, nA, nB int) {
				assert.Equal(t, 1, nA)
				assert.Equal(t, 1, nB)
			},
		},
		{
			name:    "disconnected player gets nothing",
			targets: []string{"carol"},
			validate: func(t *testing.T, nA, nB int) {
				assert.Zero(t, nA)
				assert.Zero(t, nB)
			},
		},
		{
			name:    "stale handle is dropped",
			targets: []string{"stale"},
			validate: func(t *testing.T, nA, nB int) {
				assert.Zero(t, nA)
				assert.Zero(t, nB)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := envelope(t, tt.targets...)
			tt.validate(t, a.HandleMessage(ctx, msg), b.HandleMessage(ctx, msg))
		})
	}

	require.Equal(t, 1, localA.count("c1"))
	var frame model.ServerMessage
	require.NoError(t, json.Unmarshal(localA.frames["c1"][0], &frame))
	assert.Equal(t, model.EventRoomActivity, frame.Event)
	assert.JSONEq(t, `{"type":"quiz_start","code":"ABC234"}`, string(frame.Data))
}

func TestHandleMessageIgnoresGarbage(t *testing.T) {
	_, client, presence := setup(t)
	r := relay.New("node-a", relay.NewRedisBroker(client), presence, newFakeLocal(), testLogger())
	assert.Zero(t, r.HandleMessage(context.Background(), []byte("not json")))
}

func TestRelayAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr, client, presence := setup(t)

	localA := newFakeLocal("c1")
	localB := newFakeLocal("c2")
	broker := relay.NewRedisBroker(client)
	a := relay.New("node-a", broker, presence, localA, testLogger())
	b := relay.New("node-b", broker, presence, localB, testLogger())

	var wg sync.WaitGroup
	for _, r := range []*relay.Relay{a, b} {
		wg.Add(1)
		go func(r *relay.Relay) {
			defer wg.Done()
			_ = r.Run(ctx)
		}(r)
	}

	channel := relay.Channel(model.EventRoomActivity)
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, presence.Register(ctx, "bob", relay.Handle("node-b", "c2")))

	payload := model.ActivityPayload{Type: model.ActivityQuizAnswer, Code: "ABC234", ID: "alice", Members: []string{"alice", "bob"}}
	require.NoError(t, a.Notify(ctx, model.EventRoomActivity, []string{"bob"}, payload))

	require.Eventually(t, func() bool { return localB.count("c2") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, localA.total())

	// Nothing is sent for an empty audience.
	require.NoError(t, a.Notify(ctx, model.EventRoomActivity, nil, payload))

	cancel()
	wg.Wait()
}

func TestParseHandle(t *testing.T) {
	inst, conn, ok := relay.ParseHandle(relay.Handle("node-a", "c1"))
	assert.True(t, ok)
	assert.Equal(t, "node-a", inst)
	assert.Equal(t, "c1", conn)

	for _, bad := range []string{"", "node-a", "/c1", "node-a/"} {
		_, _, ok := relay.ParseHandle(bad)
		assert.False(t, ok, bad)
	}
}

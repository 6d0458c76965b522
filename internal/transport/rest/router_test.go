package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizrooms/internal/cache"
	"quizrooms/internal/model"
	"quizrooms/internal/relay"
	"quizrooms/internal/service"
	"quizrooms/internal/transport/rest"
	"quizrooms/internal/transport/ws"
)

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, req model.GenerationRequest) ([]model.Question, error) {
	qs := make([]model.Question, req.Count)
	for i := range qs {
		qs[i] = model.Question{Question: "q", Options: []string{"a", "b", "c", "d"}, CorrectAnswerIndex: 1}
	}
	return qs, nil
}

type api struct {
	t      *testing.T
	router http.Handler
	auth   *service.AuthService
}

func newAPI(t *testing.T) *api {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	presence := cache.NewPresenceCache(client)
	auth := service.NewAuthService("rest-secret", time.Hour)
	rooms := service.NewRoomService(cache.NewRoomCache(client, time.Hour), cache.NewDeadlineCache(client),
		stubGenerator{}, logger, service.RoomServiceConfig{})
	mm := service.NewMatchmakingService(cache.NewMatchmakingCache(client), rooms, service.MatchmakingDefaults{}, logger)
	hub := ws.NewHub()
	rl := relay.New("node-a", relay.NewRedisBroker(client), presence, hub, logger)
	rooms.SetBroadcaster(rl)
	mm.SetBroadcaster(rl)
	t.Cleanup(rooms.Close)

	router := rest.NewRouter(&rest.Container{
		AuthService:        auth,
		RoomService:        rooms,
		MatchmakingService: mm,
		WSHandler:          ws.NewHandler(hub, auth, presence, rooms, mm, "node-a", logger),
		JoinURL:            "https://quiz.example/join/%s",
	})
	return &api{t: t, router: router, auth: auth}
}

func (a *api) token(id string) string {
	a.t.Helper()
	resp, err := a.auth.IssuePlayerToken(model.TokenRequest{ID: id, Username: id})
	require.NoError(a.t, err)
	return resp.Token
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeRoom(t *testing.T, rec *httptest.ResponseRecorder) model.Room {
	t.Helper()
	var room model.Room
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &room))
	return room
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["code"]
}

// createRoom creates a two-seat room hosted by "host" and waits for its
// questions.
func (a *api) createRoom(limit int) model.Room {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/room/create", a.token("host"), map[string]any{
		"hostPlayer":       map[string]any{"id": "host", "username": "Hosty"},
		"participantLimit": limit,
		"duration":         60,
		"topicPrompt":      "rivers",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	room := decodeRoom(a.t, rec)

	require.Eventually(a.t, func() bool {
		rec := a.do(http.MethodGet, "/room/"+room.Code, a.token("host"), nil)
		return rec.Code == http.StatusOK && decodeRoom(a.t, rec).QuestionsReady
	}, 2*time.Second, 10*time.Millisecond)
	return room
}

func TestPublicRoutes(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, "/auth/token", "", map[string]string{"username": "ada"})
	require.Equal(t, http.StatusOK, rec.Code)
	var tok model.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.NotEmpty(t, tok.Token)

	rec = a.do(http.MethodPost, "/auth/token", "", map[string]string{"id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodOptions, "/room/create", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRoomRoutesRequireToken(t *testing.T) {
	a := newAPI(t)

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/room/create", "", map[string]any{}).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/room/ABCDEF", "garbage", nil).Code)
}

func TestRoomLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	room := a.createRoom(2)
	assert.Equal(t, "Hosty", room.Players[0].Username)

	rec := a.do(http.MethodPost, "/room/start", a.token("host"), map[string]string{"code": room.Code})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_players", errorCode(t, rec))

	rec = a.do(http.MethodPost, "/room/join", a.token("bob"), map[string]any{"code": room.Code, "player": map[string]string{"id": "mallory"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/room/join", a.token("bob"), map[string]any{"code": room.Code})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeRoom(t, rec).Players, 2)

	rec = a.do(http.MethodPost, "/room/join", a.token("carol"), map[string]any{"code": room.Code})
	assert.Equal(t, http.StatusForbidden, rec.Code, "full room")

	rec = a.do(http.MethodPost, "/room/start", a.token("bob"), map[string]string{"code": room.Code})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/room/start", a.token("host"), map[string]string{"code": room.Code})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RoomActive, decodeRoom(t, rec).Status)

	rec = a.do(http.MethodPost, "/room/answer", a.token("bob"), map[string]any{"code": room.Code, "questionIndex": 0, "answerIndex": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, "/room/submit-answers", a.token("bob"), map[string]any{"code": room.Code, "userId": "host", "answers": []int{1}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/room/submit-answers", a.token("host"), map[string]any{"code": room.Code, "answers": []int{1, 0}, "timeTaken": 12})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, "/room/submit-answers", a.token("host"), map[string]any{"code": room.Code, "answers": []int{1, 1}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/room/submit-answers", a.token("bob"), map[string]any{"code": room.Code, "userId": "bob", "answers": []int{1, 1}})
	require.Equal(t, http.StatusOK, rec.Code)
	var ack map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, true, ack["ended"])
	assert.Equal(t, float64(2), ack["score"])

	rec = a.do(http.MethodGet, "/room/"+room.Code+"/leaderboard", a.token("host"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var board struct {
		Leaderboard []model.LeaderboardEntry `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.Len(t, board.Leaderboard, 2)
	assert.Equal(t, "bob", board.Leaderboard[0].ID)
}

func TestLeaveAndKickOverHTTP(t *testing.T) {
	a := newAPI(t)
	room := a.createRoom(3)

	for _, id := range []string{"bob", "carol"} {
		rec := a.do(http.MethodPost, "/room/join", a.token(id), map[string]any{"code": room.Code})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := a.do(http.MethodPost, "/room/kick", a.token("bob"), map[string]any{"code": room.Code, "player": map[string]string{"id": "carol"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/room/kick", a.token("host"), map[string]any{"code": room.Code, "player": map[string]string{"id": "carol"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"host", "bob"}, decodeRoom(t, rec).Members)

	rec = a.do(http.MethodPost, "/room/leave", a.token("host"), map[string]any{"code": room.Code})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", decodeRoom(t, rec).HostID)
}

func TestGetMissingRoom(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodGet, "/room/NOPE22", a.token("host"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

func TestRoomQR(t *testing.T) {
	a := newAPI(t)
	room := a.createRoom(2)

	rec := a.do(http.MethodGet, "/room/"+room.Code+"/qr", a.token("host"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestMatchmakingOverHTTP(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodPost, "/room/matchmaking", a.token("alice"), map[string]any{"level": 2, "roomSize": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.MatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.MatchWaiting, resp.Status)
	assert.Nil(t, resp.RoomCode)

	rec = a.do(http.MethodPost, "/room/matchmaking", a.token("bob"), map[string]any{"user": map[string]string{"id": "bob"}, "level": 2, "roomSize": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.MatchMatched, resp.Status)
	require.NotNil(t, resp.RoomCode)
	assert.Len(t, resp.Players, 2)

	rec = a.do(http.MethodPost, "/room/cancel-matchmaking", a.token("carol"), map[string]any{"level": 2, "roomSize": 2})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, "/room/matchmaking", a.token("carol"), map[string]any{"level": 42, "roomSize": 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

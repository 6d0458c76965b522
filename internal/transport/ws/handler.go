package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quizrooms/internal/apperr"
	"quizrooms/internal/model"
	"quizrooms/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// inboundBuffer bounds the frames queued behind a slow store call.
	inboundBuffer  = 32
	cleanupTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS layer
	},
}

// TokenValidator verifies player tokens.
type TokenValidator interface {
	ValidatePlayerToken(token string) (model.Identity, error)
}

// PresenceRegistry maps players to the connection that currently serves them.
type PresenceRegistry interface {
	Register(ctx context.Context, playerID, handle string) error
	Unregister(ctx context.Context, playerID, handle string) error
}

// RoomOps are the lifecycle operations reachable from a socket.
type RoomOps interface {
	GetRoom(ctx context.Context, code string) (*model.Room, error)
	StartRoom(ctx context.Context, code, actorID string) (*model.Room, error)
	RecordAnswer(ctx context.Context, code, playerID string, questionIndex, answerIndex, timeRemaining int) (*model.Room, error)
	SubmitAnswers(ctx context.Context, code, playerID string, answers []int, timeTaken int) (*model.Room, error)
	LeaveRoom(ctx context.Context, code, playerID string) (*model.Room, error)
	SetReady(ctx context.Context, code, playerID string, ready bool) (*model.Room, error)
}

// MatchCanceller drops a player from every matchmaking queue.
type MatchCanceller interface {
	CancelAll(ctx context.Context, playerID string) error
}

// Handler is the websocket gateway
type Handler struct {
	hub         *Hub
	auth        TokenValidator
	presence    PresenceRegistry
	rooms       RoomOps
	matchmaking MatchCanceller
	instanceID  string
	logger      *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, auth TokenValidator, presence PresenceRegistry, rooms RoomOps, matchmaking MatchCanceller, instanceID string, logger *slog.Logger) *Handler {
	return &Handler{
		hub:         hub,
		auth:        auth,
		presence:    presence,
		rooms:       rooms,
		matchmaking: matchmaking,
		instanceID:  instanceID,
		logger:      logger.With("component", "ws"),
	}
}

// ServeWS handles GET /ws?token=...
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	id, err := h.auth.ValidatePlayerToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := &Connection{
		ID:       uuid.NewString(),
		PlayerID: id.PlayerID,
		Send:     make(chan []byte, sendBuffer),
	}
	if !h.hub.Register(conn) {
		_ = wsConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = wsConn.Close()
		return
	}

	handle := relay.Handle(h.instanceID, conn.ID)
	if err := h.presence.Register(r.Context(), conn.PlayerID, handle); err != nil {
		h.logger.Error("failed to register presence", "player", conn.PlayerID, "error", err)
		h.hub.Unregister(conn)
		_ = wsConn.Close()
		return
	}

	h.logger.Info("client connected", "player", conn.PlayerID, "conn", conn.ID)

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn, handle)
}

// readPump decodes frames and answers pings itself. Everything else goes
// to the connection's worker, so store I/O never stalls reads.
func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection, handle string) {
	inbound := make(chan *model.ClientEvent, inboundBuffer)
	go h.worker(conn, inbound)

	defer func() {
		close(inbound)
		h.disconnect(conn, handle)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket error", "player", conn.PlayerID, "error", err)
			}
			return
		}

		ev, err := model.ParseClientEvent(data)
		if err != nil {
			h.replyError(conn, apperr.Invalid("%s", err.Error()))
			continue
		}
		if ev.Kind == model.ClientPing {
			h.reply(conn, model.EventPong, struct{}{})
			continue
		}
		select {
		case inbound <- ev:
		default:
			h.replyError(conn, apperr.New(apperr.KindTransient, "too many pending requests"))
		}
	}
}

// worker runs the connection's events one at a time, in arrival order.
func (h *Handler) worker(conn *Connection, inbound <-chan *model.ClientEvent) {
	for ev := range inbound {
		h.handleEvent(conn, ev)
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// disconnect releases everything the connection held. Presence is only
// cleared while it still points at this connection.
func (h *Handler) disconnect(conn *Connection, handle string) {
	h.hub.Unregister(conn)

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := h.presence.Unregister(ctx, conn.PlayerID, handle); err != nil {
		h.logger.Error("failed to unregister presence", "player", conn.PlayerID, "error", err)
	}
	if err := h.matchmaking.CancelAll(ctx, conn.PlayerID); err != nil {
		h.logger.Error("failed to cancel matchmaking", "player", conn.PlayerID, "error", err)
	}
	h.logger.Info("client disconnected", "player", conn.PlayerID, "conn", conn.ID)
}

// handleEvent runs one client event to completion.
func (h *Handler) handleEvent(conn *Connection, ev *model.ClientEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	var err error
	switch ev.Kind {
	case model.ClientPlayerReady:
		_, err = h.rooms.SetReady(ctx, ev.Ready.Code, conn.PlayerID, ev.Ready.IsReady)
	case model.ClientRoomSync:
		err = h.sync(ctx, conn, ev.Sync.Code)
	case model.ClientRoomActivity:
		err = h.activity(ctx, conn, ev.Activity)
	}
	if err != nil {
		h.replyError(conn, err)
	}
}

func (h *Handler) activity(ctx context.Context, conn *Connection, req *model.ActivityRequest) error {
	var err error
	switch req.Type {
	case model.ActivityQuizStart:
		_, err = h.rooms.StartRoom(ctx, req.Code, conn.PlayerID)
	case model.ActivityQuizAnswer:
		_, err = h.rooms.RecordAnswer(ctx, req.Code, conn.PlayerID, *req.QuestionIndex, *req.AnswerIndex, req.TimeRemaining)
	case model.ActivityQuizSubmit:
		_, err = h.rooms.SubmitAnswers(ctx, req.Code, conn.PlayerID, req.Answers, req.TimeTaken)
	case model.ActivityQuizLeave:
		_, err = h.rooms.LeaveRoom(ctx, req.Code, conn.PlayerID)
	case model.ActivityResultUpdate:
		// refresh request from a client that missed the results broadcast
		err = h.sync(ctx, conn, req.Code)
	default:
		err = apperr.Invalid("unknown activity %s", req.Type)
	}
	return err
}

// sync sends the caller a fresh copy of a room they belong to.
func (h *Handler) sync(ctx context.Context, conn *Connection, code string) error {
	room, err := h.rooms.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	if !room.HasPlayer(conn.PlayerID) {
		return apperr.ErrPlayerNotInRoom
	}
	h.reply(conn, model.EventRoomState, room)
	return nil
}

func (h *Handler) reply(conn *Connection, kind model.EventKind, payload any) {
	frame, err := model.NewServerMessage(kind, payload)
	if err != nil {
		h.logger.Error("failed to encode reply", "event", kind, "error", err)
		return
	}
	if !h.hub.Deliver(conn.ID, frame) {
		h.logger.Debug("reply dropped", "player", conn.PlayerID, "event", kind)
	}
}

func (h *Handler) replyError(conn *Connection, err error) {
	h.reply(conn, model.EventError, errorPayload(err))
}

func errorPayload(err error) model.ErrorPayload {
	var e *apperr.Error
	if errors.As(err, &e) {
		return model.ErrorPayload{Code: string(e.Kind), Message: e.Message}
	}
	return model.ErrorPayload{Code: "internal", Message: "internal error"}
}

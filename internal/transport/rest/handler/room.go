package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"quizrooms/internal/apperr"
	"quizrooms/internal/model"
	"quizrooms/internal/service"
	"quizrooms/internal/transport/rest/middleware"
)

const qrSize = 320

// RoomHandler handles room endpoints
type RoomHandler struct {
	roomSvc *service.RoomService
	joinURL string
}

// NewRoomHandler creates a new room handler. joinURL is a format string
// taking the room code; when empty the QR code points at this host.
func NewRoomHandler(roomSvc *service.RoomService, joinURL string) *RoomHandler {
	return &RoomHandler{roomSvc: roomSvc, joinURL: joinURL}
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	HostPlayer *model.Player `json:"hostPlayer"`
	model.RoomConfig
}

// RoomPlayerRequest names a room and a player in it.
type RoomPlayerRequest struct {
	Code   string        `json:"code"`
	Player *model.Player `json:"player"`
}

type SubmitAnswersRequest struct {
	Code      string `json:"code"`
	UserID    string `json:"userId"`
	Answers   []int  `json:"answers"`
	TimeTaken int    `json:"timeTaken"`
}

type CodeRequest struct {
	Code string `json:"code"`
}

type ReadyRequest struct {
	Code    string `json:"code"`
	IsReady bool   `json:"isReady"`
}

type AnswerRequest struct {
	Code          string `json:"code"`
	QuestionIndex *int   `json:"questionIndex"`
	AnswerIndex   *int   `json:"answerIndex"`
	TimeRemaining int    `json:"timeRemaining"`
}

// Create handles POST /room/create
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req CreateRoomRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	host, err := actingPlayer(id, req.HostPlayer)
	if err != nil {
		writeAppError(w, err)
		return
	}

	room, err := h.roomSvc.CreateRoom(r.Context(), host, req.RoomConfig)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, room)
}

// Get handles GET /room/{code}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	room, err := h.roomSvc.GetRoom(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Join handles POST /room/join
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req RoomPlayerRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	player, err := actingPlayer(id, req.Player)
	if err != nil {
		writeAppError(w, err)
		return
	}

	room, err := h.roomSvc.JoinRoom(r.Context(), req.Code, player)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Leave handles POST /room/leave
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req RoomPlayerRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	player, err := actingPlayer(id, req.Player)
	if err != nil {
		writeAppError(w, err)
		return
	}

	room, err := h.roomSvc.LeaveRoom(r.Context(), req.Code, player.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Kick handles POST /room/kick. The body names the player to remove; the
// caller must host the room.
func (h *RoomHandler) Kick(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req RoomPlayerRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if req.Player == nil || req.Player.ID == "" {
		writeAppError(w, apperr.Invalid("player.id is required"))
		return
	}

	room, err := h.roomSvc.KickRoom(r.Context(), req.Code, id.PlayerID, req.Player.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Start handles POST /room/start
func (h *RoomHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req CodeRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	room, err := h.roomSvc.StartRoom(r.Context(), req.Code, id.PlayerID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Ready handles POST /room/ready
func (h *RoomHandler) Ready(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req ReadyRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	room, err := h.roomSvc.SetReady(r.Context(), req.Code, id.PlayerID, req.IsReady)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Answer handles POST /room/answer
func (h *RoomHandler) Answer(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req AnswerRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if req.QuestionIndex == nil || req.AnswerIndex == nil {
		writeAppError(w, apperr.Invalid("questionIndex and answerIndex are required"))
		return
	}

	room, err := h.roomSvc.RecordAnswer(r.Context(), req.Code, id.PlayerID, *req.QuestionIndex, *req.AnswerIndex, req.TimeRemaining)
	if err != nil {
		writeAppError(w, err)
		return
	}
	entry := room.Ranking(id.PlayerID)
	writeJSON(w, http.StatusOK, entry)
}

// SubmitAnswers handles POST /room/submit-answers
func (h *RoomHandler) SubmitAnswers(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req SubmitAnswersRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if req.UserID != "" && req.UserID != id.PlayerID {
		writeAppError(w, apperr.Forbidden("userId does not match the token"))
		return
	}

	room, err := h.roomSvc.SubmitAnswers(r.Context(), req.Code, id.PlayerID, req.Answers, req.TimeTaken)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "submitted",
		"score":  room.Result(id.PlayerID).Score,
		"ended":  room.Status == model.RoomEnded,
	})
}

// Leaderboard handles GET /room/{code}/leaderboard
func (h *RoomHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.roomSvc.Leaderboard(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

// QR handles GET /room/{code}/qr with a PNG pointing at the join page.
func (h *RoomHandler) QR(w http.ResponseWriter, r *http.Request) {
	room, err := h.roomSvc.GetRoom(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeAppError(w, err)
		return
	}

	png, err := qrcode.Encode(h.joinLink(r, room.Code), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "qr generation failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (h *RoomHandler) joinLink(r *http.Request, code string) string {
	if h.joinURL != "" {
		return fmt.Sprintf(h.joinURL, code)
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + "/join/" + code
}

// caller returns the verified identity or writes 401.
func caller(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
	return id, ok
}

// actingPlayer merges a body profile with the token identity. A body may
// omit the player but never name someone else.
func actingPlayer(id model.Identity, p *model.Player) (model.Player, error) {
	player := id.Player()
	if p == nil {
		return player, nil
	}
	if p.ID != "" && p.ID != id.PlayerID {
		return model.Player{}, apperr.Forbidden("player does not match the token")
	}
	if name := strings.TrimSpace(p.Username); name != "" {
		player.Username = name
	}
	if p.Avatar != "" {
		player.Avatar = p.Avatar
	}
	return player, nil
}

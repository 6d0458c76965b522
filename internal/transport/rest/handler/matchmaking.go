package handler

import (
	"net/http"

	"quizrooms/internal/model"
	"quizrooms/internal/service"
)

// MatchmakingHandler handles matchmaking endpoints
type MatchmakingHandler struct {
	matchSvc *service.MatchmakingService
}

// NewMatchmakingHandler creates a new matchmaking handler
func NewMatchmakingHandler(matchSvc *service.MatchmakingService) *MatchmakingHandler {
	return &MatchmakingHandler{matchSvc: matchSvc}
}

type MatchmakingRequest struct {
	User     *model.Player `json:"user"`
	Level    int           `json:"level"`
	RoomSize int           `json:"roomSize"`
	Prompt   string        `json:"prompt"`
}

// Find handles POST /room/matchmaking
func (h *MatchmakingHandler) Find(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req MatchmakingRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	user, err := actingPlayer(id, req.User)
	if err != nil {
		writeAppError(w, err)
		return
	}

	resp, err := h.matchSvc.FindMatch(r.Context(), user, req.Level, req.RoomSize, req.Prompt)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles POST /room/cancel-matchmaking
func (h *MatchmakingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req MatchmakingRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	user, err := actingPlayer(id, req.User)
	if err != nil {
		writeAppError(w, err)
		return
	}

	if err := h.matchSvc.Cancel(r.Context(), user.ID, req.Level, req.RoomSize); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

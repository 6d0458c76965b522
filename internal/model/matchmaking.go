package model

import "time"

type MatchStatus string

const (
	MatchWaiting MatchStatus = "waiting"
	MatchMatched MatchStatus = "matched"
)

// Ticket is a player's place in one matchmaking queue.
type Ticket struct {
	Player     Player    `json:"player"`
	Level      int       `json:"level"`
	RoomSize   int       `json:"roomSize"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// MatchResponse is returned by a matchmaking attempt. RoomCode is nil
// while the player is still waiting.
type MatchResponse struct {
	RoomCode *string     `json:"roomCode"`
	Players  []Player    `json:"players"`
	Status   MatchStatus `json:"status"`
}

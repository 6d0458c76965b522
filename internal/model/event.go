package model

import (
	"encoding/json"
	"fmt"
)

// EventKind names a real-time event channel.
type EventKind string

const (
	EventRoomActivity EventKind = "room_activity"
	EventRoomCreated  EventKind = "room_created"
	EventRoomUpdate   EventKind = "room_update"

	// Direct replies to a single connection; never relayed.
	EventError     EventKind = "error"
	EventPong      EventKind = "pong"
	EventRoomState EventKind = "room_state"
)

// RelayedKinds are the kinds that cross processes through the broker.
var RelayedKinds = []EventKind{EventRoomActivity, EventRoomCreated, EventRoomUpdate}

// ActivityType is the type tag of a room_activity event.
type ActivityType string

const (
	ActivityQuizStart    ActivityType = "quiz_start"
	ActivityQuizAnswer   ActivityType = "quiz_answer"
	ActivityQuizSubmit   ActivityType = "quiz_submit"
	ActivityResultUpdate ActivityType = "quiz_result_update"
	ActivityQuizLeave    ActivityType = "quiz_leave"
)

func (t ActivityType) Valid() bool {
	switch t {
	case ActivityQuizStart, ActivityQuizAnswer, ActivityQuizSubmit, ActivityResultUpdate, ActivityQuizLeave:
		return true
	}
	return false
}

// UpdateType is the type tag of a room_update event.
type UpdateType string

const (
	UpdatePlayerJoined UpdateType = "player_joined"
	UpdatePlayerLeft   UpdateType = "player_left"
	UpdatePlayerKicked UpdateType = "player_kicked"
	UpdatePlayerReady  UpdateType = "player_ready"
	UpdateQuestions    UpdateType = "questions_ready"
	UpdateRoomClosed   UpdateType = "room_closed"
)

// ActivityPayload is the data of a room_activity event.
type ActivityPayload struct {
	Type          ActivityType `json:"type"`
	Code          string       `json:"code"`
	ID            string       `json:"id,omitempty"`
	Members       []string     `json:"members"`
	TotalAnswered int          `json:"totalAnswered"`
	Score         int          `json:"score"`
	Ended         bool         `json:"ended,omitempty"`
	Room          *Room        `json:"room,omitempty"`
}

// RoomCreatedPayload is the data of a room_created event.
type RoomCreatedPayload struct {
	Code    string   `json:"code"`
	Members []string `json:"members"`
}

// UpdatePayload is the data of a room_update event.
type UpdatePayload struct {
	Type   UpdateType `json:"type"`
	Code   string     `json:"code"`
	ID     string     `json:"id,omitempty"`
	Reason string     `json:"reason,omitempty"`
	Room   *Room      `json:"room,omitempty"`
}

// ErrorPayload is sent to a single connection when a request fails.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerMessage is the frame written to a client connection.
type ServerMessage struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Envelope is what travels over the broker: a frame plus its audience.
type Envelope struct {
	Event   EventKind       `json:"event"`
	Targets []string        `json:"targets"`
	Data    json.RawMessage `json:"data"`
}

// Frame returns the client-facing frame of the envelope.
func (e Envelope) Frame() ([]byte, error) {
	return json.Marshal(ServerMessage{Event: e.Event, Data: e.Data})
}

// NewServerMessage encodes payload as a frame of the given kind.
func NewServerMessage(kind EventKind, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(ServerMessage{Event: kind, Data: data})
}

package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ClientEventKind names an event a client may send over its connection.
type ClientEventKind string

const (
	ClientRoomActivity ClientEventKind = "room_activity"
	ClientPlayerReady  ClientEventKind = "player_ready"
	ClientRoomSync     ClientEventKind = "room_sync"
	ClientPing         ClientEventKind = "ping"
)

// ClientMessage is the raw frame read from a client.
type ClientMessage struct {
	Event ClientEventKind `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ClientEvent is a decoded, validated client frame. Exactly one of the
// pointer fields is set, matching Kind.
type ClientEvent struct {
	Kind     ClientEventKind
	Activity *ActivityRequest
	Ready    *ReadyRequest
	Sync     *SyncRequest
}

// ActivityRequest is the data of a client room_activity event. The acting
// player always comes from the connection, never from the payload.
type ActivityRequest struct {
	Type          ActivityType `json:"type"`
	Code          string       `json:"code"`
	QuestionIndex *int         `json:"questionIndex,omitempty"`
	AnswerIndex   *int         `json:"answerIndex,omitempty"`
	TimeRemaining int          `json:"timeRemaining,omitempty"`
	Answers       []int        `json:"answers,omitempty"`
	TimeTaken     int          `json:"timeTaken,omitempty"`
}

type ReadyRequest struct {
	Code    string `json:"code"`
	IsReady bool   `json:"isReady"`
}

type SyncRequest struct {
	Code string `json:"code"`
}

// ParseClientEvent decodes and validates a client frame.
func ParseClientEvent(raw []byte) (*ClientEvent, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	ev := &ClientEvent{Kind: msg.Event}
	switch msg.Event {
	case ClientPing:
		return ev, nil
	case ClientRoomActivity:
		var req ActivityRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return nil, err
		}
		if err := req.validate(); err != nil {
			return nil, err
		}
		ev.Activity = &req
	case ClientPlayerReady:
		var req ReadyRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return nil, err
		}
		if err := validateCode(req.Code); err != nil {
			return nil, err
		}
		req.Code = strings.ToUpper(req.Code)
		ev.Ready = &req
	case ClientRoomSync:
		var req SyncRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return nil, err
		}
		if err := validateCode(req.Code); err != nil {
			return nil, err
		}
		req.Code = strings.ToUpper(req.Code)
		ev.Sync = &req
	default:
		return nil, fmt.Errorf("unknown event %q", msg.Event)
	}
	return ev, nil
}

func (r *ActivityRequest) validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("unknown activity type %q", r.Type)
	}
	if err := validateCode(r.Code); err != nil {
		return err
	}
	r.Code = strings.ToUpper(r.Code)

	switch r.Type {
	case ActivityQuizAnswer:
		if r.QuestionIndex == nil || *r.QuestionIndex < 0 {
			return fmt.Errorf("quiz_answer needs a non-negative questionIndex")
		}
		if r.AnswerIndex == nil || *r.AnswerIndex < 0 || *r.AnswerIndex >= OptionsPerQuestion {
			return fmt.Errorf("quiz_answer needs an answerIndex between 0 and %d", OptionsPerQuestion-1)
		}
		if r.TimeRemaining < 0 {
			return fmt.Errorf("timeRemaining cannot be negative")
		}
	case ActivityQuizSubmit:
		if r.Answers == nil {
			return fmt.Errorf("quiz_submit needs answers")
		}
		if r.TimeTaken < 0 {
			return fmt.Errorf("timeTaken cannot be negative")
		}
	}
	return nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed data: %w", err)
	}
	return nil
}

func validateCode(code string) error {
	if code == "" {
		return fmt.Errorf("missing room code")
	}
	return nil
}

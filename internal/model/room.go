package model

import (
	"fmt"
	"time"

	"quizrooms/internal/apperr"
)

type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomActive  RoomStatus = "active"
	RoomEnded   RoomStatus = "ended"
)

// RankingEntry is a player's live progress during an active quiz.
type RankingEntry struct {
	ID            string `json:"id" bson:"id"`
	Score         int    `json:"score" bson:"score"`
	AnsweredCount int    `json:"answeredCount" bson:"answeredCount"`
	// Answers holds one slot per question, -1 while unanswered.
	Answers       []int `json:"answers,omitempty" bson:"answers,omitempty"`
	TimeRemaining int   `json:"timeRemaining" bson:"timeRemaining"`
}

// MatchResult is a player's final submission.
type MatchResult struct {
	ID          string `json:"id" bson:"id"`
	UserAnswers []int  `json:"userAnswers" bson:"userAnswers"`
	Score       int    `json:"score" bson:"score"`
	TimeTaken   int    `json:"timeTaken" bson:"timeTaken"`
	IsSubmitted bool   `json:"isSubmitted" bson:"isSubmitted"`
}

// Room is the shared document for one quiz room. It is stored whole under
// room:{code} and only ever changed through a store mutation.
type Room struct {
	Code              string         `json:"code" bson:"code"`
	HostID            string         `json:"hostId" bson:"hostId"`
	Players           []Player       `json:"players" bson:"players"`
	Members           []string       `json:"members" bson:"members"`
	MatchRanking      []RankingEntry `json:"matchRanking" bson:"matchRanking"`
	MatchResults      []MatchResult  `json:"matchResults" bson:"matchResults"`
	Questions         []Question     `json:"questions" bson:"questions"`
	QuestionsReady    bool           `json:"questionsReady" bson:"questionsReady"`
	Status            RoomStatus     `json:"status" bson:"status"`
	MatchStarted      bool           `json:"matchStarted" bson:"matchStarted"`
	MatchEnded        bool           `json:"matchEnded" bson:"matchEnded"`
	ParticipantLimit  int            `json:"participantLimit" bson:"participantLimit"`
	Difficulty        string         `json:"difficulty" bson:"difficulty"`
	Duration          int            `json:"duration" bson:"duration"`
	TopicPrompt       string         `json:"topicPrompt" bson:"topicPrompt"`
	NumberOfQuestions int            `json:"numberOfQuestions" bson:"numberOfQuestions"`
	Version           int64          `json:"version" bson:"version"`
	CreatedAt         time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt" bson:"updatedAt"`
	StartedAt         *time.Time     `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	EndedAt           *time.Time     `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
	Deadline          *time.Time     `json:"deadline,omitempty" bson:"deadline,omitempty"`
	ExpiresAt         time.Time      `json:"-" bson:"expiresAt"`
}

// RoomConfig holds the creator-chosen settings of a room.
type RoomConfig struct {
	Difficulty        string `json:"difficulty"`
	ParticipantLimit  int    `json:"participantLimit"`
	Duration          int    `json:"duration"`
	TopicPrompt       string `json:"topicPrompt"`
	NumberOfQuestions int    `json:"numberOfQuestions"`
}

// MutateFunc changes a room in memory. It may run more than once when a
// concurrent write wins the race, so it must not keep state between calls.
type MutateFunc func(room *Room) error

// NewRoom seeds a waiting room with its first players. The first player hosts.
func NewRoom(code string, players []Player, cfg RoomConfig, now time.Time) *Room {
	r := &Room{
		Code:              code,
		Players:           []Player{},
		Members:           []string{},
		MatchRanking:      []RankingEntry{},
		MatchResults:      []MatchResult{},
		Questions:         []Question{},
		Status:            RoomWaiting,
		ParticipantLimit:  cfg.ParticipantLimit,
		Difficulty:        cfg.Difficulty,
		Duration:          cfg.Duration,
		TopicPrompt:       cfg.TopicPrompt,
		NumberOfQuestions: cfg.NumberOfQuestions,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, p := range players {
		r.addPlayer(p)
	}
	if len(r.Players) > 0 {
		r.HostID = r.Players[0].ID
		r.Players[0].IsHost = true
	}
	return r
}

// IndexOf returns the position of playerID in Players, or -1.
func (r *Room) IndexOf(playerID string) int {
	for i, p := range r.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) HasPlayer(playerID string) bool {
	return r.IndexOf(playerID) >= 0
}

func (r *Room) IsFull() bool {
	return len(r.Players) >= r.ParticipantLimit
}

// AddPlayer appends p with fresh ranking and result entries. Adding a
// player that is already present changes nothing. A hostless room is
// taken over by the new player.
func (r *Room) AddPlayer(p Player) error {
	if r.HasPlayer(p.ID) {
		return nil
	}
	if r.IsFull() {
		return apperr.ErrRoomFull
	}
	r.addPlayer(p)
	if r.HostID == "" {
		r.HostID = p.ID
		r.Players[len(r.Players)-1].IsHost = true
	}
	return nil
}

func (r *Room) addPlayer(p Player) {
	p.IsHost = false
	p.IsReady = false
	r.Players = append(r.Players, p)
	r.Members = append(r.Members, p.ID)
	r.MatchRanking = append(r.MatchRanking, RankingEntry{ID: p.ID, Answers: r.blankAnswers()})
	r.MatchResults = append(r.MatchResults, MatchResult{ID: p.ID, UserAnswers: []int{}})
}

// RemovePlayer drops playerID and its parallel entries. When the host
// leaves, the next player in join order becomes host. It reports whether
// the player was present.
func (r *Room) RemovePlayer(playerID string) bool {
	idx := r.IndexOf(playerID)
	if idx < 0 {
		return false
	}
	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)
	r.Members = removeString(r.Members, playerID)
	for i, e := range r.MatchRanking {
		if e.ID == playerID {
			r.MatchRanking = append(r.MatchRanking[:i], r.MatchRanking[i+1:]...)
			break
		}
	}
	for i, res := range r.MatchResults {
		if res.ID == playerID {
			r.MatchResults = append(r.MatchResults[:i], r.MatchResults[i+1:]...)
			break
		}
	}
	if r.HostID == playerID {
		r.HostID = ""
		if len(r.Players) > 0 {
			r.Players[0].IsHost = true
			r.HostID = r.Players[0].ID
		}
	}
	return true
}

func (r *Room) Ranking(playerID string) *RankingEntry {
	for i := range r.MatchRanking {
		if r.MatchRanking[i].ID == playerID {
			return &r.MatchRanking[i]
		}
	}
	return nil
}

func (r *Room) Result(playerID string) *MatchResult {
	for i := range r.MatchResults {
		if r.MatchResults[i].ID == playerID {
			return &r.MatchResults[i]
		}
	}
	return nil
}

// AllSubmitted reports whether every current player has submitted.
func (r *Room) AllSubmitted() bool {
	if len(r.MatchResults) == 0 {
		return false
	}
	for _, res := range r.MatchResults {
		if !res.IsSubmitted {
			return false
		}
	}
	return true
}

// Score counts the answers that match the correct option.
func (r *Room) Score(answers []int) int {
	score := 0
	for i, a := range answers {
		if i < len(r.Questions) && a == r.Questions[i].CorrectAnswerIndex {
			score++
		}
	}
	return score
}

// SetQuestions stores generated questions and resets the per-question
// answer slots of every ranking entry.
func (r *Room) SetQuestions(qs []Question) {
	r.Questions = qs
	r.QuestionsReady = true
	for i := range r.MatchRanking {
		r.MatchRanking[i].Answers = r.blankAnswers()
	}
}

// End moves the room to ended. It is a no-op once ended.
func (r *Room) End(now time.Time) {
	if r.Status == RoomEnded {
		return
	}
	r.Status = RoomEnded
	r.MatchEnded = true
	r.EndedAt = &now
}

// Validate checks the structural invariants of the document.
func (r *Room) Validate() error {
	if len(r.Players) > r.ParticipantLimit {
		return fmt.Errorf("room %s: %d players over limit %d", r.Code, len(r.Players), r.ParticipantLimit)
	}
	if len(r.Members) != len(r.Players) || len(r.MatchRanking) != len(r.Players) || len(r.MatchResults) != len(r.Players) {
		return fmt.Errorf("room %s: parallel lists out of sync", r.Code)
	}
	for i, p := range r.Players {
		if r.Members[i] != p.ID || r.MatchRanking[i].ID != p.ID || r.MatchResults[i].ID != p.ID {
			return fmt.Errorf("room %s: entry %d does not match player %s", r.Code, i, p.ID)
		}
	}
	if len(r.Players) > 0 && !r.HasPlayer(r.HostID) {
		return fmt.Errorf("room %s: host %s is not a player", r.Code, r.HostID)
	}
	return nil
}

func (r *Room) blankAnswers() []int {
	answers := make([]int, len(r.Questions))
	for i := range answers {
		answers[i] = -1
	}
	return answers
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

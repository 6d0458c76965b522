package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quizrooms/internal/apperr"
	"quizrooms/internal/model"
)

// MatchQueue is the shared matchmaking queue store.
type MatchQueue interface {
	Enqueue(ctx context.Context, t model.Ticket) (bool, error)
	TryMatch(ctx context.Context, level, roomSize int) ([]string, error)
	Waiting(ctx context.Context, level, roomSize int) ([]string, error)
	Tickets(ctx context.Context, playerIDs []string) (map[string]model.Ticket, error)
	Cancel(ctx context.Context, playerID string, level, roomSize int) error
	CancelAll(ctx context.Context, playerID string) (int, error)
	Requeue(ctx context.Context, level, roomSize int, playerIDs []string) error
}

const (
	minLevel = 1
	maxLevel = 10
	maxMatch = 8
)

// MatchmakingDefaults are the settings of rooms created from a match.
type MatchmakingDefaults struct {
	Duration          int
	NumberOfQuestions int
}

// MatchmakingService groups queued players into rooms of the requested size
type MatchmakingService struct {
	queue       MatchQueue
	rooms       *RoomService
	broadcaster Broadcaster
	defaults    MatchmakingDefaults
	logger      *slog.Logger
	now         func() time.Time
}

// NewMatchmakingService creates a new matchmaking service
func NewMatchmakingService(queue MatchQueue, rooms *RoomService, defaults MatchmakingDefaults, logger *slog.Logger) *MatchmakingService {
	if defaults.Duration == 0 {
		defaults.Duration = 300
	}
	if defaults.NumberOfQuestions == 0 {
		defaults.NumberOfQuestions = defaultQuestion
	}
	return &MatchmakingService{
		queue:       queue,
		rooms:       rooms,
		broadcaster: nopBroadcaster{},
		defaults:    defaults,
		logger:      logger.With("component", "matchmaking"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetBroadcaster sets the event fan-out
func (s *MatchmakingService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// FindMatch queues user and tries to fill a room. Either exactly roomSize
// players are matched into a new room or the caller keeps waiting.
func (s *MatchmakingService) FindMatch(ctx context.Context, user model.Player, level, roomSize int, prompt string) (*model.MatchResponse, error) {
	if err := validateBucket(level, roomSize); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, apperr.Invalid("user id is required")
	}
	if prompt == "" {
		prompt = fmt.Sprintf("general knowledge, level %d", level)
	}

	if _, err := s.queue.Enqueue(ctx, model.Ticket{
		Player:     user,
		Level:      level,
		RoomSize:   roomSize,
		EnqueuedAt: s.now(),
	}); err != nil {
		return nil, err
	}

	ids, err := s.queue.TryMatch(ctx, level, roomSize)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return s.waiting(ctx, level, roomSize)
	}

	players, err := s.profiles(ctx, ids)
	if err != nil {
		s.requeue(ctx, level, roomSize, ids)
		return nil, err
	}

	room, err := s.rooms.CreateMatchedRoom(ctx, players, model.RoomConfig{
		Difficulty:        difficultyFor(level),
		ParticipantLimit:  roomSize,
		Duration:          s.defaults.Duration,
		TopicPrompt:       prompt,
		NumberOfQuestions: s.defaults.NumberOfQuestions,
	})
	if err != nil {
		s.requeue(ctx, level, roomSize, ids)
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.queue.CancelAll(ctx, id); err != nil {
			s.logger.Warn("failed to clear matched tickets", "player", id, "error", err)
		}
	}

	s.logger.Info("match formed", "room", room.Code, "level", level, "size", roomSize)
	if err := s.broadcaster.Notify(ctx, model.EventRoomCreated, room.Members, model.RoomCreatedPayload{
		Code:    room.Code,
		Members: room.Members,
	}); err != nil {
		s.logger.Warn("failed to broadcast", "event", model.EventRoomCreated, "error", err)
	}

	code := room.Code
	return &model.MatchResponse{RoomCode: &code, Players: room.Players, Status: model.MatchMatched}, nil
}

// Cancel removes playerID from one queue.
func (s *MatchmakingService) Cancel(ctx context.Context, playerID string, level, roomSize int) error {
	if err := validateBucket(level, roomSize); err != nil {
		return err
	}
	return s.queue.Cancel(ctx, playerID, level, roomSize)
}

// CancelAll removes playerID from every queue, e.g. on disconnect.
func (s *MatchmakingService) CancelAll(ctx context.Context, playerID string) error {
	n, err := s.queue.CancelAll(ctx, playerID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("matchmaking cancelled", "player", playerID, "queues", n)
	}
	return nil
}

func (s *MatchmakingService) waiting(ctx context.Context, level, roomSize int) (*model.MatchResponse, error) {
	ids, err := s.queue.Waiting(ctx, level, roomSize)
	if err != nil {
		return nil, err
	}
	players, err := s.profiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &model.MatchResponse{Players: players, Status: model.MatchWaiting}, nil
}

// profiles returns the queued profiles of ids in order. Ids without a
// ticket keep only their id.
func (s *MatchmakingService) profiles(ctx context.Context, ids []string) ([]model.Player, error) {
	tickets, err := s.queue.Tickets(ctx, ids)
	if err != nil {
		return nil, err
	}
	players := make([]model.Player, 0, len(ids))
	for _, id := range ids {
		if t, ok := tickets[id]; ok {
			players = append(players, t.Player)
			continue
		}
		players = append(players, model.Player{ID: id})
	}
	return players, nil
}

func (s *MatchmakingService) requeue(ctx context.Context, level, roomSize int, ids []string) {
	if err := s.queue.Requeue(ctx, level, roomSize, ids); err != nil {
		s.logger.Error("failed to requeue matched players", "level", level, "size", roomSize, "players", ids, "error", err)
	}
}

func validateBucket(level, roomSize int) error {
	if level < minLevel || level > maxLevel {
		return apperr.Invalid("level must be between %d and %d", minLevel, maxLevel)
	}
	if roomSize < minParticipants || roomSize > maxMatch {
		return apperr.Invalid("roomSize must be between %d and %d", minParticipants, maxMatch)
	}
	return nil
}

func difficultyFor(level int) string {
	switch {
	case level <= 3:
		return "easy"
	case level <= 7:
		return "medium"
	default:
		return "hard"
	}
}

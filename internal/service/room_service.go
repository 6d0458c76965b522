package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"quizrooms/internal/apperr"
	"quizrooms/internal/model"
)

// RoomStore is the shared room document store. Both the Redis cache and
// the Mongo repository satisfy it.
type RoomStore interface {
	Create(ctx context.Context, room *model.Room) error
	Get(ctx context.Context, code string) (*model.Room, error)
	Mutate(ctx context.Context, code string, fn model.MutateFunc) (*model.Room, error)
	Delete(ctx context.Context, code string) error
}

// DeadlineIndex tracks when active rooms must be finalized.
type DeadlineIndex interface {
	Schedule(ctx context.Context, code string, at time.Time) error
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Remove(ctx context.Context, code string) error
}

const (
	roomCodeChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	roomCodeLen     = 6
	maxCodeAttempts = 10
	sweepBatch      = 100

	minParticipants = 2
	maxParticipants = 50
	minDuration     = 10
	maxDuration     = 3600
	maxQuestions    = 50
	defaultQuestion = 10
)

// RoomServiceConfig tunes the lifecycle manager.
type RoomServiceConfig struct {
	// DeadlineGrace is added to startedAt+duration before unsubmitted
	// players are finalized, to absorb late submissions in flight.
	DeadlineGrace     time.Duration
	GenerationTimeout time.Duration
}

// RoomService drives rooms through waiting, active and ended. Every change
// to a room goes through RoomStore.Mutate.
type RoomService struct {
	store       RoomStore
	deadlines   DeadlineIndex
	generator   QuestionGenerator
	broadcaster Broadcaster
	logger      *slog.Logger
	cfg         RoomServiceConfig

	newCode func() (string, error)
	now     func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// NewRoomService creates a new room service
func NewRoomService(store RoomStore, deadlines DeadlineIndex, generator QuestionGenerator, logger *slog.Logger, cfg RoomServiceConfig) *RoomService {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = time.Minute
	}
	return &RoomService{
		store:       store,
		deadlines:   deadlines,
		generator:   generator,
		broadcaster: nopBroadcaster{},
		logger:      logger.With("component", "rooms"),
		cfg:         cfg,
		newCode:     generateRoomCode,
		now:         func() time.Time { return time.Now().UTC() },
		timers:      make(map[string]*time.Timer),
	}
}

// SetBroadcaster sets the event fan-out
func (s *RoomService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// CreateRoom creates a waiting room hosted by host and starts question
// generation in the background.
func (s *RoomService) CreateRoom(ctx context.Context, host model.Player, cfg model.RoomConfig) (*model.Room, error) {
	return s.createRoom(ctx, []model.Player{host}, cfg)
}

// CreateMatchedRoom creates a room already holding every matched player.
// The first player hosts.
func (s *RoomService) CreateMatchedRoom(ctx context.Context, players []model.Player, cfg model.RoomConfig) (*model.Room, error) {
	if len(players) == 0 {
		return nil, apperr.Invalid("no players to seat")
	}
	return s.createRoom(ctx, players, cfg)
}

func (s *RoomService) createRoom(ctx context.Context, players []model.Player, cfg model.RoomConfig) (*model.Room, error) {
	cfg, err := normalizeConfig(cfg, len(players))
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		if p.ID == "" {
			return nil, apperr.Invalid("player id is required")
		}
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate room code: %w", err)
		}
		room := model.NewRoom(code, players, cfg, s.now())
		err = s.store.Create(ctx, room)
		if errors.Is(err, apperr.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("room created", "room", code, "host", room.HostID, "players", len(room.Players))
		s.startGeneration(room)
		return room, nil
	}
	return nil, apperr.New(apperr.KindTransient, "failed to generate unique room code")
}

func (s *RoomService) startGeneration(room *model.Room) {
	req := model.GenerationRequest{
		Topic:      room.TopicPrompt,
		Difficulty: room.Difficulty,
		Count:      room.NumberOfQuestions,
	}
	code := room.Code

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GenerationTimeout)
		defer cancel()

		qs, err := s.generator.Generate(ctx, req)
		if err != nil {
			s.failGeneration(code, err)
			return
		}

		room, err := s.store.Mutate(ctx, code, func(r *model.Room) error {
			if !r.QuestionsReady {
				r.SetQuestions(qs)
			}
			return nil
		})
		if apperr.IsNotFound(err) {
			s.logger.Info("discarding questions for vanished room", "room", code)
			return
		}
		if err != nil {
			s.failGeneration(code, err)
			return
		}

		s.logger.Info("questions ready", "room", code, "count", len(qs))
		s.notify(ctx, model.EventRoomUpdate, room.Members, model.UpdatePayload{
			Type: model.UpdateQuestions,
			Code: code,
			Room: room,
		})
	}()
}

// failGeneration tears the room down; the next read sees NotFound.
func (s *RoomService) failGeneration(code string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Error("question generation failed", "room", code, "error", cause)

	var members []string
	if room, err := s.store.Get(ctx, code); err == nil {
		members = room.Members
	}
	if err := s.store.Delete(ctx, code); err != nil {
		s.logger.Error("failed to delete room after generation failure", "room", code, "error", err)
		return
	}
	s.notify(ctx, model.EventRoomUpdate, members, model.UpdatePayload{
		Type:   model.UpdateRoomClosed,
		Code:   code,
		Reason: string(apperr.KindUpstreamGeneration),
	})
}

// GetRoom returns the current room document.
func (s *RoomService) GetRoom(ctx context.Context, code string) (*model.Room, error) {
	return s.store.Get(ctx, normalizeCode(code))
}

// JoinRoom adds player to a waiting room. Joining twice is a no-op.
func (s *RoomService) JoinRoom(ctx context.Context, code string, player model.Player) (*model.Room, error) {
	code = normalizeCode(code)
	if player.ID == "" {
		return nil, apperr.Invalid("player id is required")
	}

	var joined bool
	room, err := s.store.Mutate(ctx, code, func(r *model.Room) error {
		joined = false
		if r.HasPlayer(player.ID) {
			return nil
		}
		if r.Status != model.RoomWaiting {
			return apperr.ErrRoomNotWaiting
		}
		if err := r.AddPlayer(player); err != nil {
			return err
		}
		joined = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if joined {
		s.logger.Info("player joined", "room", code, "player", player.ID)
		s.notify(ctx, model.EventRoomUpdate, others(room.Members, player.ID), model.UpdatePayload{
			Type: model.UpdatePlayerJoined,
			Code: code,
			ID:   player.ID,
			Room: room,
		})
	}
	return room, nil
}

// LeaveRoom removes playerID. The host role passes to the next player and
// the room is deleted once empty.
func (s *RoomService) LeaveRoom(ctx context.Context, code, playerID string) (*model.Room, error) {
	code = normalizeCode(code)
	var removed, wasActive, ended bool
	room, err := s.store.Mutate(ctx, code, func(r *model.Room) error {
		removed, wasActive, ended = false, r.Status == model.RoomActive, false
		if !r.RemovePlayer(playerID) {
			return nil
		}
		removed = true
		ended = s.endIfComplete(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !removed {
		return room, nil
	}

	s.logger.Info("player left", "room", code, "player", playerID, "remaining", len(room.Players))
	if len(room.Players) == 0 {
		s.dropRoom(ctx, code)
		return room, nil
	}

	if wasActive {
		s.notify(ctx, model.EventRoomActivity, room.Members, model.ActivityPayload{
			Type:    model.ActivityQuizLeave,
			Code:    code,
			ID:      playerID,
			Members: room.Members,
		})
	} else {
		s.notify(ctx, model.EventRoomUpdate, room.Members, model.UpdatePayload{
			Type: model.UpdatePlayerLeft,
			Code: code,
			ID:   playerID,
			Room: room,
		})
	}
	if ended {
		s.finished(ctx, room)
	}
	return room, nil
}

// KickRoom lets the host remove another player. Kicking an absent player
// changes nothing.
func (s *RoomService) KickRoom(ctx context.Context, code, actorID, playerID string) (*model.Room, error) {
	code = normalizeCode(code)
	if actorID == playerID {
		return nil, apperr.Invalid("the host cannot kick themselves")
	}

	var removed, ended bool
	room, err := s.store.Mutate(ctx, code, func(r *model.Room) error {
		removed, ended = false, false
		if r.HostID != actorID {
			return apperr.ErrNotHost
		}
		if !r.RemovePlayer(playerID) {
			return nil
		}
		removed = true
		ended = s.endIfComplete(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !removed {
		return room, nil
	}

	s.logger.Info("player kicked", "room", code, "player", playerID, "by", actorID)
	s.notify(ctx, model.EventRoomUpdate, append(append([]string{}, room.Members...), playerID), model.UpdatePayload{
		Type: model.UpdatePlayerKicked,
		Code: code,
		ID:   playerID,
		Room: room,
	})
	if ended {
		s.finished(ctx, room)
	}
	return room, nil
}

// SetReady toggles a player's lobby ready flag.
func (s *RoomService) SetReady(ctx context.Context, code, playerID string, ready bool) (*model.Room, error) {
	code = normalizeCode(code)
	room, err := s.store.Mutate(ctx, code, func(r *model.Room) error {
		idx := r.IndexOf(playerID)
		if idx < 0 {
			return apperr.ErrPlayerNotInRoom
		}
		if r.Status != model.RoomWaiting {
			return apperr.ErrRoomNotWaiting
		}
		r.Players[idx].IsReady = ready
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, model.EventRoomUpdate, room.Members, model.UpdatePayload{
		Type: model.UpdatePlayerReady,
		Code: code,
		ID:   playerID,
		Room: room,
	})
	return room, nil
}

// StartRoom moves a waiting room to active. Only the host may start it,
// with at least two players and its questions ready.
func (s *RoomService) StartRoom(ctx context.Context, code, actorID string) (*model.Room, error) {
	code = normalizeCode(code)
	room, err := s.store.Mutate(ctx, code, func(r *model.Room) error {
		if r.HostID != actorID {
			return apperr.ErrNotHost
		}
		if r.Status != model.RoomWaiting {
			return apperr.ErrRoomNotWaiting
		}
		if len(r.Players) < minParticipants {
			return apperr.ErrInsufficientPlayers
		}
		if !r.QuestionsReady {
			return apperr.ErrQuestionsNotReady
		}
		now := s.now()
		deadline := now.Add(time.Duration(r.Duration) * time.Second)
		r.Status = model.RoomActive
		r.MatchStarted = true
		r.StartedAt = &now
		r.Deadline = &deadline
		return nil
	})
	if err != nil {
		return nil, err
	}

	finalizeAt := room.Deadline.Add(s.cfg.DeadlineGrace)
	if err := s.deadlines.Schedule(ctx, code, finalizeAt); err != nil {
		s.logger.Error("failed to schedule deadline", "room", code, "error", err)
	}
	s.armTimer(code, finalizeAt)

	s.logger.Info("quiz started", "room", code, "players", len(room.Players), "deadline", room.Deadline)
	s.notify(ctx, model.EventRoomActivity, room.Members, model.ActivityPayload{
		Type:    model.ActivityQuizStart,
		Code:    code,
		ID:      actorID,
		Members: room.Members,
		Room:    room,
	})
	return room, nil
}

// RecordAnswer stores one live answer of playerID. Answering a question
// again overwrites the earlier answer.
func (s *RoomService) RecordAnswer(ctx context.Context, code, playerID string, questionIndex, answerIndex, timeRemaining int) (*model.Room, error) {
	code = normalizeCode(code)
	if answerIndex < 0 || answerIndex >= model.OptionsPerQuestion {
		return nil, apperr.Invalid("answer index %d out of range", answerIndex)
	}

	var total, score int
	room, err := s.store.Mutate(ctx, code, func(r *model.Room) error {
		if r.Status != model.RoomActive || s.pastDeadline(r) {
			return apperr.ErrRoomNotActive
		}
		entry, res := r.Ranking(playerID), r.Result(playerID)
		if entry == nil || res == nil {
			return apperr.ErrPlayerNotInRoom
		}
		if res.IsSubmitted {
			return apperr.ErrAlreadySubmitted
		}
		if questionIndex < 0 || questionIndex >= len(r.Questions) {
			return apperr.Invalid("question index %d out of range", questionIndex)
		}
		if len(entry.Answers) != len(r.Questions) {
			entry.Answers = blankAnswers(len(r.Questions))
		}
		entry.Answers[questionIndex] = answerIndex
		entry.AnsweredCount = countAnswered(entry.Answers)
		entry.Score = r.Score(entry.Answers)
		entry.TimeRemaining = timeRemaining
		total, score = entry.AnsweredCount, entry.Score
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, model.EventRoomActivity, room.Members, model.ActivityPayload{
		Type:          model.ActivityQuizAnswer,
		Code:          code,
		ID:            playerID,
		Members:       room.Members,
		TotalAnswered: total,
		Score:         score,
	})
	return room, nil
}

// SubmitAnswers records playerID's final answers. A second submission is a
// Conflict and leaves the stored result untouched, as is one arriving after
// deadline plus grace. The room ends when every player has submitted.
func (s *RoomService) SubmitAnswers(ctx context.Context, code, playerID string, answers []int, timeTaken int) (*model.Room, error) {
	code = normalizeCode(code)
	for i, a := range answers {
		if a < -1 || a >= model.OptionsPerQuestion {
			return nil, apperr.Invalid("answer %d out of range", i)
		}
	}
	if timeTaken < 0 {
		return nil, apperr.Invalid("timeTaken cannot be negative")
	}

	var score int
	var ended bool
	room, err := s.store.Mutate(ctx, code, func(r *model.Room) error {
		ended = false
		entry, res := r.Ranking(playerID), r.Result(playerID)
		if entry == nil || res == nil {
			return apperr.ErrPlayerNotInRoom
		}
		if res.IsSubmitted {
			return apperr.ErrAlreadySubmitted
		}
		if r.Status != model.RoomActive || s.pastDeadline(r) {
			return apperr.ErrRoomNotActive
		}
		if len(answers) > len(r.Questions) {
			return apperr.Invalid("%d answers for %d questions", len(answers), len(r.Questions))
		}

		score = r.Score(answers)
		*res = model.MatchResult{
			ID:          playerID,
			UserAnswers: append([]int{}, answers...),
			Score:       score,
			TimeTaken:   timeTaken,
			IsSubmitted: true,
		}
		entry.Score = score
		entry.AnsweredCount = countAnswered(answers)
		ended = s.endIfComplete(r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("answers submitted", "room", code, "player", playerID, "score", score)
	s.notify(ctx, model.EventRoomActivity, room.Members, model.ActivityPayload{
		Type:    model.ActivityQuizSubmit,
		Code:    code,
		ID:      playerID,
		Members: room.Members,
		Score:   score,
		Ended:   ended,
	})
	if ended {
		s.finished(ctx, room)
	}
	return room, nil
}

// FinalizeExpired ends an active room whose deadline has passed, scoring
// every unsubmitted player from their live answers. It reports whether
// this call ended the room.
func (s *RoomService) FinalizeExpired(ctx context.Context, code string) (bool, error) {
	var ended bool
	room, err := s.store.Mutate(ctx, code, func(r *model.Room) error {
		ended = false
		if r.Status != model.RoomActive || !s.pastDeadline(r) {
			return nil
		}
		for i := range r.MatchResults {
			res := &r.MatchResults[i]
			if res.IsSubmitted {
				continue
			}
			answers := []int{}
			if entry := r.Ranking(res.ID); entry != nil {
				answers = append(answers, entry.Answers...)
				entry.Score = r.Score(answers)
				entry.AnsweredCount = countAnswered(answers)
			}
			*res = model.MatchResult{
				ID:          res.ID,
				UserAnswers: answers,
				Score:       r.Score(answers),
				TimeTaken:   r.Duration,
				IsSubmitted: true,
			}
		}
		r.End(s.now())
		ended = true
		return nil
	})
	if apperr.IsNotFound(err) {
		s.stopTimer(code)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if ended {
		s.logger.Info("quiz finalized at deadline", "room", code)
		s.finished(ctx, room)
	}
	return ended, nil
}

// RunDeadlineSweeper finalizes due rooms every interval until ctx is done.
// Several processes may sweep at once; finalization is idempotent.
func (s *RoomService) RunDeadlineSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepDeadlines(ctx)
		}
	}
}

// SweepDeadlines runs one sweep and returns how many rooms it ended.
func (s *RoomService) SweepDeadlines(ctx context.Context) int {
	codes, err := s.deadlines.Due(ctx, s.now(), sweepBatch)
	if err != nil {
		s.logger.Error("failed to load due deadlines", "error", err)
		return 0
	}
	n := 0
	for _, code := range codes {
		ended, err := s.FinalizeExpired(ctx, code)
		if err != nil {
			s.logger.Error("failed to finalize room", "room", code, "error", err)
			continue
		}
		if ended {
			n++
		}
		if err := s.deadlines.Remove(ctx, code); err != nil {
			s.logger.Warn("failed to clear deadline", "room", code, "error", err)
		}
	}
	return n
}

// Leaderboard returns the live ranking, best score first.
func (s *RoomService) Leaderboard(ctx context.Context, code string) ([]model.LeaderboardEntry, error) {
	room, err := s.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	entries := make([]model.LeaderboardEntry, 0, len(room.MatchRanking))
	for i, e := range room.MatchRanking {
		entries = append(entries, model.LeaderboardEntry{
			ID:            e.ID,
			Username:      room.Players[i].Username,
			Score:         e.Score,
			AnsweredCount: e.AnsweredCount,
			IsSubmitted:   room.MatchResults[i].IsSubmitted,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].AnsweredCount > entries[j].AnsweredCount
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// Close stops local deadline timers and waits for in-flight generation.
func (s *RoomService) Close() {
	s.mu.Lock()
	for code, t := range s.timers {
		t.Stop()
		delete(s.timers, code)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// endIfComplete ends an active room once all remaining players submitted.
func (s *RoomService) endIfComplete(r *model.Room) bool {
	if r.Status != model.RoomActive || !r.AllSubmitted() {
		return false
	}
	r.End(s.now())
	return true
}

func (s *RoomService) pastDeadline(r *model.Room) bool {
	return r.Deadline != nil && !s.now().Before(r.Deadline.Add(s.cfg.DeadlineGrace))
}

// finished clears deadline bookkeeping and announces the results.
func (s *RoomService) finished(ctx context.Context, room *model.Room) {
	s.stopTimer(room.Code)
	if err := s.deadlines.Remove(ctx, room.Code); err != nil {
		s.logger.Warn("failed to clear deadline", "room", room.Code, "error", err)
	}
	s.notify(ctx, model.EventRoomActivity, room.Members, model.ActivityPayload{
		Type:    model.ActivityResultUpdate,
		Code:    room.Code,
		Members: room.Members,
		Ended:   true,
		Room:    room,
	})
}

func (s *RoomService) dropRoom(ctx context.Context, code string) {
	s.stopTimer(code)
	if err := s.store.Delete(ctx, code); err != nil {
		s.logger.Error("failed to delete empty room", "room", code, "error", err)
	}
	if err := s.deadlines.Remove(ctx, code); err != nil {
		s.logger.Warn("failed to clear deadline", "room", code, "error", err)
	}
	s.logger.Info("empty room deleted", "room", code)
}

func (s *RoomService) armTimer(code string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[code]; ok {
		t.Stop()
	}
	s.timers[code] = time.AfterFunc(time.Until(at), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.FinalizeExpired(ctx, code); err != nil {
			s.logger.Error("failed to finalize room", "room", code, "error", err)
		}
	})
}

func (s *RoomService) stopTimer(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[code]; ok {
		t.Stop()
		delete(s.timers, code)
	}
}

func (s *RoomService) notify(ctx context.Context, kind model.EventKind, targets []string, payload any) {
	if len(targets) == 0 {
		return
	}
	if err := s.broadcaster.Notify(ctx, kind, targets, payload); err != nil {
		s.logger.Warn("failed to broadcast", "event", kind, "error", err)
	}
}

func normalizeConfig(cfg model.RoomConfig, seated int) (model.RoomConfig, error) {
	if cfg.Difficulty == "" {
		cfg.Difficulty = "medium"
	}
	if cfg.NumberOfQuestions == 0 {
		cfg.NumberOfQuestions = defaultQuestion
	}
	cfg.TopicPrompt = strings.TrimSpace(cfg.TopicPrompt)

	switch {
	case cfg.TopicPrompt == "":
		return cfg, apperr.Invalid("topicPrompt is required")
	case cfg.ParticipantLimit < minParticipants || cfg.ParticipantLimit > maxParticipants:
		return cfg, apperr.Invalid("participantLimit must be between %d and %d", minParticipants, maxParticipants)
	case seated > cfg.ParticipantLimit:
		return cfg, apperr.Invalid("%d players exceed participantLimit %d", seated, cfg.ParticipantLimit)
	case cfg.Duration < minDuration || cfg.Duration > maxDuration:
		return cfg, apperr.Invalid("duration must be between %d and %d seconds", minDuration, maxDuration)
	case cfg.NumberOfQuestions < 1 || cfg.NumberOfQuestions > maxQuestions:
		return cfg, apperr.Invalid("numberOfQuestions must be between 1 and %d", maxQuestions)
	}
	return cfg, nil
}

// generateRoomCode creates a 6-char alphanumeric code
func generateRoomCode() (string, error) {
	b := make([]byte, roomCodeLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	code := make([]byte, roomCodeLen)
	for i := range code {
		code[i] = roomCodeChars[int(b[i])%len(roomCodeChars)]
	}
	return string(code), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func others(members []string, exclude string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != exclude {
			out = append(out, m)
		}
	}
	return out
}

func blankAnswers(n int) []int {
	answers := make([]int, n)
	for i := range answers {
		answers[i] = -1
	}
	return answers
}

func countAnswered(answers []int) int {
	n := 0
	for _, a := range answers {
		if a >= 0 {
			n++
		}
	}
	return n
}

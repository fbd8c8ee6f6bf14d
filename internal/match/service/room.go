package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"codearena/internal/common/db"
	"codearena/internal/match/model"
	"codearena/internal/notify"
	problemRepo "codearena/internal/problem/repository"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

// JoinResult is the seat a user ended up in.
type JoinResult struct {
	Room        model.Room        `json:"room"`
	Participant model.Participant `json:"participant"`
	Created     bool              `json:"created"`
}

// CreateRoom opens a waiting room with the host seated as ready.
// problemID 0 picks a random problem of the requested difficulty, then any problem.
func (s *MatchService) CreateRoom(ctx context.Context, hostID string, format model.Format, problemID int64, opts model.CreateOptions) (model.Room, error) {
	if strings.TrimSpace(hostID) == "" {
		return model.Room{}, appErr.ValidationError("host_id", "required")
	}
	if format == "" {
		format = model.Format1v1
	}
	opts = opts.WithDefaults()

	if problemID > 0 {
		if _, err := s.problems.Get(ctx, problemID); err != nil {
			return model.Room{}, err
		}
	} else {
		id, err := s.pickProblem(ctx, opts.Difficulty)
		if err != nil {
			return model.Room{}, err
		}
		problemID = id
	}

	now := s.now()
	room := model.Room{
		ID:           uuid.NewString(),
		HostID:       hostID,
		Format:       format,
		Status:       model.RoomWaiting,
		ProblemID:    problemID,
		Language:     opts.Language,
		Difficulty:   opts.Difficulty,
		TimeLimitMin: opts.TimeLimitMin,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.settings.RoomTTL),
	}
	code, err := s.allocateCode(ctx, room.ID)
	if err != nil {
		return model.Room{}, err
	}
	room.Code = code

	host := model.Participant{
		RoomID:    room.ID,
		UserID:    hostID,
		Status:    model.StatusReady,
		Synthetic: s.IsBot(hostID),
		JoinedAt:  now,
	}
	if format.Teams() {
		host.Team = 1
	}
	err = s.rooms.Transaction(ctx, func(tx db.Transaction) error {
		if err := s.rooms.CreateRoom(ctx, tx, room); err != nil {
			return err
		}
		return s.rooms.AddParticipant(ctx, tx, host)
	})
	if err != nil {
		_ = s.codes.Release(ctx, code, room.ID)
		return model.Room{}, err
	}

	logger.Info(ctx, "room created",
		zap.String("room_id", room.ID),
		zap.String("room_code", room.Code),
		zap.String("match_type", string(format)),
		zap.Int64("problem_id", problemID),
	)
	return room, nil
}

// allocateCode draws uniform 4-digit codes until one is free among live rooms.
func (s *MatchService) allocateCode(ctx context.Context, roomID string) (string, error) {
	for i := 0; i < s.settings.CodeAttempts; i++ {
		code := fmt.Sprintf("%04d", s.intN(10000))
		ok, err := s.codes.Reserve(ctx, code, roomID, s.settings.RoomTTL)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		inUse, err := s.rooms.CodeInUse(ctx, code, s.now())
		if err != nil {
			_ = s.codes.Release(ctx, code, roomID)
			return "", err
		}
		if inUse {
			// a started room outlives its reservation
			_ = s.codes.Release(ctx, code, roomID)
			continue
		}
		return code, nil
	}
	return "", appErr.New(appErr.RoomCodeExhausted)
}

func (s *MatchService) pickProblem(ctx context.Context, difficulty string) (int64, error) {
	id, err := s.problems.RandomID(ctx, problemRepo.NormalizeDifficulty(difficulty))
	if err != nil {
		return 0, err
	}
	if id > 0 {
		return id, nil
	}
	return s.problems.AnyRandomID(ctx)
}

// JoinRoom seats userID in the room holding code.
func (s *MatchService) JoinRoom(ctx context.Context, code, userID string) (JoinResult, error) {
	if strings.TrimSpace(userID) == "" {
		return JoinResult{}, appErr.ValidationError("user_id", "required")
	}
	room, err := s.rooms.FindByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return JoinResult{}, err
	}
	if room.PastExpiry(s.now()) {
		s.expire(ctx, room)
		return JoinResult{}, appErr.New(appErr.RoomExpired)
	}
	return s.seat(ctx, room.ID, userID)
}

func (s *MatchService) expire(ctx context.Context, room model.Room) {
	if err := s.rooms.MarkExpired(ctx, room.ID); err != nil {
		logger.Warn(ctx, "expire room failed", zap.String("room_id", room.ID), zap.Error(err))
		return
	}
	_ = s.codes.Release(ctx, room.Code, room.ID)
	s.timers.cancel(room.ID)
	logger.Info(ctx, "room expired", zap.String("room_id", room.ID))
}

func (s *MatchService) seat(ctx context.Context, roomID, userID string) (JoinResult, error) {
	var (
		res   JoinResult
		count int
	)
	err := s.rooms.Transaction(ctx, func(tx db.Transaction) error {
		room, err := s.rooms.LockRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		ps, err := s.rooms.ListParticipants(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if _, ok := findParticipant(ps, userID); ok {
			return appErr.New(appErr.AlreadyJoined)
		}
		if len(ps) >= room.MaxParticipants() {
			return appErr.New(appErr.RoomFull)
		}
		if room.Status != model.RoomWaiting {
			return appErr.New(appErr.MatchAlreadyStarted)
		}

		p := model.Participant{
			RoomID:    roomID,
			UserID:    userID,
			Status:    model.StatusJoined,
			Synthetic: s.IsBot(userID),
			JoinedAt:  s.now(),
		}
		if room.Format.Teams() {
			p.Team = assignTeam(ps)
		}
		if err := s.rooms.AddParticipant(ctx, tx, p); err != nil {
			return err
		}
		res = JoinResult{Room: room, Participant: p}
		count = len(ps) + 1
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}

	logger.Info(ctx, "participant joined",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.Int("team", res.Participant.Team),
	)
	s.emit(ctx, notify.EventRoomJoined, roomID, userID, map[string]interface{}{
		"participant":       res.Participant,
		"participant_count": count,
		"max_participants":  res.Room.MaxParticipants(),
	})
	return res, nil
}

// assignTeam places a newcomer on the team with strictly fewer members; ties go to team 1.
func assignTeam(ps []model.Participant) int {
	counts := map[int]int{}
	for _, p := range ps {
		counts[p.Team]++
	}
	if counts[2] < counts[1] {
		return 2
	}
	return 1
}

// LeaveRoom removes userID from a waiting room, deleting it once empty.
// Leaving an in-progress match forfeits the seat.
func (s *MatchService) LeaveRoom(ctx context.Context, roomID, userID string) error {
	var (
		room      model.Room
		deleted   bool
		forfeited bool
		completed bool
		unchanged bool
	)
	err := s.rooms.Transaction(ctx, func(tx db.Transaction) error {
		var err error
		room, err = s.rooms.LockRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		ps, err := s.rooms.ListParticipants(ctx, tx, roomID)
		if err != nil {
			return err
		}
		p, ok := findParticipant(ps, userID)
		if !ok {
			return appErr.New(appErr.NotParticipant)
		}

		switch room.Status {
		case model.RoomWaiting:
			if _, err := s.rooms.RemoveParticipant(ctx, tx, roomID, userID); err != nil {
				return err
			}
			remaining := removeParticipant(ps, userID)
			if len(remaining) == 0 {
				deleted = true
				return s.rooms.DeleteRoom(ctx, tx, roomID)
			}
			if room.HostID == userID {
				return s.rooms.SetHost(ctx, tx, roomID, remaining[0].UserID)
			}
			return nil
		case model.RoomInProgress:
			if p.Status.Finished() {
				unchanged = true
				return nil
			}
			if _, err := s.rooms.UpdateParticipantStatus(ctx, tx, roomID, userID, model.StatusForfeited); err != nil {
				return err
			}
			if err := s.rooms.UpdateScore(ctx, tx, model.Score{
				RoomID:    roomID,
				UserID:    userID,
				Team:      p.Team,
				Forfeited: true,
				Synthetic: p.Synthetic,
			}); err != nil {
				return err
			}
			forfeited = true
			for i := range ps {
				if ps[i].UserID == userID {
					ps[i].Status = model.StatusForfeited
				}
			}
			if allFinished(ps) {
				completed, err = s.rooms.CompleteRoom(ctx, tx, roomID, s.now())
				return err
			}
			return nil
		default:
			unchanged = true
			return nil
		}
	})
	if err != nil {
		return err
	}
	// Leaving a finished match or seat changes nothing others need to see.
	if unchanged {
		return nil
	}

	if deleted {
		s.timers.cancel(roomID)
		if err := s.codes.Release(ctx, room.Code, roomID); err != nil {
			logger.Warn(ctx, "release room code failed", zap.String("room_id", roomID), zap.Error(err))
		}
		logger.Info(ctx, "empty room deleted", zap.String("room_id", roomID))
	}
	logger.Info(ctx, "participant left",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.Bool("forfeited", forfeited),
	)
	s.emit(ctx, notify.EventParticipantLeft, roomID, userID, map[string]interface{}{
		"forfeited":    forfeited,
		"room_deleted": deleted,
	})
	if completed {
		s.finalize(ctx, roomID)
	}
	return nil
}

func removeParticipant(ps []model.Participant, userID string) []model.Participant {
	out := make([]model.Participant, 0, len(ps))
	for _, p := range ps {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	return out
}

// StartMatch moves a full waiting room into play. Only the host may start.
// problemOverride replaces the room's problem when positive.
func (s *MatchService) StartMatch(ctx context.Context, roomID, hostID string, problemOverride int64) (model.Room, error) {
	var (
		room    model.Room
		ps      []model.Participant
		expired bool
	)
	err := s.rooms.Transaction(ctx, func(tx db.Transaction) error {
		var err error
		room, err = s.rooms.LockRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if room.HostID != hostID {
			return appErr.New(appErr.NotRoomHost)
		}
		if room.Status != model.RoomWaiting {
			return appErr.New(appErr.MatchAlreadyStarted)
		}
		if room.PastExpiry(s.now()) {
			expired = true
			return appErr.New(appErr.RoomExpired)
		}
		ps, err = s.rooms.ListParticipants(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if len(ps) != room.MaxParticipants() {
			return appErr.New(appErr.NotEnoughParticipants).
				WithMessagef("Need %d participants to start", room.MaxParticipants())
		}

		problemID, err := s.resolveProblem(ctx, room, problemOverride)
		if err != nil {
			return err
		}
		startedAt := s.now()
		ok, err := s.rooms.StartRoom(ctx, tx, roomID, problemID, startedAt)
		if err != nil {
			return err
		}
		if !ok {
			return appErr.New(appErr.MatchAlreadyStarted)
		}
		if err := s.rooms.InitScores(ctx, tx, roomID, ps); err != nil {
			return err
		}
		for i := range ps {
			if _, err := s.rooms.UpdateParticipantStatus(ctx, tx, roomID, ps[i].UserID, model.StatusCoding); err != nil {
				return err
			}
			ps[i].Status = model.StatusCoding
		}
		room.Status = model.RoomInProgress
		room.ProblemID = problemID
		room.StartedAt = &startedAt
		return nil
	})
	if expired {
		s.expire(ctx, room)
	}
	if err != nil {
		return model.Room{}, err
	}

	logger.Info(ctx, "match started",
		zap.String("room_id", roomID),
		zap.Int64("problem_id", room.ProblemID),
		zap.Int("participants", len(ps)),
	)
	s.emit(ctx, notify.EventMatchStarted, roomID, hostID, map[string]interface{}{
		"room":         room,
		"participants": ps,
	})
	for _, p := range ps {
		if p.Synthetic {
			s.scheduleBot(room, p.UserID)
		}
	}
	return room, nil
}

// resolveProblem picks override, then the room's problem, then one by difficulty, then any.
func (s *MatchService) resolveProblem(ctx context.Context, room model.Room, override int64) (int64, error) {
	if override > 0 {
		if _, err := s.problems.Get(ctx, override); err != nil {
			return 0, err
		}
		return override, nil
	}
	if room.ProblemID > 0 {
		return room.ProblemID, nil
	}
	id, err := s.pickProblem(ctx, room.Difficulty)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, appErr.New(appErr.ProblemNotFound).WithMessage("No problem available for this match")
	}
	return id, nil
}

// QuickMatch joins the oldest open room of format or opens a new one.
func (s *MatchService) QuickMatch(ctx context.Context, userID string, format model.Format) (JoinResult, error) {
	if format == "" {
		format = model.Format1v1
	}
	for attempt := 0; attempt < 3; attempt++ {
		room, ok, err := s.rooms.FindOpenRoom(ctx, format, userID, s.now())
		if err != nil {
			return JoinResult{}, err
		}
		if !ok {
			break
		}
		res, err := s.seat(ctx, room.ID, userID)
		if err == nil {
			return res, nil
		}
		// lost the seat to a concurrent join
		if appErr.Is(err, appErr.RoomFull) || appErr.Is(err, appErr.MatchAlreadyStarted) || appErr.Is(err, appErr.RoomNotFound) {
			continue
		}
		return JoinResult{}, err
	}

	room, err := s.CreateRoom(ctx, userID, format, 0, model.CreateOptions{})
	if err != nil {
		return JoinResult{}, err
	}
	host := model.Participant{RoomID: room.ID, UserID: userID, Status: model.StatusReady, JoinedAt: room.CreatedAt}
	if format.Teams() {
		host.Team = 1
	}
	return JoinResult{Room: room, Participant: host, Created: true}, nil
}

// CreateInstantMatch opens a 1v1 room for two known players and starts it at once.
// A registered bot opponent is scheduled to play.
func (s *MatchService) CreateInstantMatch(ctx context.Context, playerID, opponentID, difficulty string) (model.Room, error) {
	if opponentID == "" || opponentID == playerID {
		return model.Room{}, appErr.ValidationError("opponent_id", "must name another player")
	}
	room, err := s.CreateRoom(ctx, playerID, model.Format1v1, 0, model.CreateOptions{Difficulty: difficulty})
	if err != nil {
		return model.Room{}, err
	}
	if _, err := s.seat(ctx, room.ID, opponentID); err != nil {
		s.discardRoom(ctx, room)
		return model.Room{}, err
	}
	started, err := s.StartMatch(ctx, room.ID, playerID, 0)
	if err != nil {
		s.discardRoom(ctx, room)
		return model.Room{}, err
	}
	return started, nil
}

// discardRoom removes a room that never started and frees its code.
func (s *MatchService) discardRoom(ctx context.Context, room model.Room) {
	err := s.rooms.Transaction(ctx, func(tx db.Transaction) error {
		locked, err := s.rooms.LockRoom(ctx, tx, room.ID)
		if err != nil {
			return err
		}
		if locked.Status != model.RoomWaiting {
			return nil
		}
		return s.rooms.DeleteRoom(ctx, tx, room.ID)
	})
	if err != nil {
		logger.Warn(ctx, "discard room failed", zap.String("room_id", room.ID), zap.Error(err))
		return
	}
	s.timers.cancel(room.ID)
	if err := s.codes.Release(ctx, room.Code, room.ID); err != nil {
		logger.Warn(ctx, "release room code failed", zap.String("room_id", room.ID), zap.Error(err))
	}
}

package service

import (
	"context"

	"go.uber.org/zap"

	"codearena/internal/common/db"
	"codearena/internal/match/model"
	"codearena/internal/notify"
	problemRepo "codearena/internal/problem/repository"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

// RoomState is the room as clients render it.
type RoomState struct {
	Room             model.Room              `json:"room"`
	Problem          *problemRepo.Problem    `json:"problem,omitempty"`
	Participants     []model.ParticipantView `json:"participants"`
	ParticipantCount int                     `json:"participant_count"`
	IsFull           bool                    `json:"is_full"`
}

// GetRoomState returns the room with its participants and their scores.
// Submitted code is never included.
func (s *MatchService) GetRoomState(ctx context.Context, roomID string) (RoomState, error) {
	room, err := s.rooms.GetRoom(ctx, nil, roomID)
	if err != nil {
		return RoomState{}, err
	}
	if room.PastExpiry(s.now()) {
		s.expire(ctx, room)
		room.Status = model.RoomExpired
	}
	ps, err := s.rooms.ListParticipants(ctx, nil, roomID)
	if err != nil {
		return RoomState{}, err
	}
	scores, err := s.rooms.ListScores(ctx, nil, roomID)
	if err != nil {
		return RoomState{}, err
	}
	byUser := make(map[string]model.Score, len(scores))
	for _, sc := range scores {
		byUser[sc.UserID] = sc
	}

	state := RoomState{
		Room:             room,
		Participants:     make([]model.ParticipantView, 0, len(ps)),
		ParticipantCount: len(ps),
		IsFull:           len(ps) >= room.MaxParticipants(),
	}
	for _, p := range ps {
		p.Code = ""
		view := model.ParticipantView{Participant: p}
		if sc, ok := byUser[p.UserID]; ok {
			sc := sc
			view.Score = &sc
		}
		state.Participants = append(state.Participants, view)
	}
	if room.ProblemID > 0 {
		problem, err := s.problems.Get(ctx, room.ProblemID)
		if err != nil {
			logger.Warn(ctx, "load room problem failed", zap.String("room_id", roomID), zap.Error(err))
		} else {
			state.Problem = &problem
		}
	}
	return state, nil
}

// UpdateParticipantStatus lets a participant toggle joined/ready/coding.
func (s *MatchService) UpdateParticipantStatus(ctx context.Context, roomID, userID string, status model.ParticipantStatus) error {
	if !status.ClientSettable() {
		return appErr.New(appErr.InvalidTransition).WithMessagef("status %q cannot be set by clients", status)
	}
	err := s.rooms.Transaction(ctx, func(tx db.Transaction) error {
		room, err := s.rooms.LockRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if room.Status != model.RoomWaiting && room.Status != model.RoomInProgress {
			return appErr.New(appErr.MatchAlreadyStarted)
		}
		ps, err := s.rooms.ListParticipants(ctx, tx, roomID)
		if err != nil {
			return err
		}
		p, ok := findParticipant(ps, userID)
		if !ok {
			return appErr.New(appErr.NotParticipant)
		}
		if p.Status.Finished() {
			return appErr.New(appErr.InvalidTransition).WithMessage("Participant has already finished")
		}
		_, err = s.rooms.UpdateParticipantStatus(ctx, tx, roomID, userID, status)
		return err
	})
	if err != nil {
		return err
	}
	s.emit(ctx, notify.EventParticipantStatus, roomID, userID, map[string]interface{}{"status": status})
	return nil
}

// GetLeaderboard ranks the room's scoreboard.
func (s *MatchService) GetLeaderboard(ctx context.Context, roomID string) ([]model.LeaderboardEntry, error) {
	if _, err := s.rooms.GetRoom(ctx, nil, roomID); err != nil {
		return nil, err
	}
	scores, err := s.rooms.ListScores(ctx, nil, roomID)
	if err != nil {
		return nil, err
	}
	ps, err := s.rooms.ListParticipants(ctx, nil, roomID)
	if err != nil {
		return nil, err
	}
	status := make(map[string]model.ParticipantStatus, len(ps))
	for _, p := range ps {
		status[p.UserID] = p.Status
	}

	ranked := model.Rank(scores)
	out := make([]model.LeaderboardEntry, 0, len(ranked))
	for _, sc := range ranked {
		out = append(out, model.LeaderboardEntry{Score: sc, Status: status[sc.UserID]})
	}
	return out, nil
}

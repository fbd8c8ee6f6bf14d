package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"codearena/internal/common/db"
	"codearena/internal/judge/evaluator"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/match/model"
	"codearena/internal/notify"
	problemRepo "codearena/internal/problem/repository"
	"codearena/internal/rating"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

// SubmitCode grades a participant's final code against the room problem's hidden tests.
// The suite result is returned even when it completes the match.
func (s *MatchService) SubmitCode(ctx context.Context, roomID, userID, code, language string) (evaluator.SuiteResult, error) {
	lang, err := s.validateCode(code, language)
	if err != nil {
		return evaluator.SuiteResult{}, err
	}
	room, err := s.rooms.GetRoom(ctx, nil, roomID)
	if err != nil {
		return evaluator.SuiteResult{}, err
	}
	if room.Status != model.RoomInProgress {
		return evaluator.SuiteResult{}, appErr.New(appErr.MatchNotInProgress)
	}
	ps, err := s.rooms.ListParticipants(ctx, nil, roomID)
	if err != nil {
		return evaluator.SuiteResult{}, err
	}
	p, ok := findParticipant(ps, userID)
	if !ok {
		return evaluator.SuiteResult{}, appErr.New(appErr.NotParticipant)
	}
	if p.Status.Finished() {
		return evaluator.SuiteResult{}, appErr.New(appErr.AlreadySubmitted)
	}

	unlock, err := s.codes.LockSubmission(ctx, roomID, userID, s.settings.SubmitLockTTL)
	if err != nil {
		return evaluator.SuiteResult{}, err
	}
	defer unlock()

	tests, err := s.suiteFor(ctx, room)
	if err != nil {
		return evaluator.SuiteResult{}, err
	}
	suite, err := s.evaluator.Run(ctx, code, lang, tests)
	if err != nil {
		return evaluator.SuiteResult{}, err
	}

	if s.archive != nil {
		if key, err := s.archive.Put(ctx, roomID, userID, string(lang), code); err != nil {
			logger.Warn(ctx, "archive submission failed", zap.String("room_id", roomID), zap.String("user_id", userID), zap.Error(err))
		} else {
			logger.Debug(ctx, "submission archived", zap.String("key", key))
		}
	}

	p.Code = code
	p.Language = string(lang)
	completed, err := s.recordSubmission(ctx, p, suite)
	if err != nil {
		return evaluator.SuiteResult{}, err
	}
	if completed {
		s.finalize(ctx, roomID)
	}
	return suite, nil
}

// RunCode grades code like SubmitCode without persisting anything.
func (s *MatchService) RunCode(ctx context.Context, roomID, userID, code, language string) (evaluator.SuiteResult, error) {
	lang, err := s.validateCode(code, language)
	if err != nil {
		return evaluator.SuiteResult{}, err
	}
	room, err := s.rooms.GetRoom(ctx, nil, roomID)
	if err != nil {
		return evaluator.SuiteResult{}, err
	}
	ps, err := s.rooms.ListParticipants(ctx, nil, roomID)
	if err != nil {
		return evaluator.SuiteResult{}, err
	}
	if _, ok := findParticipant(ps, userID); !ok {
		return evaluator.SuiteResult{}, appErr.New(appErr.NotParticipant)
	}
	tests, err := s.suiteFor(ctx, room)
	if err != nil {
		return evaluator.SuiteResult{}, err
	}
	return s.evaluator.Run(ctx, code, lang, tests)
}

func (s *MatchService) validateCode(code, language string) (profile.Language, error) {
	if strings.TrimSpace(code) == "" {
		return "", appErr.ValidationError("code", "required")
	}
	if len(code) > s.settings.MaxCodeBytes {
		return "", appErr.New(appErr.CodeTooLarge)
	}
	return profile.Parse(language)
}

// suiteFor loads the hidden tests of the room's problem, falling back to its examples.
func (s *MatchService) suiteFor(ctx context.Context, room model.Room) ([]evaluator.TestCase, error) {
	if room.ProblemID <= 0 {
		return nil, appErr.New(appErr.ProblemNotFound).WithMessage("Room has no problem bound")
	}
	problem, err := s.problems.Get(ctx, room.ProblemID)
	if err != nil {
		return nil, err
	}
	return testsOf(problem), nil
}

func testsOf(p problemRepo.Problem) []evaluator.TestCase {
	if len(p.HiddenTests) > 0 {
		return p.HiddenTests
	}
	return p.Examples
}

// recordSubmission persists the participant's result and score, then re-checks completion
// under the room lock. It reports whether this call completed the match.
func (s *MatchService) recordSubmission(ctx context.Context, p model.Participant, suite evaluator.SuiteResult) (bool, error) {
	submittedAt := s.now()
	p.Status = model.StatusSubmitted
	p.Result = &suite
	p.SubmittedAt = &submittedAt
	score := model.Score{
		RoomID:      p.RoomID,
		UserID:      p.UserID,
		Team:        p.Team,
		TestsPassed: suite.TestsPassed,
		TestsTotal:  suite.TestsTotal,
		ExecTimeMs:  suite.TotalTimeMs,
		Score:       model.Percent(suite.TestsPassed, suite.TestsTotal),
		Synthetic:   p.Synthetic,
	}

	var completed bool
	err := s.rooms.Transaction(ctx, func(tx db.Transaction) error {
		room, err := s.rooms.LockRoom(ctx, tx, p.RoomID)
		if err != nil {
			return err
		}
		if room.Status != model.RoomInProgress {
			return appErr.New(appErr.MatchNotInProgress)
		}
		ps, err := s.rooms.ListParticipants(ctx, tx, p.RoomID)
		if err != nil {
			return err
		}
		current, ok := findParticipant(ps, p.UserID)
		if !ok {
			return appErr.New(appErr.NotParticipant)
		}
		if current.Status.Finished() {
			return appErr.New(appErr.AlreadySubmitted)
		}
		if err := s.rooms.RecordSubmission(ctx, tx, p); err != nil {
			return err
		}
		if err := s.rooms.UpdateScore(ctx, tx, score); err != nil {
			return err
		}
		for i := range ps {
			if ps[i].UserID == p.UserID {
				ps[i].Status = model.StatusSubmitted
			}
		}
		if !allFinished(ps) {
			return nil
		}
		completed, err = s.rooms.CompleteRoom(ctx, tx, p.RoomID, s.now())
		return err
	})
	if err != nil {
		return false, err
	}

	logger.Info(ctx, "submission recorded",
		zap.String("room_id", p.RoomID),
		zap.String("user_id", p.UserID),
		zap.String("verdict", string(suite.Verdict)),
		zap.Int("tests_passed", suite.TestsPassed),
		zap.Int("tests_total", suite.TestsTotal),
		zap.Bool("synthetic", p.Synthetic),
	)
	s.emit(ctx, notify.EventSubmissionReceived, p.RoomID, p.UserID, map[string]interface{}{
		"verdict":      suite.Verdict,
		"tests_passed": suite.TestsPassed,
		"tests_total":  suite.TestsTotal,
		"time_ms":      suite.TotalTimeMs,
		"synthetic":    p.Synthetic,
	})
	return completed, nil
}

// finalize runs once per match, after the completing transaction committed:
// ranks, winner, ratings and the completion event.
func (s *MatchService) finalize(ctx context.Context, roomID string) {
	ctx = context.WithoutCancel(ctx)
	s.timers.cancel(roomID)

	room, err := s.rooms.GetRoom(ctx, nil, roomID)
	if err != nil {
		logger.Error(ctx, "load completed room failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	scores, err := s.rooms.ListScores(ctx, nil, roomID)
	if err != nil {
		logger.Error(ctx, "load scores failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	ranked := model.Rank(scores)
	if err := s.rooms.SetRanks(ctx, nil, ranked); err != nil {
		logger.Warn(ctx, "persist ranks failed", zap.String("room_id", roomID), zap.Error(err))
	}

	payload := map[string]interface{}{"leaderboard": ranked}
	outcome, ok := model.DecideOutcome(room.Format, scores)
	if !ok {
		logger.Warn(ctx, "match completed without a full scoreboard", zap.String("room_id", roomID), zap.Int("scores", len(scores)))
		s.emit(ctx, notify.EventMatchCompleted, roomID, "", payload)
		return
	}
	payload["outcome"] = outcome

	winnerID := ""
	if !outcome.IsDraw && !room.Format.Teams() {
		winnerID = outcome.WinnerIDs[0]
	}
	if err := s.rooms.SetWinner(ctx, roomID, winnerID, outcome.WinningTeam); err != nil {
		logger.Error(ctx, "record winner failed", zap.String("room_id", roomID), zap.Error(err))
	}

	if changes := s.applyRatings(ctx, room, outcome); changes != nil {
		payload["ratings"] = changes
	}
	logger.Info(ctx, "match completed",
		zap.String("room_id", roomID),
		zap.Bool("draw", outcome.IsDraw),
		zap.Strings("winners", outcome.WinnerIDs),
	)
	s.emit(ctx, notify.EventMatchCompleted, roomID, winnerID, payload)
}

// applyRatings hands the decided outcome to the rating engine. Failures never undo completion;
// infrastructure failures are queued for retry.
func (s *MatchService) applyRatings(ctx context.Context, room model.Room, o model.Outcome) map[string]rating.Change {
	var (
		changes map[string]rating.Change
		err     error
	)
	team := room.Format.Teams()
	if team {
		changes, err = s.ratings.ApplyTeamResult(ctx, room.ID, o.WinnerIDs, o.LoserIDs, o.IsDraw)
	} else {
		changes, err = s.ratings.ApplyResult(ctx, room.ID, o.WinnerIDs[0], o.LoserIDs[0], o.IsDraw)
	}
	if err == nil {
		return changes
	}
	if appErr.Is(err, appErr.RatingApplied) {
		logger.Info(ctx, "ratings already applied", zap.String("room_id", room.ID))
		return nil
	}
	logger.Error(ctx, "rating update failed", zap.String("room_id", room.ID), zap.Error(err))
	if s.retry == nil || appErr.Kind(err) != appErr.CategoryInfrastructure {
		return nil
	}
	task := rating.RetryTask{MatchID: room.ID, Winners: o.WinnerIDs, Losers: o.LoserIDs, IsDraw: o.IsDraw, Team: team}
	if err := s.retry.Enqueue(ctx, task); err != nil {
		logger.Error(ctx, "enqueue rating retry failed", zap.String("room_id", room.ID), zap.Error(err))
	}
	return nil
}

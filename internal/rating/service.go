package rating

import (
	"context"

	"go.uber.org/zap"

	"codearena/internal/common/db"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

// Change is one player's rating movement.
type Change struct {
	UserID    string  `json:"user_id"`
	OldRating int     `json:"old_rating"`
	NewRating int     `json:"new_rating"`
	Delta     int     `json:"delta"`
	Tier      Tier    `json:"tier"`
	Outcome   Outcome `json:"outcome"`
}

const (
	opponentWindow = 300
	opponentLimit  = 15
)

// Service applies match outcomes to player ratings.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ApplyResult updates a 1v1 pair. With isDraw set, winner and loser are just the two players.
func (s *Service) ApplyResult(ctx context.Context, matchID, winnerID, loserID string, isDraw bool) (map[string]Change, error) {
	if winnerID == "" || loserID == "" || winnerID == loserID {
		return nil, appErr.ValidationError("players", "two distinct players are required")
	}
	winOutcome, lossOutcome := OutcomeWin, OutcomeLoss
	if isDraw {
		winOutcome, lossOutcome = OutcomeDraw, OutcomeDraw
	}

	changes := make(map[string]Change, 2)
	err := s.apply(ctx, matchID, []string{winnerID, loserID}, func(tx db.Transaction, ratings map[string]int) error {
		wr, lr := ratings[winnerID], ratings[loserID]
		sides := []struct {
			user, opponent string
			own, opp       int
			outcome        Outcome
		}{
			{winnerID, loserID, wr, lr, winOutcome},
			{loserID, winnerID, lr, wr, lossOutcome},
		}
		for _, side := range sides {
			c := newChange(side.user, side.own, Delta(float64(side.own), float64(side.opp), side.outcome), side.outcome)
			if err := s.persist(ctx, tx, matchID, side.opponent, c); err != nil {
				return err
			}
			changes[side.user] = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "ratings applied",
		zap.String("match_id", matchID),
		zap.String("winner", winnerID),
		zap.Int("winner_delta", changes[winnerID].Delta),
		zap.Bool("draw", isDraw),
	)
	return changes, nil
}

// ApplyTeamResult rates every member against the opposing team's average rating.
func (s *Service) ApplyTeamResult(ctx context.Context, matchID string, winners, losers []string, isDraw bool) (map[string]Change, error) {
	if len(winners) == 0 || len(losers) == 0 {
		return nil, appErr.ValidationError("teams", "both teams need members")
	}
	winOutcome, lossOutcome := OutcomeWin, OutcomeLoss
	if isDraw {
		winOutcome, lossOutcome = OutcomeDraw, OutcomeDraw
	}
	all := append(append([]string{}, winners...), losers...)

	changes := make(map[string]Change, len(all))
	err := s.apply(ctx, matchID, all, func(tx db.Transaction, ratings map[string]int) error {
		winAvg, loseAvg := teamAverage(ratings, winners), teamAverage(ratings, losers)
		teams := []struct {
			members  []string
			own, opp float64
			outcome  Outcome
		}{
			{winners, winAvg, loseAvg, winOutcome},
			{losers, loseAvg, winAvg, lossOutcome},
		}
		for _, team := range teams {
			delta := Delta(team.own, team.opp, team.outcome)
			for _, id := range team.members {
				c := newChange(id, ratings[id], delta, team.outcome)
				if err := s.persist(ctx, tx, matchID, "", c); err != nil {
					return err
				}
				changes[id] = c
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "team ratings applied", zap.String("match_id", matchID), zap.Bool("draw", isDraw))
	return changes, nil
}

// History returns a user's most recent rating changes.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]MatchResult, error) {
	return s.repo.History(ctx, userID, limit)
}

// Opponents suggests players within opponentWindow rating points of userID.
// Players without a profile are searched at DefaultRating.
func (s *Service) Opponents(ctx context.Context, userID string) ([]Opponent, error) {
	if userID == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	own, ok, err := s.repo.Rating(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		own = DefaultRating
	}
	return s.repo.Opponents(ctx, userID, own, own-opponentWindow, own+opponentWindow, opponentLimit)
}

// apply runs fn inside one transaction holding row locks on every player.
// Any error rolls back all profile updates and history rows.
func (s *Service) apply(ctx context.Context, matchID string, ids []string, fn func(tx db.Transaction, ratings map[string]int) error) error {
	err := s.repo.Transaction(ctx, func(tx db.Transaction) error {
		ratings, err := s.repo.LockRatings(ctx, tx, ids)
		if err != nil {
			return err
		}
		recorded, err := s.repo.ResultsRecorded(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if recorded {
			return appErr.New(appErr.RatingApplied).WithDetail("match_id", matchID)
		}
		return fn(tx, ratings)
	})
	if err == nil {
		return nil
	}
	if appErr.Kind(err) != appErr.CategoryInfrastructure {
		return err
	}
	if db.IsLockConflict(err) {
		logger.Warn(ctx, "rating rows contended", zap.String("match_id", matchID), zap.Error(err))
		return appErr.Wrapf(err, appErr.LockFailed, "lock ratings for match %s", matchID)
	}
	logger.Error(ctx, "rating transaction rolled back", zap.String("match_id", matchID), zap.Error(err))
	return appErr.Wrapf(err, appErr.RatingUpdateFailed, "apply ratings for match %s", matchID)
}

func (s *Service) persist(ctx context.Context, tx db.Transaction, matchID, opponentID string, c Change) error {
	if err := s.repo.InsertResult(ctx, tx, MatchResult{
		MatchID:    matchID,
		UserID:     c.UserID,
		OpponentID: opponentID,
		OldRating:  c.OldRating,
		NewRating:  c.NewRating,
		Delta:      c.Delta,
		Outcome:    c.Outcome,
	}); err != nil {
		return err
	}
	return s.repo.UpdateProfile(ctx, tx, c.UserID, c.NewRating, c.Tier, c.Outcome == OutcomeWin)
}

func newChange(userID string, old, delta int, outcome Outcome) Change {
	return Change{
		UserID:    userID,
		OldRating: old,
		NewRating: old + delta,
		Delta:     delta,
		Tier:      TierFor(old + delta),
		Outcome:   outcome,
	}
}

func teamAverage(ratings map[string]int, ids []string) float64 {
	values := make([]int, 0, len(ids))
	for _, id := range ids {
		values = append(values, ratings[id])
	}
	return average(values)
}

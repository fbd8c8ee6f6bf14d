package rating

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"codearena/internal/common/db"
	appErr "codearena/pkg/errors"
)

// MatchResult is one append-only rating history row.
type MatchResult struct {
	ID         string    `json:"id"`
	MatchID    string    `json:"match_id"`
	UserID     string    `json:"user_id"`
	OpponentID string    `json:"opponent_id,omitempty"`
	OldRating  int       `json:"old_rating"`
	NewRating  int       `json:"new_rating"`
	Delta      int       `json:"delta"`
	Outcome    Outcome   `json:"outcome"`
	CreatedAt  time.Time `json:"created_at"`
}

// Opponent is a matchmaking candidate.
type Opponent struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Rating       int    `json:"elo"`
	Tier         Tier   `json:"tier"`
	Wins         int    `json:"wins"`
	TotalMatches int    `json:"total_matches"`
}

// Repository persists profiles and rating history.
// Methods taking a transaction must run inside Transaction.
type Repository interface {
	Transaction(ctx context.Context, fn func(tx db.Transaction) error) error
	// LockRatings locks the profile rows of ids and returns their ratings.
	LockRatings(ctx context.Context, tx db.Transaction, ids []string) (map[string]int, error)
	ResultsRecorded(ctx context.Context, tx db.Transaction, matchID string) (bool, error)
	UpdateProfile(ctx context.Context, tx db.Transaction, userID string, rating int, tier Tier, won bool) error
	InsertResult(ctx context.Context, tx db.Transaction, r MatchResult) error
	History(ctx context.Context, userID string, limit int) ([]MatchResult, error)
	// Rating returns the stored rating of userID, ok=false when the profile is absent.
	Rating(ctx context.Context, userID string) (int, bool, error)
	// Opponents lists other players rated within [low, high], closest to target first.
	Opponents(ctx context.Context, userID string, target, low, high, limit int) ([]Opponent, error)
}

type MySQLRepository struct {
	db db.Database
}

func NewRepository(database db.Database) *MySQLRepository {
	return &MySQLRepository{db: database}
}

func (r *MySQLRepository) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return r.db.Transaction(ctx, fn)
}

// LockRatings takes row locks in id order so concurrent matches sharing a player
// queue on the same first row instead of deadlocking.
func (r *MySQLRepository) LockRatings(ctx context.Context, tx db.Transaction, ids []string) (map[string]int, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	if err := r.ensureProfiles(ctx, tx, sorted); err != nil {
		return nil, err
	}

	query := "SELECT id, elo FROM user_profiles WHERE id IN (" + db.Placeholders(len(sorted)) + ") ORDER BY id FOR UPDATE"
	args := make([]interface{}, len(sorted))
	for i, id := range sorted {
		args[i] = id
	}
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int, len(ids))
	for rows.Next() {
		var (
			id  string
			elo sql.NullInt64
		)
		if err := rows.Scan(&id, &elo); err != nil {
			return nil, err
		}
		out[id] = DefaultRating
		if elo.Valid {
			out[id] = int(elo.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = DefaultRating
		}
	}
	return out, nil
}

// ensureProfiles creates default-rated rows for players seen for the first time,
// so their update below has a row to lock and write.
func (r *MySQLRepository) ensureProfiles(ctx context.Context, tx db.Transaction, ids []string) error {
	values := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)*4)
	tier := string(TierFor(DefaultRating))
	for i, id := range ids {
		values[i] = "(?, ?, ?, ?)"
		args = append(args, id, id, DefaultRating, tier)
	}
	_, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"INSERT IGNORE INTO user_profiles (id, username, elo, tier) VALUES "+strings.Join(values, ", "),
		args...,
	)
	return err
}

func (r *MySQLRepository) ResultsRecorded(ctx context.Context, tx db.Transaction, matchID string) (bool, error) {
	var n int
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, "SELECT COUNT(*) FROM match_results WHERE match_id = ?", matchID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *MySQLRepository) UpdateProfile(ctx context.Context, tx db.Transaction, userID string, rating int, tier Tier, won bool) error {
	win := 0
	if won {
		win = 1
	}
	res, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE user_profiles SET elo = ?, tier = ?, wins = wins + ?, total_matches = total_matches + 1 WHERE id = ?",
		rating, string(tier), win, userID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.New(appErr.ProfileNotFound).WithDetail("user_id", userID)
	}
	return nil
}

func (r *MySQLRepository) InsertResult(ctx context.Context, tx db.Transaction, m MatchResult) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	opponent := sql.NullString{String: m.OpponentID, Valid: m.OpponentID != ""}
	_, err := db.GetQuerier(r.db, tx).Exec(ctx,
		`INSERT INTO match_results (id, match_id, user_id, opponent_id, old_elo, new_elo, elo_change, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.MatchID, m.UserID, opponent, m.OldRating, m.NewRating, m.Delta, string(m.Outcome),
	)
	return err
}

func (r *MySQLRepository) History(ctx context.Context, userID string, limit int) ([]MatchResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, match_id, user_id, opponent_id, old_elo, new_elo, elo_change, result, created_at
		 FROM match_results WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query rating history")
	}
	defer rows.Close()

	var out []MatchResult
	for rows.Next() {
		var (
			m        MatchResult
			opponent sql.NullString
			outcome  string
		)
		if err := rows.Scan(&m.ID, &m.MatchID, &m.UserID, &opponent, &m.OldRating, &m.NewRating, &m.Delta, &outcome, &m.CreatedAt); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan rating history")
		}
		m.OpponentID = opponent.String
		m.Outcome = Outcome(outcome)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate rating history")
	}
	return out, nil
}

func (r *MySQLRepository) Rating(ctx context.Context, userID string) (int, bool, error) {
	var elo sql.NullInt64
	err := r.db.QueryRow(ctx, "SELECT elo FROM user_profiles WHERE id = ?", userID).Scan(&elo)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, appErr.Wrapf(err, appErr.DatabaseError, "query rating")
	}
	if !elo.Valid {
		return DefaultRating, true, nil
	}
	return int(elo.Int64), true, nil
}

// Opponents orders by rating distance, then by win rate.
func (r *MySQLRepository) Opponents(ctx context.Context, userID string, target, low, high, limit int) ([]Opponent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, username, elo, tier, wins, total_matches
		 FROM user_profiles
		 WHERE id <> ? AND elo BETWEEN ? AND ?
		 ORDER BY ABS(elo - ?) ASC, wins / GREATEST(total_matches, 1) DESC
		 LIMIT ?`,
		userID, low, high, target, limit,
	)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query opponents")
	}
	defer rows.Close()

	out := make([]Opponent, 0, limit)
	for rows.Next() {
		var (
			o    Opponent
			tier string
		)
		if err := rows.Scan(&o.ID, &o.Username, &o.Rating, &tier, &o.Wins, &o.TotalMatches); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan opponent")
		}
		o.Tier = Tier(tier)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate opponents")
	}
	return out, nil
}

var _ Repository = (*MySQLRepository)(nil)

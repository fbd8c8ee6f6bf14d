// Package repository persists match rooms, seats and scoreboards.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"codearena/internal/common/db"
	"codearena/internal/judge/evaluator"
	"codearena/internal/match/model"
	appErr "codearena/pkg/errors"
)

// RoomRepository stores rooms and their participants.
// Methods taking a transaction run on it when non-nil.
type RoomRepository interface {
	Transaction(ctx context.Context, fn func(tx db.Transaction) error) error

	CreateRoom(ctx context.Context, tx db.Transaction, room model.Room) error
	GetRoom(ctx context.Context, tx db.Transaction, roomID string) (model.Room, error)
	// LockRoom reads the room row FOR UPDATE.
	LockRoom(ctx context.Context, tx db.Transaction, roomID string) (model.Room, error)
	// FindByCode returns the newest non-expired room holding code.
	FindByCode(ctx context.Context, code string) (model.Room, error)
	CodeInUse(ctx context.Context, code string, now time.Time) (bool, error)
	// FindOpenRoom returns the oldest waiting room with a free seat that userID is not in.
	FindOpenRoom(ctx context.Context, format model.Format, userID string, now time.Time) (model.Room, bool, error)
	MarkExpired(ctx context.Context, roomID string) error
	DeleteRoom(ctx context.Context, tx db.Transaction, roomID string) error
	// StartRoom moves a waiting room to in_progress; false when it was not waiting.
	StartRoom(ctx context.Context, tx db.Transaction, roomID string, problemID int64, at time.Time) (bool, error)
	// CompleteRoom moves an in_progress room to completed; false when it already left in_progress.
	CompleteRoom(ctx context.Context, tx db.Transaction, roomID string, at time.Time) (bool, error)
	SetWinner(ctx context.Context, roomID, winnerID string, team int) error
	SetHost(ctx context.Context, tx db.Transaction, roomID, userID string) error

	AddParticipant(ctx context.Context, tx db.Transaction, p model.Participant) error
	RemoveParticipant(ctx context.Context, tx db.Transaction, roomID, userID string) (bool, error)
	ListParticipants(ctx context.Context, tx db.Transaction, roomID string) ([]model.Participant, error)
	UpdateParticipantStatus(ctx context.Context, tx db.Transaction, roomID, userID string, status model.ParticipantStatus) (bool, error)
	RecordSubmission(ctx context.Context, tx db.Transaction, p model.Participant) error

	InitScores(ctx context.Context, tx db.Transaction, roomID string, participants []model.Participant) error
	UpdateScore(ctx context.Context, tx db.Transaction, s model.Score) error
	SetRanks(ctx context.Context, tx db.Transaction, scores []model.Score) error
	ListScores(ctx context.Context, tx db.Transaction, roomID string) ([]model.Score, error)
}

const roomColumns = `id, room_code, host_id, match_type, status, problem_id, language, level, timing,
	created_at, expires_at, started_at, completed_at, winner_id, winning_team`

const participantColumns = `room_id, user_id, team_number, status, code_submitted, language,
	execution_result, synthetic, joined_at, submitted_at`

const scoreColumns = "room_id, user_id, team_number, test_cases_passed, test_cases_total, execution_time_ms, score, `rank`, forfeited, synthetic"

type MySQLRoomRepository struct {
	db db.Database
}

func NewRoomRepository(database db.Database) *MySQLRoomRepository {
	return &MySQLRoomRepository{db: database}
}

func (r *MySQLRoomRepository) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return r.db.Transaction(ctx, fn)
}

func (r *MySQLRoomRepository) CreateRoom(ctx context.Context, tx db.Transaction, room model.Room) error {
	_, err := db.GetQuerier(r.db, tx).Exec(ctx,
		`INSERT INTO match_rooms (id, room_code, host_id, match_type, status, problem_id, max_participants, language, level, timing, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		room.ID, room.Code, room.HostID, string(room.Format), string(room.Status),
		sql.NullInt64{Int64: room.ProblemID, Valid: room.ProblemID > 0}, room.MaxParticipants(),
		room.Language, room.Difficulty, room.TimeLimitMin, room.CreatedAt, room.ExpiresAt,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "insert room")
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRoom(row scanner) (model.Room, error) {
	var (
		room                   model.Room
		format, status         string
		problemID              sql.NullInt64
		startedAt, completedAt sql.NullTime
		winnerID               sql.NullString
		winningTeam            sql.NullInt64
	)
	err := row.Scan(&room.ID, &room.Code, &room.HostID, &format, &status, &problemID, &room.Language,
		&room.Difficulty, &room.TimeLimitMin, &room.CreatedAt, &room.ExpiresAt, &startedAt, &completedAt,
		&winnerID, &winningTeam)
	if err != nil {
		return model.Room{}, err
	}
	room.Format = model.Format(format)
	room.Status = model.RoomStatus(status)
	room.ProblemID = problemID.Int64
	if startedAt.Valid {
		t := startedAt.Time
		room.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		room.CompletedAt = &t
	}
	room.WinnerID = winnerID.String
	room.WinningTeam = int(winningTeam.Int64)
	return room, nil
}

func (r *MySQLRoomRepository) getRoom(ctx context.Context, tx db.Transaction, query string, args ...interface{}) (model.Room, error) {
	room, err := scanRoom(db.GetQuerier(r.db, tx).QueryRow(ctx, query, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return model.Room{}, appErr.New(appErr.RoomNotFound)
		}
		return model.Room{}, appErr.Wrapf(err, appErr.DatabaseError, "load room")
	}
	return room, nil
}

func (r *MySQLRoomRepository) GetRoom(ctx context.Context, tx db.Transaction, roomID string) (model.Room, error) {
	return r.getRoom(ctx, tx, "SELECT "+roomColumns+" FROM match_rooms WHERE id = ?", roomID)
}

func (r *MySQLRoomRepository) LockRoom(ctx context.Context, tx db.Transaction, roomID string) (model.Room, error) {
	return r.getRoom(ctx, tx, "SELECT "+roomColumns+" FROM match_rooms WHERE id = ? FOR UPDATE", roomID)
}

func (r *MySQLRoomRepository) FindByCode(ctx context.Context, code string) (model.Room, error) {
	return r.getRoom(ctx, nil,
		"SELECT "+roomColumns+" FROM match_rooms WHERE room_code = ? AND status <> 'expired' ORDER BY created_at DESC LIMIT 1",
		code)
}

func (r *MySQLRoomRepository) CodeInUse(ctx context.Context, code string, now time.Time) (bool, error) {
	var n int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM match_rooms WHERE room_code = ? AND (status = 'in_progress' OR (status = 'waiting' AND expires_at > ?))",
		code, now,
	).Scan(&n)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "check room code")
	}
	return n > 0, nil
}

func (r *MySQLRoomRepository) FindOpenRoom(ctx context.Context, format model.Format, userID string, now time.Time) (model.Room, bool, error) {
	room, err := r.getRoom(ctx, nil,
		`SELECT `+roomColumns+` FROM match_rooms mr
		 WHERE mr.status = 'waiting' AND mr.match_type = ? AND mr.expires_at > ?
		   AND (SELECT COUNT(*) FROM room_participants rp WHERE rp.room_id = mr.id) < mr.max_participants
		   AND NOT EXISTS (SELECT 1 FROM room_participants rp WHERE rp.room_id = mr.id AND rp.user_id = ?)
		 ORDER BY mr.created_at ASC LIMIT 1`,
		string(format), now, userID)
	if err != nil {
		if appErr.Is(err, appErr.RoomNotFound) {
			return model.Room{}, false, nil
		}
		return model.Room{}, false, err
	}
	return room, true, nil
}

func (r *MySQLRoomRepository) MarkExpired(ctx context.Context, roomID string) error {
	_, err := r.db.Exec(ctx, "UPDATE match_rooms SET status = 'expired' WHERE id = ? AND status = 'waiting'", roomID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "expire room")
	}
	return nil
}

func (r *MySQLRoomRepository) DeleteRoom(ctx context.Context, tx db.Transaction, roomID string) error {
	q := db.GetQuerier(r.db, tx)
	for _, stmt := range []string{
		"DELETE FROM match_scores WHERE room_id = ?",
		"DELETE FROM room_participants WHERE room_id = ?",
		"DELETE FROM match_rooms WHERE id = ?",
	} {
		if _, err := q.Exec(ctx, stmt, roomID); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "delete room")
		}
	}
	return nil
}

func (r *MySQLRoomRepository) transition(ctx context.Context, tx db.Transaction, query string, args ...interface{}) (bool, error) {
	res, err := db.GetQuerier(r.db, tx).Exec(ctx, query, args...)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "update room status")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "update room status")
	}
	return affected > 0, nil
}

func (r *MySQLRoomRepository) StartRoom(ctx context.Context, tx db.Transaction, roomID string, problemID int64, at time.Time) (bool, error) {
	return r.transition(ctx, tx,
		"UPDATE match_rooms SET status = 'in_progress', problem_id = ?, started_at = ? WHERE id = ? AND status = 'waiting'",
		problemID, at, roomID)
}

func (r *MySQLRoomRepository) CompleteRoom(ctx context.Context, tx db.Transaction, roomID string, at time.Time) (bool, error) {
	return r.transition(ctx, tx,
		"UPDATE match_rooms SET status = 'completed', completed_at = ? WHERE id = ? AND status = 'in_progress'",
		at, roomID)
}

func (r *MySQLRoomRepository) SetWinner(ctx context.Context, roomID, winnerID string, team int) error {
	winner := sql.NullString{String: winnerID, Valid: winnerID != ""}
	winningTeam := sql.NullInt64{Int64: int64(team), Valid: team > 0}
	_, err := r.db.Exec(ctx, "UPDATE match_rooms SET winner_id = ?, winning_team = ? WHERE id = ?", winner, winningTeam, roomID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "set winner")
	}
	return nil
}

func (r *MySQLRoomRepository) SetHost(ctx context.Context, tx db.Transaction, roomID, userID string) error {
	if _, err := db.GetQuerier(r.db, tx).Exec(ctx, "UPDATE match_rooms SET host_id = ? WHERE id = ?", userID, roomID); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "transfer host")
	}
	return nil
}

func (r *MySQLRoomRepository) AddParticipant(ctx context.Context, tx db.Transaction, p model.Participant) error {
	team := sql.NullInt64{Int64: int64(p.Team), Valid: p.Team > 0}
	_, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"INSERT INTO room_participants (room_id, user_id, team_number, status, synthetic, joined_at) VALUES (?, ?, ?, ?, ?, ?)",
		p.RoomID, p.UserID, team, string(p.Status), p.Synthetic, p.JoinedAt,
	)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return appErr.New(appErr.AlreadyJoined)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert participant")
	}
	return nil
}

func (r *MySQLRoomRepository) RemoveParticipant(ctx context.Context, tx db.Transaction, roomID, userID string) (bool, error) {
	res, err := db.GetQuerier(r.db, tx).Exec(ctx, "DELETE FROM room_participants WHERE room_id = ? AND user_id = ?", roomID, userID)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "delete participant")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "delete participant")
	}
	return affected > 0, nil
}

func (r *MySQLRoomRepository) ListParticipants(ctx context.Context, tx db.Transaction, roomID string) ([]model.Participant, error) {
	rows, err := db.GetQuerier(r.db, tx).Query(ctx,
		"SELECT "+participantColumns+" FROM room_participants WHERE room_id = ? ORDER BY joined_at ASC",
		roomID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query participants")
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		var (
			p           model.Participant
			status      string
			team        sql.NullInt64
			code, lang  sql.NullString
			result      []byte
			submittedAt sql.NullTime
		)
		if err := rows.Scan(&p.RoomID, &p.UserID, &team, &status, &code, &lang, &result, &p.Synthetic, &p.JoinedAt, &submittedAt); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan participant")
		}
		p.Team = int(team.Int64)
		p.Status = model.ParticipantStatus(status)
		p.Code = code.String
		p.Language = lang.String
		if len(result) > 0 {
			var suite evaluator.SuiteResult
			if err := json.Unmarshal(result, &suite); err == nil {
				p.Result = &suite
			}
		}
		if submittedAt.Valid {
			t := submittedAt.Time
			p.SubmittedAt = &t
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate participants")
	}
	return out, nil
}

func (r *MySQLRoomRepository) UpdateParticipantStatus(ctx context.Context, tx db.Transaction, roomID, userID string, status model.ParticipantStatus) (bool, error) {
	res, err := db.GetQuerier(r.db, tx).Exec(ctx,
		"UPDATE room_participants SET status = ? WHERE room_id = ? AND user_id = ?",
		string(status), roomID, userID)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "update participant status")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "update participant status")
	}
	return affected > 0, nil
}

func (r *MySQLRoomRepository) RecordSubmission(ctx context.Context, tx db.Transaction, p model.Participant) error {
	var result []byte
	if p.Result != nil {
		encoded, err := json.Marshal(p.Result)
		if err != nil {
			return appErr.Wrapf(err, appErr.InternalServerError, "encode execution result")
		}
		result = encoded
	}
	_, err := db.GetQuerier(r.db, tx).Exec(ctx,
		`UPDATE room_participants SET status = ?, code_submitted = ?, language = ?, execution_result = ?, synthetic = ?, submitted_at = ?
		 WHERE room_id = ? AND user_id = ?`,
		string(p.Status), p.Code, p.Language, result, p.Synthetic, p.SubmittedAt, p.RoomID, p.UserID,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "record submission")
	}
	return nil
}

func (r *MySQLRoomRepository) InitScores(ctx context.Context, tx db.Transaction, roomID string, participants []model.Participant) error {
	q := db.GetQuerier(r.db, tx)
	for _, p := range participants {
		team := sql.NullInt64{Int64: int64(p.Team), Valid: p.Team > 0}
		_, err := q.Exec(ctx,
			"INSERT INTO match_scores (room_id, user_id, team_number, synthetic) VALUES (?, ?, ?, ?)",
			roomID, p.UserID, team, p.Synthetic)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "insert score")
		}
	}
	return nil
}

func (r *MySQLRoomRepository) UpdateScore(ctx context.Context, tx db.Transaction, s model.Score) error {
	_, err := db.GetQuerier(r.db, tx).Exec(ctx,
		`UPDATE match_scores SET test_cases_passed = ?, test_cases_total = ?, execution_time_ms = ?, score = ?, forfeited = ?, synthetic = ?
		 WHERE room_id = ? AND user_id = ?`,
		s.TestsPassed, s.TestsTotal, s.ExecTimeMs, s.Score, s.Forfeited, s.Synthetic, s.RoomID, s.UserID,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update score")
	}
	return nil
}

func (r *MySQLRoomRepository) SetRanks(ctx context.Context, tx db.Transaction, scores []model.Score) error {
	q := db.GetQuerier(r.db, tx)
	for _, s := range scores {
		if _, err := q.Exec(ctx, "UPDATE match_scores SET `rank` = ? WHERE room_id = ? AND user_id = ?", s.Rank, s.RoomID, s.UserID); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "set rank")
		}
	}
	return nil
}

func (r *MySQLRoomRepository) ListScores(ctx context.Context, tx db.Transaction, roomID string) ([]model.Score, error) {
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, "SELECT "+scoreColumns+" FROM match_scores WHERE room_id = ?", roomID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query scores")
	}
	defer rows.Close()

	var out []model.Score
	for rows.Next() {
		var (
			s          model.Score
			team, rank sql.NullInt64
		)
		if err := rows.Scan(&s.RoomID, &s.UserID, &team, &s.TestsPassed, &s.TestsTotal, &s.ExecTimeMs, &s.Score, &rank, &s.Forfeited, &s.Synthetic); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan score")
		}
		s.Team = int(team.Int64)
		s.Rank = int(rank.Int64)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate scores")
	}
	return out, nil
}

var _ RoomRepository = (*MySQLRoomRepository)(nil)

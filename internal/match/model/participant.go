package model

import (
	"time"

	"codearena/internal/judge/evaluator"
)

type ParticipantStatus string

const (
	StatusJoined    ParticipantStatus = "joined"
	StatusReady     ParticipantStatus = "ready"
	StatusCoding    ParticipantStatus = "coding"
	StatusSubmitted ParticipantStatus = "submitted"
	StatusCompleted ParticipantStatus = "completed"
	// StatusForfeited marks a participant who left an in-progress match.
	StatusForfeited ParticipantStatus = "forfeited"
)

// Finished reports whether the participant no longer blocks match completion.
func (s ParticipantStatus) Finished() bool {
	return s == StatusSubmitted || s == StatusCompleted || s == StatusForfeited
}

// ClientSettable reports whether a client may move itself into s.
func (s ParticipantStatus) ClientSettable() bool {
	return s == StatusJoined || s == StatusReady || s == StatusCoding
}

// Participant is one seated user. Team is 0 outside 2v2.
type Participant struct {
	RoomID      string                 `json:"room_id"`
	UserID      string                 `json:"user_id"`
	Team        int                    `json:"team_number,omitempty"`
	Status      ParticipantStatus      `json:"status"`
	Code        string                 `json:"code_submitted,omitempty"`
	Language    string                 `json:"language,omitempty"`
	Result      *evaluator.SuiteResult `json:"execution_result,omitempty"`
	Synthetic   bool                   `json:"synthetic"`
	JoinedAt    time.Time              `json:"joined_at"`
	SubmittedAt *time.Time             `json:"submitted_at,omitempty"`
}

// Score is the per-seat scoreboard row created at match start.
type Score struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	Team        int    `json:"team_number,omitempty"`
	TestsPassed int    `json:"test_cases_passed"`
	TestsTotal  int    `json:"test_cases_total"`
	ExecTimeMs  int64  `json:"execution_time_ms"`
	Score       int    `json:"score"`
	Rank        int    `json:"rank,omitempty"`
	Forfeited   bool   `json:"forfeited,omitempty"`
	Synthetic   bool   `json:"synthetic"`
}

// Percent returns the passed share of the suite in [0,100].
func Percent(passed, total int) int {
	if total <= 0 {
		return 0
	}
	return passed * 100 / total
}

// ParticipantView joins a participant with its score for room state responses.
type ParticipantView struct {
	Participant
	Score *Score `json:"score,omitempty"`
}

// LeaderboardEntry is one ranked scoreboard line.
type LeaderboardEntry struct {
	Score
	Status ParticipantStatus `json:"status"`
}

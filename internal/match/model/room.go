// Package model defines match rooms, participants and scores.
package model

import (
	"strings"
	"time"

	appErr "codearena/pkg/errors"
)

// Format is the seat layout of a match.
type Format string

const (
	Format1v1 Format = "1v1"
	Format2v2 Format = "2v2"
)

// Seats returns the number of participants the format needs.
func (f Format) Seats() int {
	if f == Format2v2 {
		return 4
	}
	return 2
}

// Teams reports whether participants are split into teams.
func (f Format) Teams() bool { return f == Format2v2 }

// ParseFormat accepts "1v1"/"2v2"; empty defaults to 1v1.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "1v1":
		return Format1v1, nil
	case "2v2":
		return Format2v2, nil
	default:
		return "", appErr.New(appErr.InvalidParams).WithMessagef("unsupported match type: %s", s)
	}
}

type RoomStatus string

const (
	RoomWaiting    RoomStatus = "waiting"
	RoomInProgress RoomStatus = "in_progress"
	RoomCompleted  RoomStatus = "completed"
	RoomExpired    RoomStatus = "expired"
)

// Room is one match room.
type Room struct {
	ID           string     `json:"id"`
	Code         string     `json:"room_code"`
	HostID       string     `json:"host_id"`
	Format       Format     `json:"match_type"`
	Status       RoomStatus `json:"status"`
	ProblemID    int64      `json:"problem_id,omitempty"`
	Language     string     `json:"language"`
	Difficulty   string     `json:"level"`
	TimeLimitMin int        `json:"timing"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	WinnerID     string     `json:"winner_id,omitempty"`
	WinningTeam  int        `json:"winning_team,omitempty"`
}

// MaxParticipants is the seat count of the room.
func (r Room) MaxParticipants() int { return r.Format.Seats() }

// PastExpiry reports whether a waiting room outlived its expiry at now.
func (r Room) PastExpiry(now time.Time) bool {
	return r.Status == RoomWaiting && now.After(r.ExpiresAt)
}

// CreateOptions are the host's room settings.
type CreateOptions struct {
	Language     string `json:"language"`
	Difficulty   string `json:"level"`
	TimeLimitMin int    `json:"timing"`
}

// WithDefaults fills unset options.
func (o CreateOptions) WithDefaults() CreateOptions {
	if o.Language == "" {
		o.Language = "javascript"
	}
	if o.Difficulty == "" {
		o.Difficulty = "medium"
	}
	if o.TimeLimitMin <= 0 {
		o.TimeLimitMin = 30
	}
	return o
}

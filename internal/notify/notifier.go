// Package notify delivers match lifecycle events to realtime clients and other services.
package notify

import (
	"context"
	stderrors "errors"
	"time"
)

// EventType names a match lifecycle event.
type EventType string

const (
	EventRoomJoined         EventType = "room-joined"
	EventParticipantLeft    EventType = "participant-left"
	EventParticipantStatus  EventType = "participant-status-changed"
	EventMatchStarted       EventType = "match-started"
	EventSubmissionReceived EventType = "submission-received"
	EventMatchCompleted     EventType = "match-completed"
)

// Event is one structured notification scoped to a room.
type Event struct {
	Type      EventType   `json:"type"`
	RoomID    string      `json:"room_id"`
	UserID    string      `json:"user_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, roomID, userID string, payload interface{}) Event {
	return Event{Type: t, RoomID: roomID, UserID: userID, Payload: payload, Timestamp: time.Now().UTC()}
}

// Notifier receives events. Transport and connection lifecycle are its own concern.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans one event out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

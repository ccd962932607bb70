package models

import "time"

const TurnChangedEvent = "turn_changed"

// TurnEvent is broadcast after every successful turn state change so live
// displays can refresh. Subscribers must not depend on any field beyond Type.
type TurnEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	TurnID     int64     `json:"turn_id,omitempty"`
	VenueID    int64     `json:"venue_id,omitempty"`
	State      TurnState `json:"state,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PushMessage is an admin-authored notification addressed to a single user.
type PushMessage struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

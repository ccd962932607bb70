package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TurnState string

const (
	TurnPending   TurnState = "pending"
	TurnUsed      TurnState = "used"
	TurnDelivered TurnState = "delivered"
	TurnPenalized TurnState = "penalized"
	TurnExpired   TurnState = "expired"
)

// LiveTurnStates block a second turn for the same user, venue and day.
var LiveTurnStates = []TurnState{TurnPending, TurnDelivered, TurnPenalized}

func (s TurnState) Valid() bool {
	switch s {
	case TurnPending, TurnUsed, TurnDelivered, TurnPenalized, TurnExpired:
		return true
	default:
		return false
	}
}

// Live reports whether a turn in this state counts against the one-per-day rule.
func (s TurnState) Live() bool {
	switch s {
	case TurnPending, TurnDelivered, TurnPenalized:
		return true
	case TurnUsed, TurnExpired:
		return false
	default:
		return false
	}
}

type Turn struct {
	bun.BaseModel `bun:"table:turns,alias:t"`

	ID          int64      `bun:"id,pk,autoincrement" json:"id"`
	UserID      string     `bun:"user_id,notnull" json:"user_id"`
	VenueID     int64      `bun:"venue_id,notnull" json:"venue_id"`
	ServiceDate time.Time  `bun:"service_date,type:date,notnull" json:"service_date"`
	State       TurnState  `bun:"state,notnull" json:"state"`
	Code        string     `bun:"code,notnull" json:"code"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	ClaimedAt   *time.Time `bun:"claimed_at,nullzero" json:"claimed_at,omitempty"`
}

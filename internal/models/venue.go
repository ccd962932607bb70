package models

import (
	"github.com/uptrace/bun"
)

type VenueStatus string

const (
	VenueOpen       VenueStatus = "open"
	VenueClosed     VenueStatus = "closed"
	VenueRestocking VenueStatus = "restocking"
)

func (s VenueStatus) Valid() bool {
	switch s {
	case VenueOpen, VenueClosed, VenueRestocking:
		return true
	default:
		return false
	}
}

// AcceptsTurns is true only for open venues; restocking counts as closed.
func (s VenueStatus) AcceptsTurns() bool {
	switch s {
	case VenueOpen:
		return true
	case VenueClosed, VenueRestocking:
		return false
	default:
		return false
	}
}

type Venue struct {
	bun.BaseModel `bun:"table:venues,alias:v"`

	ID       int64       `bun:"id,pk,autoincrement" json:"id"`
	Name     string      `bun:"name,notnull" json:"name"`
	Status   VenueStatus `bun:"status,notnull" json:"status"`
	OpensAt  string      `bun:"opens_at" json:"opens_at"`
	ClosesAt string      `bun:"closes_at" json:"closes_at"`
}

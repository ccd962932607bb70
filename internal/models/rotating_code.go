package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RotatingCode is the short-lived token shown on a venue's QR display.
type RotatingCode struct {
	bun.BaseModel `bun:"table:rotating_codes,alias:rc"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	VenueID   int64     `bun:"venue_id,notnull" json:"venue_id"`
	Code      string    `bun:"code,notnull" json:"code"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt time.Time `bun:"expires_at,notnull" json:"expires_at"`
}

func (c *RotatingCode) ExpiredAt(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

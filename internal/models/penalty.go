package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Penalty struct {
	bun.BaseModel `bun:"table:penalties,alias:p"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID      string    `bun:"user_id,notnull" json:"user_id"`
	ServiceDate time.Time `bun:"service_date,type:date,notnull" json:"service_date"`
	Reason      string    `bun:"reason,notnull" json:"reason"`
	Active      bool      `bun:"active,notnull" json:"active"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}

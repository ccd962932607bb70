package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-turnos/internal/models"
)

// CreateSchema builds the tables and indexes from the models. It mirrors
// migrations/000001 and is what the SQLite-backed tests run against.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.Venue)(nil),
		(*models.User)(nil),
		(*models.RotatingCode)(nil),
		(*models.Turn)(nil),
		(*models.Penalty)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().Model((*models.User)(nil)).
			Unique().Index(StudentCodeConstraint).IfNotExists().
			Column("student_code"),
		db.NewCreateIndex().Model((*models.Turn)(nil)).
			Unique().Index(TurnCodeConstraint).IfNotExists().
			Column("code"),
		db.NewCreateIndex().Model((*models.Turn)(nil)).
			Unique().Index(TurnLiveConstraint).IfNotExists().
			Column("user_id", "venue_id", "service_date").
			Where("state IN (?)", bun.In(models.LiveTurnStates)),
		db.NewCreateIndex().Model((*models.RotatingCode)(nil)).
			Index("rotating_codes_venue_code_idx").IfNotExists().
			Column("venue_id", "code"),
		db.NewCreateIndex().Model((*models.Penalty)(nil)).
			Index("penalties_user_active_idx").IfNotExists().
			Column("user_id", "active", "created_at"),
	}
	for _, q := range indexes {
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

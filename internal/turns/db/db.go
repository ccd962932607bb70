package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-turnos/internal/apperr"
	"ms-turnos/internal/database"
	"ms-turnos/internal/models"
)

const DefaultCodeAttempts = 8

type DB struct {
	Bun bun.IDB
	// CodeAttempts bounds re-rolls on display code collisions.
	CodeAttempts int
	// NewCode is swapped in tests to force collisions.
	NewCode func() (string, error)
}

func New(db bun.IDB) *DB {
	return &DB{Bun: db, CodeAttempts: DefaultCodeAttempts, NewCode: NewCode}
}

func (d *DB) WithTx(tx bun.IDB) *DB {
	return &DB{Bun: tx, CodeAttempts: d.CodeAttempts, NewCode: d.NewCode}
}

func (d *DB) HasLiveTicket(ctx context.Context, userID string, venueID int64, serviceDate time.Time) (bool, error) {
	return hasLiveTicket(ctx, d.Bun, userID, venueID, serviceDate)
}

func hasLiveTicket(ctx context.Context, db bun.IDB, userID string, venueID int64, serviceDate time.Time) (bool, error) {
	exists, err := db.NewSelect().
		Model((*models.Turn)(nil)).
		Where("user_id = ?", userID).
		Where("venue_id = ?", venueID).
		Where("service_date = ?", serviceDate).
		Where("state IN (?)", bun.In(models.LiveTurnStates)).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check live ticket: %w", err)
	}
	return exists, nil
}

// Create issues a pending ticket. Each attempt runs in its own transaction so a
// display code collision can be retried with a fresh code. A second live
// ticket for the same user, venue and day comes back as apperr.Conflict.
func (d *DB) Create(ctx context.Context, userID string, venueID int64, serviceDate, now time.Time) (*models.Turn, error) {
	attempts := d.CodeAttempts
	if attempts <= 0 {
		attempts = DefaultCodeAttempts
	}
	gen := d.NewCode
	if gen == nil {
		gen = NewCode
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		code, err := gen()
		if err != nil {
			return nil, err
		}

		turn := &models.Turn{
			UserID:      userID,
			VenueID:     venueID,
			ServiceDate: serviceDate,
			State:       models.TurnPending,
			Code:        code,
			CreatedAt:   now,
		}
		err = d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			live, err := hasLiveTicket(ctx, tx, userID, venueID, serviceDate)
			if err != nil {
				return err
			}
			if live {
				return apperr.New(apperr.Conflict, apperr.ReasonDuplicate, "user already holds a live ticket today")
			}
			_, err = tx.NewInsert().Model(turn).Returning("id").Exec(ctx)
			return err
		})
		switch {
		case err == nil:
			return turn, nil
		case database.IsUniqueViolation(err, database.TurnCodeConstraint):
			continue
		case database.IsUniqueViolation(err, database.TurnLiveConstraint):
			return nil, apperr.Wrap(apperr.Conflict, apperr.ReasonDuplicate, "user already holds a live ticket today", err)
		case apperr.IsKind(err, apperr.Conflict):
			return nil, err
		default:
			return nil, fmt.Errorf("insert ticket: %w", err)
		}
	}
	return nil, apperr.New(apperr.Internal, apperr.ReasonCodeCollision,
		fmt.Sprintf("no free ticket code after %d attempts", attempts))
}

func (d *DB) GetByID(ctx context.Context, id int64) (*models.Turn, error) {
	var turn models.Turn
	err := d.Bun.NewSelect().
		Model(&turn).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, apperr.ReasonTurnNotFound, "ticket not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %d: %w", id, err)
	}
	return &turn, nil
}

// OldestPending is the ticket at the head of the queue, or nil.
func (d *DB) OldestPending(ctx context.Context) (*models.Turn, error) {
	var turn models.Turn
	err := d.Bun.NewSelect().
		Model(&turn).
		Where("state = ?", models.TurnPending).
		Order("service_date ASC", "id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load oldest pending ticket: %w", err)
	}
	return &turn, nil
}

func (d *DB) ListForUser(ctx context.Context, userID string) ([]models.Turn, error) {
	turns := []models.Turn{}
	err := d.Bun.NewSelect().
		Model(&turns).
		Where("user_id = ?", userID).
		Order("service_date DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets for user: %w", err)
	}
	return turns, nil
}

func (d *DB) ListAll(ctx context.Context) ([]models.Turn, error) {
	turns := []models.Turn{}
	err := d.Bun.NewSelect().
		Model(&turns).
		Order("service_date DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return turns, nil
}

// ListStalePending returns unclaimed pending tickets created at or before cutoff.
func (d *DB) ListStalePending(ctx context.Context, cutoff time.Time) ([]models.Turn, error) {
	turns := []models.Turn{}
	err := d.Bun.NewSelect().
		Model(&turns).
		Where("state = ?", models.TurnPending).
		Where("claimed_at IS NULL").
		Where("created_at <= ?", cutoff).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stale tickets: %w", err)
	}
	return turns, nil
}

// Transition moves a ticket from one state to another only if it is still in
// from. It reports whether this call made the change.
func (d *DB) Transition(ctx context.Context, id int64, from, to models.TurnState, claimedAt *time.Time) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Turn)(nil)).
		Set("state = ?", to).
		Where("id = ?", id).
		Where("state = ?", from)
	if claimedAt != nil {
		q = q.Set("claimed_at = ?", *claimedAt)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("transition ticket %d %s->%s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition ticket %d: %w", id, err)
	}
	return n == 1, nil
}

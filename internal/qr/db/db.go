package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-turnos/internal/models"
)

type DB struct {
	Bun bun.IDB
}

func (d *DB) WithTx(tx bun.IDB) *DB {
	return &DB{Bun: tx}
}

// Current returns the newest code of the venue still valid at now, or nil.
func (d *DB) Current(ctx context.Context, venueID int64, now time.Time) (*models.RotatingCode, error) {
	var code models.RotatingCode
	err := d.Bun.NewSelect().
		Model(&code).
		Where("venue_id = ?", venueID).
		Where("expires_at > ?", now).
		Order("expires_at DESC", "id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select current rotating code: %w", err)
	}
	return &code, nil
}

func (d *DB) Insert(ctx context.Context, code *models.RotatingCode) error {
	_, err := d.Bun.NewInsert().Model(code).Returning("id").Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert rotating code: %w", err)
	}
	return nil
}

// Find returns the matching row with the latest expiry, or nil.
func (d *DB) Find(ctx context.Context, venueID int64, code string) (*models.RotatingCode, error) {
	var rc models.RotatingCode
	err := d.Bun.NewSelect().
		Model(&rc).
		Where("venue_id = ?", venueID).
		Where("code = ?", code).
		Order("expires_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select rotating code: %w", err)
	}
	return &rc, nil
}

func (d *DB) History(ctx context.Context, venueID int64, limit int) ([]models.RotatingCode, error) {
	var codes []models.RotatingCode
	q := d.Bun.NewSelect().
		Model(&codes).
		Where("venue_id = ?", venueID).
		Order("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("select rotating code history: %w", err)
	}
	return codes, nil
}

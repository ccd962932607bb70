package db

import (
	"context"
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

// ActiveSince reports an active penalty created at or after since.
func (d *DB) ActiveSince(ctx context.Context, userID string, since time.Time) (bool, error) {
	exists, err := d.Bun.NewSelect().
		Model((*models.Penalty)(nil)).
		Where("user_id = ?", userID).
		Where("active = ?", true).
		Where("created_at >= ?", since).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check recent penalty: %w", err)
	}
	return exists, nil
}

// HasActive ignores age and looks only at the flag.
func (d *DB) HasActive(ctx context.Context, userID string) (bool, error) {
	exists, err := d.Bun.NewSelect().
		Model((*models.Penalty)(nil)).
		Where("user_id = ?", userID).
		Where("active = ?", true).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check active penalty: %w", err)
	}
	return exists, nil
}

func (d *DB) Insert(ctx context.Context, p *models.Penalty) error {
	if _, err := d.Bun.NewInsert().Model(p).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("insert penalty: %w", err)
	}
	return nil
}

func (d *DB) DeactivateAll(ctx context.Context, userID string) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Penalty)(nil)).
		Set("active = ?", false).
		Where("user_id = ?", userID).
		Where("active = ?", true).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("deactivate penalties: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate penalties: %w", err)
	}
	return n, nil
}

func (d *DB) ListActiveForUser(ctx context.Context, userID string) ([]models.Penalty, error) {
	penalties := []models.Penalty{}
	err := d.Bun.NewSelect().
		Model(&penalties).
		Where("user_id = ?", userID).
		Where("active = ?", true).
		Order("created_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active penalties: %w", err)
	}
	return penalties, nil
}

func (d *DB) ListAll(ctx context.Context) ([]models.Penalty, error) {
	penalties := []models.Penalty{}
	err := d.Bun.NewSelect().
		Model(&penalties).
		Order("service_date DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list penalties: %w", err)
	}
	return penalties, nil
}

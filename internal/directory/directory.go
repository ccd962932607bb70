// Package directory is the read-only view of users and venues. Both are
// administered elsewhere; the turn service only looks them up.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-turnos/internal/apperr"
	"ms-turnos/internal/models"
)

type Users struct {
	Bun bun.IDB
}

func NewUsers(db bun.IDB) *Users {
	return &Users{Bun: db}
}

func (u *Users) ByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := u.Bun.NewSelect().
		Model(&user).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, apperr.ReasonUserNotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return &user, nil
}

func (u *Users) ByStudentCode(ctx context.Context, code string) (*models.User, error) {
	var user models.User
	err := u.Bun.NewSelect().
		Model(&user).
		Where("student_code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, apperr.ReasonUserNotFound, "no user with that student code")
	}
	if err != nil {
		return nil, fmt.Errorf("load user by student code: %w", err)
	}
	return &user, nil
}

type Venues struct {
	Bun bun.IDB
}

func NewVenues(db bun.IDB) *Venues {
	return &Venues{Bun: db}
}

func (v *Venues) ByID(ctx context.Context, id int64) (*models.Venue, error) {
	var venue models.Venue
	err := v.Bun.NewSelect().
		Model(&venue).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, apperr.ReasonVenueNotFound, "venue not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load venue %d: %w", id, err)
	}
	return &venue, nil
}

// First is the venue with the lowest id, used when a request names none.
func (v *Venues) First(ctx context.Context) (*models.Venue, error) {
	var venue models.Venue
	err := v.Bun.NewSelect().
		Model(&venue).
		Order("id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, apperr.ReasonVenueNotFound, "no venues configured")
	}
	if err != nil {
		return nil, fmt.Errorf("load first venue: %w", err)
	}
	return &venue, nil
}

func (v *Venues) List(ctx context.Context) ([]models.Venue, error) {
	var venues []models.Venue
	err := v.Bun.NewSelect().
		Model(&venues).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	return venues, nil
}

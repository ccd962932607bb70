// Package penalties records users that let a ticket lapse and answers
// whether they may request a new one.
package penalties

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ms-turnos/internal/apperr"
	"ms-turnos/internal/clock"
	"ms-turnos/internal/models"
	pdb "ms-turnos/internal/penalties/db"
)

const (
	DefaultLookback = 15 * time.Minute
	ReasonUnclaimed = "did not claim ticket within deadline"
)

// Ledger applies the lookback window on top of the penalty table.
// A penalty blocks new tickets only while it is both active and recent.
type Ledger struct {
	Store    *pdb.DB
	Clock    clock.Clock
	Lookback time.Duration
}

func NewLedger(db bun.IDB, clk clock.Clock, lookback time.Duration) *Ledger {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Ledger{Store: &pdb.DB{Bun: db}, Clock: clk, Lookback: lookback}
}

// WithTx returns a ledger whose queries run inside tx.
func (l *Ledger) WithTx(tx bun.IDB) *Ledger {
	return &Ledger{Store: l.Store.WithTx(tx), Clock: l.Clock, Lookback: l.Lookback}
}

func (l *Ledger) since() time.Time {
	return l.Clock.Now().Add(-l.Lookback)
}

func (l *Ledger) IsPenalized(ctx context.Context, userID string) (bool, error) {
	return l.Store.ActiveSince(ctx, userID, l.since())
}

// Record inserts an active penalty unless one already exists within the
// lookback window. It reports whether a row was written.
func (l *Ledger) Record(ctx context.Context, userID string, serviceDate time.Time, reason string) (bool, error) {
	recent, err := l.Store.ActiveSince(ctx, userID, l.since())
	if err != nil {
		return false, err
	}
	if recent {
		return false, nil
	}
	if reason == "" {
		reason = ReasonUnclaimed
	}
	p := &models.Penalty{
		UserID:      userID,
		ServiceDate: serviceDate,
		Reason:      reason,
		Active:      true,
		CreatedAt:   l.Clock.Now(),
	}
	if err := l.Store.Insert(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

// HasActive ignores the lookback window.
func (l *Ledger) HasActive(ctx context.Context, userID string) (bool, error) {
	return l.Store.HasActive(ctx, userID)
}

func (l *Ledger) DeactivateAllFor(ctx context.Context, userID string) (int64, error) {
	n, err := l.Store.DeactivateAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, apperr.New(apperr.NotFound, apperr.ReasonNoActivePenalty, "user has no active penalty")
	}
	return n, nil
}

func (l *Ledger) ListActiveForUser(ctx context.Context, userID string) ([]models.Penalty, error) {
	return l.Store.ListActiveForUser(ctx, userID)
}

func (l *Ledger) ListAll(ctx context.Context) ([]models.Penalty, error) {
	return l.Store.ListAll(ctx)
}

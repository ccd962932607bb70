package service

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-turnos/internal/clock"
	"ms-turnos/internal/lock"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/metrics"
	"ms-turnos/internal/models"
	"ms-turnos/internal/notify"
	"ms-turnos/internal/penalties"
	turndb "ms-turnos/internal/turns/db"
)

const (
	DefaultClaimDeadline = 30 * time.Second
	sweepLockKey         = "lock:turn-sweeper"
)

type SweepReport struct {
	Scanned           int `json:"scanned"`
	Penalized         int `json:"penalized"`
	PenaltiesRecorded int `json:"penalties_recorded"`
	Failed            int `json:"failed"`
}

// Sweeper penalizes pending tickets nobody claimed before the deadline.
type Sweeper struct {
	DB        *bun.DB
	Turns     *turndb.DB
	Penalties *penalties.Ledger
	Publisher notify.Publisher
	Clock     clock.Clock
	Deadline  time.Duration
	Locker    lock.Locker
	Log       *logger.Logger
}

// Sweep is idempotent: a ticket already claimed or penalized is skipped, and
// penalties are deduplicated by the ledger's lookback window.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	start := time.Now()

	deadline := s.Deadline
	if deadline <= 0 {
		deadline = DefaultClaimDeadline
	}
	cutoff := s.Clock.Now().Add(-deadline)

	stale, err := s.Turns.ListStalePending(ctx, cutoff)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return report, err
	}
	report.Scanned = len(stale)

	for i := range stale {
		turn := stale[i]
		penalized, recorded, err := s.penalize(ctx, &turn)
		if err != nil {
			report.Failed++
			s.Log.Error("SWEEP", fmt.Sprintf("Failed to penalize ticket %d: %v", turn.ID, err))
			continue
		}
		if !penalized {
			continue
		}
		report.Penalized++
		if recorded {
			report.PenaltiesRecorded++
			metrics.PenaltiesRecorded.Inc()
		}
		metrics.TurnTransitions.WithLabelValues(string(models.TurnPenalized)).Inc()
		turn.State = models.TurnPenalized
		s.Log.LogTurn("PENALIZE", turn.ID, fmt.Sprintf("user=%s not claimed within %s", turn.UserID, deadline))
		if s.Publisher != nil {
			s.Publisher.Publish(models.TurnEvent{
				Type:       models.TurnChangedEvent,
				TurnID:     turn.ID,
				VenueID:    turn.VenueID,
				State:      turn.State,
				OccurredAt: s.Clock.Now(),
			})
		}
	}

	metrics.SweepRuns.WithLabelValues("ok").Inc()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	return report, nil
}

func (s *Sweeper) penalize(ctx context.Context, turn *models.Turn) (penalized, recorded bool, err error) {
	err = s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		changed, err := s.Turns.WithTx(tx).Transition(ctx, turn.ID, models.TurnPending, models.TurnPenalized, nil)
		if err != nil {
			return err
		}
		if !changed {
			// Claimed by staff since it was listed.
			return nil
		}
		penalized = true
		recorded, err = s.Penalties.WithTx(tx).Record(ctx, turn.UserID, turn.ServiceDate, penalties.ReasonUnclaimed)
		return err
	})
	if err != nil {
		return false, false, err
	}
	return penalized, recorded, nil
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Log.LogProcess("turn-sweeper", fmt.Sprintf("started, interval %s, deadline %s", interval, s.Deadline))
	for {
		select {
		case <-ctx.Done():
			s.Log.LogProcess("turn-sweeper", "stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx, interval)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context, interval time.Duration) {
	if s.Locker != nil {
		release, ok, err := s.Locker.TryLock(ctx, sweepLockKey, interval)
		if err != nil {
			s.Log.Warn("SWEEP", fmt.Sprintf("Could not take sweep lock: %v", err))
			return
		}
		if !ok {
			metrics.SweepRuns.WithLabelValues("skipped").Inc()
			return
		}
		defer release()
	}

	report, err := s.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.Log.Error("SWEEP", fmt.Sprintf("Sweep failed: %v", err))
		}
		return
	}
	if report.Penalized > 0 || report.Failed > 0 {
		s.Log.Info("SWEEP", fmt.Sprintf("Sweep: scanned=%d penalized=%d recorded=%d failed=%d",
			report.Scanned, report.Penalized, report.PenaltiesRecorded, report.Failed))
	}
}

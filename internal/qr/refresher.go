package qr

import (
	"context"
	"fmt"
	"time"

	"ms-turnos/internal/lock"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/models"
)

const refreshLockKey = "lock:qr-refresh"

type VenueLister interface {
	List(ctx context.Context) ([]models.Venue, error)
}

// Refresher keeps a valid code on every venue display.
type Refresher struct {
	Generator *Generator
	Venues    VenueLister
	Locker    lock.Locker
	Log       *logger.Logger
}

// RefreshAll ensures each venue has a current code and returns how many venues it touched.
func (r *Refresher) RefreshAll(ctx context.Context) (int, error) {
	venues, err := r.Venues.List(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	var firstErr error
	for _, v := range venues {
		if _, err := r.Generator.GetOrCreate(ctx, v.ID, 0); err != nil {
			r.Log.Error("QR", fmt.Sprintf("Refresh failed for venue %d: %v", v.ID, err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		refreshed++
	}
	return refreshed, firstErr
}

// Run refreshes on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Log.LogProcess("qr-refresh", fmt.Sprintf("started, interval %s", interval))
	r.tick(ctx, interval)
	for {
		select {
		case <-ctx.Done():
			r.Log.LogProcess("qr-refresh", "stopped")
			return nil
		case <-ticker.C:
			r.tick(ctx, interval)
		}
	}
}

func (r *Refresher) tick(ctx context.Context, interval time.Duration) {
	if r.Locker != nil {
		release, ok, err := r.Locker.TryLock(ctx, refreshLockKey, interval)
		if err != nil {
			r.Log.Warn("QR", fmt.Sprintf("Could not take refresh lock: %v", err))
			return
		}
		if !ok {
			return
		}
		defer release()
	}
	if _, err := r.RefreshAll(ctx); err != nil && ctx.Err() == nil {
		r.Log.Warn("QR", fmt.Sprintf("QR refresh finished with errors: %v", err))
	}
}

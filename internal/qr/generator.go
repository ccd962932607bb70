// Package qr issues and checks the rotating codes shown on each venue's
// display. A ticket request may carry the code it scanned as proof that the
// student is physically at the counter.
package qr

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/uptrace/bun"

	"ms-turnos/internal/apperr"
	"ms-turnos/internal/clock"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/metrics"
	"ms-turnos/internal/models"
	qrdb "ms-turnos/internal/qr/db"
)

const (
	DefaultTTL   = time.Minute
	codeEntropy  = 16
	historyLimit = 200
)

// Cache keeps the current code of each venue close to the display endpoint.
// The table stays authoritative; a cache miss or error only costs a query.
type Cache interface {
	Get(ctx context.Context, venueID int64) (*models.RotatingCode, error)
	Set(ctx context.Context, code *models.RotatingCode, ttl time.Duration) error
}

type Generator struct {
	DB    *bun.DB
	Store *qrdb.DB
	Cache Cache
	Clock clock.Clock
	TTL   time.Duration
	Log   *logger.Logger
}

func NewGenerator(db *bun.DB, cache Cache, clk clock.Clock, ttl time.Duration, log *logger.Logger) *Generator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Generator{
		DB:    db,
		Store: &qrdb.DB{Bun: db},
		Cache: cache,
		Clock: clk,
		TTL:   ttl,
		Log:   log,
	}
}

// GetOrCreate returns the venue's unexpired code, issuing a new one valid for
// ttl when there is none. Expired rows are left untouched.
func (g *Generator) GetOrCreate(ctx context.Context, venueID int64, ttl time.Duration) (*models.RotatingCode, error) {
	if ttl <= 0 {
		ttl = g.TTL
	}
	now := g.Clock.Now()

	if cached := g.fromCache(ctx, venueID, now); cached != nil {
		return cached, nil
	}

	var result *models.RotatingCode
	created := false
	err := g.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		store := g.Store.WithTx(tx)
		current, err := store.Current(ctx, venueID, now)
		if err != nil {
			return err
		}
		if current != nil {
			result = current
			return nil
		}

		token, err := newToken()
		if err != nil {
			return err
		}
		code := &models.RotatingCode{
			VenueID:   venueID,
			Code:      token,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		if err := store.Insert(ctx, code); err != nil {
			return err
		}
		result = code
		created = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get or create rotating code for venue %d: %w", venueID, err)
	}

	if created {
		metrics.RotatingCodesIssued.WithLabelValues(strconv.FormatInt(venueID, 10)).Inc()
		g.Log.Debug("QR", fmt.Sprintf("Issued rotating code for venue %d valid until %s", venueID, result.ExpiresAt.Format(time.RFC3339)))
	}
	g.toCache(ctx, result, now)
	return result, nil
}

// Current is the read-only counterpart of GetOrCreate.
func (g *Generator) Current(ctx context.Context, venueID int64) (*models.RotatingCode, error) {
	now := g.Clock.Now()
	if cached := g.fromCache(ctx, venueID, now); cached != nil {
		return cached, nil
	}
	code, err := g.Store.Current(ctx, venueID, now)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, apperr.New(apperr.NotFound, apperr.ReasonQRNotFound, "no current code for venue")
	}
	return code, nil
}

// Validate accepts any stored code of the venue that has not expired yet.
func (g *Generator) Validate(ctx context.Context, venueID int64, code string) error {
	rc, err := g.Store.Find(ctx, venueID, code)
	if err != nil {
		return err
	}
	if rc == nil {
		return apperr.New(apperr.Invalid, apperr.ReasonQRNotFound, "QR code not recognised")
	}
	if rc.ExpiredAt(g.Clock.Now()) {
		return apperr.New(apperr.Invalid, apperr.ReasonQRExpired, "QR code expired")
	}
	return nil
}

// History lists the venue's codes newest first, expired ones included.
func (g *Generator) History(ctx context.Context, venueID int64) ([]models.RotatingCode, error) {
	return g.Store.History(ctx, venueID, historyLimit)
}

func (g *Generator) fromCache(ctx context.Context, venueID int64, now time.Time) *models.RotatingCode {
	if g.Cache == nil {
		return nil
	}
	code, err := g.Cache.Get(ctx, venueID)
	if err != nil {
		g.Log.Warn("QR", fmt.Sprintf("Cache read failed for venue %d: %v", venueID, err))
		return nil
	}
	if code == nil || code.ExpiredAt(now) {
		return nil
	}
	return code
}

func (g *Generator) toCache(ctx context.Context, code *models.RotatingCode, now time.Time) {
	if g.Cache == nil {
		return
	}
	remaining := code.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return
	}
	if err := g.Cache.Set(ctx, code, remaining); err != nil {
		g.Log.Warn("QR", fmt.Sprintf("Cache write failed for venue %d: %v", code.VenueID, err))
	}
}

func newToken() (string, error) {
	buf := make([]byte, codeEntropy)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

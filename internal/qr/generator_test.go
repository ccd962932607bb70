package qr_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-turnos/internal/apperr"
	"ms-turnos/internal/clock"
	"ms-turnos/internal/database/dbtest"
	"ms-turnos/internal/directory"
	"ms-turnos/internal/lock"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/qr"
)

var start = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newGenerator(t *testing.T, cache qr.Cache) (*qr.Generator, *clock.Fake) {
	db := dbtest.OpenSeeded(t)
	clk := clock.NewFake(start)
	return qr.NewGenerator(db, cache, clk, time.Minute, logger.Discard()), clk
}

func TestGetOrCreateIsIdempotentWhileUnexpired(t *testing.T) {
	gen, clk := newGenerator(t, nil)
	ctx := context.Background()

	first, err := gen.GetOrCreate(ctx, dbtest.OpenVenueID, 0)
	require.NoError(t, err)
	assert.Len(t, first.Code, 22)
	assert.True(t, first.ExpiresAt.Equal(start.Add(time.Minute)))

	clk.Advance(30 * time.Second)
	second, err := gen.GetOrCreate(ctx, dbtest.OpenVenueID, 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Code, second.Code)

	clk.Advance(31 * time.Second)
	third, err := gen.GetOrCreate(ctx, dbtest.OpenVenueID, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, third.Code)

	history, err := gen.History(ctx, dbtest.OpenVenueID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "expired codes stay as history")
}

func TestValidateWindow(t *testing.T) {
	gen, clk := newGenerator(t, nil)
	ctx := context.Background()

	code, err := gen.GetOrCreate(ctx, dbtest.OpenVenueID, 0)
	require.NoError(t, err)

	assert.NoError(t, gen.Validate(ctx, dbtest.OpenVenueID, code.Code))

	err = gen.Validate(ctx, dbtest.ClosedVenueID, code.Code)
	assert.True(t, apperr.IsKind(err, apperr.Invalid))
	assert.Equal(t, apperr.ReasonQRNotFound, apperr.ReasonOf(err))

	err = gen.Validate(ctx, dbtest.OpenVenueID, "bogus")
	assert.Equal(t, apperr.ReasonQRNotFound, apperr.ReasonOf(err))

	clk.Advance(time.Minute)
	err = gen.Validate(ctx, dbtest.OpenVenueID, code.Code)
	assert.True(t, apperr.IsKind(err, apperr.Invalid))
	assert.Equal(t, apperr.ReasonQRExpired, apperr.ReasonOf(err))
}

func TestCurrentDoesNotCreate(t *testing.T) {
	gen, _ := newGenerator(t, nil)
	ctx := context.Background()

	_, err := gen.Current(ctx, dbtest.OpenVenueID)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	created, err := gen.GetOrCreate(ctx, dbtest.OpenVenueID, 0)
	require.NoError(t, err)

	cur, err := gen.Current(ctx, dbtest.OpenVenueID)
	require.NoError(t, err)
	assert.Equal(t, created.Code, cur.Code)
}

func TestRedisCacheServesCurrentCode(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	gen, clk := newGenerator(t, qr.NewRedisCache(client))
	ctx := context.Background()

	code, err := gen.GetOrCreate(ctx, dbtest.OpenVenueID, 0)
	require.NoError(t, err)

	assert.True(t, mr.Exists("qr:current:1"))
	assert.Equal(t, time.Minute, mr.TTL("qr:current:1"))

	again, err := gen.GetOrCreate(ctx, dbtest.OpenVenueID, 0)
	require.NoError(t, err)
	assert.Equal(t, code.Code, again.Code)

	// A stale cache entry past its expiry is ignored even if Redis still holds it.
	clk.Advance(2 * time.Minute)
	fresh, err := gen.GetOrCreate(ctx, dbtest.OpenVenueID, 0)
	require.NoError(t, err)
	assert.NotEqual(t, code.Code, fresh.Code)
}

func TestRefresherCoversEveryVenue(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	clk := clock.NewFake(start)
	gen := qr.NewGenerator(db, nil, clk, time.Minute, logger.Discard())
	r := &qr.Refresher{
		Generator: gen,
		Venues:    directory.NewVenues(db),
		Locker:    lock.Noop{},
		Log:       logger.Discard(),
	}

	n, err := r.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, venueID := range []int64{dbtest.OpenVenueID, dbtest.ClosedVenueID} {
		_, err := gen.Current(context.Background(), venueID)
		assert.NoError(t, err)
	}
}

func TestRenderPNG(t *testing.T) {
	png, err := qr.RenderPNG("abc", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"ms-turnos/internal/apperr"
	"ms-turnos/internal/clock"
	"ms-turnos/internal/database/dbtest"
	"ms-turnos/internal/directory"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/models"
	"ms-turnos/internal/penalties"
	"ms-turnos/internal/qr"
	turndb "ms-turnos/internal/turns/db"
	"ms-turnos/internal/turns/service"
)

var (
	today = time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	noon  = today.Add(12 * time.Hour)
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.TurnEvent
}

func (p *recordingPublisher) Publish(ev models.TurnEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// MockDispatcher is a mock implementation of push.Dispatcher
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, msg models.PushMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type harness struct {
	db        *bun.DB
	clock     *clock.Fake
	engine    *service.Engine
	sweeper   *service.Sweeper
	codes     *qr.Generator
	ledger    *penalties.Ledger
	turns     *turndb.DB
	publisher *recordingPublisher
	push      *MockDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.OpenSeeded(t)
	clk := clock.NewFake(noon)
	log := logger.Discard()

	turns := turndb.New(db)
	ledger := penalties.NewLedger(db, clk, 15*time.Minute)
	codes := qr.NewGenerator(db, nil, clk, time.Minute, log)
	pub := &recordingPublisher{}
	dispatcher := &MockDispatcher{}

	sweeper := &service.Sweeper{
		DB:        db,
		Turns:     turns,
		Penalties: ledger,
		Publisher: pub,
		Clock:     clk,
		Deadline:  30 * time.Second,
		Log:       log,
	}
	engine := &service.Engine{
		DB:             db,
		Turns:          turns,
		Penalties:      ledger,
		Codes:          codes,
		Users:          directory.NewUsers(db),
		Venues:         directory.NewVenues(db),
		Publisher:      pub,
		Push:           dispatcher,
		Sweeper:        sweeper,
		Clock:          clk,
		Location:       time.UTC,
		AllowSimulated: false,
		Log:            log,
	}
	return &harness{db: db, clock: clk, engine: engine, sweeper: sweeper, codes: codes,
		ledger: ledger, turns: turns, publisher: pub, push: dispatcher}
}

func venue(id int64) *int64 { return &id }

func (h *harness) insertTurn(t *testing.T, userID string, venueID int64, state models.TurnState, code string) *models.Turn {
	t.Helper()
	turn := &models.Turn{UserID: userID, VenueID: venueID, ServiceDate: today, State: state, Code: code, CreatedAt: h.clock.Now()}
	_, err := h.db.NewInsert().Model(turn).Exec(context.Background())
	require.NoError(t, err)
	return turn
}

func TestRequestTicketHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	code, err := h.codes.GetOrCreate(ctx, dbtest.OpenVenueID, 0)
	require.NoError(t, err)

	turn, err := h.engine.RequestTicket(ctx, service.TicketRequest{
		UserID:       dbtest.StudentID,
		VenueID:      venue(dbtest.OpenVenueID),
		RotatingCode: code.Code,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TurnPending, turn.State)
	assert.True(t, turn.ServiceDate.Equal(today))
	assert.Regexp(t, `^[A-Z0-9]{6}$`, turn.Code)
	assert.Equal(t, 1, h.publisher.count())
	assert.Equal(t, models.TurnChangedEvent, h.publisher.events[0].Type)
}

func TestRequestTicketDefaultsToFirstVenue(t *testing.T) {
	h := newHarness(t)
	turn, err := h.engine.RequestTicket(context.Background(), service.TicketRequest{UserID: dbtest.StudentID})
	require.NoError(t, err)
	assert.Equal(t, dbtest.OpenVenueID, turn.VenueID)
}

func TestSecondTicketSameDayIsDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := service.TicketRequest{UserID: dbtest.StudentID, VenueID: venue(dbtest.OpenVenueID)}

	_, err := h.engine.RequestTicket(ctx, req)
	require.NoError(t, err)

	_, err = h.engine.RequestTicket(ctx, req)
	assert.Equal(t, apperr.Rejected, apperr.KindOf(err))
	assert.Equal(t, apperr.ReasonDuplicate, apperr.ReasonOf(err))

	// The next day is a new queue.
	h.clock.Advance(24 * time.Hour)
	_, err = h.engine.RequestTicket(ctx, req)
	assert.NoError(t, err)
}

func TestConcurrentRequestsHaveExactlyOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := service.TicketRequest{UserID: dbtest.StudentID, VenueID: venue(dbtest.OpenVenueID)}

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.RequestTicket(ctx, req)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.Equal(t, apperr.Rejected, apperr.KindOf(err))
		assert.Equal(t, apperr.ReasonDuplicate, apperr.ReasonOf(err))
	}
	assert.Equal(t, 1, successes)

	mine, err := h.engine.ListTicketsForUser(ctx, dbtest.StudentID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestGatingOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Penalize the student so later gates would also fail.
	_, err := h.ledger.Record(ctx, dbtest.StudentID, today, "")
	require.NoError(t, err)

	_, err = h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.StudentID, VenueID: venue(99)})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err), "unknown venue wins")

	_, err = h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.StudentID, VenueID: venue(dbtest.ClosedVenueID), RotatingCode: "bogus"})
	assert.Equal(t, apperr.Invalid, apperr.KindOf(err), "bad code beats penalty")
	assert.Equal(t, apperr.ReasonQRNotFound, apperr.ReasonOf(err))

	_, err = h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.StudentID, VenueID: venue(dbtest.ClosedVenueID)})
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err), "penalty beats closed venue")

	_, err = h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.OtherStudent, VenueID: venue(dbtest.ClosedVenueID)})
	assert.Equal(t, apperr.Rejected, apperr.KindOf(err))
	assert.Equal(t, apperr.ReasonVenueClosed, apperr.ReasonOf(err))
}

func TestExpiredRotatingCodeIsInvalid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	code, err := h.codes.GetOrCreate(ctx, dbtest.OpenVenueID, 0)
	require.NoError(t, err)
	h.clock.Advance(61 * time.Second)

	_, err = h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.StudentID, VenueID: venue(dbtest.OpenVenueID), RotatingCode: code.Code})
	assert.Equal(t, apperr.Invalid, apperr.KindOf(err))
	assert.Equal(t, apperr.ReasonQRExpired, apperr.ReasonOf(err))
}

func TestPenaltyInsideLookbackIsForbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ledger.Record(ctx, dbtest.StudentID, today, "")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Minute)

	_, err = h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.StudentID})
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))
	assert.Equal(t, apperr.ReasonPenalized, apperr.ReasonOf(err))

	h.clock.Advance(11 * time.Minute)
	_, err = h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.StudentID})
	assert.NoError(t, err, "the penalty no longer blocks once outside the lookback")
}

func TestSimulatedTickets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := service.TicketRequest{UserID: dbtest.StudentID, RotatingCode: "whatever", Simulated: true}

	_, err := h.engine.RequestTicket(ctx, req)
	assert.Equal(t, apperr.Invalid, apperr.KindOf(err))
	assert.Equal(t, apperr.ReasonSimulatedDisabled, apperr.ReasonOf(err))

	h.engine.AllowSimulated = true
	turn, err := h.engine.RequestTicket(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, dbtest.OpenVenueID, turn.VenueID)

	// Remaining gates still apply.
	_, err = h.engine.RequestTicket(ctx, req)
	assert.Equal(t, apperr.ReasonDuplicate, apperr.ReasonOf(err))
}

func TestRequestTicketUnknownUserIsNotFound(t *testing.T) {
	h := newHarness(t)

	turn, err := h.engine.RequestTicket(context.Background(), service.TicketRequest{
		UserID:  "ghost-subject",
		VenueID: venue(dbtest.OpenVenueID),
	})
	assert.Nil(t, turn)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.ReasonUserNotFound, apperr.ReasonOf(err))

	count, err := h.db.NewSelect().Model((*models.Turn)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, h.publisher.count())
}

func TestPublicModeResolvesStudentCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.RequestTicket(ctx, service.TicketRequest{StudentCode: "00000000"})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	_, err = h.engine.RequestTicket(ctx, service.TicketRequest{})
	assert.Equal(t, apperr.Invalid, apperr.KindOf(err))

	turn, err := h.engine.RequestTicket(ctx, service.TicketRequest{StudentCode: dbtest.StudentCode})
	require.NoError(t, err)
	assert.Equal(t, dbtest.StudentID, turn.UserID)
}

func TestPassAndDeliver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.StudentID})
	require.NoError(t, err)
	second, err := h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.OtherStudent})
	require.NoError(t, err)

	h.clock.Advance(10 * time.Second)
	passed, err := h.engine.Pass(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnUsed, passed.State)
	require.NotNil(t, passed.ClaimedAt)
	assert.True(t, passed.ClaimedAt.Equal(noon.Add(10*time.Second)))

	delivered, err := h.engine.Deliver(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnDelivered, delivered.State)

	assert.Equal(t, 4, h.publisher.count())

	_, err = h.engine.Pass(ctx, 12345)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestClaimFromNonPendingStatesIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	states := []models.TurnState{models.TurnUsed, models.TurnDelivered, models.TurnPenalized, models.TurnExpired}
	codes := []string{"USED01", "DELV01", "PENL01", "EXPR01"}
	for i, state := range states {
		turn := h.insertTurn(t, dbtest.StudentID, int64(i+10), state, codes[i])

		_, err := h.engine.Pass(ctx, turn.ID)
		assert.Equal(t, apperr.Rejected, apperr.KindOf(err), "pass from %s", state)
		assert.Equal(t, apperr.ReasonNotPending, apperr.ReasonOf(err))

		_, err = h.engine.Deliver(ctx, turn.ID)
		assert.Equal(t, apperr.Rejected, apperr.KindOf(err), "deliver from %s", state)

		loaded, err := h.turns.GetByID(ctx, turn.ID)
		require.NoError(t, err)
		assert.Equal(t, state, loaded.State)
	}
	assert.Zero(t, h.publisher.count())
}

func TestSweepPenalizesStaleTicketsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale, err := h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.StudentID})
	require.NoError(t, err)
	h.clock.Advance(20 * time.Second)
	fresh, err := h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.OtherStudent})
	require.NoError(t, err)

	h.clock.Advance(15 * time.Second)
	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.SweepReport{Scanned: 1, Penalized: 1, PenaltiesRecorded: 1}, report)

	loaded, err := h.turns.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnPenalized, loaded.State)

	untouched, err := h.turns.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnPending, untouched.State)

	again, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Penalized)

	all, err := h.engine.ListAllPenalties(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, penalties.ReasonUnclaimed, all[0].Reason)
	assert.Equal(t, dbtest.StudentID, all[0].UserID)
}

func TestSweepSkipsClaimedTickets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	turn, err := h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.StudentID})
	require.NoError(t, err)
	_, err = h.engine.Deliver(ctx, turn.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	report, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestListAllTicketsSweepsFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.StudentID})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)

	all, err := h.engine.ListAllTickets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.TurnPenalized, all[0].State)
}

func TestUnpenalize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.insertTurn(t, dbtest.StudentID, dbtest.OpenVenueID, models.TurnPenalized, "PEN001")
	second := h.insertTurn(t, dbtest.StudentID, dbtest.ClosedVenueID, models.TurnPenalized, "PEN002")
	_, err := h.ledger.Record(ctx, dbtest.StudentID, today, "")
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	_, err = h.ledger.Record(ctx, dbtest.StudentID, today, "")
	require.NoError(t, err)

	turn, err := h.engine.Unpenalize(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnExpired, turn.State)

	active, err := h.engine.ListActivePenaltiesForUser(ctx, dbtest.StudentID)
	require.NoError(t, err)
	assert.Empty(t, active)

	other, err := h.turns.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnPenalized, other.State, "only the given ticket is demoted")

	_, err = h.engine.Unpenalize(ctx, second.ID)
	assert.Equal(t, apperr.Rejected, apperr.KindOf(err))
	assert.Equal(t, apperr.ReasonNoActivePenalty, apperr.ReasonOf(err))

	_, err = h.engine.Unpenalize(ctx, 4242)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestUnpenalizeLeavesNonPenalizedTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	used := h.insertTurn(t, dbtest.StudentID, dbtest.OpenVenueID, models.TurnUsed, "USED02")
	_, err := h.ledger.Record(ctx, dbtest.StudentID, today, "")
	require.NoError(t, err)

	turn, err := h.engine.Unpenalize(ctx, used.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnUsed, turn.State)

	penalized, err := h.ledger.HasActive(ctx, dbtest.StudentID)
	require.NoError(t, err)
	assert.False(t, penalized)
}

func TestUnpenalizeDemotesTicketPenalizedDuringLift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending := h.insertTurn(t, dbtest.StudentID, dbtest.OpenVenueID, models.TurnPending, "RACE01")
	_, err := h.ledger.Record(ctx, dbtest.StudentID, today, "")
	require.NoError(t, err)

	// Penalize the ticket as a concurrent sweep would, after the ticket was
	// loaded but before the demotion runs.
	_, err = h.db.ExecContext(ctx, `CREATE TRIGGER sweep_mid_lift AFTER UPDATE OF active ON penalties
		BEGIN UPDATE turns SET state = 'penalized' WHERE id = ?; END`, pending.ID)
	require.NoError(t, err)

	turn, err := h.engine.Unpenalize(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnExpired, turn.State)

	stored, err := h.turns.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TurnExpired, stored.State)
}

func TestCurrentTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cur, err := h.engine.CurrentTicket(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	first, err := h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.StudentID})
	require.NoError(t, err)
	_, err = h.engine.RequestTicket(ctx, service.TicketRequest{UserID: dbtest.OtherStudent})
	require.NoError(t, err)

	cur, err = h.engine.CurrentTicket(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, cur.ID)

	_, err = h.engine.Pass(ctx, first.ID)
	require.NoError(t, err)
	cur, err = h.engine.CurrentTicket(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, cur.ID)
}

func TestValidateRotatingCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	code, err := h.codes.GetOrCreate(ctx, dbtest.OpenVenueID, 0)
	require.NoError(t, err)

	res, err := h.engine.ValidateRotatingCode(ctx, dbtest.OpenVenueID, code.Code)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "Cafeteria Central", res.VenueName)

	res, err = h.engine.ValidateRotatingCode(ctx, 77, code.Code)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, apperr.ReasonVenueNotFound, res.Reason)

	h.clock.Advance(2 * time.Minute)
	res, err = h.engine.ValidateRotatingCode(ctx, dbtest.OpenVenueID, code.Code)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, apperr.ReasonQRExpired, res.Reason)
}

func TestNotifyUserIgnoresDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.push.On("Dispatch", mock.Anything, mock.MatchedBy(func(m models.PushMessage) bool {
		return m.UserID == dbtest.StudentID && m.Title == "Hola"
	})).Return(errors.New("fcm unavailable"))

	msg, err := h.engine.NotifyUser(ctx, dbtest.StudentID, "Hola", "Tu pedido esta listo")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.MessageID)
	h.push.AssertExpectations(t)

	_, err = h.engine.NotifyUser(ctx, "ghost", "Hola", "x")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestServiceDateUsesLocation(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	// 02:00 UTC on the 16th is still the 15th in Bogota.
	at := time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC)
	assert.True(t, service.ServiceDate(at, bogota).Equal(today))
	assert.True(t, service.ServiceDate(at, nil).Equal(today.AddDate(0, 0, 1)))
}

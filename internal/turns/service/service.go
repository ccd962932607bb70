// Package service holds the ticket lifecycle: who may request a ticket,
// how staff move it forward, and how lapsed tickets become penalties.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-turnos/internal/apperr"
	"ms-turnos/internal/clock"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/metrics"
	"ms-turnos/internal/models"
	"ms-turnos/internal/notify"
	"ms-turnos/internal/penalties"
	"ms-turnos/internal/push"
	turndb "ms-turnos/internal/turns/db"
)

type UserDirectory interface {
	ByID(ctx context.Context, id string) (*models.User, error)
	ByStudentCode(ctx context.Context, code string) (*models.User, error)
}

type VenueDirectory interface {
	ByID(ctx context.Context, id int64) (*models.Venue, error)
	First(ctx context.Context) (*models.Venue, error)
}

type CodeValidator interface {
	Validate(ctx context.Context, venueID int64, code string) error
}

// TicketRequest carries either an authenticated UserID or, for the public
// kiosk flow, a StudentCode.
type TicketRequest struct {
	UserID       string
	StudentCode  string
	VenueID      *int64
	RotatingCode string
	Simulated    bool
}

type Engine struct {
	DB        *bun.DB
	Turns     *turndb.DB
	Penalties *penalties.Ledger
	Codes     CodeValidator
	Users     UserDirectory
	Venues    VenueDirectory
	Publisher notify.Publisher
	Push      push.Dispatcher
	Sweeper   *Sweeper
	Clock     clock.Clock
	// Location decides which calendar day "today" is.
	Location       *time.Location
	AllowSimulated bool
	Log            *logger.Logger
}

// ServiceDate is the calendar day of t in loc, as midnight UTC.
func ServiceDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (e *Engine) today() time.Time {
	return ServiceDate(e.Clock.Now(), e.Location)
}

func (e *Engine) RequestTicket(ctx context.Context, req TicketRequest) (*models.Turn, error) {
	turn, err := e.requestTicket(ctx, req)
	if err != nil {
		reason := apperr.ReasonOf(err)
		if reason == "" {
			reason = apperr.KindOf(err).String()
		}
		metrics.TurnRequestsRejected.WithLabelValues(reason).Inc()
		return nil, err
	}

	metrics.TurnsCreated.WithLabelValues(strconv.FormatInt(turn.VenueID, 10)).Inc()
	e.Log.LogTurn("CREATE", turn.ID, fmt.Sprintf("user=%s venue=%d code=%s", turn.UserID, turn.VenueID, turn.Code))
	e.publish(turn)
	return turn, nil
}

func (e *Engine) requestTicket(ctx context.Context, req TicketRequest) (*models.Turn, error) {
	if req.Simulated && !e.AllowSimulated {
		return nil, apperr.New(apperr.Invalid, apperr.ReasonSimulatedDisabled, "simulated tickets are disabled")
	}

	userID, err := e.resolveUser(ctx, req)
	if err != nil {
		return nil, err
	}

	venue, err := e.resolveVenue(ctx, req.VenueID)
	if err != nil {
		return nil, err
	}

	if !req.Simulated && req.RotatingCode != "" {
		if err := e.Codes.Validate(ctx, venue.ID, req.RotatingCode); err != nil {
			return nil, err
		}
	}

	penalized, err := e.Penalties.IsPenalized(ctx, userID)
	if err != nil {
		return nil, err
	}
	if penalized {
		return nil, apperr.New(apperr.Forbidden, apperr.ReasonPenalized, "user has an active penalty")
	}

	if !venue.Status.AcceptsTurns() {
		return nil, apperr.New(apperr.Rejected, apperr.ReasonVenueClosed, fmt.Sprintf("venue %s is %s", venue.Name, venue.Status))
	}

	date := e.today()
	live, err := e.Turns.HasLiveTicket(ctx, userID, venue.ID, date)
	if err != nil {
		return nil, err
	}
	if live {
		return nil, apperr.New(apperr.Rejected, apperr.ReasonDuplicate, "user already holds a ticket for today")
	}

	turn, err := e.Turns.Create(ctx, userID, venue.ID, date, e.Clock.Now())
	if apperr.IsKind(err, apperr.Conflict) {
		return nil, apperr.Wrap(apperr.Rejected, apperr.ReasonDuplicate, "user already holds a ticket for today", err)
	}
	return turn, err
}

func (e *Engine) resolveUser(ctx context.Context, req TicketRequest) (string, error) {
	if req.UserID != "" {
		user, err := e.Users.ByID(ctx, req.UserID)
		if err != nil {
			return "", err
		}
		return user.ID, nil
	}
	if req.StudentCode == "" {
		return "", apperr.New(apperr.Invalid, "", "student code is required")
	}
	user, err := e.Users.ByStudentCode(ctx, req.StudentCode)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (e *Engine) resolveVenue(ctx context.Context, venueID *int64) (*models.Venue, error) {
	if venueID == nil {
		return e.Venues.First(ctx)
	}
	return e.Venues.ByID(ctx, *venueID)
}

// Pass marks a pending ticket as used at the counter.
func (e *Engine) Pass(ctx context.Context, id int64) (*models.Turn, error) {
	return e.claim(ctx, id, models.TurnUsed)
}

// Deliver marks a pending ticket as served.
func (e *Engine) Deliver(ctx context.Context, id int64) (*models.Turn, error) {
	return e.claim(ctx, id, models.TurnDelivered)
}

func (e *Engine) claim(ctx context.Context, id int64, to models.TurnState) (*models.Turn, error) {
	now := e.Clock.Now()
	changed, err := e.Turns.Transition(ctx, id, models.TurnPending, to, &now)
	if err != nil {
		return nil, err
	}

	turn, err := e.Turns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, apperr.New(apperr.Rejected, apperr.ReasonNotPending,
			fmt.Sprintf("ticket %d is %s, not pending", id, turn.State))
	}

	metrics.TurnTransitions.WithLabelValues(string(to)).Inc()
	e.Log.LogTurn(string(to), id, "claimed")
	e.publish(turn)
	return turn, nil
}

// Unpenalize lifts every active penalty of the ticket's owner and, when this
// ticket is the penalized one, retires it as expired. Other penalized tickets
// of the same user are left alone.
func (e *Engine) Unpenalize(ctx context.Context, id int64) (*models.Turn, error) {
	var (
		turn    *models.Turn
		lifted  int64
		demoted bool
	)
	err := e.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		turns := e.Turns.WithTx(tx)
		var err error
		turn, err = turns.GetByID(ctx, id)
		if err != nil {
			return err
		}

		ledger := e.Penalties.WithTx(tx)
		active, err := ledger.HasActive(ctx, turn.UserID)
		if err != nil {
			return err
		}
		if !active {
			return apperr.New(apperr.Rejected, apperr.ReasonNoActivePenalty, "user has no active penalty")
		}

		lifted, err = ledger.DeactivateAllFor(ctx, turn.UserID)
		if err != nil {
			return err
		}

		// A sweep may have penalized the ticket since it was read.
		demoted, err = turns.Transition(ctx, id, models.TurnPenalized, models.TurnExpired, nil)
		if err != nil {
			return err
		}
		turn, err = turns.GetByID(ctx, id)
		return err
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, fmt.Errorf("unpenalize ticket %d: %w", id, err)
	}

	if demoted {
		metrics.TurnTransitions.WithLabelValues(string(models.TurnExpired)).Inc()
	}
	e.Log.LogTurn("UNPENALIZE", id, fmt.Sprintf("lifted %d penalties for %s, demoted=%t", lifted, turn.UserID, demoted))
	e.publish(turn)
	return turn, nil
}

// CurrentTicket is the head of the queue, nil when nobody is waiting.
func (e *Engine) CurrentTicket(ctx context.Context) (*models.Turn, error) {
	return e.Turns.OldestPending(ctx)
}

// ValidateRotatingCode lets the app check a scanned code before requesting a ticket.
func (e *Engine) ValidateRotatingCode(ctx context.Context, venueID int64, code string) (*models.ValidateCodeResponse, error) {
	venue, err := e.Venues.ByID(ctx, venueID)
	if apperr.IsKind(err, apperr.NotFound) {
		return &models.ValidateCodeResponse{Valid: false, Reason: apperr.ReasonVenueNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	err = e.Codes.Validate(ctx, venueID, code)
	if apperr.IsKind(err, apperr.Invalid) {
		return &models.ValidateCodeResponse{Valid: false, Reason: apperr.ReasonOf(err)}, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.ValidateCodeResponse{Valid: true, VenueName: venue.Name}, nil
}

func (e *Engine) ListTicketsForUser(ctx context.Context, userID string) ([]models.Turn, error) {
	return e.Turns.ListForUser(ctx, userID)
}

// ListAllTickets sweeps first so the staff view never shows lapsed tickets as pending.
func (e *Engine) ListAllTickets(ctx context.Context) ([]models.Turn, error) {
	if e.Sweeper != nil {
		if _, err := e.Sweeper.Sweep(ctx); err != nil {
			e.Log.Warn("SWEEP", fmt.Sprintf("Sweep before listing failed: %v", err))
		}
	}
	return e.Turns.ListAll(ctx)
}

func (e *Engine) ListActivePenaltiesForUser(ctx context.Context, userID string) ([]models.Penalty, error) {
	return e.Penalties.ListActiveForUser(ctx, userID)
}

func (e *Engine) ListAllPenalties(ctx context.Context) ([]models.Penalty, error) {
	return e.Penalties.ListAll(ctx)
}

// NotifyUser sends a push message. Delivery failures are logged, not returned.
func (e *Engine) NotifyUser(ctx context.Context, userID, title, body string) (*models.PushMessage, error) {
	user, err := e.Users.ByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	msg := models.PushMessage{
		MessageID: uuid.NewString(),
		UserID:    user.ID,
		Title:     title,
		Body:      body,
		SentAt:    e.Clock.Now(),
	}
	if e.Push != nil {
		if err := e.Push.Dispatch(ctx, msg); err != nil {
			e.Log.Warn("PUSH", fmt.Sprintf("Push to %s failed: %v", user.ID, err))
		}
	}
	return &msg, nil
}

func (e *Engine) publish(turn *models.Turn) {
	if e.Publisher == nil {
		return
	}
	e.Publisher.Publish(models.TurnEvent{
		Type:       models.TurnChangedEvent,
		TurnID:     turn.ID,
		VenueID:    turn.VenueID,
		State:      turn.State,
		OccurredAt: e.Clock.Now(),
	})
}

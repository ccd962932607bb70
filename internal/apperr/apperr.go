// Package apperr carries the outcome taxonomy of the turn engine so the
// transport layer can tell a closed venue from an expired QR code.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	NotFound
	Invalid
	Forbidden
	Rejected
	Conflict
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Invalid:
		return "invalid"
	case Forbidden:
		return "forbidden"
	case Rejected:
		return "rejected"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Machine-readable reasons.
const (
	ReasonVenueNotFound     = "venue_not_found"
	ReasonTurnNotFound      = "turn_not_found"
	ReasonUserNotFound      = "user_not_found"
	ReasonQRNotFound        = "qr_not_found"
	ReasonQRExpired         = "qr_expired"
	ReasonPenalized         = "penalized"
	ReasonVenueClosed       = "venue_closed"
	ReasonDuplicate         = "duplicate"
	ReasonNotPending        = "not_pending"
	ReasonNoActivePenalty   = "no_active_penalty"
	ReasonSimulatedDisabled = "simulated_disabled"
	ReasonCodeCollision     = "code_collision"
)

type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and, when the target sets one, by reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

func Wrap(kind Kind, reason, message string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Err: err}
}

// KindOf returns Internal for errors that carry no taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

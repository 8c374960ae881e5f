package deal

import (
	"errors"
	"fmt"
)

// Kind classifies failures by how the caller should react to them.
type Kind string

const (
	// KindValidation: bad user input, state unchanged, retry immediately.
	KindValidation Kind = "validation"
	// KindPrecondition: wrong role or status for the attempt, no mutation.
	KindPrecondition Kind = "precondition"
	// KindNotFound: unknown deal or no pending capture.
	KindNotFound Kind = "not_found"
	// KindCollision: generated id already taken, retried internally.
	KindCollision Kind = "collision"
	// KindUnavailable: storage failure, reported as a generic service error.
	KindUnavailable Kind = "unavailable"
)

var (
	ErrDealNotFound      = errors.New("deal not found")
	ErrAlreadyActive     = errors.New("deal already active")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrBuyerMissing      = errors.New("buyer missing")
	ErrIDCollision       = errors.New("deal id collision")
	ErrInvalidCardFormat = errors.New("invalid card format")
	ErrNoPendingAction   = errors.New("no pending action")
	ErrUnavailable       = errors.New("service unavailable")
)

var sentinelKinds = map[error]Kind{
	ErrDealNotFound:      KindNotFound,
	ErrAlreadyActive:     KindPrecondition,
	ErrInvalidTransition: KindPrecondition,
	ErrInvalidPrice:      KindValidation,
	ErrBuyerMissing:      KindPrecondition,
	ErrIDCollision:       KindCollision,
	ErrInvalidCardFormat: KindValidation,
	ErrNoPendingAction:   KindNotFound,
	ErrUnavailable:       KindUnavailable,
}

// Error carries the failing operation and kind around one of the sentinels above.
type Error struct {
	Kind  Kind
	Op    string
	Err   error
	Cause error
}

// NewError wraps a sentinel for op. cause is an optional lower-level error kept for logs.
func NewError(op string, sentinel error, cause error) *Error {
	kind, ok := sentinelKinds[sentinel]
	if !ok {
		kind = KindUnavailable
	}
	return &Error{Kind: kind, Op: op, Err: sentinel, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Err, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// Code is the stable err_code written by the handler summary log.
func (e *Error) Code() string {
	return string(e.Kind)
}

// KindOf returns the kind of err, or KindUnavailable for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	for sentinel, kind := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnavailable
}

// Outcome maps err to the label used for metrics: ok or the error kind.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(KindOf(err))
}

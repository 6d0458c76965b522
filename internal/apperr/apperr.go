// Package apperr defines the error kinds surfaced by room operations.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindInsufficientPlayers Kind = "insufficient_players"
	KindForbidden           Kind = "forbidden"
	KindInvalid             Kind = "invalid"
	KindUpstreamGeneration  Kind = "upstream_generation"
	KindTransient           Kind = "transient"
)

// Error is an application error carrying a Kind.
type Error struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by identity and bare kind markers by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e == t {
		return true
	}
	return t.Message == "" && e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Transient wraps a store or broker failure.
func Transient(err error, message string) *Error {
	return Wrap(err, KindTransient, message)
}

// Sentinels. Derived errors wrap these so errors.Is keeps working.
var (
	ErrRoomNotFound        = New(KindNotFound, "room not found")
	ErrPlayerNotInRoom     = New(KindNotFound, "player not in room")
	ErrRoomFull            = New(KindConflict, "room is full")
	ErrRoomNotWaiting      = New(KindConflict, "room is not accepting changes")
	ErrRoomNotActive       = New(KindConflict, "quiz is not running")
	ErrAlreadySubmitted    = New(KindConflict, "answers already submitted")
	ErrQuestionsNotReady   = New(KindConflict, "questions are not ready")
	ErrCodeTaken           = New(KindConflict, "room code already in use")
	ErrInsufficientPlayers = New(KindInsufficientPlayers, "at least two players are required")
	ErrNotHost             = New(KindForbidden, "only the host can do that")
)

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	return IsKind(err, KindConflict)
}

// IsTransient reports whether err is a transient store failure.
func IsTransient(err error) bool {
	return IsKind(err, KindTransient)
}

// Invalid creates a validation error.
func Invalid(format string, args ...any) *Error {
	return New(KindInvalid, format, args...)
}

// Forbidden creates an authorization error.
func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

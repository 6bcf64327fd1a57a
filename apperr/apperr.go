// Package apperr defines the error taxonomy shared by the engines, the stores
// and the HTTP gateway.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the boundary must react to it.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
	KindNotFound
	KindPersistence
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Code is a machine-readable error code returned to clients.
type Code string

const (
	CodeInvalidInput       Code = "invalid_input"
	CodeInvalidRosterSize  Code = "invalid_roster_size"
	CodeInvalidResult      Code = "invalid_result"
	CodeGameNotRunning     Code = "game_not_running"
	CodeNotCurrentTurn     Code = "not_current_turn"
	CodeGameAlreadyRunning Code = "game_already_running"
	CodeGameStarted        Code = "game_started"
	CodeNoEligiblePlayers  Code = "no_eligible_players"
	CodeAlreadyInRoster    Code = "already_in_roster"
	CodeRosterFull         Code = "roster_full"
	CodeNotFound           Code = "not_found"
	CodePersistence        Code = "persistence_failure"
	CodeTransport          Code = "transport_failure"
)

// Error is the structured error carried across package boundaries.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, so package-level sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func Validation(code Code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func State(code Code, message string) *Error {
	return &Error{Kind: KindState, Code: code, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message}
}

// Persistence wraps a store failure. A nil cause yields nil.
func Persistence(message string, cause error) error {
	if cause == nil {
		return nil
	}
	var existing *Error
	if errors.As(cause, &existing) {
		return cause
	}
	return &Error{Kind: KindPersistence, Code: CodePersistence, Message: message, Cause: cause}
}

func Transport(message string, cause error) *Error {
	return &Error{Kind: KindTransport, Code: CodeTransport, Message: message, Cause: cause}
}

// KindOf reports the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf reports the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

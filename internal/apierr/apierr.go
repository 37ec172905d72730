// Copyright 2025 Certen Protocol
//
// Package apierr carries a machine-readable error taxonomy across component
// boundaries. A Code wraps an inner error via %w so callers can still
// errors.Is/errors.As into store or RPC sentinels, while the façade strips
// everything but {code, message} before it reaches a response body.
package apierr

import (
	"errors"
	"fmt"
)

// Code is one of the uppercase snake_case machine error codes.
type Code string

const (
	Validation      Code = "VALIDATION"
	NotFound        Code = "NOT_FOUND"
	ConflictState   Code = "CONFLICT_STATE"
	Unauthenticated Code = "UNAUTHENTICATED"
	Forbidden       Code = "FORBIDDEN"
	Replay          Code = "REPLAY"
	StaleProof      Code = "STALE_PROOF"
	RPCTransient    Code = "RPC_TRANSIENT"
	RPCPermanent    Code = "RPC_PERMANENT"
	PersistConflict Code = "PERSIST_CONFLICT"
	Internal        Code = "INTERNAL"

	// Finer-grained codes surfaced verbatim by the ZKP engine and device
	// lifecycle, all of which map onto the taxonomy above at the façade edge.
	UnknownDevice  Code = "UNKNOWN_DEVICE"
	InactiveDevice Code = "INACTIVE_DEVICE"
	BadProof       Code = "BAD_PROOF"
	DeviceExists   Code = "DEVICE_EXISTS"
	NoPending      Code = "NO_PENDING"
)

// Error is a machine-coded, human-readable failure. It never carries stack
// traces or store identifiers in Message; those live only in the wrapped
// cause, which the façade must not serialize.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that wraps cause. cause is never exposed beyond the
// façade boundary.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the machine code for err, defaulting to Internal for
// errors that never went through this package — the façade must never leak
// an unclassified error's text to a caller.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return Internal
}

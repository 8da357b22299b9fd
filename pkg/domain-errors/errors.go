// Package domainerrors provides coded errors for the engine's failure
// taxonomy. Every rejection carries a stable machine-readable code so callers
// and operational tooling can assert on cause rather than matching message
// strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable error identifier.
type Code string

const (
	// Input validation failures: rejected synchronously, no state change.
	CodeInvalidInput Code = "invalid_input"
	CodeBadRequest   Code = "bad_request"

	// AuthN/AuthZ failures.
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"

	// Lookup and state-machine violations. TooEarly is distinct from
	// WrongState so callers can tell "retry later" from "never valid".
	CodeNotFound   Code = "not_found"
	CodeConflict   Code = "conflict"
	CodeWrongState Code = "wrong_state"
	CodeTooEarly   Code = "too_early"
	CodeExpired    Code = "expired"

	// Capacity/liquidity shortfalls: expected, recoverable by retry.
	CodeCapacityExceeded   Code = "capacity_exceeded"
	CodeIssuanceLocked     Code = "issuance_locked"
	CodeLiquidityShortfall Code = "liquidity_shortfall"

	// Oracle health failures, surfaced distinctly for recovery tooling.
	CodeOracleDegraded Code = "oracle_degraded"
	CodeQuorumNotMet   Code = "quorum_not_met"

	// Signed intent failures.
	CodeInvalidSignature Code = "invalid_signature"
	CodeNonceMismatch    Code = "nonce_mismatch"

	// External collaborator call failed; local accounting was rolled back.
	CodeExternalCallFailed Code = "external_call_failed"

	CodeInternal Code = "internal_error"
)

// Error is a coded domain error. The code is part of the API contract; the
// message is for humans and may change.
type Error struct {
	code  Code
	msg   string
	cause error
}

// New constructs a coded error.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{code: code, msg: msg, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Code returns the stable identifier of the error.
func (e *Error) Code() Code { return e.code }

// Message returns the human-readable description without the code prefix.
func (e *Error) Message() string { return e.msg }

// GetCode extracts the code from an error chain. Uncoded errors map to
// CodeInternal; nil maps to the empty code.
func GetCode(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}

// Is reports whether any error in the chain carries the given code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.code == code
	}
	return false
}

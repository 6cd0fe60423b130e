package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCode classifies a provider failure into the account-facing taxonomy.
// The code drives the sync engine's state transitions.
type ErrorCode string

const (
	CodeLoginRequired   ErrorCode = "LOGIN_REQUIRED"
	CodeSetupRequired   ErrorCode = "SETUP_REQUIRED"
	CodeNotSupported    ErrorCode = "NOT_SUPPORTED"
	CodeInstitutionDown ErrorCode = "INSTITUTION_DOWN"
	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodeUnknown         ErrorCode = "UNKNOWN"
)

// RequiresReauth reports whether the code means the user must re-enter or
// re-confirm credentials before syncing can resume.
func (c ErrorCode) RequiresReauth() bool {
	return c == CodeLoginRequired || c == CodeSetupRequired
}

// Error is a classified provider failure. Retryable means the periodic
// scheduler may retry on its normal cadence without user action; codes that
// require reauthentication are never retryable.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("aggregator error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("aggregator error [%s]: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error. Retryability follows the code:
// INSTITUTION_DOWN and RATE_LIMITED are retryable, everything else is not.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: code == CodeInstitutionDown || code == CodeRateLimited,
	}
}

// NewTransportError wraps a network-level failure (connection error, timeout,
// unreadable response). Transport failures are always retryable and surface as
// INSTITUTION_DOWN, the closest account-facing classification for "provider
// unreachable".
func NewTransportError(err error) *Error {
	return &Error{
		Code:      CodeInstitutionDown,
		Message:   "provider unreachable",
		Retryable: true,
		Err:       err,
	}
}

// Classify returns err as *Error, wrapping unclassified errors. Context
// cancellations and net errors become transport failures; anything else is
// UNKNOWN and not retryable.
func Classify(err error) *Error {
	var aggErr *Error
	if errors.As(err, &aggErr) {
		return aggErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewTransportError(err)
	}

	return &Error{
		Code:      CodeUnknown,
		Message:   "unclassified provider error",
		Retryable: false,
		Err:       err,
	}
}

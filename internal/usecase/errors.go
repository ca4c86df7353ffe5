package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrorAuthInvalid   ErrorCode = "AUTH_INVALID"
	ErrorQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	ErrorInternal      ErrorCode = "INTERNAL_ERROR"
)

// Error is the only error type crossing the usecase boundary. AuthInvalid and
// QuotaExceeded are the sole codes the transport layer may distinguish; every
// other failure collapses to internal. Limit is set only for QuotaExceeded so
// the caller can render a precise denial message.
type Error struct {
	Code   ErrorCode
	Reason string
	Limit  int
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func newQuotaError(limit int) *Error {
	return &Error{Code: ErrorQuotaExceeded, Reason: "daily_limit_reached", Limit: limit}
}

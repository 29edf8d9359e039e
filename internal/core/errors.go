// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Errorf creates a new error with the same code and a formatted cause.
func Errorf(base *Error, format string, args ...any) *Error {
	return WrapError(base, fmt.Errorf(format, args...))
}

// Predefined errors
var (
	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}

	// Causality errors
	ErrOutOfOrderSignal = &Error{Code: "OUT_OF_ORDER_SIGNAL", Message: "signal event out of time order"}
	ErrOutOfOrderBar    = &Error{Code: "OUT_OF_ORDER_BAR", Message: "bar out of time order"}

	// Execution errors
	ErrInsufficientLiquidity = &Error{Code: "INSUFFICIENT_LIQUIDITY", Message: "no fill possible for bar"}
	ErrInvalidOrder          = &Error{Code: "INVALID_ORDER", Message: "order invalid"}

	// Data errors
	ErrNoData           = &Error{Code: "NO_DATA", Message: "no data available"}
	ErrInvalidBar       = &Error{Code: "INVALID_BAR", Message: "bar invalid"}
	ErrInsufficientData = &Error{Code: "INSUFFICIENT_DATA", Message: "insufficient data for metrics"}
	ErrProviderFailed   = &Error{Code: "PROVIDER_FAILED", Message: "data provider failed"}

	// Strategy errors
	ErrUnknownStrategy = &Error{Code: "UNKNOWN_STRATEGY", Message: "unknown strategy"}

	// Run errors
	ErrRunCancelled = &Error{Code: "RUN_CANCELLED", Message: "run cancelled between bars"}
	ErrRunFailed    = &Error{Code: "RUN_FAILED", Message: "run failed"}

	// API errors
	ErrJobNotFound = &Error{Code: "JOB_NOT_FOUND", Message: "job not found"}
)

package contracts

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error category.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodePolicyUnavailable   Code = "POLICY_UNAVAILABLE"
	CodeFraudBlocked        Code = "FRAUD_BLOCKED"
	CodeCapExceeded         Code = "CAP_EXCEEDED"
	CodeLedgerPaused        Code = "LEDGER_PAUSED"
	CodeLedgerNonceConflict Code = "LEDGER_NONCE_CONFLICT"
	CodeInsufficientBalance Code = "INSUFFICIENT_LEDGER_BALANCE"
	CodeSignatureRejected   Code = "SIGNATURE_REJECTED_BY_USER"
	CodeNotFound            Code = "NOT_FOUND"
	CodeHoldPending         Code = "HOLD_PENDING"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInternal            Code = "INTERNAL"
)

var retryable = map[Code]bool{
	CodePolicyUnavailable:   true,
	CodeLedgerPaused:        true,
	CodeLedgerNonceConflict: true,
	CodeInsufficientBalance: true,
}

var userMessages = map[Code]string{
	CodeLedgerPaused:        "Minting is temporarily paused. Your reward is safe, please try again later.",
	CodeLedgerNonceConflict: "Another transaction for your account is in progress. Please retry in a moment.",
	CodeInsufficientBalance: "The reward pool cannot cover this amount right now. Please try again later.",
	CodeSignatureRejected:   "The transaction was rejected in your wallet. You can try again whenever you are ready.",
	CodeFraudBlocked:        "This account is under review and cannot receive rewards at the moment.",
	CodeCapExceeded:         "You have reached the action limit for now. Please try again later.",
	CodeHoldPending:         "This reward is still in its holding period.",
}

var httpStatus = map[Code]int{
	CodeValidation:          http.StatusBadRequest,
	CodePolicyUnavailable:   http.StatusServiceUnavailable,
	CodeFraudBlocked:        http.StatusForbidden,
	CodeCapExceeded:         http.StatusTooManyRequests,
	CodeLedgerPaused:        http.StatusServiceUnavailable,
	CodeLedgerNonceConflict: http.StatusConflict,
	CodeInsufficientBalance: http.StatusServiceUnavailable,
	CodeSignatureRejected:   http.StatusUnprocessableEntity,
	CodeNotFound:            http.StatusNotFound,
	CodeHoldPending:         http.StatusConflict,
	CodeInvalidTransition:   http.StatusConflict,
	CodeUnauthorized:        http.StatusUnauthorized,
}

// HTTPStatus maps a code to the status used on the wire.
func HTTPStatus(code Code) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is the engine's typed error. Reason is a stable, machine-readable
// sub-code such as "age_gate_daily_cap" or "risk_suspended".
type Error struct {
	Code      Code   `json:"code"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && (t.Reason == "" || t.Reason == e.Reason)
}

// UserMessage returns the human-readable text shown to end users.
func (e *Error) UserMessage() string {
	if m, ok := userMessages[e.Code]; ok {
		return m
	}
	return e.Message
}

// NewError builds an Error whose retryability follows its code.
func NewError(code Code, reason, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Reason:    reason,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryable[code],
	}
}

// WrapError attaches cause to a new Error.
func WrapError(code Code, reason string, cause error) *Error {
	e := NewError(code, reason, "%v", cause)
	e.Err = cause
	return e
}

func ValidationError(reason, format string, args ...any) *Error {
	return NewError(CodeValidation, reason, format, args...)
}

func FraudBlocked(reason, format string, args ...any) *Error {
	return NewError(CodeFraudBlocked, reason, format, args...)
}

func CapExceeded(reason, format string, args ...any) *Error {
	return NewError(CodeCapExceeded, reason, format, args...)
}

func NotFound(what, id string) *Error {
	return NewError(CodeNotFound, what, "%s %q not found", what, id)
}

// Sentinels for errors.Is comparisons.
var (
	ErrPolicyUnavailable   = &Error{Code: CodePolicyUnavailable}
	ErrLedgerPaused        = &Error{Code: CodeLedgerPaused}
	ErrLedgerNonceConflict = &Error{Code: CodeLedgerNonceConflict}
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance}
	ErrSignatureRejected   = &Error{Code: CodeSignatureRejected}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrFraudBlocked        = &Error{Code: CodeFraudBlocked}
	ErrCapExceeded         = &Error{Code: CodeCapExceeded}
	ErrValidation          = &Error{Code: CodeValidation}
)

// AsError extracts the engine error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return CodeInternal
}

// ReasonOf returns the reason carried by err.
func ReasonOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Reason
	}
	return ""
}

// IsRetryable reports whether err may succeed when retried later.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

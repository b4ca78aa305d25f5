// Package apierror is the exchange's structured error type: the
// Binance-compatible {"code": <negative int>, "msg": "..."} error response
// shape.
package apierror

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// Code is a Binance-compatible negative error code.
type Code int

// Binance-compatible codes known to this core. Binance reserves negative numbers;
// the exact values below match the real exchange's for the cases handled
// explicitly here (-1021 timestamp skew, -2014 bad api-key format) so REST
// clients written against Binance need no changes.
const (
	CodeUnknown           Code = -1000
	CodeDisconnected      Code = -1001
	CodeUnauthorized      Code = -1002
	CodeTooManyRequests   Code = -1003
	CodeUnexpectedResp    Code = -1006
	CodeTimeout           Code = -1007
	CodeInvalidMessage    Code = -1013
	CodeUnknownOrderComp  Code = -1014
	CodeBadPrecision      Code = -1015
	CodeNewOrderRejected  Code = -1008
	CodeCancelRejected    Code = -1010
	CodeNoSuchOrder       Code = -2011
	CodeNoSuchSymbol      Code = -1121
	CodeBadRecvWindow     Code = -1021
	CodeBadAPIKeyFmt      Code = -2014
	CodeRejectedMBXKey    Code = -2015
	CodeInsufficientFunds Code = -2019
	CodeDuplicateClientID Code = -2026
	CodeFilterFailure     Code = -1013
)

// Severity classifies an error for logging/alerting purposes.
type Severity string

const (
	SeverityValidation  Severity = "validation"
	SeverityAuth        Severity = "auth"
	SeverityBusiness    Severity = "business"
	SeverityTransient   Severity = "transient"
	SeverityFatal       Severity = "fatal"
)

// Error is the structured error every public operation returns on failure.
type Error struct {
	Code      Code     `json:"code"`
	Msg       string   `json:"msg"`
	Severity  Severity `json:"-"`
	RequestID string   `json:"-"`
	Cause     error    `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error, stamping a fresh ksuid for cross-log correlation.
func New(code Code, severity Severity, msg string) *Error {
	return &Error{Code: code, Msg: msg, Severity: severity, RequestID: ksuid.New().String()}
}

// Newf is New with fmt.Sprintf-style formatting of msg.
func Newf(code Code, severity Severity, format string, args ...interface{}) *Error {
	return New(code, severity, fmt.Sprintf(format, args...))
}

// WithCause attaches an underlying cause and returns the receiver for chaining.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Common, frequently-reused errors.
func UnknownSymbol(symbol string) *Error {
	return Newf(CodeNoSuchSymbol, SeverityValidation, "unknown symbol %s", symbol)
}

func InvalidOrder(reason string) *Error {
	return Newf(CodeNewOrderRejected, SeverityValidation, "invalid order: %s", reason)
}

func InsufficientBalance() *Error {
	return New(CodeInsufficientFunds, SeverityBusiness, "insufficient balance")
}

func UnknownOrder() *Error {
	return New(CodeNoSuchOrder, SeverityBusiness, "unknown order")
}

func Unauthorized(reason string) *Error {
	return Newf(CodeUnauthorized, SeverityAuth, "unauthorized: %s", reason)
}

func DuplicateClientOrderID() *Error {
	return New(CodeDuplicateClientID, SeverityBusiness, "duplicate client order id")
}

func TimestampSkew() *Error {
	return New(CodeBadRecvWindow, SeverityAuth, "timestamp for this request is outside of the recvWindow")
}

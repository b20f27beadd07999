// Package errors defines the stable broker error taxonomy.
// Every failure that can reach an API client is represented as one of the
// codes below; nothing else leaks past the HTTP boundary.
package errors

import (
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable broker error code.
type Code string

const (
	CodeInvalidModel        Code = "INVALID_MODEL"
	CodeNoProviderAvailable Code = "NO_PROVIDER_AVAILABLE"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeProviderTimeout     Code = "PROVIDER_TIMEOUT"
	CodeProviderTransport   Code = "PROVIDER_TRANSPORT_ERROR"
	CodeProviderBadResponse Code = "PROVIDER_BAD_RESPONSE"
	CodeDuplicateRequest    Code = "DUPLICATE_REQUEST"
	CodeInternal            Code = "INTERNAL"
)

// Error is a standardized broker error carrying everything needed for
// logging, metrics, and the client-facing JSON envelope.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Retryable  bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d)", e.Code, e.Message, e.HTTPStatus)
}

// HTTPStatusCode returns the HTTP status to use for this error.
func (e *Error) HTTPStatusCode() int {
	if e.HTTPStatus > 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// NewInvalidModelError builds an INVALID_MODEL error (400).
func NewInvalidModelError(message string) *Error {
	return &Error{Code: CodeInvalidModel, Message: message, HTTPStatus: http.StatusBadRequest}
}

// NewNoProviderAvailableError builds a NO_PROVIDER_AVAILABLE error (400).
func NewNoProviderAvailableError(message string) *Error {
	return &Error{Code: CodeNoProviderAvailable, Message: message, HTTPStatus: http.StatusBadRequest}
}

// NewInsufficientBalanceError builds an INSUFFICIENT_BALANCE error (402).
// message should include the required and available amounts per spec.
func NewInsufficientBalanceError(message string) *Error {
	return &Error{Code: CodeInsufficientBalance, Message: message, HTTPStatus: http.StatusPaymentRequired}
}

// NewProviderTimeoutError builds a PROVIDER_TIMEOUT error (504).
func NewProviderTimeoutError(message string) *Error {
	return &Error{Code: CodeProviderTimeout, Message: message, HTTPStatus: http.StatusGatewayTimeout, Retryable: true}
}

// NewProviderTransportError builds a PROVIDER_TRANSPORT_ERROR error (502).
func NewProviderTransportError(message string) *Error {
	return &Error{Code: CodeProviderTransport, Message: message, HTTPStatus: http.StatusBadGateway, Retryable: true}
}

// NewProviderBadResponseError builds a PROVIDER_BAD_RESPONSE error (502).
func NewProviderBadResponseError(message string) *Error {
	return &Error{Code: CodeProviderBadResponse, Message: message, HTTPStatus: http.StatusBadGateway}
}

// NewDuplicateRequestError builds a DUPLICATE_REQUEST error (409): the
// idempotency key was already used by a request still within its
// dedup window.
func NewDuplicateRequestError(message string) *Error {
	return &Error{Code: CodeDuplicateRequest, Message: message, HTTPStatus: http.StatusConflict}
}

// NewInternalError builds an INTERNAL error (500). message is never the raw
// underlying error text -- callers pass a request id or short description,
// never internals that could leak implementation details.
func NewInternalError(message string) *Error {
	return &Error{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError}
}

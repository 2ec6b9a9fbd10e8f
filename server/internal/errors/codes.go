package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies failures crossing the HTTP and websocket surfaces.
type ErrorCode string

const (
	// ErrCodeUnauthenticated indicates no principal could be resolved.
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	// ErrCodeForbidden indicates the principal may not access the resource.
	ErrCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeNotFound indicates the addressed resource does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeInternal indicates an unexpected server failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Websocket close codes. 4000-4999 are application defined.
const (
	CloseUnauthenticated  = 4001
	CloseForbidden        = 4003
	CloseHandshakeTimeout = 4008
	CloseInternal         = 1011
)

// Error is a structured error carrying a code.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	// ErrAuthentication is matched by every unauthenticated error.
	ErrAuthentication = &Error{Code: ErrCodeUnauthenticated, Message: "authentication required"}
	// ErrAuthorization is matched by every forbidden error.
	ErrAuthorization = &Error{Code: ErrCodeForbidden, Message: "access denied"}
)

// Unauthenticated creates an unauthenticated error.
func Unauthenticated(msg string) *Error {
	return &Error{Code: ErrCodeUnauthenticated, Message: msg}
}

// Forbidden creates a forbidden error.
func Forbidden(msg string) *Error {
	return &Error{Code: ErrCodeForbidden, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: msg}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *Error {
	return &Error{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// Timeout creates a timeout error.
func Timeout(msg string) *Error {
	return &Error{Code: ErrCodeTimeout, Message: msg}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// GetCodeFromError extracts the error code from any error in the chain.
// Returns the provided default code if there is none.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return defaultCode
}

// HTTPStatus maps a code to the HTTP status the REST handlers answer with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// CloseCode maps a handshake failure to the websocket close code sent to the client.
func CloseCode(err error) int {
	switch GetCodeFromError(err, ErrCodeInternal) {
	case ErrCodeUnauthenticated:
		return CloseUnauthenticated
	case ErrCodeForbidden, ErrCodeNotFound, ErrCodeInvalidArgument:
		return CloseForbidden
	case ErrCodeTimeout:
		return CloseHandshakeTimeout
	default:
		return CloseInternal
	}
}

// Package apierr defines the gateway's error taxonomy: a small typed error
// carrying a stable code and an HTTP status, so the HTTP boundary can
// translate any failure into the documented error body without guessing.
package apierr

import "net/http"

// Error is a gateway-level error with a stable code and HTTP status.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newErr(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// InvalidPayload is raised on a missing/invalid request field, an
// unresolvable API key, or a missing media source.
func InvalidPayload(message string) *Error {
	return newErr("INVALID_PAYLOAD", http.StatusBadRequest, message)
}

// Unauthorized is raised when the bearer token is missing or mismatched.
func Unauthorized(message string) *Error {
	return newErr("UNAUTHORIZED", http.StatusUnauthorized, message)
}

// SessionNotFound is raised when no DB record exists for an agent_id.
func SessionNotFound(message string) *Error {
	return newErr("SESSION_NOT_FOUND", http.StatusNotFound, message)
}

// SessionNotReady is raised when an operation requires is_ready, or a QR
// wait timed out.
func SessionNotReady(message string) *Error {
	return newErr("SESSION_NOT_READY", http.StatusConflict, message)
}

// MediaTooLarge is raised when media exceeds 10 MiB, or remote size is
// unknown.
func MediaTooLarge(message string) *Error {
	return newErr("MEDIA_TOO_LARGE", http.StatusRequestEntityTooLarge, message)
}

// RateLimited is raised when a per-agent queue is saturated.
func RateLimited(message string) *Error {
	return newErr("RATE_LIMITED", http.StatusTooManyRequests, message)
}

// BadGateway is raised when remote media inspection fails, or as a generic
// wrap for otherwise-unclassified upstream failures.
func BadGateway(message string) *Error {
	return newErr("BAD_GATEWAY", http.StatusBadGateway, message)
}

// AIDownstreamError is raised when the AI call fails for any reason other
// than a timeout.
func AIDownstreamError(message string) *Error {
	return newErr("AI_DOWNSTREAM_ERROR", http.StatusBadGateway, message)
}

// AITimeout is raised when the AI call exceeds its 60s deadline.
func AITimeout(message string) *Error {
	return newErr("AI_TIMEOUT", http.StatusGatewayTimeout, message)
}

// As extracts an *Error from err, falling back to a BAD_GATEWAY-shaped
// wrapper for anything that isn't already one of ours.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return newErr("BAD_GATEWAY", http.StatusBadGateway, err.Error())
}

// Package errors provides the structured error taxonomy shared by the auth,
// rate-limiting, and realtime layers, with HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates invalid input (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeAuthInvalid indicates a bad credential or signature (HTTP 401)
	TypeAuthInvalid ErrorType = "auth_invalid"
	// TypeAuthExpired indicates an expired token (HTTP 401)
	TypeAuthExpired ErrorType = "auth_expired"
	// TypeAuthRevoked indicates a blacklisted token (HTTP 401)
	TypeAuthRevoked ErrorType = "auth_revoked"
	// TypeAuthMalformed indicates a structurally broken token (HTTP 400)
	TypeAuthMalformed ErrorType = "auth_malformed"
	// TypeForbidden indicates a missing permission (HTTP 403)
	TypeForbidden ErrorType = "forbidden"
	// TypeRateLimit indicates an exhausted rate window (HTTP 429)
	TypeRateLimit ErrorType = "rate_limited"
	// TypeSubscription indicates a malformed subscription key (HTTP 400)
	TypeSubscription ErrorType = "subscription"
	// TypeTransport indicates a transient connection failure (HTTP 502)
	TypeTransport ErrorType = "transport"
	// TypeExhausted indicates reconnect attempts are used up; the caller
	// must explicitly reconnect (client-side terminal, HTTP 503 if surfaced)
	TypeExhausted ErrorType = "retries_exhausted"
	// TypeInternal indicates server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation, TypeAuthMalformed, TypeSubscription:
		return http.StatusBadRequest
	case TypeAuthInvalid, TypeAuthExpired, TypeAuthRevoked:
		return http.StatusUnauthorized
	case TypeForbidden:
		return http.StatusForbidden
	case TypeRateLimit:
		return http.StatusTooManyRequests
	case TypeTransport:
		return http.StatusBadGateway
	case TypeExhausted:
		return http.StatusServiceUnavailable
	case TypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return newError(TypeValidation, message)
}

// AuthInvalidError creates an invalid-credential error (HTTP 401).
func AuthInvalidError(message string) *Error {
	return newError(TypeAuthInvalid, message)
}

// AuthExpiredError creates an expired-token error (HTTP 401).
func AuthExpiredError(message string) *Error {
	return newError(TypeAuthExpired, message)
}

// AuthRevokedError creates a revoked-token error (HTTP 401).
func AuthRevokedError(message string) *Error {
	return newError(TypeAuthRevoked, message)
}

// AuthMalformedError creates a malformed-token error (HTTP 400).
func AuthMalformedError(message string) *Error {
	return newError(TypeAuthMalformed, message)
}

// ForbiddenError creates a missing-permission error (HTTP 403).
func ForbiddenError(message string) *Error {
	return newError(TypeForbidden, message)
}

// RateLimitError creates a rate-limit rejection (HTTP 429) carrying the
// exhausted tier and the seconds until the window resets.
func RateLimitError(tier string, retryAfterSeconds int) *Error {
	return newError(TypeRateLimit, "rate limit exceeded").
		WithContext("tier", tier).
		WithContext("retry_after_seconds", retryAfterSeconds)
}

// SubscriptionError creates a malformed-subscription-key error (HTTP 400).
func SubscriptionError(message string) *Error {
	return newError(TypeSubscription, message)
}

// TransportError wraps a transient connection failure.
func TransportError(message string, cause error) *Error {
	e := newError(TypeTransport, message)
	e.Cause = cause
	return e
}

// ExhaustedRetriesError signals that the reconnect attempt budget is spent.
func ExhaustedRetriesError(attempts int) *Error {
	return newError(TypeExhausted, "reconnect attempts exhausted").
		WithContext("attempts", attempts)
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	e := newError(TypeInternal, message)
	e.Cause = cause
	return e
}

func newError(t ErrorType, message string) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsType reports whether err is a structured error of the given type.
func IsType(err error, t ErrorType) bool {
	var structuredErr *Error
	return errors.As(err, &structuredErr) && structuredErr.Type == t
}

// IsAuthError reports whether err is any of the auth failure kinds.
func IsAuthError(err error) bool {
	var structuredErr *Error
	if !errors.As(err, &structuredErr) {
		return false
	}
	switch structuredErr.Type {
	case TypeAuthInvalid, TypeAuthExpired, TypeAuthRevoked, TypeAuthMalformed:
		return true
	}
	return false
}

// RetryAfter extracts the retry_after_seconds hint from a rate-limit error,
// returning (0, false) for any other error.
func RetryAfter(err error) (int, bool) {
	var structuredErr *Error
	if !errors.As(err, &structuredErr) || structuredErr.Type != TypeRateLimit {
		return 0, false
	}
	secs, ok := structuredErr.Context["retry_after_seconds"].(int)
	return secs, ok
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}

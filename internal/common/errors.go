// Package common defines shared constants and sentinel errors used across
// the server, the HTTP layer and the CLI client. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Usage gate errors.
	ErrInsufficientCredits = errors.New("no trial credits left")
	ErrRateLimited         = errors.New("too many requests")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Integration errors.
	ErrNotConfigured    = errors.New("not configured")
	ErrUpstream         = errors.New("upstream error")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Error carries a client-facing message on top of one of the sentinels
// above. errors.Is matches the sentinel; Error returns the message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// NewError wraps kind with a message safe to show to API clients.
func NewError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

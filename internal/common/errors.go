// Package common defines shared constants and sentinel errors used across
// client and server layers of gophsafe. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Component lifecycle and transport errors.
	ErrStopped = errors.New("component stopped")
	ErrOffline = errors.New("server unreachable")

	// Certificate errors. Typed errors carrying details match these with Is.
	ErrInvalidCertificate     = errors.New("invalid certificate")
	ErrTimestampOutOfBallpark = errors.New("timestamp out of ballpark")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// InternalError reports a fault that should never happen: a server answer that
// is valid on the wire but semantically impossible, or an unexpected storage
// failure. It always carries the raw response or the underlying fault.
type InternalError struct {
	Op       string
	Response any
	Err      error
}

func (e *InternalError) Error() string {
	switch {
	case e.Err != nil && e.Response != nil:
		return fmt.Sprintf("%s: internal error: %v (response: %+v)", e.Op, e.Err, e.Response)
	case e.Err != nil:
		return fmt.Sprintf("%s: internal error: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: internal error: unexpected response %+v", e.Op, e.Response)
	}
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) Is(target error) bool { return target == ErrorInternal }

// NewInternalError wraps an unexpected fault.
func NewInternalError(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}

// NewUnexpectedResponseError reports a response the caller cannot interpret.
func NewUnexpectedResponseError(op string, response any) error {
	return &InternalError{Op: op, Response: response}
}

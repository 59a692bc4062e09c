package certops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/events"
	"github.com/dmitrijs2005/gophsafe/internal/validation"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

// Rejections reported by the server, or detected locally before sending.
var (
	ErrAuthorNotAllowed      = errors.New("author not allowed")
	ErrCertificateRejected   = errors.New("certificate rejected by server")
	ErrUserNotFound          = errors.New("user not found")
	ErrUserAlreadyExists     = errors.New("user already exists")
	ErrUserRevoked           = errors.New("user revoked")
	ErrRealmNotFound         = errors.New("realm not found")
	ErrRealmBadKeyIndex      = errors.New("realm key index mismatch")
	ErrShamirRecoveryMissing = errors.New("shamir recovery not found")
)

// TimestampOutOfBallparkError is returned when the server refused a
// certificate because the local clock drifts too much from its own.
type TimestampOutOfBallparkError struct {
	ServerTimestamp           time.Time
	ClientTimestamp           time.Time
	BallparkClientEarlyOffset time.Duration
	BallparkClientLateOffset  time.Duration
}

func (e *TimestampOutOfBallparkError) Error() string {
	return fmt.Sprintf("timestamp out of ballpark: client %s, server %s (allowed -%s/+%s)",
		e.ClientTimestamp.Format(time.RFC3339Nano), e.ServerTimestamp.Format(time.RFC3339Nano),
		e.BallparkClientEarlyOffset, e.BallparkClientLateOffset)
}

func (e *TimestampOutOfBallparkError) Is(target error) bool {
	return target == common.ErrTimestampOutOfBallpark
}

// RejectedError carries the status and reason the server gave when it
// refused an action.
type RejectedError struct {
	Action string
	Status wire.Status
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %v (%s: %s)", e.Action, e.Err, e.Status, e.Reason)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Action, e.Err, e.Status)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// mapStoreError maps what can come out of a write transaction on the store
// to the errors callers of certops handle.
func (o *Ops) mapStoreError(ctx context.Context, op string, err error) error {
	var invalid *validation.InvalidCertificateError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrStopped),
		errors.Is(err, common.ErrOffline),
		errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrorInternal),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &invalid):
		o.logger.Error(ctx, "server sent an invalid certificate", "reason", invalid.Reason, "hint", invalid.Hint)
		o.events.Publish(events.EventInvalidCertificate{Err: err})
		return err
	default:
		return common.NewInternalError(op, err)
	}
}

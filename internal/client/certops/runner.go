package certops

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/events"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

type OutcomeKind int

const (
	// Uploaded: the server accepted our certificate.
	Uploaded OutcomeKind = iota
	// RemoteIdempotent: the server already had a certificate achieving the
	// same goal.
	RemoteIdempotent
	// LocalIdempotent: the local store showed nothing needed to be done, no
	// request was sent.
	LocalIdempotent
)

func (k OutcomeKind) String() string {
	switch k {
	case Uploaded:
		return "uploaded"
	case RemoteIdempotent:
		return "remote_idempotent"
	case LocalIdempotent:
		return "local_idempotent"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome of a certificate-based action. Timestamp is the one of the
// certificate that achieved the goal; it may be zero for LocalIdempotent
// outcomes of things that never existed.
type Outcome struct {
	Kind      OutcomeKind
	Timestamp time.Time
}

// action describes one certificate-based command.
type action struct {
	name  string
	topic certificates.Topic
	// send signs the certificate(s) stamped ts and uploads them.
	send func(ctx context.Context, ts time.Time) (*wire.ActionRep, error)
	// idempotent statuses mean the goal was already reached.
	idempotent []wire.Status
	rejected   map[wire.Status]error
}

// run uploads the action's certificate, taking a greater timestamp as long as
// the server asks for it, then polls so the local store holds the result.
func (o *Ops) run(ctx context.Context, a action) (Outcome, error) {
	logger := o.logger.With("action", a.name)
	ts := o.device.TimeProvider.Now()

	var outcome Outcome
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		rep, err := a.send(ctx, ts)
		if err != nil {
			return Outcome{}, err
		}

		if rep.Status == wire.StatusRequireGreaterTimestamp {
			ts = o.device.TimeProvider.GreaterTimestamp(rep.StrictlyGreaterThan)
			logger.Info(ctx, "server requires a greater timestamp, retrying",
				"strictly_greater_than", rep.StrictlyGreaterThan, "timestamp", ts)
			continue
		}

		outcome, err = o.outcome(ctx, a, ts, rep)
		if err != nil {
			return Outcome{}, err
		}
		break
	}

	logger.Debug(ctx, "action done", "outcome", outcome.Kind, "timestamp", outcome.Timestamp)

	var requirements *certificates.PerTopicLastTimestamps
	if !outcome.Timestamp.IsZero() {
		r := certificates.Requirement(a.topic, outcome.Timestamp)
		requirements = &r
	}
	if _, err := o.PollServerForNewCertificates(ctx, requirements); err != nil {
		// The action itself succeeded, the next poll catches up.
		logger.Warn(ctx, "poll after action failed", "error", err)
	}
	return outcome, nil
}

func (o *Ops) outcome(ctx context.Context, a action, ts time.Time, rep *wire.ActionRep) (Outcome, error) {
	switch {
	case rep.Status == wire.StatusOk:
		return Outcome{Kind: Uploaded, Timestamp: ts}, nil

	case rep.Status == wire.StatusTimestampOutOfBallpark:
		o.events.Publish(events.EventTooMuchDriftWithServerClock{
			ServerTimestamp:           rep.ServerTimestamp,
			ClientTimestamp:           rep.ClientTimestamp,
			BallparkClientEarlyOffset: rep.BallparkClientEarlyOffset,
			BallparkClientLateOffset:  rep.BallparkClientLateOffset,
		})
		o.logger.Warn(ctx, "clock drift with server", "server", rep.ServerTimestamp, "client", rep.ClientTimestamp)
		return Outcome{}, &TimestampOutOfBallparkError{
			ServerTimestamp:           rep.ServerTimestamp,
			ClientTimestamp:           rep.ClientTimestamp,
			BallparkClientEarlyOffset: rep.BallparkClientEarlyOffset,
			BallparkClientLateOffset:  rep.BallparkClientLateOffset,
		}
	}

	for _, s := range a.idempotent {
		if rep.Status == s {
			return Outcome{Kind: RemoteIdempotent, Timestamp: rep.LastCertificateTimestamp}, nil
		}
	}

	if err, ok := a.rejected[rep.Status]; ok {
		return Outcome{}, &RejectedError{Action: a.name, Status: rep.Status, Reason: rep.Reason, Err: err}
	}

	return Outcome{}, common.NewUnexpectedResponseError(a.name, rep)
}

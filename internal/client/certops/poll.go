package certops

import (
	"context"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/events"
	"github.com/dmitrijs2005/gophsafe/internal/validation"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

// PollServerForNewCertificates fetches the certificates newer than the local
// ledger and ingests them. When requirements is not nil and the ledger
// already covers it, nothing is fetched. It returns how many certificates
// were added.
func (o *Ops) PollServerForNewCertificates(ctx context.Context, requirements *certificates.PerTopicLastTimestamps) (int, error) {
	o.updateLock.Lock()
	defer o.updateLock.Unlock()

	var (
		added int
		last  certificates.PerTopicLastTimestamps
	)
	err := o.store.ForWrite(ctx, func(tx certstore.WriteTx) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			ledger := tx.LastTimestamps()
			if requirements != nil && ledger.Covers(*requirements) {
				return nil
			}

			rep, err := o.cmds.CertificateGet(ctx, wire.NewCertificateGetReq(ledger))
			if err != nil {
				return err
			}
			if rep.Status != wire.StatusOk {
				return common.NewUnexpectedResponseError("certificate_get", rep)
			}

			res, err := o.engine.AddCertificatesBatch(ctx, tx, validation.Batch{
				Common:         rep.Common,
				Sequester:      rep.Sequester,
				ShamirRecovery: rep.ShamirRecovery,
				Realm:          rep.Realm,
			})
			if err != nil {
				return err
			}
			if res.Switched {
				o.logger.Info(ctx, "redaction switch, fetching certificates again", "universe", tx.Universe())
				continue
			}

			added = res.NewCertificatesCount
			last = tx.LastTimestamps()
			return nil
		}
	})
	if err != nil {
		return 0, o.mapStoreError(ctx, "poll certificates", err)
	}

	if added > 0 {
		o.logger.Info(ctx, "new certificates", "count", added)
		o.events.Publish(events.EventNewCertificates{Count: added, Timestamps: last})
	}
	return added, nil
}

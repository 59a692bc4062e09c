// Package certops keeps the local certificate store in sync with the server
// and uploads the certificates produced by the user's actions.
//
// Every poll and ingestion runs under Ops' update lock, nested outside the
// store write lock, so a redaction switch and the refill that follows are
// seen by readers as a single change.
package certops

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/client/device"
	"github.com/dmitrijs2005/gophsafe/internal/events"
	"github.com/dmitrijs2005/gophsafe/internal/logging"
	"github.com/dmitrijs2005/gophsafe/internal/validation"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

// Commands is the part of the network command layer certops uses.
type Commands interface {
	CertificateGet(ctx context.Context, req *wire.CertificateGetReq) (*wire.CertificateGetRep, error)
	UserCreate(ctx context.Context, req *wire.UserCreateReq) (*wire.ActionRep, error)
	UserUpdate(ctx context.Context, req *wire.UserUpdateReq) (*wire.ActionRep, error)
	UserRevoke(ctx context.Context, req *wire.UserRevokeReq) (*wire.ActionRep, error)
	RealmCreate(ctx context.Context, req *wire.RealmCreateReq) (*wire.ActionRep, error)
	RealmRename(ctx context.Context, req *wire.RealmRenameReq) (*wire.ActionRep, error)
	RealmShare(ctx context.Context, req *wire.RealmShareReq) (*wire.ActionRep, error)
	RealmUnshare(ctx context.Context, req *wire.RealmUnshareReq) (*wire.ActionRep, error)
	ShamirRecoveryDelete(ctx context.Context, req *wire.ShamirRecoveryDeleteReq) (*wire.ActionRep, error)
}

type Ops struct {
	device *device.LocalDevice
	store  *certstore.Store
	cmds   Commands
	events events.Publisher
	logger logging.Logger
	engine *validation.Engine

	updateLock sync.Mutex
}

func New(dev *device.LocalDevice, store *certstore.Store, cmds Commands, pub events.Publisher, logger logging.Logger) *Ops {
	logger = logger.With("module", "certops")
	return &Ops{
		device: dev,
		store:  store,
		cmds:   cmds,
		events: pub,
		logger: logger,
		engine: &validation.Engine{
			RootVerifyKey: dev.RootVerifyKey,
			LocalUserID:   dev.UserID,
			Sequestered:   dev.Sequestered,
			Logger:        logger,
		},
	}
}

// Store gives read access to the local certificates.
func (o *Ops) Store() *certstore.Store { return o.store }

func (o *Ops) Device() *device.LocalDevice { return o.device }

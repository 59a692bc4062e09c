package client

import (
	"context"

	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

// Client is the network command layer.
type Client interface {
	Close() error
	Ping(ctx context.Context) error
	CertificateGet(ctx context.Context, req *wire.CertificateGetReq) (*wire.CertificateGetRep, error)
	OrganizationBootstrap(ctx context.Context, req *wire.OrganizationBootstrapReq) (*wire.ActionRep, error)
	UserCreate(ctx context.Context, req *wire.UserCreateReq) (*wire.ActionRep, error)
	UserUpdate(ctx context.Context, req *wire.UserUpdateReq) (*wire.ActionRep, error)
	UserRevoke(ctx context.Context, req *wire.UserRevokeReq) (*wire.ActionRep, error)
	RealmCreate(ctx context.Context, req *wire.RealmCreateReq) (*wire.ActionRep, error)
	RealmRename(ctx context.Context, req *wire.RealmRenameReq) (*wire.ActionRep, error)
	RealmShare(ctx context.Context, req *wire.RealmShareReq) (*wire.ActionRep, error)
	RealmUnshare(ctx context.Context, req *wire.RealmUnshareReq) (*wire.ActionRep, error)
	ShamirRecoveryDelete(ctx context.Context, req *wire.ShamirRecoveryDeleteReq) (*wire.ActionRep, error)
}

// Package grpc exposes the organization service over gRPC. Every command
// except Ping and OrganizationBootstrap requires an access token signed by a
// device of the organization.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/logging"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
	"google.golang.org/grpc"
)

// Service is the organization logic the handlers delegate to.
type Service interface {
	DeviceVerifyKey(device certificates.DeviceID) (cryptox.VerifyKey, error)
	CertificateGet(ctx context.Context, device certificates.DeviceID, req *wire.CertificateGetReq) (*wire.CertificateGetRep, error)
	Bootstrap(ctx context.Context, req *wire.OrganizationBootstrapReq) (*wire.ActionRep, error)
	UserCreate(ctx context.Context, author certificates.DeviceID, req *wire.UserCreateReq) (*wire.ActionRep, error)
	UserUpdate(ctx context.Context, author certificates.DeviceID, req *wire.UserUpdateReq) (*wire.ActionRep, error)
	UserRevoke(ctx context.Context, author certificates.DeviceID, req *wire.UserRevokeReq) (*wire.ActionRep, error)
	RealmCreate(ctx context.Context, author certificates.DeviceID, req *wire.RealmCreateReq) (*wire.ActionRep, error)
	RealmRename(ctx context.Context, author certificates.DeviceID, req *wire.RealmRenameReq) (*wire.ActionRep, error)
	RealmShare(ctx context.Context, author certificates.DeviceID, req *wire.RealmShareReq) (*wire.ActionRep, error)
	RealmUnshare(ctx context.Context, author certificates.DeviceID, req *wire.RealmUnshareReq) (*wire.ActionRep, error)
	ShamirRecoveryDelete(ctx context.Context, author certificates.DeviceID, req *wire.ShamirRecoveryDeleteReq) (*wire.ActionRep, error)
}

type GRPCServer struct {
	address string
	service Service
	logger  logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, svc Service) *GRPCServer {
	return &GRPCServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		service: svc,
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	srv.RegisterService(&wire.ServiceDesc, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}

var _ wire.CertificatesServer = (*GRPCServer)(nil)

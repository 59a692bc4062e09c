package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/server/organization"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func (s *GRPCServer) Ping(ctx context.Context, req *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(wire.PingOK), nil
}

// toStatus maps service errors to gRPC codes. Refused certificates are not
// errors: they travel in the reply status.
func (s *GRPCServer) toStatus(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, organization.ErrNotBootstrapped):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.PermissionDenied, "unauthorized")
	case errors.Is(err, common.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	s.logger.Error(ctx, "request failed", "op", op, "error", err)
	return status.Error(codes.Internal, "internal error")
}

func (s *GRPCServer) CertificateGet(ctx context.Context, req *wire.CertificateGetReq) (*wire.CertificateGetRep, error) {
	device, ok := deviceFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	rep, err := s.service.CertificateGet(ctx, device, req)
	if err != nil {
		return nil, s.toStatus(ctx, "certificate_get", err)
	}

	s.logger.Debug(ctx, "certificates served", "device", device, "common", len(rep.Common), "realms", len(rep.Realm))
	return rep, nil
}

func (s *GRPCServer) OrganizationBootstrap(ctx context.Context, req *wire.OrganizationBootstrapReq) (*wire.ActionRep, error) {
	s.logger.Info(ctx, "Bootstrap request")

	rep, err := s.service.Bootstrap(ctx, req)
	if err != nil {
		return nil, s.toStatus(ctx, "organization_bootstrap", err)
	}
	return rep, nil
}

// action runs a command on behalf of the authenticated device.
func (s *GRPCServer) action(ctx context.Context, op string, call func(device certificates.DeviceID) (*wire.ActionRep, error)) (*wire.ActionRep, error) {
	device, ok := deviceFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	rep, err := call(device)
	if err != nil {
		return nil, s.toStatus(ctx, op, err)
	}
	return rep, nil
}

func (s *GRPCServer) UserCreate(ctx context.Context, req *wire.UserCreateReq) (*wire.ActionRep, error) {
	return s.action(ctx, "user_create", func(d certificates.DeviceID) (*wire.ActionRep, error) {
		return s.service.UserCreate(ctx, d, req)
	})
}

func (s *GRPCServer) UserUpdate(ctx context.Context, req *wire.UserUpdateReq) (*wire.ActionRep, error) {
	return s.action(ctx, "user_update", func(d certificates.DeviceID) (*wire.ActionRep, error) {
		return s.service.UserUpdate(ctx, d, req)
	})
}

func (s *GRPCServer) UserRevoke(ctx context.Context, req *wire.UserRevokeReq) (*wire.ActionRep, error) {
	return s.action(ctx, "user_revoke", func(d certificates.DeviceID) (*wire.ActionRep, error) {
		return s.service.UserRevoke(ctx, d, req)
	})
}

func (s *GRPCServer) RealmCreate(ctx context.Context, req *wire.RealmCreateReq) (*wire.ActionRep, error) {
	return s.action(ctx, "realm_create", func(d certificates.DeviceID) (*wire.ActionRep, error) {
		return s.service.RealmCreate(ctx, d, req)
	})
}

func (s *GRPCServer) RealmRename(ctx context.Context, req *wire.RealmRenameReq) (*wire.ActionRep, error) {
	return s.action(ctx, "realm_rename", func(d certificates.DeviceID) (*wire.ActionRep, error) {
		return s.service.RealmRename(ctx, d, req)
	})
}

func (s *GRPCServer) RealmShare(ctx context.Context, req *wire.RealmShareReq) (*wire.ActionRep, error) {
	return s.action(ctx, "realm_share", func(d certificates.DeviceID) (*wire.ActionRep, error) {
		return s.service.RealmShare(ctx, d, req)
	})
}

func (s *GRPCServer) RealmUnshare(ctx context.Context, req *wire.RealmUnshareReq) (*wire.ActionRep, error) {
	return s.action(ctx, "realm_unshare", func(d certificates.DeviceID) (*wire.ActionRep, error) {
		return s.service.RealmUnshare(ctx, d, req)
	})
}

func (s *GRPCServer) ShamirRecoveryDelete(ctx context.Context, req *wire.ShamirRecoveryDeleteReq) (*wire.ActionRep, error) {
	return s.action(ctx, "shamir_recovery_delete", func(d certificates.DeviceID) (*wire.ActionRep, error) {
		return s.service.ShamirRecoveryDelete(ctx, d, req)
	})
}

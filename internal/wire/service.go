package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "gophsafe.v1.Certificates"

const (
	MethodPing                  = "/" + ServiceName + "/Ping"
	MethodCertificateGet        = "/" + ServiceName + "/CertificateGet"
	MethodOrganizationBootstrap = "/" + ServiceName + "/OrganizationBootstrap"
	MethodUserCreate            = "/" + ServiceName + "/UserCreate"
	MethodUserUpdate            = "/" + ServiceName + "/UserUpdate"
	MethodUserRevoke            = "/" + ServiceName + "/UserRevoke"
	MethodRealmCreate           = "/" + ServiceName + "/RealmCreate"
	MethodRealmRename           = "/" + ServiceName + "/RealmRename"
	MethodRealmShare            = "/" + ServiceName + "/RealmShare"
	MethodRealmUnshare          = "/" + ServiceName + "/RealmUnshare"
	MethodShamirRecoveryDelete  = "/" + ServiceName + "/ShamirRecoveryDelete"
)

// PingOK is the value returned by a healthy server.
const PingOK = "OK"

// CertificatesServer is implemented by the server handler.
type CertificatesServer interface {
	Ping(ctx context.Context, req *emptypb.Empty) (*wrapperspb.StringValue, error)
	CertificateGet(ctx context.Context, req *CertificateGetReq) (*CertificateGetRep, error)
	OrganizationBootstrap(ctx context.Context, req *OrganizationBootstrapReq) (*ActionRep, error)
	UserCreate(ctx context.Context, req *UserCreateReq) (*ActionRep, error)
	UserUpdate(ctx context.Context, req *UserUpdateReq) (*ActionRep, error)
	UserRevoke(ctx context.Context, req *UserRevokeReq) (*ActionRep, error)
	RealmCreate(ctx context.Context, req *RealmCreateReq) (*ActionRep, error)
	RealmRename(ctx context.Context, req *RealmRenameReq) (*ActionRep, error)
	RealmShare(ctx context.Context, req *RealmShareReq) (*ActionRep, error)
	RealmUnshare(ctx context.Context, req *RealmUnshareReq) (*ActionRep, error)
	ShamirRecoveryDelete(ctx context.Context, req *ShamirRecoveryDeleteReq) (*ActionRep, error)
}

// unary adapts a typed server method to grpc.MethodHandler, the way generated
// code does for each method.
func unary[Req, Rep any](fullMethod string, call func(CertificatesServer, context.Context, *Req) (*Rep, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CertificatesServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CertificatesServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the certificate service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CertificatesServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: unary(MethodPing, CertificatesServer.Ping)},
		{MethodName: "CertificateGet", Handler: unary(MethodCertificateGet, CertificatesServer.CertificateGet)},
		{MethodName: "OrganizationBootstrap", Handler: unary(MethodOrganizationBootstrap, CertificatesServer.OrganizationBootstrap)},
		{MethodName: "UserCreate", Handler: unary(MethodUserCreate, CertificatesServer.UserCreate)},
		{MethodName: "UserUpdate", Handler: unary(MethodUserUpdate, CertificatesServer.UserUpdate)},
		{MethodName: "UserRevoke", Handler: unary(MethodUserRevoke, CertificatesServer.UserRevoke)},
		{MethodName: "RealmCreate", Handler: unary(MethodRealmCreate, CertificatesServer.RealmCreate)},
		{MethodName: "RealmRename", Handler: unary(MethodRealmRename, CertificatesServer.RealmRename)},
		{MethodName: "RealmShare", Handler: unary(MethodRealmShare, CertificatesServer.RealmShare)},
		{MethodName: "RealmUnshare", Handler: unary(MethodRealmUnshare, CertificatesServer.RealmUnshare)},
		{MethodName: "ShamirRecoveryDelete", Handler: unary(MethodShamirRecoveryDelete, CertificatesServer.ShamirRecoveryDelete)},
	},
	Metadata: "gophsafe/certificates",
}

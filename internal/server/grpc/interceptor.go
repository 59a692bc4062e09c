package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophsafe/internal/auth"
	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const deviceIDKey ctxKey = "deviceID"

// anonymousMethods are reachable without an access token.
var anonymousMethods = map[string]bool{
	wire.MethodPing:                  true,
	wire.MethodOrganizationBootstrap: true,
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if anonymousMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	device, err := auth.GetDeviceIDFromToken(accessToken, s.service.DeviceVerifyKey)
	if err != nil {
		// Clients mint a new token when told theirs expired.
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
		}
		s.logger.Warn(ctx, "access token refused", "method", info.FullMethod, "error", err)
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	ctx = context.WithValue(ctx, deviceIDKey, device)

	return handler(ctx, req)
}

func deviceFromContext(ctx context.Context) (certificates.DeviceID, bool) {
	device, ok := ctx.Value(deviceIDKey).(certificates.DeviceID)
	return device, ok && device != ""
}

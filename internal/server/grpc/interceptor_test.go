package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/auth"
	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func newTestServer(svc Service) *GRPCServer {
	return &GRPCServer{logger: nopLogger{}, service: svc}
}

func withToken(token string) context.Context {
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: token})
	return metadata.NewIncomingContext(context.Background(), md)
}

func knownDevice(t *testing.T, svc *fakeService) (certificates.DeviceID, cryptox.SigningKey) {
	t.Helper()
	key, err := cryptox.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	device := certificates.NewDeviceID()
	svc.keys[device] = key.VerifyKey()
	return device, key
}

func TestInterceptor_AnonymousMethodsWithoutToken(t *testing.T) {
	s := newTestServer(newFakeService())

	for _, method := range []string{wire.MethodPing, wire.MethodOrganizationBootstrap} {
		handlerCalled := false
		h := func(ctx context.Context, req interface{}) (interface{}, error) {
			handlerCalled = true
			return "ok", nil
		}

		resp, err := s.accessTokenInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: method}, h)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", method, err)
		}
		if !handlerCalled || resp != "ok" {
			t.Fatalf("%s: handler not called (resp %v)", method, resp)
		}
	}
}

func TestInterceptor_MissingToken(t *testing.T) {
	s := newTestServer(newFakeService())
	info := &grpc.UnaryServerInfo{FullMethod: wire.MethodCertificateGet}

	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called when token missing")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
	}
	if status.Convert(err).Message() != "missing token" {
		t.Fatalf("expected 'missing token', got %q", status.Convert(err).Message())
	}
}

func TestInterceptor_RefusedTokens(t *testing.T) {
	svc := newFakeService()
	s := newTestServer(svc)
	device, key := knownDevice(t, svc)
	info := &grpc.UnaryServerInfo{FullMethod: wire.MethodUserCreate}

	stranger, err := cryptox.GenerateSigningKey()
	if err != nil {
		t.Fatal(err)
	}
	forged, err := auth.GenerateToken(device, stranger, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	unknown, err := auth.GenerateToken(certificates.NewDeviceID(), key, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := auth.GenerateToken(device, key, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{"garbage", "not-a-valid-jwt", "invalid token"},
		{"forged signature", forged, "invalid token"},
		{"unknown device", unknown, "invalid token"},
		{"expired", expired, common.ErrTokenExpired.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := func(ctx context.Context, req interface{}) (interface{}, error) {
				t.Fatal("handler should not be called")
				return nil, nil
			}
			_, err := s.accessTokenInterceptor(withToken(tt.token), nil, info, h)
			if status.Code(err) != codes.Unauthenticated {
				t.Fatalf("expected Unauthenticated, got %v", status.Code(err))
			}
			if got := status.Convert(err).Message(); got != tt.message {
				t.Fatalf("message = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestInterceptor_ValidToken_SetsDeviceID(t *testing.T) {
	svc := newFakeService()
	s := newTestServer(svc)
	device, key := knownDevice(t, svc)

	token, err := auth.GenerateToken(device, key, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	var got certificates.DeviceID
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		got, _ = deviceFromContext(ctx)
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(withToken(token), nil, &grpc.UnaryServerInfo{FullMethod: wire.MethodCertificateGet}, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected handler resp: %v", resp)
	}
	if got != device {
		t.Fatalf("device id not propagated in context: got %v want %v", got, device)
	}
}

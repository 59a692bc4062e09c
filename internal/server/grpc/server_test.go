package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/client/client"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/logging"
	"github.com/dmitrijs2005/gophsafe/internal/server/organization"
	certrepo "github.com/dmitrijs2005/gophsafe/internal/server/repositories/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/testbed"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type nopLogger struct{}

func (n nopLogger) Debug(context.Context, string, ...any) {}
func (n nopLogger) Info(context.Context, string, ...any)  {}
func (n nopLogger) Warn(context.Context, string, ...any)  {}
func (n nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger            { return n }

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:0", nopLogger{}, newFakeService())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", nopLogger{}, newFakeService())
	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}

// startServer serves a real organization service over an in-memory
// listener and returns a dialer for clients.
func startServer(t *testing.T, svc *organization.Service) grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())

	srv := NewGRPCServer("bufnet", nopLogger{}, svc)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	org := testbed.NewOrganization(t)
	svc := organization.NewService(certrepo.NewMemoryRepository(), organization.Config{}, nopLogger{},
		organization.WithNowFunc(func() time.Time { return testbed.T0 }))
	dialer := startServer(t, svc)

	anonymous, err := client.NewGophSafeClient("passthrough:///bufnet", client.Identity{}, dialer)
	require.NoError(t, err)
	defer anonymous.Close()

	require.NoError(t, anonymous.Ping(ctx))

	alice, certs := org.Bootstrap("alice")
	rep, err := anonymous.OrganizationBootstrap(ctx, &wire.OrganizationBootstrapReq{
		RootVerifyKey:             org.RootKey.VerifyKey(),
		UserCertificate:           certs[0],
		DeviceCertificate:         certs[1],
		RedactedUserCertificate:   org.Redacted(certs[0]),
		RedactedDeviceCertificate: org.Redacted(certs[1]),
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOk, rep.Status, rep.Reason)

	_, err = anonymous.CertificateGet(ctx, &wire.CertificateGetReq{})
	assert.True(t, errors.Is(err, common.ErrorUnauthorized), "got %v", err)

	c, err := client.NewGophSafeClient("passthrough:///bufnet", client.Identity{DeviceID: alice.DeviceID, SigningKey: alice.Key}, dialer)
	require.NoError(t, err)
	defer c.Close()

	bob, bobCerts := org.NewUser(alice, "bob", certificates.ProfileStandard)
	rep, err = c.UserCreate(ctx, &wire.UserCreateReq{
		UserCertificate:           bobCerts[0],
		DeviceCertificate:         bobCerts[1],
		RedactedUserCertificate:   org.Redacted(bobCerts[0]),
		RedactedDeviceCertificate: org.Redacted(bobCerts[1]),
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOk, rep.Status, rep.Reason)

	got, err := c.CertificateGet(ctx, &wire.CertificateGetReq{})
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOk, got.Status)
	assert.Len(t, got.Common, 4)

	// A certificate authored by bob but sent by alice is refused in the
	// reply, not as a transport error.
	_, realmCert := org.CreateRealm(bob)
	rep, err = c.RealmCreate(ctx, &wire.RealmCreateReq{RealmRoleCertificate: realmCert})
	require.NoError(t, err)
	assert.Equal(t, wire.StatusAuthorNotAllowed, rep.Status)
}

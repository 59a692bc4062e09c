package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/auth"
	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DefaultTokenValidity is the lifetime of the access tokens minted by the
// client. A token is renewed when less than a quarter of it remains.
const DefaultTokenValidity = 5 * time.Minute

// Identity is the device the client authenticates as. A zero Identity sends
// no access token, which is enough for Ping and OrganizationBootstrap.
type Identity struct {
	DeviceID   certificates.DeviceID
	SigningKey cryptox.SigningKey
}

type GRPCClient struct {
	endpointURL string
	conn        grpc.ClientConnInterface
	closer      io.Closer

	identity      Identity
	tokenValidity time.Duration

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

// token returns a cached access token, minting a new one when it is about to
// expire or when force is set.
func (s *GRPCClient) token(force bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && s.accessToken != "" && time.Until(s.expiresAt) > s.tokenValidity/4 {
		return s.accessToken, nil
	}
	tok, err := auth.GenerateToken(s.identity.DeviceID, s.identity.SigningKey, s.tokenValidity)
	if err != nil {
		return "", err
	}
	s.accessToken = tok
	s.expiresAt = time.Now().Add(s.tokenValidity)
	return tok, nil
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if s.identity.DeviceID == "" {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	tok, err := s.token(false)
	if err != nil {
		return err
	}

	err = invoker(withAccessToken(ctx, tok), method, req, reply, cc, opts...)

	if err != nil {

		st, ok := status.FromError(err)
		if !ok {
			return err
		}

		if st.Code() != codes.Unauthenticated {
			return err
		}
		if st.Message() != common.ErrTokenExpired.Error() {
			return err
		}

		// The server clock is ahead of ours, mint a fresh token and retry once.
		tok, err = s.token(true)
		if err != nil {
			return err
		}
		return invoker(withAccessToken(ctx, tok), method, req, reply, cc, opts...)

	}

	return err
}

// NewGophSafeClient connects to the server at endpointURL as identity. Extra
// dial options are appended to the defaults.
func NewGophSafeClient(endpointURL string, identity Identity, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, identity: identity, tokenValidity: DefaultTokenValidity}
	err := c.InitGRPCClient(opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient(opts ...grpc.DialOption) error {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.closer = conn
	return nil
}

func (s *GRPCClient) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	resp := &wrapperspb.StringValue{}

	err := s.conn.Invoke(ctx, wire.MethodPing, &emptypb.Empty{}, resp)
	if err != nil {
		return s.mapError(err)
	}

	if resp.GetValue() != wire.PingOK {
		return common.ErrOffline
	}

	return nil
}

// invoke sends a JSON encoded command.
func (s *GRPCClient) invoke(ctx context.Context, method string, req, rep any) error {
	err := s.conn.Invoke(ctx, method, req, rep, grpc.CallContentSubtype(wire.CodecName))
	if err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *GRPCClient) CertificateGet(ctx context.Context, req *wire.CertificateGetReq) (*wire.CertificateGetRep, error) {
	rep := &wire.CertificateGetRep{}
	if err := s.invoke(ctx, wire.MethodCertificateGet, req, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *GRPCClient) action(ctx context.Context, method string, req any) (*wire.ActionRep, error) {
	rep := &wire.ActionRep{}
	if err := s.invoke(ctx, method, req, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *GRPCClient) OrganizationBootstrap(ctx context.Context, req *wire.OrganizationBootstrapReq) (*wire.ActionRep, error) {
	return s.action(ctx, wire.MethodOrganizationBootstrap, req)
}

func (s *GRPCClient) UserCreate(ctx context.Context, req *wire.UserCreateReq) (*wire.ActionRep, error) {
	return s.action(ctx, wire.MethodUserCreate, req)
}

func (s *GRPCClient) UserUpdate(ctx context.Context, req *wire.UserUpdateReq) (*wire.ActionRep, error) {
	return s.action(ctx, wire.MethodUserUpdate, req)
}

func (s *GRPCClient) UserRevoke(ctx context.Context, req *wire.UserRevokeReq) (*wire.ActionRep, error) {
	return s.action(ctx, wire.MethodUserRevoke, req)
}

func (s *GRPCClient) RealmCreate(ctx context.Context, req *wire.RealmCreateReq) (*wire.ActionRep, error) {
	return s.action(ctx, wire.MethodRealmCreate, req)
}

func (s *GRPCClient) RealmRename(ctx context.Context, req *wire.RealmRenameReq) (*wire.ActionRep, error) {
	return s.action(ctx, wire.MethodRealmRename, req)
}

func (s *GRPCClient) RealmShare(ctx context.Context, req *wire.RealmShareReq) (*wire.ActionRep, error) {
	return s.action(ctx, wire.MethodRealmShare, req)
}

func (s *GRPCClient) RealmUnshare(ctx context.Context, req *wire.RealmUnshareReq) (*wire.ActionRep, error) {
	return s.action(ctx, wire.MethodRealmUnshare, req)
}

func (s *GRPCClient) ShamirRecoveryDelete(ctx context.Context, req *wire.ShamirRecoveryDeleteReq) (*wire.ActionRep, error) {
	return s.action(ctx, wire.MethodShamirRecoveryDelete, req)
}

// mapError turns transport failures into the sentinels callers match on.
func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", common.ErrorUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", common.ErrOffline, st.Message())
	case codes.Canceled:
		return context.Canceled
	default:
		return common.NewInternalError("rpc", err)
	}
}

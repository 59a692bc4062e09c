package certops

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/client/device"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/events"
	"github.com/dmitrijs2005/gophsafe/internal/logging"
	"github.com/dmitrijs2005/gophsafe/internal/testbed"
	"github.com/dmitrijs2005/gophsafe/internal/timex"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
	"github.com/stretchr/testify/require"
)

/*************
 * Fake server
 *************/

type stored struct {
	topic    certificates.Topic
	ts       time.Time
	signed   []byte
	redacted []byte
}

// fakeServer keeps an append-only certificate log and accepts every upload
// unless a reply was scripted for the method.
type fakeServer struct {
	t   *testing.T
	org *testbed.Organization

	mu       sync.Mutex
	log      []stored
	redacted bool
	getErr   error
	getRep   *wire.CertificateGetRep
	scripted map[string][]*wire.ActionRep
	calls    map[string]int
}

func newFakeServer(t *testing.T, org *testbed.Organization) *fakeServer {
	return &fakeServer{t: t, org: org, scripted: map[string][]*wire.ActionRep{}, calls: map[string]int{}}
}

func (f *fakeServer) publish(certs ...[]byte) {
	f.t.Helper()
	for _, signed := range certs {
		f.publishPair(signed, f.org.Redacted(signed))
	}
}

func (f *fakeServer) publishPair(signed, redacted []byte) {
	f.t.Helper()
	c := f.org.Load(signed)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, stored{topic: c.Topic(), ts: c.Base().Timestamp, signed: signed, redacted: redacted})
}

func (f *fakeServer) publishRaw(topic certificates.Topic, ts time.Time, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, stored{topic: topic, ts: ts, signed: raw, redacted: raw})
}

func (f *fakeServer) script(method string, reps ...*wire.ActionRep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted[method] = append(f.scripted[method], reps...)
}

func (f *fakeServer) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeServer) CertificateGet(ctx context.Context, req *wire.CertificateGetReq) (*wire.CertificateGetRep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[wire.MethodCertificateGet]++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.getRep != nil {
		return f.getRep, nil
	}

	rep := &wire.CertificateGetRep{Status: wire.StatusOk}
	for _, s := range f.log {
		if !s.ts.After(req.After(s.topic)) {
			continue
		}
		signed := s.signed
		if f.redacted {
			signed = s.redacted
		}
		switch s.topic.Kind {
		case certificates.TopicCommon:
			rep.Common = append(rep.Common, signed)
		case certificates.TopicSequester:
			rep.Sequester = append(rep.Sequester, signed)
		case certificates.TopicShamirRecovery:
			rep.ShamirRecovery = append(rep.ShamirRecovery, signed)
		case certificates.TopicRealm:
			if rep.Realm == nil {
				rep.Realm = map[certificates.RealmID][][]byte{}
			}
			rep.Realm[s.topic.RealmID] = append(rep.Realm[s.topic.RealmID], signed)
		}
	}
	return rep, nil
}

// handle answers an upload: the next scripted reply if any, otherwise the
// certificates are accepted.
func (f *fakeServer) handle(method string, accept func()) (*wire.ActionRep, error) {
	f.mu.Lock()
	f.calls[method]++
	if q := f.scripted[method]; len(q) > 0 {
		f.scripted[method] = q[1:]
		f.mu.Unlock()
		return q[0], nil
	}
	f.mu.Unlock()
	accept()
	return &wire.ActionRep{Status: wire.StatusOk}, nil
}

func (f *fakeServer) UserCreate(ctx context.Context, req *wire.UserCreateReq) (*wire.ActionRep, error) {
	return f.handle(wire.MethodUserCreate, func() {
		f.publishPair(req.UserCertificate, req.RedactedUserCertificate)
		f.publishPair(req.DeviceCertificate, req.RedactedDeviceCertificate)
	})
}

func (f *fakeServer) UserUpdate(ctx context.Context, req *wire.UserUpdateReq) (*wire.ActionRep, error) {
	return f.handle(wire.MethodUserUpdate, func() { f.publish(req.UserUpdateCertificate) })
}

func (f *fakeServer) UserRevoke(ctx context.Context, req *wire.UserRevokeReq) (*wire.ActionRep, error) {
	return f.handle(wire.MethodUserRevoke, func() { f.publish(req.RevokedUserCertificate) })
}

func (f *fakeServer) RealmCreate(ctx context.Context, req *wire.RealmCreateReq) (*wire.ActionRep, error) {
	return f.handle(wire.MethodRealmCreate, func() { f.publish(req.RealmRoleCertificate) })
}

func (f *fakeServer) RealmRename(ctx context.Context, req *wire.RealmRenameReq) (*wire.ActionRep, error) {
	return f.handle(wire.MethodRealmRename, func() { f.publish(req.RealmNameCertificate) })
}

func (f *fakeServer) RealmShare(ctx context.Context, req *wire.RealmShareReq) (*wire.ActionRep, error) {
	return f.handle(wire.MethodRealmShare, func() { f.publish(req.RealmRoleCertificate) })
}

func (f *fakeServer) RealmUnshare(ctx context.Context, req *wire.RealmUnshareReq) (*wire.ActionRep, error) {
	return f.handle(wire.MethodRealmUnshare, func() { f.publish(req.RealmRoleCertificate) })
}

func (f *fakeServer) ShamirRecoveryDelete(ctx context.Context, req *wire.ShamirRecoveryDeleteReq) (*wire.ActionRep, error) {
	return f.handle(wire.MethodShamirRecoveryDelete, func() { f.publish(req.ShamirRecoveryDeletionCertificate) })
}

/*************
 * Harness
 *************/

type harness struct {
	t     *testing.T
	ctx   context.Context
	org   *testbed.Organization
	alice *testbed.Device
	srv   *fakeServer
	bus   *events.Bus
}

// newHarness bootstraps an organization with alice as its first admin and
// publishes the bootstrap certificates on the fake server.
func newHarness(t *testing.T) *harness {
	t.Helper()
	org := testbed.NewOrganization(t)
	alice, certs := org.Bootstrap("alice")
	srv := newFakeServer(t, org)
	srv.publish(certs...)
	return &harness{t: t, ctx: context.Background(), org: org, alice: alice, srv: srv, bus: events.NewBus()}
}

func (h *harness) localDevice(d *testbed.Device) *device.LocalDevice {
	h.t.Helper()
	symkey, err := cryptox.GenerateSecretKey()
	require.NoError(h.t, err)
	return &device.LocalDevice{
		OrganizationID: "acme",
		UserID:         d.UserID,
		DeviceID:       d.DeviceID,
		SigningKey:     d.Key,
		RootVerifyKey:  h.org.RootKey.VerifyKey(),
		LocalSymkey:    symkey,
		TimeProvider:   timex.NewClock(timex.WithNowFunc(h.org.Next)),
	}
}

// opsFor builds an Ops for d over a fresh in-memory store.
func (h *harness) opsFor(d *testbed.Device) *Ops {
	h.t.Helper()
	store, err := certstore.Open(h.ctx, certstore.NewMemoryBackend(), logging.NewNop())
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = store.Stop() })
	return New(h.localDevice(d), store, h.srv, h.bus, logging.NewNop())
}

func (h *harness) mustPoll(o *Ops) int {
	h.t.Helper()
	n, err := o.PollServerForNewCertificates(h.ctx, nil)
	require.NoError(h.t, err)
	return n
}

// drain returns the events buffered on ch without blocking.
func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func readTx(t *testing.T, o *Ops, fn func(tx certstore.ReadTx)) {
	t.Helper()
	require.NoError(t, o.Store().ForRead(context.Background(), func(tx certstore.ReadTx) error {
		fn(tx)
		return nil
	}))
}

package cli

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/client/certops"
	"github.com/dmitrijs2005/gophsafe/internal/client/config"
	"github.com/dmitrijs2005/gophsafe/internal/client/manifests"
	"github.com/dmitrijs2005/gophsafe/internal/events"
	"github.com/dmitrijs2005/gophsafe/internal/logging"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

// ---- fakes ----

type fakeOps struct {
	calls []string

	outcome certops.Outcome
	err     error
	polled  int

	users  []certops.UserInfo
	realms []certops.RealmInfo
	roles  map[certificates.UserID]*certificates.RealmRole

	lastRealm   certificates.RealmID
	lastUser    certificates.UserID
	lastName    string
	lastRole    certificates.RealmRole
	lastProfile certificates.UserProfile
}

func (f *fakeOps) PollServerForNewCertificates(ctx context.Context, requirements *certificates.PerTopicLastTimestamps) (int, error) {
	f.calls = append(f.calls, "poll")
	return f.polled, f.err
}
func (f *fakeOps) ListUsers(ctx context.Context) ([]certops.UserInfo, error) {
	f.calls = append(f.calls, "users")
	return f.users, f.err
}
func (f *fakeOps) ListRealms(ctx context.Context) ([]certops.RealmInfo, error) {
	f.calls = append(f.calls, "realms")
	return f.realms, f.err
}
func (f *fakeOps) RealmRoles(ctx context.Context, realm certificates.RealmID) (map[certificates.UserID]*certificates.RealmRole, error) {
	f.calls, f.lastRealm = append(f.calls, "roles"), realm
	return f.roles, f.err
}
func (f *fakeOps) CreateRealm(ctx context.Context, realm certificates.RealmID) (certops.Outcome, error) {
	f.calls, f.lastRealm = append(f.calls, "create_realm"), realm
	return f.outcome, f.err
}
func (f *fakeOps) RenameRealm(ctx context.Context, realm certificates.RealmID, name string) (certops.Outcome, error) {
	f.calls, f.lastRealm, f.lastName = append(f.calls, "rename_realm"), realm, name
	return f.outcome, f.err
}
func (f *fakeOps) ShareRealm(ctx context.Context, realm certificates.RealmID, user certificates.UserID, role certificates.RealmRole) (certops.Outcome, error) {
	f.calls, f.lastRealm, f.lastUser, f.lastRole = append(f.calls, "share"), realm, user, role
	return f.outcome, f.err
}
func (f *fakeOps) UnshareRealm(ctx context.Context, realm certificates.RealmID, user certificates.UserID) (certops.Outcome, error) {
	f.calls, f.lastRealm, f.lastUser = append(f.calls, "unshare"), realm, user
	return f.outcome, f.err
}
func (f *fakeOps) RevokeUser(ctx context.Context, user certificates.UserID) (certops.Outcome, error) {
	f.calls, f.lastUser = append(f.calls, "revoke"), user
	return f.outcome, f.err
}
func (f *fakeOps) UpdateUserProfile(ctx context.Context, user certificates.UserID, profile certificates.UserProfile) (certops.Outcome, error) {
	f.calls, f.lastUser, f.lastProfile = append(f.calls, "profile"), user, profile
	return f.outcome, f.err
}
func (f *fakeOps) DeleteShamirRecovery(ctx context.Context) (certops.Outcome, error) {
	f.calls = append(f.calls, "shamir_delete")
	return f.outcome, f.err
}

type fakeWorkspaces struct {
	realm certificates.RealmID
	name  string
	key   []byte
	err   error
}

func (f *fakeWorkspaces) AddWorkspace(ctx context.Context, realm certificates.RealmID, name string, key []byte) (manifests.LocalUserManifest, error) {
	f.realm, f.name, f.key = realm, name, key
	return manifests.LocalUserManifest{}, f.err
}

type fakeAnonymous struct {
	pingErr error
	pings   int

	rep     *wire.ActionRep
	lastReq *wire.OrganizationBootstrapReq
}

func (f *fakeAnonymous) Ping(ctx context.Context) error {
	f.pings++
	return f.pingErr
}

func (f *fakeAnonymous) OrganizationBootstrap(ctx context.Context, req *wire.OrganizationBootstrapReq) (*wire.ActionRep, error) {
	f.lastReq = req
	return f.rep, nil
}

// ---- helpers ----

func readerFromLines(lines ...string) *bufio.Reader {
	if len(lines) == 0 || lines[len(lines)-1] != "" {
		lines = append(lines, "")
	}
	return bufio.NewReader(strings.NewReader(strings.Join(lines, "\n")))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.DataDir = t.TempDir()
	return c
}

func newTestApp(t *testing.T, ops *fakeOps) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a := &App{
		config: testConfig(t),
		logger: logging.NewNop(),
		bus:    events.NewBus(),
		api:    &fakeAnonymous{},
		reader: readerFromLines(),
		out:    &out,
	}
	if ops != nil {
		a.ops = ops
		a.workspaces = &fakeWorkspaces{}
	}
	return a, &out
}

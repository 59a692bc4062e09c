package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/client/certops"
	"github.com/dmitrijs2005/gophsafe/internal/client/client"
	"github.com/dmitrijs2005/gophsafe/internal/client/config"
	"github.com/dmitrijs2005/gophsafe/internal/client/device"
	"github.com/dmitrijs2005/gophsafe/internal/client/manifests"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/events"
	"github.com/dmitrijs2005/gophsafe/internal/logging"
	"github.com/dmitrijs2005/gophsafe/internal/wire"

	_ "modernc.org/sqlite"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// Ops is the part of certops the commands drive.
type Ops interface {
	PollServerForNewCertificates(ctx context.Context, requirements *certificates.PerTopicLastTimestamps) (int, error)
	ListUsers(ctx context.Context) ([]certops.UserInfo, error)
	ListRealms(ctx context.Context) ([]certops.RealmInfo, error)
	RealmRoles(ctx context.Context, realm certificates.RealmID) (map[certificates.UserID]*certificates.RealmRole, error)
	CreateRealm(ctx context.Context, realm certificates.RealmID) (certops.Outcome, error)
	RenameRealm(ctx context.Context, realm certificates.RealmID, name string) (certops.Outcome, error)
	ShareRealm(ctx context.Context, realm certificates.RealmID, user certificates.UserID, role certificates.RealmRole) (certops.Outcome, error)
	UnshareRealm(ctx context.Context, realm certificates.RealmID, user certificates.UserID) (certops.Outcome, error)
	RevokeUser(ctx context.Context, user certificates.UserID) (certops.Outcome, error)
	UpdateUserProfile(ctx context.Context, user certificates.UserID, profile certificates.UserProfile) (certops.Outcome, error)
	DeleteShamirRecovery(ctx context.Context) (certops.Outcome, error)
}

// Workspaces records realms in the local user manifest.
type Workspaces interface {
	AddWorkspace(ctx context.Context, realm certificates.RealmID, name string, key []byte) (manifests.LocalUserManifest, error)
}

// Anonymous is the unauthenticated side of the server API.
type Anonymous interface {
	Ping(ctx context.Context) error
	OrganizationBootstrap(ctx context.Context, req *wire.OrganizationBootstrapReq) (*wire.ActionRep, error)
}

type App struct {
	config *config.Config
	logger logging.Logger
	bus    *events.Bus
	api    Anonymous
	reader *bufio.Reader
	out    io.Writer

	mu   sync.Mutex
	Mode Mode

	// Set once the device is unlocked.
	device     *device.LocalDevice
	ops        Ops
	workspaces Workspaces
	closers    []func() error
}

func NewApp(c *config.Config) (*App, error) {

	logger := logging.New(os.Stderr, logging.FormatText, slog.LevelWarn)

	apiClient, err := client.NewGophSafeClient(c.ServerEndpointAddr, client.Identity{})
	if err != nil {
		return nil, err
	}

	return &App{
		config:  c,
		logger:  logger,
		bus:     events.NewBus(),
		api:     apiClient,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		closers: []func() error{apiClient.Close},
	}, nil
}

func (a *App) setMode(mode Mode) {
	a.mu.Lock()
	changed := a.Mode != mode
	a.Mode = mode
	a.mu.Unlock()

	if !changed {
		return
	}
	log.Printf("Switched to %s mode\n", mode)
	if a.bus == nil {
		return
	}
	if mode == ModeOnline {
		a.bus.Publish(events.EventOnline{})
	} else {
		a.bus.Publish(events.EventOffline{})
	}
}

func (a *App) mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Mode
}

func (a *App) isUnlocked() bool {
	return a.ops != nil
}

func (a *App) Run(ctx context.Context) {
	defer a.Close()
	a.Root(ctx)
}

// Close releases everything opened by the app, last opened first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
	a.closers = nil
}

// StartOnlineStatusWatcher pings the server every interval and switches the
// mode accordingly. Coming back online triggers a poll, so the local store
// catches up with what happened meanwhile.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := a.api.Ping(pctx)
			cancel()

			if err != nil {
				a.setMode(ModeOffline)
				continue
			}
			if a.mode() != ModeOnline {
				a.setMode(ModeOnline)
				a.pollOnReconnect(ctx)
			}

		case <-ctx.Done():
			return
		}
	}
}

func (a *App) pollOnReconnect(ctx context.Context) {
	if !a.isUnlocked() {
		return
	}
	if _, err := a.ops.PollServerForNewCertificates(ctx, nil); err != nil {
		if errors.Is(err, common.ErrOffline) {
			a.setMode(ModeOffline)
			return
		}
		a.bus.Publish(events.EventMonitorCrashed{Monitor: "connection", Err: err})
	}
}

// watchEvents reports the events a user should know about.
func (a *App) watchEvents(ctx context.Context) {
	ch, unsubscribe := a.bus.Subscribe(16)
	defer unsubscribe()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			switch ev := e.(type) {
			case events.EventTooMuchDriftWithServerClock:
				log.Printf("Clock drift: server time %s, local time %s", ev.ServerTimestamp, ev.ClientTimestamp)
			case events.EventInvalidCertificate:
				log.Printf("Server sent an invalid certificate: %v", ev.Err)
			case events.EventMonitorCrashed:
				log.Printf("%s monitor failed: %v", ev.Monitor, ev.Err)
			case events.EventNewCertificates:
				a.logger.Info(ctx, "new certificates", "count", ev.Count)
			}
		case <-ctx.Done():
			return
		}
	}
}

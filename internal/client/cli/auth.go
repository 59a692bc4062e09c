package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/client/certops"
	"github.com/dmitrijs2005/gophsafe/internal/client/client"
	"github.com/dmitrijs2005/gophsafe/internal/client/config"
	"github.com/dmitrijs2005/gophsafe/internal/client/device"
	"github.com/dmitrijs2005/gophsafe/internal/client/manifests"
	certrepo "github.com/dmitrijs2005/gophsafe/internal/client/repositories/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/client/services"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/filex"
	"github.com/dmitrijs2005/gophsafe/internal/timex"
)

// getSimpleText, getPassword, loadDevice and startSession are indirections
// used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword
var loadDevice = device.Load
var startSession = (*App).openSession

// Unlock opens the device found in the data directory, asking for its
// password. With no device around, it offers to bootstrap a new
// organization instead.
func (a *App) Unlock(ctx context.Context) error {
	ids, err := device.List(a.config.DataDir)
	if err != nil {
		return err
	}

	var dev *device.LocalDevice
	if len(ids) == 0 {
		fmt.Fprintf(a.out, "No device in %s, bootstrapping a new organization.\n", a.config.DataDir)
		dev, err = a.Bootstrap(ctx)
	} else {
		dev, err = a.unlockExisting(ids)
	}
	if err != nil {
		return err
	}

	return startSession(a, ctx, dev)
}

func (a *App) unlockExisting(ids []certificates.DeviceID) (*device.LocalDevice, error) {
	id := ids[0]
	if len(ids) > 1 {
		for i, d := range ids {
			fmt.Fprintf(a.out, "%d) %s\n", i+1, d)
		}
		choice, err := getSimpleText(a.reader, "Pick a device", a.out)
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(choice)
		if err != nil || n < 1 || n > len(ids) {
			return nil, fmt.Errorf("no device %q", choice)
		}
		id = ids[n-1]
	}

	password, err := getPassword(a.out, "Enter device password: ")
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(password)

	return loadDevice(device.KeyFilePath(a.config.DataDir, id), password)
}

// Bootstrap creates a new organization with the local user as its first
// admin and saves the resulting device in the data directory.
func (a *App) Bootstrap(ctx context.Context) (*device.LocalDevice, error) {
	prompts := []string{"Organization id", "Email", "Name", "Device label", "Bootstrap token (empty for none)"}
	answers := make([]string, len(prompts))
	for i, p := range prompts {
		v, err := getSimpleText(a.reader, p, a.out)
		if err != nil {
			return nil, err
		}
		answers[i] = v
	}

	password, err := newPassword(a.out)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(password)

	dev, err := certops.BootstrapOrganization(ctx, a.api, timex.NewClock(), certops.BootstrapParams{
		OrganizationID: answers[0],
		HumanHandle:    certificates.HumanHandle{Email: answers[1], Label: answers[2]},
		DeviceLabel:    answers[3],
		Token:          answers[4],
	})
	if err != nil {
		return nil, err
	}

	if err := dev.Save(device.KeyFilePath(a.config.DataDir, dev.DeviceID), password); err != nil {
		return nil, fmt.Errorf("save device: %w", err)
	}
	fmt.Fprintf(a.out, "Organization %s bootstrapped, device %s saved.\n", dev.OrganizationID, dev.DeviceID)
	return dev, nil
}

// openSession opens the local storage of dev and the authenticated
// connection, and builds the certificate operations on top of them.
func (a *App) openSession(ctx context.Context, dev *device.LocalDevice) error {
	dataDir, err := filex.EnsureDir(a.config.DataDir)
	if err != nil {
		return err
	}

	db, err := client.InitDatabase(ctx, filepath.Join(dataDir, "gophsafe.db"))
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	var backend certstore.Backend
	switch a.config.StorageEngine {
	case config.EngineBadger:
		b, err := certrepo.OpenBadgerBackend(filepath.Join(dataDir, "certificates"))
		if err != nil {
			return err
		}
		backend = b
	case config.EngineMemory:
		backend = certstore.NewMemoryBackend()
	default:
		backend = certrepo.NewSQLiteBackend(db)
	}

	store, err := certstore.Open(ctx, backend, a.logger)
	if err != nil {
		_ = backend.Close()
		return err
	}
	a.closers = append(a.closers, store.Stop)

	api, err := client.NewGophSafeClient(a.config.ServerEndpointAddr, client.Identity{DeviceID: dev.DeviceID, SigningKey: dev.SigningKey})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, api.Close)

	a.device = dev
	a.ops = certops.New(dev, store, api, a.bus, a.logger)
	a.workspaces = services.NewUserManifestService(db, manifests.EntryID(dev.UserID), dev.DeviceID, dev.LocalSymkey, dev.TimeProvider, a.logger)
	return nil
}

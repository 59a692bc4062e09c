package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/client/certops"
	"github.com/dmitrijs2005/gophsafe/internal/client/config"
	"github.com/dmitrijs2005/gophsafe/internal/client/device"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubPassword(t *testing.T, pw []byte) {
	t.Helper()
	orig := getPassword
	getPassword = func(io.Writer, string) ([]byte, error) { return append([]byte(nil), pw...), nil }
	t.Cleanup(func() { getPassword = orig })
}

func stubSession(t *testing.T) **device.LocalDevice {
	t.Helper()
	var got *device.LocalDevice
	orig := startSession
	startSession = func(a *App, ctx context.Context, dev *device.LocalDevice) error {
		got = dev
		return nil
	}
	t.Cleanup(func() { startSession = orig })
	return &got
}

func savedDevice(t *testing.T, dataDir string, password string) *device.LocalDevice {
	t.Helper()
	signing, err := cryptox.GenerateSigningKey()
	require.NoError(t, err)
	root, err := cryptox.GenerateSigningKey()
	require.NoError(t, err)
	dev, err := device.New("acme", certificates.NewUserID(), certificates.NewDeviceID(), signing, root.VerifyKey(), false)
	require.NoError(t, err)
	require.NoError(t, dev.Save(device.KeyFilePath(dataDir, dev.DeviceID), []byte(password)))
	return dev
}

func TestUnlock_ExistingDevice(t *testing.T) {
	a, _ := newTestApp(t, nil)
	saved := savedDevice(t, a.config.DataDir, "secret")
	stubPassword(t, []byte("secret"))
	got := stubSession(t)

	require.NoError(t, a.Unlock(context.Background()))
	require.NotNil(t, *got)
	assert.Equal(t, saved.DeviceID, (*got).DeviceID)
	assert.Equal(t, saved.UserID, (*got).UserID)
}

func TestUnlock_WrongPassword(t *testing.T) {
	a, _ := newTestApp(t, nil)
	savedDevice(t, a.config.DataDir, "secret")
	stubPassword(t, []byte("guess"))
	got := stubSession(t)

	err := a.Unlock(context.Background())
	require.ErrorIs(t, err, device.ErrWrongPassword)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Nil(t, *got)
}

func TestUnlock_PicksAmongDevices(t *testing.T) {
	a, _ := newTestApp(t, nil)
	savedDevice(t, a.config.DataDir, "one")
	second := savedDevice(t, a.config.DataDir, "two")
	ids, err := device.List(a.config.DataDir)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	pick := "2"
	if ids[0] == second.DeviceID {
		pick = "1"
	}

	a.reader = readerFromLines(pick)
	stubPassword(t, []byte("two"))
	got := stubSession(t)

	require.NoError(t, a.Unlock(context.Background()))
	assert.Equal(t, second.DeviceID, (*got).DeviceID)
}

func TestUnlock_BadPick(t *testing.T) {
	a, _ := newTestApp(t, nil)
	savedDevice(t, a.config.DataDir, "one")
	savedDevice(t, a.config.DataDir, "two")
	a.reader = readerFromLines("7")
	stubSession(t)

	require.Error(t, a.Unlock(context.Background()))
}

func TestUnlock_BootstrapsWithoutDevice(t *testing.T) {
	a, out := newTestApp(t, nil)
	api := &fakeAnonymous{rep: &wire.ActionRep{Status: wire.StatusOk}}
	a.api = api
	a.reader = readerFromLines("acme", "alice@example.org", "Alice", "laptop", "tok")
	stubPassword(t, []byte("secret"))
	got := stubSession(t)

	require.NoError(t, a.Unlock(context.Background()))
	require.NotNil(t, *got)
	assert.Equal(t, "acme", (*got).OrganizationID)
	assert.Equal(t, "tok", api.lastReq.BootstrapToken)
	assert.Contains(t, out.String(), "bootstrapped")

	// The device was saved and opens with the same password.
	loaded, err := device.Load(device.KeyFilePath(a.config.DataDir, (*got).DeviceID), []byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, (*got).UserID, loaded.UserID)
}

func TestBootstrap_Refused(t *testing.T) {
	a, _ := newTestApp(t, nil)
	a.api = &fakeAnonymous{rep: &wire.ActionRep{Status: wire.StatusOrganizationBootstrapped}}
	a.reader = readerFromLines("acme", "alice@example.org", "Alice", "laptop", "")
	stubPassword(t, []byte("secret"))

	_, err := a.Bootstrap(context.Background())
	require.ErrorIs(t, err, certops.ErrOrganizationBootstrapped)

	ids, err := device.List(a.config.DataDir)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBootstrap_EmptyPassword(t *testing.T) {
	a, _ := newTestApp(t, nil)
	a.reader = readerFromLines("acme", "alice@example.org", "Alice", "laptop", "")
	stubPassword(t, nil)

	_, err := a.Bootstrap(context.Background())
	require.ErrorIs(t, err, errNoPassword)
}

func TestBootstrap_InputError(t *testing.T) {
	a, _ := newTestApp(t, nil)
	a.reader = bufio.NewReader(&failingReader{})

	_, err := a.Bootstrap(context.Background())
	require.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("closed") }

func TestOpenSession(t *testing.T) {
	for _, engine := range []string{config.EngineSQLite, config.EngineBadger, config.EngineMemory} {
		t.Run(engine, func(t *testing.T) {
			a, _ := newTestApp(t, nil)
			a.config.StorageEngine = engine
			dev := savedDevice(t, a.config.DataDir, "pw")

			require.NoError(t, a.openSession(context.Background(), dev))
			defer a.Close()

			assert.True(t, a.isUnlocked())
			assert.Equal(t, dev, a.device)
			assert.Len(t, a.closers, 3)

			realms, err := a.ops.ListRealms(context.Background())
			require.NoError(t, err)
			assert.Empty(t, realms)

			_, err = os.Stat(filepath.Join(a.config.DataDir, "gophsafe.db"))
			assert.NoError(t, err)
		})
	}
}

package device

import (
	"os"
	"testing"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDevice(t *testing.T) *LocalDevice {
	t.Helper()
	signing, err := cryptox.GenerateSigningKey()
	require.NoError(t, err)
	root, err := cryptox.GenerateSigningKey()
	require.NoError(t, err)

	d, err := New("acme", certificates.NewUserID(), certificates.NewDeviceID(), signing, root.VerifyKey(), true)
	require.NoError(t, err)
	return d
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := newDevice(t)
	path := KeyFilePath(dir, d.DeviceID)

	require.NoError(t, d.Save(path, []byte("P@ssw0rd")))

	got, err := Load(path, []byte("P@ssw0rd"))
	require.NoError(t, err)

	assert.Equal(t, d.OrganizationID, got.OrganizationID)
	assert.Equal(t, d.UserID, got.UserID)
	assert.Equal(t, d.DeviceID, got.DeviceID)
	assert.Equal(t, d.SigningKey, got.SigningKey)
	assert.Equal(t, d.RootVerifyKey, got.RootVerifyKey)
	assert.Equal(t, d.LocalSymkey, got.LocalSymkey)
	assert.True(t, got.Sequestered)
	require.NotNil(t, got.TimeProvider)
}

func TestKeyFile_DoesNotLeakSecrets(t *testing.T) {
	dir := t.TempDir()
	d := newDevice(t)
	path := KeyFilePath(dir, d.DeviceID)
	require.NoError(t, d.Save(path, []byte("pw")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), string(d.DeviceID))
	assert.NotContains(t, string(raw), string(d.UserID))
}

func TestLoad_WrongPassword(t *testing.T) {
	dir := t.TempDir()
	d := newDevice(t)
	path := KeyFilePath(dir, d.DeviceID)
	require.NoError(t, d.Save(path, []byte("right")))

	_, err := Load(path, []byte("wrong"))
	require.ErrorIs(t, err, ErrWrongPassword)
	require.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(KeyFilePath(t.TempDir(), "nope"), []byte("x"))
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestLoad_Garbage(t *testing.T) {
	dir := t.TempDir()
	path := KeyFilePath(dir, "x")
	d := newDevice(t)
	require.NoError(t, d.Save(path, []byte("pw")))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path, []byte("pw"))
	require.Error(t, err)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	a, b := newDevice(t), newDevice(t)
	require.NoError(t, a.Save(KeyFilePath(dir, a.DeviceID), []byte("pw")))
	require.NoError(t, b.Save(KeyFilePath(dir, b.DeviceID), []byte("pw")))

	ids, err := List(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []certificates.DeviceID{a.DeviceID, b.DeviceID}, ids)
}

func TestNow_StampsAuthor(t *testing.T) {
	d := newDevice(t)
	h := d.Now()
	assert.Equal(t, d.DeviceID, h.Author)
	assert.False(t, h.Timestamp.IsZero())
	assert.Equal(t, h.Timestamp, h.Timestamp.UTC())
}

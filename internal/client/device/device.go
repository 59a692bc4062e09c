// Package device holds the identity of the local device: its keys, the
// organization it belongs to and the clock it stamps certificates with.
//
// The identity is persisted in a key file sealed with a key derived from the
// user's password (argon2id, AES-GCM).
package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/filex"
	"github.com/dmitrijs2005/gophsafe/internal/timex"
)

const keyFileVersion = 1

const saltSize = 16

var ErrWrongPassword = fmt.Errorf("%w: cannot decrypt device key file", common.ErrorUnauthorized)

type LocalDevice struct {
	OrganizationID string
	UserID         certificates.UserID
	DeviceID       certificates.DeviceID
	SigningKey     cryptox.SigningKey
	RootVerifyKey  cryptox.VerifyKey
	// LocalSymkey encrypts data that never leaves the device, such as the
	// local user manifest and realm names before upload.
	LocalSymkey []byte
	// UserPrivateKey pairs with the public key of the user certificate.
	UserPrivateKey []byte
	Sequestered    bool

	TimeProvider timex.TimeProvider
}

// New creates a device identity with a fresh local key.
func New(org string, user certificates.UserID, dev certificates.DeviceID, signing cryptox.SigningKey, root cryptox.VerifyKey, sequestered bool) (*LocalDevice, error) {
	symkey, err := cryptox.GenerateSecretKey()
	if err != nil {
		return nil, err
	}
	return &LocalDevice{
		OrganizationID: org,
		UserID:         user,
		DeviceID:       dev,
		SigningKey:     signing,
		RootVerifyKey:  root,
		LocalSymkey:    symkey,
		Sequestered:    sequestered,
		TimeProvider:   timex.NewClock(),
	}, nil
}

// Now stamps a certificate.
func (d *LocalDevice) Now() certificates.Header {
	return certificates.Header{Author: d.DeviceID, Timestamp: d.TimeProvider.Now()}
}

// KeyFilePath is the conventional key file location inside dataDir.
func KeyFilePath(dataDir string, dev certificates.DeviceID) string {
	return filepath.Join(dataDir, "devices", string(dev)+".keys")
}

// keyFile is the on-disk format. The identifiers stay readable so a device
// can be picked before the password is asked.
type keyFile struct {
	Version        int                   `json:"version"`
	OrganizationID string                `json:"organization_id"`
	DeviceID       certificates.DeviceID `json:"device_id"`
	Salt           []byte                `json:"salt"`
	Nonce          []byte                `json:"nonce"`
	Ciphertext     []byte                `json:"ciphertext"`
}

type secrets struct {
	UserID        certificates.UserID `json:"user_id"`
	SigningSeed   []byte              `json:"signing_seed"`
	RootVerifyKey []byte              `json:"root_verify_key"`
	LocalSymkey   []byte              `json:"local_symkey"`
	UserPrivate   []byte              `json:"user_private_key,omitempty"`
	Sequestered   bool                `json:"sequestered,omitempty"`
}

// Save writes the device to path, sealed with password.
func (d *LocalDevice) Save(path string, password []byte) error {
	if _, err := filex.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	salt := common.GenerateRandByteArray(saltSize)
	key := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)

	ct, nonce, err := cryptox.EncryptJSON(secrets{
		UserID:        d.UserID,
		SigningSeed:   d.SigningKey.Seed(),
		RootVerifyKey: d.RootVerifyKey,
		LocalSymkey:   d.LocalSymkey,
		UserPrivate:   d.UserPrivateKey,
		Sequestered:   d.Sequestered,
	}, key)
	if err != nil {
		return fmt.Errorf("seal device keys: %w", err)
	}

	raw, err := json.MarshalIndent(keyFile{
		Version:        keyFileVersion,
		OrganizationID: d.OrganizationID,
		DeviceID:       d.DeviceID,
		Salt:           salt,
		Nonce:          nonce,
		Ciphertext:     ct,
	}, "", "  ")
	if err != nil {
		return err
	}
	return filex.WriteFileAtomic(path, raw, 0o600)
}

// Load reads the device saved at path. A missing file is
// common.ErrorNotFound, a bad password ErrWrongPassword.
func Load(path string, password []byte) (*LocalDevice, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, common.ErrorNotFound)
		}
		return nil, err
	}

	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("key file %s: unsupported version %d", path, kf.Version)
	}

	key := cryptox.DeriveMasterKey(password, kf.Salt)
	defer common.WipeByteArray(key)

	var s secrets
	if err := cryptox.DecryptJSON(kf.Ciphertext, kf.Nonce, key, &s); err != nil {
		return nil, ErrWrongPassword
	}

	signing, err := cryptox.SigningKeyFromSeed(s.SigningSeed)
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}

	return &LocalDevice{
		OrganizationID: kf.OrganizationID,
		UserID:         s.UserID,
		DeviceID:       kf.DeviceID,
		SigningKey:     signing,
		RootVerifyKey:  cryptox.VerifyKey(s.RootVerifyKey),
		LocalSymkey:    s.LocalSymkey,
		UserPrivateKey: s.UserPrivate,
		Sequestered:    s.Sequestered,
		TimeProvider:   timex.NewClock(),
	}, nil
}

// List returns the device ids of the key files found in dataDir.
func List(dataDir string) ([]certificates.DeviceID, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, "devices", "*.keys"))
	if err != nil {
		return nil, err
	}
	out := make([]certificates.DeviceID, 0, len(matches))
	for _, m := range matches {
		out = append(out, certificates.DeviceID(strings.TrimSuffix(filepath.Base(m), ".keys")))
	}
	return out, nil
}

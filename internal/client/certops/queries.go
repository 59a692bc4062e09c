package certops

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
)

const gcmNonceSize = 12

var errNameTooShort = errors.New("encrypted realm name too short")

func (o *Ops) sealRealmName(name string) ([]byte, error) {
	ct, nonce, err := cryptox.EncryptJSON(name, o.device.LocalSymkey)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// OpenRealmName decrypts a realm name sealed by this device. Names are sealed
// with the device local key, so a name set from another device (or by another
// member) does not open here.
func (o *Ops) OpenRealmName(encrypted []byte) (string, error) {
	if len(encrypted) < gcmNonceSize {
		return "", errNameTooShort
	}
	var name string
	err := cryptox.DecryptJSON(encrypted[gcmNonceSize:], encrypted[:gcmNonceSize], o.device.LocalSymkey, &name)
	return name, err
}

type UserInfo struct {
	UserID    certificates.UserID
	Handle    string
	Profile   certificates.UserProfile
	CreatedOn time.Time
	RevokedOn time.Time
	Devices   int
}

// ListUsers lists the users known locally, in enrollment order.
func (o *Ops) ListUsers(ctx context.Context) ([]UserInfo, error) {
	var out []UserInfo
	err := o.store.ForRead(ctx, func(tx certstore.ReadTx) error {
		for _, u := range tx.ListUsers() {
			info := UserInfo{UserID: u.UserID, CreatedOn: u.Timestamp, Devices: len(tx.ListUserDevices(u.UserID))}
			if u.HumanHandle != nil {
				info.Handle = u.HumanHandle.String()
			}
			info.Profile, _ = tx.GetUserProfileAt(certstore.Current, u.UserID)
			if r, ok := tx.GetRevokedUserCertificate(u.UserID); ok {
				info.RevokedOn = r.Timestamp
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

type RealmInfo struct {
	RealmID certificates.RealmID
	// Name is empty when no name was set or it cannot be opened here.
	Name string
	// Role of the local user, nil when not shared with it.
	Role     *certificates.RealmRole
	KeyIndex uint64
}

func (o *Ops) ListRealms(ctx context.Context) ([]RealmInfo, error) {
	var out []RealmInfo
	err := o.store.ForRead(ctx, func(tx certstore.ReadTx) error {
		for _, id := range tx.ListRealms() {
			info := RealmInfo{RealmID: id}
			if n, ok := tx.GetRealmName(id); ok {
				info.Name, _ = o.OpenRealmName(n.EncryptedName)
			}
			if r, ok := tx.GetLastRealmRole(certstore.Current, id, o.device.UserID); ok {
				info.Role = r.Role
			}
			if k, ok := tx.GetLastRealmKeyRotation(id); ok {
				info.KeyIndex = k.KeyIndex
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// RealmRoles returns the current role of every user ever shared realm with.
func (o *Ops) RealmRoles(ctx context.Context, realm certificates.RealmID) (map[certificates.UserID]*certificates.RealmRole, error) {
	out := map[certificates.UserID]*certificates.RealmRole{}
	err := o.store.ForRead(ctx, func(tx certstore.ReadTx) error {
		if !tx.RealmExists(realm) {
			return ErrRealmNotFound
		}
		for _, r := range tx.GetRealmRoles(realm) {
			out[r.UserID] = r.Role
		}
		return nil
	})
	return out, err
}

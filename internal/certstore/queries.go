package certstore

import (
	"slices"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
)

// ReadTx exposes the derived views of one snapshot.
type ReadTx interface {
	Universe() certificates.Universe
	LastTimestamps() certificates.PerTopicLastTimestamps
	ContentExists(signed []byte) bool
	// RootTimestamp is the timestamp shared by all root-signed certificates,
	// if the organization was bootstrapped.
	RootTimestamp() (time.Time, bool)
	HasNonRootCertificates() bool
	Entries() []Entry

	GetUserCertificate(user UserID) (*certificates.UserCertificate, bool)
	ListUsers() []*certificates.UserCertificate
	GetRevokedUserCertificate(user UserID) (*certificates.RevokedUserCertificate, bool)
	GetUserProfileAt(upto UpTo, user UserID) (certificates.UserProfile, bool)
	GetUserProfileHistory(user UserID) []ProfileChange
	GetDeviceCertificate(device DeviceID) (*certificates.DeviceCertificate, bool)
	GetDeviceVerifyKey(device DeviceID) (cryptox.VerifyKey, bool)
	ListUserDevices(user UserID) []*certificates.DeviceCertificate

	RealmExists(realm RealmID) bool
	ListRealms() []RealmID
	ListUserRealms(user UserID) []RealmID
	GetLastRealmRole(upto UpTo, realm RealmID, user UserID) (*certificates.RealmRoleCertificate, bool)
	GetRealmRoles(realm RealmID) []*certificates.RealmRoleCertificate
	GetRealmName(realm RealmID) (*certificates.RealmNameCertificate, bool)
	GetLastRealmKeyRotation(realm RealmID) (*certificates.RealmKeyRotationCertificate, bool)
	GetRealmArchiving(realm RealmID) (*certificates.RealmArchivingCertificate, bool)

	HasSequesterCertificates() bool
	GetSequesterAuthority() (*certificates.SequesterAuthorityCertificate, bool)
	GetSequesterService(id certificates.SequesterServiceID) (*certificates.SequesterServiceCertificate, bool)
	GetSequesterRevokedService(id certificates.SequesterServiceID) (*certificates.SequesterRevokedServiceCertificate, bool)
	GetSequesterServices() []*certificates.SequesterServiceCertificate

	GetLastShamirRecoveryBrief() (*certificates.ShamirRecoveryBriefCertificate, bool)
	GetLastShamirRecoveryForAuthor(upto UpTo, user UserID) LastShamirRecovery
}

// ProfileChange is one step of a user's profile history.
type ProfileChange struct {
	Timestamp time.Time
	Author    DeviceID
	Profile   certificates.UserProfile
}

type ShamirRecoveryState int

const (
	ShamirRecoveryNeverSetup ShamirRecoveryState = iota
	ShamirRecoveryValid
	ShamirRecoveryDeleted
)

func (s ShamirRecoveryState) String() string {
	switch s {
	case ShamirRecoveryValid:
		return "valid"
	case ShamirRecoveryDeleted:
		return "deleted"
	default:
		return "never_setup"
	}
}

// LastShamirRecovery is the latest shamir recovery setup of a user. Deletion
// is only set in the Deleted state.
type LastShamirRecovery struct {
	State    ShamirRecoveryState
	Brief    *certificates.ShamirRecoveryBriefCertificate
	Deletion *certificates.ShamirRecoveryDeletionCertificate
}

var _ ReadTx = (*index)(nil)

func (ix *index) Universe() certificates.Universe { return ix.universe }

func (ix *index) LastTimestamps() certificates.PerTopicLastTimestamps { return ix.last.Clone() }

func (ix *index) ContentExists(signed []byte) bool {
	_, ok := ix.hashes[certificates.ContentHash(signed)]
	return ok
}

func (ix *index) RootTimestamp() (time.Time, bool) {
	return ix.rootTimestamp, !ix.rootTimestamp.IsZero()
}

func (ix *index) HasNonRootCertificates() bool { return ix.hasNonRoot }

func (ix *index) Entries() []Entry { return slices.Clone(ix.entries) }

func (ix *index) GetUserCertificate(user UserID) (*certificates.UserCertificate, bool) {
	c, ok := ix.users[user]
	return c, ok
}

// ListUsers returns user certificates in the order they were accepted.
func (ix *index) ListUsers() []*certificates.UserCertificate {
	out := make([]*certificates.UserCertificate, 0, len(ix.userOrder))
	for _, id := range ix.userOrder {
		out = append(out, ix.users[id])
	}
	return out
}

func (ix *index) GetRevokedUserCertificate(user UserID) (*certificates.RevokedUserCertificate, bool) {
	c, ok := ix.revoked[user]
	return c, ok
}

func (ix *index) GetUserProfileAt(upto UpTo, user UserID) (certificates.UserProfile, bool) {
	u, ok := ix.users[user]
	if !ok || !upto.includes(u.Timestamp) {
		return "", false
	}
	profile := u.Profile
	for _, upd := range ix.userUpdates[user] {
		if !upto.includes(upd.Timestamp) {
			break
		}
		profile = upd.NewProfile
	}
	return profile, true
}

func (ix *index) GetUserProfileHistory(user UserID) []ProfileChange {
	u, ok := ix.users[user]
	if !ok {
		return nil
	}
	history := []ProfileChange{{Timestamp: u.Timestamp, Author: u.Author, Profile: u.Profile}}
	for _, upd := range ix.userUpdates[user] {
		history = append(history, ProfileChange{Timestamp: upd.Timestamp, Author: upd.Author, Profile: upd.NewProfile})
	}
	return history
}

func (ix *index) GetDeviceCertificate(device DeviceID) (*certificates.DeviceCertificate, bool) {
	c, ok := ix.devices[device]
	return c, ok
}

func (ix *index) GetDeviceVerifyKey(device DeviceID) (cryptox.VerifyKey, bool) {
	c, ok := ix.devices[device]
	if !ok {
		return nil, false
	}
	return cryptox.VerifyKey(c.VerifyKey), true
}

func (ix *index) ListUserDevices(user UserID) []*certificates.DeviceCertificate {
	return slices.Clone(ix.userDevices[user])
}

func (ix *index) RealmExists(realm RealmID) bool {
	_, ok := ix.realms[realm]
	return ok
}

func (ix *index) ListRealms() []RealmID {
	out := make([]RealmID, 0, len(ix.realms))
	for id := range ix.realms {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// ListUserRealms returns the realms the user currently holds a role in.
func (ix *index) ListUserRealms(user UserID) []RealmID {
	var out []RealmID
	for id := range ix.realms {
		if r, ok := ix.GetLastRealmRole(Current, id, user); ok && r.Role != nil {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (ix *index) GetLastRealmRole(upto UpTo, realm RealmID, user UserID) (*certificates.RealmRoleCertificate, bool) {
	rl, ok := ix.realms[realm]
	if !ok {
		return nil, false
	}
	for i := len(rl.roles) - 1; i >= 0; i-- {
		r := rl.roles[i]
		if r.UserID == user && upto.includes(r.Timestamp) {
			return r, true
		}
	}
	return nil, false
}

func (ix *index) GetRealmRoles(realm RealmID) []*certificates.RealmRoleCertificate {
	if rl, ok := ix.realms[realm]; ok {
		return slices.Clone(rl.roles)
	}
	return nil
}

func (ix *index) GetRealmName(realm RealmID) (*certificates.RealmNameCertificate, bool) {
	rl, ok := ix.realms[realm]
	if !ok || len(rl.names) == 0 {
		return nil, false
	}
	return rl.names[len(rl.names)-1], true
}

func (ix *index) GetLastRealmKeyRotation(realm RealmID) (*certificates.RealmKeyRotationCertificate, bool) {
	rl, ok := ix.realms[realm]
	if !ok || len(rl.rotations) == 0 {
		return nil, false
	}
	return rl.rotations[len(rl.rotations)-1], true
}

func (ix *index) GetRealmArchiving(realm RealmID) (*certificates.RealmArchivingCertificate, bool) {
	rl, ok := ix.realms[realm]
	if !ok || len(rl.archiving) == 0 {
		return nil, false
	}
	return rl.archiving[len(rl.archiving)-1], true
}

func (ix *index) HasSequesterCertificates() bool { return len(ix.sequester) > 0 }

func (ix *index) GetSequesterAuthority() (*certificates.SequesterAuthorityCertificate, bool) {
	return ix.sequesterAuthority, ix.sequesterAuthority != nil
}

func (ix *index) GetSequesterService(id certificates.SequesterServiceID) (*certificates.SequesterServiceCertificate, bool) {
	c, ok := ix.sequesterServices[id]
	return c, ok
}

func (ix *index) GetSequesterRevokedService(id certificates.SequesterServiceID) (*certificates.SequesterRevokedServiceCertificate, bool) {
	c, ok := ix.sequesterRevoked[id]
	return c, ok
}

// GetSequesterServices returns the services in acceptance order, revoked
// ones included.
func (ix *index) GetSequesterServices() []*certificates.SequesterServiceCertificate {
	var out []*certificates.SequesterServiceCertificate
	for _, c := range ix.sequester {
		if s, ok := c.(*certificates.SequesterServiceCertificate); ok {
			out = append(out, s)
		}
	}
	return out
}

func (ix *index) GetLastShamirRecoveryBrief() (*certificates.ShamirRecoveryBriefCertificate, bool) {
	for i := len(ix.shamir) - 1; i >= 0; i-- {
		if b, ok := ix.shamir[i].(*certificates.ShamirRecoveryBriefCertificate); ok {
			return b, true
		}
	}
	return nil, false
}

// GetLastShamirRecoveryForAuthor scans the shamir recovery topic for the most
// recent setup of user, possibly superseded by its deletion.
func (ix *index) GetLastShamirRecoveryForAuthor(upto UpTo, user UserID) LastShamirRecovery {
	var res LastShamirRecovery
	for _, c := range ix.shamir {
		if !upto.includes(c.Base().Timestamp) {
			break
		}
		switch v := c.(type) {
		case *certificates.ShamirRecoveryBriefCertificate:
			if v.UserID == user {
				res = LastShamirRecovery{State: ShamirRecoveryValid, Brief: v}
			}
		case *certificates.ShamirRecoveryDeletionCertificate:
			if v.SetupToDeleteUserID == user && res.Brief != nil &&
				res.Brief.Timestamp.Equal(v.SetupToDeleteTimestamp) {
				res.State = ShamirRecoveryDeleted
				res.Deletion = v
			}
		}
	}
	return res
}

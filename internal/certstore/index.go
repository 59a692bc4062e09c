package certstore

import (
	"maps"
	"slices"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
)

type (
	UserID   = certificates.UserID
	DeviceID = certificates.DeviceID
	RealmID  = certificates.RealmID
)

type realmLog struct {
	roles     []*certificates.RealmRoleCertificate
	names     []*certificates.RealmNameCertificate
	rotations []*certificates.RealmKeyRotationCertificate
	archiving []*certificates.RealmArchivingCertificate
}

// index is one immutable snapshot of the store. Writers mutate a clone;
// slices shared with the previous snapshot are clipped before appending.
type index struct {
	universe      certificates.Universe
	last          certificates.PerTopicLastTimestamps
	entries       []Entry
	hashes        map[string]struct{}
	rootTimestamp time.Time
	hasNonRoot    bool

	users       map[UserID]*certificates.UserCertificate
	userOrder   []UserID
	userUpdates map[UserID][]*certificates.UserUpdateCertificate
	revoked     map[UserID]*certificates.RevokedUserCertificate
	devices     map[DeviceID]*certificates.DeviceCertificate
	userDevices map[UserID][]*certificates.DeviceCertificate

	realms map[RealmID]*realmLog

	sequester          []certificates.Certificate
	sequesterAuthority *certificates.SequesterAuthorityCertificate
	sequesterServices  map[certificates.SequesterServiceID]*certificates.SequesterServiceCertificate
	sequesterRevoked   map[certificates.SequesterServiceID]*certificates.SequesterRevokedServiceCertificate

	shamir []certificates.Certificate
}

func newIndex(u certificates.Universe) *index {
	return &index{
		universe:          u,
		hashes:            map[string]struct{}{},
		users:             map[UserID]*certificates.UserCertificate{},
		userUpdates:       map[UserID][]*certificates.UserUpdateCertificate{},
		revoked:           map[UserID]*certificates.RevokedUserCertificate{},
		devices:           map[DeviceID]*certificates.DeviceCertificate{},
		userDevices:       map[UserID][]*certificates.DeviceCertificate{},
		realms:            map[RealmID]*realmLog{},
		sequesterServices: map[certificates.SequesterServiceID]*certificates.SequesterServiceCertificate{},
		sequesterRevoked:  map[certificates.SequesterServiceID]*certificates.SequesterRevokedServiceCertificate{},
	}
}

func (ix *index) clone() *index {
	c := *ix
	c.last = ix.last.Clone()
	c.entries = slices.Clip(ix.entries)
	c.hashes = maps.Clone(ix.hashes)
	c.users = maps.Clone(ix.users)
	c.userOrder = slices.Clip(ix.userOrder)
	c.userUpdates = maps.Clone(ix.userUpdates)
	c.revoked = maps.Clone(ix.revoked)
	c.devices = maps.Clone(ix.devices)
	c.userDevices = maps.Clone(ix.userDevices)
	c.realms = maps.Clone(ix.realms)
	c.sequester = slices.Clip(ix.sequester)
	c.sequesterServices = maps.Clone(ix.sequesterServices)
	c.sequesterRevoked = maps.Clone(ix.sequesterRevoked)
	c.shamir = slices.Clip(ix.shamir)
	return &c
}

// realm returns a private copy of the realm log, ready to be appended to.
func (ix *index) realm(id RealmID) *realmLog {
	var rl realmLog
	if cur, ok := ix.realms[id]; ok {
		rl = realmLog{
			roles:     slices.Clip(cur.roles),
			names:     slices.Clip(cur.names),
			rotations: slices.Clip(cur.rotations),
			archiving: slices.Clip(cur.archiving),
		}
	}
	ix.realms[id] = &rl
	return &rl
}

func (ix *index) add(e Entry) {
	c := e.Certificate
	b := c.Base()

	ix.entries = append(ix.entries, e)
	ix.hashes[e.Hash] = struct{}{}
	ix.last.Advance(c.Topic(), b.Timestamp)
	if certificates.IsRootSigned(c) {
		if ix.rootTimestamp.IsZero() {
			ix.rootTimestamp = b.Timestamp
		}
	} else {
		ix.hasNonRoot = true
	}

	switch v := c.(type) {
	case *certificates.UserCertificate:
		ix.users[v.UserID] = v
		ix.userOrder = append(slices.Clip(ix.userOrder), v.UserID)
	case *certificates.DeviceCertificate:
		ix.devices[v.DeviceID] = v
		ix.userDevices[v.UserID] = append(slices.Clip(ix.userDevices[v.UserID]), v)
	case *certificates.RevokedUserCertificate:
		ix.revoked[v.UserID] = v
	case *certificates.UserUpdateCertificate:
		ix.userUpdates[v.UserID] = append(slices.Clip(ix.userUpdates[v.UserID]), v)

	case *certificates.RealmRoleCertificate:
		rl := ix.realm(v.RealmID)
		rl.roles = append(rl.roles, v)
	case *certificates.RealmNameCertificate:
		rl := ix.realm(v.RealmID)
		rl.names = append(rl.names, v)
	case *certificates.RealmKeyRotationCertificate:
		rl := ix.realm(v.RealmID)
		rl.rotations = append(rl.rotations, v)
	case *certificates.RealmArchivingCertificate:
		rl := ix.realm(v.RealmID)
		rl.archiving = append(rl.archiving, v)

	case *certificates.SequesterAuthorityCertificate:
		ix.sequester = append(ix.sequester, v)
		ix.sequesterAuthority = v
	case *certificates.SequesterServiceCertificate:
		ix.sequester = append(ix.sequester, v)
		ix.sequesterServices[v.ServiceID] = v
	case *certificates.SequesterRevokedServiceCertificate:
		ix.sequester = append(ix.sequester, v)
		ix.sequesterRevoked[v.ServiceID] = v

	case *certificates.ShamirRecoveryBriefCertificate,
		*certificates.ShamirRecoveryShareCertificate,
		*certificates.ShamirRecoveryDeletionCertificate:
		ix.shamir = append(ix.shamir, c)
	}
}

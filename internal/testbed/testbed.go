// Package testbed builds organizations of signed certificates for tests.
//
// An Organization is an explicit builder object: each test creates its own,
// and every certificate it produces is signed with real keys so it passes
// signature verification.
package testbed

import (
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/stretchr/testify/require"
)

// T0 is the bootstrap timestamp of every test organization.
var T0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type Device struct {
	Name     string
	UserID   certificates.UserID
	DeviceID certificates.DeviceID
	Key      cryptox.SigningKey
	Profile  certificates.UserProfile
}

type Organization struct {
	t         testing.TB
	RootKey   cryptox.SigningKey
	now       time.Time
	devices   map[certificates.DeviceID]*Device
	Sequester *SequesterAuthority
}

type SequesterAuthority struct {
	Key cryptox.SigningKey
}

func NewOrganization(t testing.TB) *Organization {
	t.Helper()
	root, err := cryptox.GenerateSigningKey()
	require.NoError(t, err)
	return &Organization{t: t, RootKey: root, now: T0, devices: map[certificates.DeviceID]*Device{}}
}

// Next advances the organization clock by one millisecond and returns it.
func (o *Organization) Next() time.Time {
	o.now = o.now.Add(time.Millisecond)
	return o.now
}

// Now is the last timestamp handed out.
func (o *Organization) Now() time.Time { return o.now }

func (o *Organization) newKey() cryptox.SigningKey {
	k, err := cryptox.GenerateSigningKey()
	require.NoError(o.t, err)
	return k
}

// Sign signs c as by, or with the root key when by is nil. The author field
// is set accordingly.
func (o *Organization) Sign(c certificates.Certificate, by *Device) []byte {
	o.t.Helper()
	key := o.RootKey
	c.Base().Author = certificates.RootAuthor
	if by != nil {
		key = by.Key
		c.Base().Author = by.DeviceID
	}
	signed, err := certificates.DumpAndSign(c, key)
	require.NoError(o.t, err)
	return signed
}

func (o *Organization) userCerts(author *Device, name string, profile certificates.UserProfile, ts time.Time) (*Device, [][]byte) {
	d := &Device{
		Name:     name,
		UserID:   certificates.NewUserID(),
		DeviceID: certificates.NewDeviceID(),
		Key:      o.newKey(),
		Profile:  profile,
	}
	o.devices[d.DeviceID] = d

	user := &certificates.UserCertificate{
		Header:      certificates.Header{Timestamp: ts},
		UserID:      d.UserID,
		HumanHandle: &certificates.HumanHandle{Email: name + "@example.com", Label: name},
		PublicKey:   []byte("public-key-" + name),
		Profile:     profile,
	}
	device := &certificates.DeviceCertificate{
		Header:      certificates.Header{Timestamp: ts},
		UserID:      d.UserID,
		DeviceID:    d.DeviceID,
		DeviceLabel: name + "'s laptop",
		VerifyKey:   d.Key.VerifyKey(),
	}
	return d, [][]byte{o.Sign(user, author), o.Sign(device, author)}
}

// Bootstrap creates the first admin with root-signed certificates at T0.
func (o *Organization) Bootstrap(name string) (*Device, [][]byte) {
	return o.userCerts(nil, name, certificates.ProfileAdmin, T0)
}

// NewUser creates a user and its first device, both authored by author.
func (o *Organization) NewUser(author *Device, name string, profile certificates.UserProfile) (*Device, [][]byte) {
	return o.userCerts(author, name, profile, o.Next())
}

// NewDevice enrolls another device for an existing user, self-signed by one
// of its devices.
func (o *Organization) NewDevice(of *Device, label string) (*Device, []byte) {
	d := &Device{Name: of.Name, UserID: of.UserID, DeviceID: certificates.NewDeviceID(), Key: o.newKey(), Profile: of.Profile}
	o.devices[d.DeviceID] = d
	return d, o.Sign(&certificates.DeviceCertificate{
		Header:      certificates.Header{Timestamp: o.Next()},
		UserID:      d.UserID,
		DeviceID:    d.DeviceID,
		DeviceLabel: label,
		VerifyKey:   d.Key.VerifyKey(),
	}, of)
}

func (o *Organization) Revoke(author, target *Device) []byte {
	return o.Sign(&certificates.RevokedUserCertificate{
		Header: certificates.Header{Timestamp: o.Next()},
		UserID: target.UserID,
	}, author)
}

func (o *Organization) UpdateProfile(author, target *Device, profile certificates.UserProfile) []byte {
	target.Profile = profile
	return o.Sign(&certificates.UserUpdateCertificate{
		Header:     certificates.Header{Timestamp: o.Next()},
		UserID:     target.UserID,
		NewProfile: profile,
	}, author)
}

func (o *Organization) RealmRole(author *Device, realm certificates.RealmID, user certificates.UserID, role *certificates.RealmRole) []byte {
	return o.Sign(&certificates.RealmRoleCertificate{
		Header:  certificates.Header{Timestamp: o.Next()},
		RealmID: realm,
		UserID:  user,
		Role:    role,
	}, author)
}

// CreateRealm returns a fresh realm id and the self-signed owner role.
func (o *Organization) CreateRealm(owner *Device) (certificates.RealmID, []byte) {
	id := certificates.NewRealmID()
	return id, o.RealmRole(owner, id, owner.UserID, certificates.RolePtr(certificates.RoleOwner))
}

func (o *Organization) RealmKeyRotation(author *Device, realm certificates.RealmID, keyIndex uint64) []byte {
	return o.Sign(&certificates.RealmKeyRotationCertificate{
		Header:              certificates.Header{Timestamp: o.Next()},
		RealmID:             realm,
		KeyIndex:            keyIndex,
		EncryptionAlgorithm: "AES-256-GCM",
		HashAlgorithm:       "SHA256",
		KeyCanary:           []byte("canary"),
	}, author)
}

func (o *Organization) RealmName(author *Device, realm certificates.RealmID, keyIndex uint64, name string) []byte {
	return o.Sign(&certificates.RealmNameCertificate{
		Header:        certificates.Header{Timestamp: o.Next()},
		RealmID:       realm,
		KeyIndex:      keyIndex,
		EncryptedName: []byte(name),
	}, author)
}

// ShamirSetup returns the brief followed by one share per recipient, all
// sharing one timestamp.
func (o *Organization) ShamirSetup(author *Device, threshold uint8, recipients ...*Device) (*certificates.ShamirRecoveryBriefCertificate, [][]byte) {
	ts := o.Next()
	shares := map[certificates.UserID]uint8{}
	for _, r := range recipients {
		shares[r.UserID] = 1
	}
	brief := &certificates.ShamirRecoveryBriefCertificate{
		Header:             certificates.Header{Timestamp: ts},
		UserID:             author.UserID,
		Threshold:          threshold,
		PerRecipientShares: shares,
	}
	out := [][]byte{o.Sign(brief, author)}
	for _, r := range recipients {
		out = append(out, o.Sign(&certificates.ShamirRecoveryShareCertificate{
			Header:        certificates.Header{Timestamp: ts},
			UserID:        author.UserID,
			RecipientID:   r.UserID,
			CipheredShare: []byte("share-for-" + r.Name),
		}, author))
	}
	return brief, out
}

func (o *Organization) ShamirDelete(author *Device, brief *certificates.ShamirRecoveryBriefCertificate) []byte {
	recipients := slices.Sorted(maps.Keys(brief.PerRecipientShares))
	return o.Sign(&certificates.ShamirRecoveryDeletionCertificate{
		Header:                 certificates.Header{Timestamp: o.Next()},
		SetupToDeleteTimestamp: brief.Timestamp,
		SetupToDeleteUserID:    brief.UserID,
		ShareRecipients:        recipients,
	}, author)
}

// EnableSequester returns the root-signed sequester authority certificate,
// stamped at T0 like every root-signed certificate.
func (o *Organization) EnableSequester() []byte {
	o.Sequester = &SequesterAuthority{Key: o.newKey()}
	return o.Sign(&certificates.SequesterAuthorityCertificate{
		Header:    certificates.Header{Timestamp: T0},
		VerifyKey: o.Sequester.Key.VerifyKey(),
	}, nil)
}

// SequesterService returns a service certificate signed by the authority.
func (o *Organization) SequesterService(label string) (certificates.SequesterServiceID, []byte) {
	o.t.Helper()
	require.NotNil(o.t, o.Sequester, "sequester not enabled")
	id := certificates.NewSequesterServiceID()
	signed, err := certificates.DumpAndSign(&certificates.SequesterServiceCertificate{
		Header:        certificates.Header{Timestamp: o.Next()},
		ServiceID:     id,
		ServiceLabel:  label,
		EncryptionKey: []byte("service-key"),
	}, o.Sequester.Key)
	require.NoError(o.t, err)
	return id, signed
}

// Redacted returns the redacted variant of a user or device certificate,
// re-signed by its original author. Other certificates are returned as is.
func (o *Organization) Redacted(signed []byte) []byte {
	o.t.Helper()
	c, err := certificates.UnsecureLoad(signed)
	require.NoError(o.t, err)

	var author *Device
	if a := c.Base().Author; !a.IsRoot() {
		author = o.devices[a]
		require.NotNil(o.t, author, "unknown author %s", a)
	}
	switch v := c.(type) {
	case *certificates.UserCertificate:
		v.HumanHandle = nil
		v.Redacted = true
		return o.Sign(v, author)
	case *certificates.DeviceCertificate:
		v.DeviceLabel = ""
		v.Redacted = true
		return o.Sign(v, author)
	}
	return signed
}

// RedactedAll maps Redacted over a batch.
func (o *Organization) RedactedAll(batch [][]byte) [][]byte {
	out := make([][]byte, 0, len(batch))
	for _, s := range batch {
		out = append(out, o.Redacted(s))
	}
	return out
}

// Load decodes a certificate produced by the organization.
func (o *Organization) Load(signed []byte) certificates.Certificate {
	o.t.Helper()
	c, err := certificates.UnsecureLoad(signed)
	require.NoError(o.t, err)
	return c
}

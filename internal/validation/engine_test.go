package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/logging"
	"github.com/dmitrijs2005/gophsafe/internal/testbed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t      *testing.T
	org    *testbed.Organization
	store  *certstore.Store
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	org := testbed.NewOrganization(t)
	store, err := certstore.Open(context.Background(), certstore.NewMemoryBackend(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Stop() })
	return &harness{
		t:      t,
		org:    org,
		store:  store,
		engine: &Engine{RootVerifyKey: org.RootKey.VerifyKey()},
	}
}

func (h *harness) add(batch Batch) (MaybeRedactedSwitch, error) {
	ctx := context.Background()
	var res MaybeRedactedSwitch
	err := h.store.ForWrite(ctx, func(tx certstore.WriteTx) error {
		var err error
		res, err = h.engine.AddCertificatesBatch(ctx, tx, batch)
		return err
	})
	return res, err
}

func (h *harness) mustAdd(batch Batch) MaybeRedactedSwitch {
	h.t.Helper()
	res, err := h.add(batch)
	require.NoError(h.t, err)
	return res
}

func (h *harness) bootstrap() *testbed.Device {
	h.t.Helper()
	alice, certs := h.org.Bootstrap("alice")
	res := h.mustAdd(Batch{Common: certs})
	require.Equal(h.t, MaybeRedactedSwitch{NewCertificatesCount: 2}, res)
	return alice
}

func (h *harness) newUser(author *testbed.Device, name string, profile certificates.UserProfile) *testbed.Device {
	h.t.Helper()
	d, certs := h.org.NewUser(author, name, profile)
	h.mustAdd(Batch{Common: certs})
	return d
}

func (h *harness) createRealm(owner *testbed.Device) certificates.RealmID {
	h.t.Helper()
	id, role := h.org.CreateRealm(owner)
	h.mustAdd(realmBatch(id, role))
	return id
}

func (h *harness) snapshot() ([]certstore.Entry, certificates.PerTopicLastTimestamps) {
	h.t.Helper()
	var entries []certstore.Entry
	var last certificates.PerTopicLastTimestamps
	require.NoError(h.t, h.store.ForRead(context.Background(), func(tx certstore.ReadTx) error {
		entries = tx.Entries()
		last = tx.LastTimestamps()
		return nil
	}))
	return entries, last
}

func realmBatch(id certificates.RealmID, certs ...[]byte) Batch {
	return Batch{Realm: map[certificates.RealmID][][]byte{id: certs}}
}

func requireReason(t *testing.T, err error, want Reason) *InvalidCertificateError {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, common.ErrInvalidCertificate)
	var ice *InvalidCertificateError
	require.ErrorAs(t, err, &ice)
	require.Equal(t, want, ice.Reason, "error: %v", err)
	require.NotEmpty(t, ice.Hint)
	return ice
}

func TestAliceCreatesRealmThenCannotChangeOwnRole(t *testing.T) {
	h := newHarness(t)
	alice := h.bootstrap()

	wksp1, role := h.org.CreateRealm(alice)
	rotation := h.org.RealmKeyRotation(alice, wksp1, 1)
	res := h.mustAdd(realmBatch(wksp1, role, rotation))
	assert.Equal(t, MaybeRedactedSwitch{NewCertificatesCount: 2}, res)

	reader := h.org.RealmRole(alice, wksp1, alice.UserID, certificates.RolePtr(certificates.RoleReader))
	_, err := h.add(realmBatch(wksp1, reader))
	requireReason(t, err, ReasonRealmCannotChangeOwnRole)
}

func TestRevokedAuthor(t *testing.T) {
	h := newHarness(t)
	alice := h.bootstrap()
	bob := h.newUser(alice, "bob", certificates.ProfileStandard)

	revoke := h.org.Revoke(alice, bob)
	revokedOn := h.org.Now()
	h.mustAdd(Batch{Common: [][]byte{revoke}})

	id, role := h.org.CreateRealm(bob)
	_, err := h.add(realmBatch(id, role))
	ice := requireReason(t, err, ReasonRevokedAuthor)
	assert.Equal(t, revokedOn, ice.AuthorRevokedOn)
}

func TestTopicMonotonicity(t *testing.T) {
	h := newHarness(t)
	alice := h.bootstrap()
	bob := h.newUser(alice, "bob", certificates.ProfileStandard)
	realm := h.createRealm(alice)

	_, last := h.snapshot()
	realmLast, ok := last.Get(certificates.RealmTopic(realm))
	require.True(t, ok)
	assert.Equal(t, h.org.Now(), realmLast)
	assert.True(t, last.Common.Before(realmLast))

	for _, ts := range []time.Time{realmLast, realmLast.Add(-time.Microsecond), testbed.T0} {
		stale := h.org.Sign(&certificates.RealmRoleCertificate{
			Header:  certificates.Header{Timestamp: ts},
			RealmID: realm,
			UserID:  bob.UserID,
			Role:    certificates.RolePtr(certificates.RoleReader),
		}, alice)
		_, err := h.add(realmBatch(realm, stale))
		ice := requireReason(t, err, ReasonInvalidTimestamp)
		assert.Equal(t, realmLast, ice.LastCertificateTimestamp)
	}

	// Each realm keeps its own mark.
	other, role := h.org.CreateRealm(alice)
	h.mustAdd(realmBatch(other, role))
	_, last = h.snapshot()
	assert.Equal(t, realmLast, last.Realm[realm])
	assert.Equal(t, h.org.Now(), last.Realm[other])
}

func TestBatchIsAtomic(t *testing.T) {
	h := newHarness(t)
	alice := h.bootstrap()
	beforeEntries, beforeLast := h.snapshot()

	_, bobCerts := h.org.NewUser(alice, "bob", certificates.ProfileStandard)
	_, carolCerts := h.org.NewUser(alice, "carol", certificates.ProfileStandard)
	// Root signing is over once bob is in the batch.
	late, _ := h.org.Bootstrap("mallory")

	batch := Batch{Common: append(append(bobCerts, carolCerts...), h.org.Sign(&certificates.UserCertificate{
		Header:      certificates.Header{Timestamp: testbed.T0},
		UserID:      late.UserID,
		HumanHandle: &certificates.HumanHandle{Email: "m@example.com", Label: "m"},
		PublicKey:   []byte("pk"),
		Profile:     certificates.ProfileAdmin,
	}, nil))}
	_, err := h.add(batch)
	requireReason(t, err, ReasonRootSignatureOutOfBootstrap)

	afterEntries, afterLast := h.snapshot()
	assert.Equal(t, beforeEntries, afterEntries)
	assert.Equal(t, beforeLast, afterLast)
}

func TestResubmissionIsRejected(t *testing.T) {
	h := newHarness(t)
	alice := h.bootstrap()
	_, certs := h.org.NewUser(alice, "bob", certificates.ProfileStandard)

	res := h.mustAdd(Batch{Common: certs})
	assert.Equal(t, 2, res.NewCertificatesCount)
	beforeEntries, beforeLast := h.snapshot()

	_, err := h.add(Batch{Common: certs[:1]})
	requireReason(t, err, ReasonContentAlreadyExists)

	afterEntries, afterLast := h.snapshot()
	assert.Equal(t, beforeEntries, afterEntries)
	assert.Equal(t, beforeLast, afterLast)
}

func TestRootSignature(t *testing.T) {
	rootUser := func(h *harness, ts time.Time) []byte {
		return h.org.Sign(&certificates.UserCertificate{
			Header:      certificates.Header{Timestamp: ts},
			UserID:      certificates.NewUserID(),
			HumanHandle: &certificates.HumanHandle{Email: "x@example.com", Label: "x"},
			PublicKey:   []byte("pk"),
			Profile:     certificates.ProfileAdmin,
		}, nil)
	}

	t.Run("out of bootstrap", func(t *testing.T) {
		h := newHarness(t)
		alice := h.bootstrap()
		h.newUser(alice, "bob", certificates.ProfileStandard)

		_, err := h.add(Batch{Common: [][]byte{rootUser(h, testbed.T0)}})
		requireReason(t, err, ReasonRootSignatureOutOfBootstrap)
	})

	t.Run("timestamp mismatch", func(t *testing.T) {
		h := newHarness(t)
		h.bootstrap()

		_, err := h.add(Batch{Common: [][]byte{rootUser(h, testbed.T0.Add(time.Second))}})
		ice := requireReason(t, err, ReasonRootSignatureTimestampMismatch)
		assert.Equal(t, testbed.T0, ice.ExpectedTimestamp)
	})

	t.Run("wrong root key", func(t *testing.T) {
		h := newHarness(t)
		other, err := cryptox.GenerateSigningKey()
		require.NoError(t, err)
		h.engine.RootVerifyKey = other.VerifyKey()

		_, certs := h.org.Bootstrap("alice")
		_, err = h.add(Batch{Common: certs})
		requireReason(t, err, ReasonCorrupted)
	})
}

func TestCorruptedAndUnexpectedTopic(t *testing.T) {
	h := newHarness(t)
	alice := h.bootstrap()

	_, certs := h.org.NewUser(alice, "bob", certificates.ProfileStandard)
	tampered := append([]byte(nil), certs[0]...)
	tampered[10] ^= 0xff
	_, err := h.add(Batch{Common: [][]byte{tampered}})
	requireReason(t, err, ReasonCorrupted)

	_, err = h.add(Batch{Common: [][]byte{[]byte("garbage")}})
	requireReason(t, err, ReasonCorrupted)

	id, role := h.org.CreateRealm(alice)
	_, err = h.add(Batch{Common: [][]byte{role}})
	requireReason(t, err, ReasonUnexpectedTopic)
	_, err = h.add(realmBatch(certificates.NewRealmID(), role))
	requireReason(t, err, ReasonUnexpectedTopic)
	h.mustAdd(realmBatch(id, role))
}

func TestAuthorRules(t *testing.T) {
	h := newHarness(t)
	alice := h.bootstrap()
	bob := h.newUser(alice, "bob", certificates.ProfileStandard)

	t.Run("non existing author", func(t *testing.T) {
		carol, _ := h.org.NewUser(alice, "carol", certificates.ProfileStandard)
		id, role := h.org.CreateRealm(carol)
		_, err := h.add(realmBatch(id, role))
		requireReason(t, err, ReasonNonExistingAuthor)
	})

	t.Run("self signed", func(t *testing.T) {
		key, err := cryptox.GenerateSigningKey()
		require.NoError(t, err)
		self := &testbed.Device{UserID: bob.UserID, DeviceID: certificates.NewDeviceID(), Key: key}
		signed := h.org.Sign(&certificates.DeviceCertificate{
			Header:    certificates.Header{Timestamp: h.org.Next()},
			UserID:    bob.UserID,
			DeviceID:  self.DeviceID,
			VerifyKey: key.VerifyKey(),
		}, self)
		_, err = h.add(Batch{Common: [][]byte{signed}})
		requireReason(t, err, ReasonSelfSigned)
	})

	t.Run("older than author", func(t *testing.T) {
		id := certificates.NewRealmID()
		signed := h.org.Sign(&certificates.RealmRoleCertificate{
			Header:  certificates.Header{Timestamp: testbed.T0},
			RealmID: id,
			UserID:  bob.UserID,
			Role:    certificates.RolePtr(certificates.RoleOwner),
		}, bob)
		_, err := h.add(realmBatch(id, signed))
		ice := requireReason(t, err, ReasonOlderThanAuthor)
		assert.True(t, ice.AuthorCreatedOn.After(testbed.T0))
	})

	t.Run("author not admin", func(t *testing.T) {
		_, certs := h.org.NewUser(bob, "dave", certificates.ProfileStandard)
		_, err := h.add(Batch{Common: certs})
		requireReason(t, err, ReasonAuthorNotAdmin)

		_, err = h.add(Batch{Common: [][]byte{h.org.Revoke(bob, alice)}})
		requireReason(t, err, ReasonAuthorNotAdmin)
	})
}

func TestUserAndDeviceRules(t *testing.T) {
	h := newHarness(t)
	alice := h.bootstrap()
	bob := h.newUser(alice, "bob", certificates.ProfileStandard)

	t.Run("second device by same user", func(t *testing.T) {
		_, signed := h.org.NewDevice(bob, "phone")
		h.mustAdd(Batch{Common: [][]byte{signed}})
	})

	t.Run("device enrolled by another user", func(t *testing.T) {
		d, _ := h.org.NewDevice(bob, "tablet")
		signed := h.org.Sign(&certificates.DeviceCertificate{
			Header:    certificates.Header{Timestamp: h.org.Next()},
			UserID:    bob.UserID,
			DeviceID:  d.DeviceID,
			VerifyKey: d.Key.VerifyKey(),
		}, alice)
		_, err := h.add(Batch{Common: [][]byte{signed}})
		requireReason(t, err, ReasonDeviceAuthorNotSameUser)
	})

	t.Run("first device timestamp mismatch", func(t *testing.T) {
		carol, certs := h.org.NewUser(alice, "carol", certificates.ProfileStandard)
		device := h.org.Sign(&certificates.DeviceCertificate{
			Header:    certificates.Header{Timestamp: h.org.Next()},
			UserID:    carol.UserID,
			DeviceID:  carol.DeviceID,
			VerifyKey: carol.Key.VerifyKey(),
		}, alice)
		_, err := h.add(Batch{Common: [][]byte{certs[0], device}})
		requireReason(t, err, ReasonUserFirstDeviceTimestampMismatch)
	})

	t.Run("first device author mismatch", func(t *testing.T) {
		admin := h.newUser(alice, "root2", certificates.ProfileAdmin)
		erin, certs := h.org.NewUser(alice, "erin", certificates.ProfileStandard)
		user := h.org.Load(certs[0])
		device := h.org.Sign(&certificates.DeviceCertificate{
			Header:    certificates.Header{Timestamp: user.Base().Timestamp},
			UserID:    erin.UserID,
			DeviceID:  erin.DeviceID,
			VerifyKey: erin.Key.VerifyKey(),
		}, admin)
		_, err := h.add(Batch{Common: [][]byte{certs[0], device}})
		requireReason(t, err, ReasonUserFirstDeviceAuthorMismatch)
	})

	t.Run("user already exists", func(t *testing.T) {
		signed := h.org.Sign(&certificates.UserCertificate{
			Header:      certificates.Header{Timestamp: h.org.Next()},
			UserID:      bob.UserID,
			HumanHandle: &certificates.HumanHandle{Email: "bob2@example.com", Label: "bob2"},
			PublicKey:   []byte("pk"),
			Profile:     certificates.ProfileStandard,
		}, alice)
		_, err := h.add(Batch{Common: [][]byte{signed}})
		requireReason(t, err, ReasonUserAlreadyExists)
	})

	t.Run("revocation", func(t *testing.T) {
		_, err := h.add(Batch{Common: [][]byte{h.org.Revoke(alice, alice)}})
		requireReason(t, err, ReasonCannotRevokeSelf)

		h.mustAdd(Batch{Common: [][]byte{h.org.Revoke(alice, bob)}})
		_, err = h.add(Batch{Common: [][]byte{h.org.Revoke(alice, bob)}})
		requireReason(t, err, ReasonUserAlreadyRevoked)

		_, signed := h.org.NewDevice(bob, "late")
		_, err = h.add(Batch{Common: [][]byte{signed}})
		requireReason(t, err, ReasonRevokedAuthor)
	})

	t.Run("profile update", func(t *testing.T) {
		_, err := h.add(Batch{Common: [][]byte{h.org.UpdateProfile(alice, alice, certificates.ProfileStandard)}})
		requireReason(t, err, ReasonCannotUpdateOwnProfile)
	})
}

func TestRealmRules(t *testing.T) {
	h := newHarness(t)
	alice := h.bootstrap()
	bob := h.newUser(alice, "bob", certificates.ProfileStandard)
	carol := h.newUser(alice, "carol", certificates.ProfileStandard)
	olive := h.newUser(alice, "olive", certificates.ProfileOutsider)
	realm := h.createRealm(alice)

	role := certificates.RolePtr

	tests := []struct {
		name string
		cert func() []byte
		want Reason
	}{
		{
			name: "first certificate must be role",
			cert: func() []byte { return h.org.RealmName(alice, certificates.NewRealmID(), 0, "x") },
			want: ReasonRealmFirstCertificateMustBeRole,
		},
		{
			name: "first role must be self signed",
			cert: func() []byte {
				return h.org.RealmRole(alice, certificates.NewRealmID(), bob.UserID, role(certificates.RoleOwner))
			},
			want: ReasonRealmFirstRoleMustBeSelfSigned,
		},
		{
			name: "first role must be owner",
			cert: func() []byte {
				return h.org.RealmRole(alice, certificates.NewRealmID(), alice.UserID, role(certificates.RoleManager))
			},
			want: ReasonRealmFirstRoleMustBeOwner,
		},
		{
			name: "outsider cannot be manager",
			cert: func() []byte { return h.org.RealmRole(alice, realm, olive.UserID, role(certificates.RoleManager)) },
			want: ReasonRealmOutsiderCannotBeOwnerOrManager,
		},
		{
			name: "author has no role",
			cert: func() []byte { return h.org.RealmRole(bob, realm, carol.UserID, role(certificates.RoleReader)) },
			want: ReasonRealmAuthorHasNoRole,
		},
		{
			name: "unknown user",
			cert: func() []byte {
				return h.org.RealmRole(alice, realm, certificates.NewUserID(), role(certificates.RoleReader))
			},
			want: ReasonRealmUnknownUser,
		},
		{
			name: "key index of first rotation",
			cert: func() []byte { return h.org.RealmKeyRotation(alice, realm, 2) },
			want: ReasonRealmKeyIndexMismatch,
		},
		{
			name: "name with unknown key index",
			cert: func() []byte { return h.org.RealmName(alice, realm, 3, "docs") },
			want: ReasonRealmKeyIndexMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed := tt.cert()
			c := h.org.Load(signed)
			_, err := h.add(realmBatch(c.Topic().RealmID, signed))
			requireReason(t, err, tt.want)
		})
	}

	t.Run("contributor cannot share", func(t *testing.T) {
		h.mustAdd(realmBatch(realm, h.org.RealmRole(alice, realm, bob.UserID, role(certificates.RoleContributor))))
		_, err := h.add(realmBatch(realm, h.org.RealmRole(bob, realm, carol.UserID, role(certificates.RoleReader))))
		requireReason(t, err, ReasonRealmAuthorNotOwnerOrManager)
	})

	t.Run("manager cannot grant manager", func(t *testing.T) {
		h.mustAdd(realmBatch(realm, h.org.RealmRole(alice, realm, bob.UserID, role(certificates.RoleManager))))
		h.mustAdd(realmBatch(realm, h.org.RealmRole(bob, realm, carol.UserID, role(certificates.RoleReader))))
		_, err := h.add(realmBatch(realm, h.org.RealmRole(bob, realm, carol.UserID, role(certificates.RoleManager))))
		requireReason(t, err, ReasonRealmAuthorNotOwner)
	})

	t.Run("manager cannot rename", func(t *testing.T) {
		_, err := h.add(realmBatch(realm, h.org.RealmName(bob, realm, 0, "mine")))
		requireReason(t, err, ReasonRealmAuthorNotOwner)
	})

	t.Run("cannot downgrade manager to outsider", func(t *testing.T) {
		_, err := h.add(Batch{Common: [][]byte{h.org.UpdateProfile(alice, bob, certificates.ProfileOutsider)}})
		requireReason(t, err, ReasonCannotDowngradeUserToOutsider)
	})

	t.Run("owner rotates then renames", func(t *testing.T) {
		h.mustAdd(realmBatch(realm,
			h.org.RealmKeyRotation(alice, realm, 1),
			h.org.RealmName(alice, realm, 1, "docs"),
		))
	})

	t.Run("unshare then role is gone", func(t *testing.T) {
		h.mustAdd(realmBatch(realm, h.org.RealmRole(bob, realm, carol.UserID, nil)))
		require.NoError(t, h.store.ForRead(context.Background(), func(tx certstore.ReadTx) error {
			assert.NotContains(t, tx.ListUserRealms(carol.UserID), realm)
			return nil
		}))
	})
}

func TestSequesterRules(t *testing.T) {
	bootstrap := func(h *harness) (*testbed.Device, Batch) {
		alice, certs := h.org.Bootstrap("alice")
		return alice, Batch{Common: certs, Sequester: [][]byte{h.org.EnableSequester()}}
	}

	t.Run("not sequestered", func(t *testing.T) {
		h := newHarness(t)
		_, batch := bootstrap(h)
		_, err := h.add(batch)
		requireReason(t, err, ReasonNotASequesteredOrganization)
	})

	t.Run("service without authority", func(t *testing.T) {
		h := newHarness(t)
		_, batch := bootstrap(h)
		h.mustAdd(Batch{Common: batch.Common})
		_, service := h.org.SequesterService("backup")
		_, err := h.add(Batch{Sequester: [][]byte{service}})
		requireReason(t, err, ReasonNotASequesteredOrganization)
	})

	t.Run("services lifecycle", func(t *testing.T) {
		h := newHarness(t)
		h.engine.Sequestered = true
		_, batch := bootstrap(h)
		res := h.mustAdd(batch)
		assert.Equal(t, 3, res.NewCertificatesCount)

		id, service := h.org.SequesterService("backup")
		h.mustAdd(Batch{Sequester: [][]byte{service}})

		revoke := func(id certificates.SequesterServiceID) []byte {
			signed, err := certificates.DumpAndSign(&certificates.SequesterRevokedServiceCertificate{
				Header:    certificates.Header{Timestamp: h.org.Next()},
				ServiceID: id,
			}, h.org.Sequester.Key)
			require.NoError(t, err)
			return signed
		}
		_, err := h.add(Batch{Sequester: [][]byte{revoke(certificates.NewSequesterServiceID())}})
		requireReason(t, err, ReasonSequesterServiceUnknown)

		h.mustAdd(Batch{Sequester: [][]byte{revoke(id)}})
		_, err = h.add(Batch{Sequester: [][]byte{revoke(id)}})
		requireReason(t, err, ReasonSequesterServiceAlreadyRevoked)

		require.NoError(t, h.store.ForRead(context.Background(), func(tx certstore.ReadTx) error {
			assert.Len(t, tx.GetSequesterServices(), 1)
			return nil
		}))

		// Services are not root signed, so the bootstrap window is closed.
		_, err = h.add(Batch{Sequester: [][]byte{h.org.EnableSequester()}})
		requireReason(t, err, ReasonRootSignatureOutOfBootstrap)
	})

	t.Run("authority must be first", func(t *testing.T) {
		h := newHarness(t)
		h.engine.Sequestered = true
		_, batch := bootstrap(h)
		first := batch.Sequester[0]
		second := h.org.Sign(&certificates.SequesterAuthorityCertificate{
			Header:    certificates.Header{Timestamp: testbed.T0},
			VerifyKey: []byte("another authority key"),
		}, nil)
		_, err := h.add(Batch{Common: batch.Common, Sequester: [][]byte{first, second}})
		requireReason(t, err, ReasonSequesterAuthorityMustBeFirst)
	})
}

func TestShamirRecoveryRules(t *testing.T) {
	h := newHarness(t)
	alice := h.bootstrap()
	bob := h.newUser(alice, "bob", certificates.ProfileStandard)
	carol := h.newUser(alice, "carol", certificates.ProfileStandard)

	t.Run("share without brief", func(t *testing.T) {
		_, certs := h.org.ShamirSetup(alice, 1, bob)
		_, err := h.add(Batch{ShamirRecovery: certs[1:]})
		requireReason(t, err, ReasonShamirRecoveryMissingBriefCertificate)
	})

	t.Run("brief about someone else", func(t *testing.T) {
		signed := h.org.Sign(&certificates.ShamirRecoveryBriefCertificate{
			Header:             certificates.Header{Timestamp: h.org.Next()},
			UserID:             bob.UserID,
			Threshold:          1,
			PerRecipientShares: map[certificates.UserID]uint8{carol.UserID: 1},
		}, alice)
		_, err := h.add(Batch{ShamirRecovery: [][]byte{signed}})
		requireReason(t, err, ReasonShamirRecoveryNotAboutSelf)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		ghost, _ := h.org.NewUser(alice, "ghost", certificates.ProfileStandard)
		_, certs := h.org.ShamirSetup(alice, 1, ghost)
		_, err := h.add(Batch{ShamirRecovery: certs})
		requireReason(t, err, ReasonShamirRecoveryUnknownRecipient)
	})

	t.Run("share for another recipient", func(t *testing.T) {
		brief, certs := h.org.ShamirSetup(alice, 1, bob)
		stray := h.org.Sign(&certificates.ShamirRecoveryShareCertificate{
			Header:        certificates.Header{Timestamp: brief.Timestamp},
			UserID:        alice.UserID,
			RecipientID:   carol.UserID,
			CipheredShare: []byte("x"),
		}, alice)
		_, err := h.add(Batch{ShamirRecovery: [][]byte{certs[0], stray}})
		requireReason(t, err, ReasonShamirRecoveryBriefShareMismatch)
	})

	t.Run("setup then delete", func(t *testing.T) {
		brief, certs := h.org.ShamirSetup(alice, 2, bob, carol)
		res := h.mustAdd(Batch{ShamirRecovery: certs})
		assert.Equal(t, 3, res.NewCertificatesCount)

		last, err := h.store.GetLastShamirRecoveryForAuthor(context.Background(), certstore.Current, alice.UserID)
		require.NoError(t, err)
		assert.Equal(t, certstore.ShamirRecoveryValid, last.State)

		h.mustAdd(Batch{ShamirRecovery: [][]byte{h.org.ShamirDelete(alice, brief)}})
		_, err = h.add(Batch{ShamirRecovery: [][]byte{h.org.ShamirDelete(alice, brief)}})
		requireReason(t, err, ReasonShamirRecoveryAlreadyDeleted)

		_, err = h.add(Batch{ShamirRecovery: [][]byte{h.org.ShamirDelete(bob, brief)}})
		requireReason(t, err, ReasonShamirRecoveryNotAboutSelf)
	})

	t.Run("deletion of unknown setup", func(t *testing.T) {
		brief := &certificates.ShamirRecoveryBriefCertificate{
			Header:             certificates.Header{Timestamp: testbed.T0.Add(time.Hour)},
			UserID:             bob.UserID,
			PerRecipientShares: map[certificates.UserID]uint8{alice.UserID: 1},
		}
		_, err := h.add(Batch{ShamirRecovery: [][]byte{h.org.ShamirDelete(bob, brief)}})
		requireReason(t, err, ReasonShamirRecoveryDeletionMismatch)
	})
}

func TestRedactionSwitch(t *testing.T) {
	h := newHarness(t)
	alice, aliceCerts := h.org.Bootstrap("alice")
	bob, bobCerts := h.org.NewUser(alice, "bob", certificates.ProfileStandard)
	h.engine.LocalUserID = bob.UserID

	res := h.mustAdd(Batch{Common: append(aliceCerts, bobCerts...)})
	assert.Equal(t, MaybeRedactedSwitch{NewCertificatesCount: 4}, res)

	update := h.org.UpdateProfile(alice, bob, certificates.ProfileOutsider)
	ctx := context.Background()
	err := h.store.ForWrite(ctx, func(tx certstore.WriteTx) error {
		res, err := h.engine.AddCertificatesBatch(ctx, tx, Batch{Common: [][]byte{update}})
		require.NoError(t, err)
		require.True(t, res.Switched)
		assert.Equal(t, certificates.UniverseRedacted, tx.Universe())
		assert.Empty(t, tx.Entries())

		// The refill happens in the same transaction.
		redacted := append(h.org.RedactedAll(aliceCerts), h.org.RedactedAll(bobCerts)...)
		res, err = h.engine.AddCertificatesBatch(ctx, tx, Batch{Common: append(redacted, update)})
		require.NoError(t, err)
		assert.Equal(t, MaybeRedactedSwitch{NewCertificatesCount: 5}, res)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, h.store.ForRead(ctx, func(tx certstore.ReadTx) error {
		assert.Equal(t, certificates.UniverseRedacted, tx.Universe())
		u, ok := tx.GetUserCertificate(alice.UserID)
		require.True(t, ok)
		assert.True(t, u.Redacted)
		return nil
	}))
}

func TestUniverseMismatch(t *testing.T) {
	t.Run("redacted certificates in the full universe", func(t *testing.T) {
		h := newHarness(t)
		alice, certs := h.org.Bootstrap("alice")
		h.engine.LocalUserID = alice.UserID

		_, err := h.add(Batch{Common: h.org.RedactedAll(certs)})
		requireReason(t, err, ReasonUnexpectedUniverse)
	})

	t.Run("full certificate in the redacted universe", func(t *testing.T) {
		h := newHarness(t)
		alice, aliceCerts := h.org.Bootstrap("alice")
		olive, oliveCerts := h.org.NewUser(alice, "olive", certificates.ProfileOutsider)
		h.engine.LocalUserID = olive.UserID

		res := h.mustAdd(Batch{Common: append(aliceCerts, oliveCerts...)})
		require.True(t, res.Switched)
		res = h.mustAdd(Batch{Common: h.org.RedactedAll(append(aliceCerts, oliveCerts...))})
		assert.Equal(t, 4, res.NewCertificatesCount)

		_, bobCerts := h.org.NewUser(alice, "bob", certificates.ProfileStandard)
		_, err := h.add(Batch{Common: bobCerts})
		requireReason(t, err, ReasonUnexpectedUniverse)

		res = h.mustAdd(Batch{Common: h.org.RedactedAll(bobCerts)})
		assert.Equal(t, 2, res.NewCertificatesCount)
	})
}

func TestServerEngineNeverSwitches(t *testing.T) {
	h := newHarness(t)
	alice := h.bootstrap()
	olive, certs := h.org.NewUser(alice, "olive", certificates.ProfileOutsider)
	res := h.mustAdd(Batch{Common: certs})
	assert.False(t, res.Switched)
	assert.NotEmpty(t, olive.UserID)
}

func TestAddCertificatesBatch_StoppedStore(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Stop())
	_, certs := h.org.Bootstrap("alice")
	_, err := h.add(Batch{Common: certs})
	assert.True(t, errors.Is(err, common.ErrStopped))
}

func TestBatchLen(t *testing.T) {
	b := Batch{
		Common: [][]byte{{1}, {2}},
		Realm:  map[certificates.RealmID][][]byte{"a": {{3}}, "b": {{4}, {5}}},
	}
	assert.Equal(t, 5, b.Len())
}

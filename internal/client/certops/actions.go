package certops

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

func (o *Ops) sign(c certificates.Certificate, ts time.Time) ([]byte, error) {
	b := c.Base()
	b.Author = o.device.DeviceID
	b.Timestamp = ts
	return certificates.DumpAndSign(c, o.device.SigningKey)
}

// signTarget pairs a certificate with the request field receiving its signed
// form.
type signTarget struct {
	c   certificates.Certificate
	dst *[]byte
}

func rejections(extra map[wire.Status]error) map[wire.Status]error {
	m := map[wire.Status]error{
		wire.StatusAuthorNotAllowed:   ErrAuthorNotAllowed,
		wire.StatusInvalidCertificate: ErrCertificateRejected,
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// localCheck runs fn against the current snapshot. fn returns a non nil
// outcome when the action is already done.
func (o *Ops) localCheck(ctx context.Context, fn func(tx certstore.ReadTx) (*Outcome, error)) (*Outcome, error) {
	var done *Outcome
	err := o.store.ForRead(ctx, func(tx certstore.ReadTx) error {
		var err error
		done, err = fn(tx)
		return err
	})
	return done, err
}

// NewUser describes a user to enroll together with its first device.
type NewUser struct {
	UserID          certificates.UserID
	DeviceID        certificates.DeviceID
	HumanHandle     certificates.HumanHandle
	Profile         certificates.UserProfile
	PublicKey       []byte
	DeviceLabel     string
	DeviceVerifyKey cryptox.VerifyKey
}

func (o *Ops) CreateUser(ctx context.Context, u NewUser) (Outcome, error) {
	return o.run(ctx, action{
		name:  "user_create",
		topic: certificates.CommonTopic,
		send: func(ctx context.Context, ts time.Time) (*wire.ActionRep, error) {
			req, err := o.userCreateReq(u, ts)
			if err != nil {
				return nil, err
			}
			return o.cmds.UserCreate(ctx, req)
		},
		rejected: rejections(map[wire.Status]error{
			wire.StatusUserAlreadyExists: ErrUserAlreadyExists,
		}),
	})
}

func (o *Ops) userCreateReq(u NewUser, ts time.Time) (*wire.UserCreateReq, error) {
	handle := u.HumanHandle
	user := &certificates.UserCertificate{UserID: u.UserID, HumanHandle: &handle, PublicKey: u.PublicKey, Profile: u.Profile}
	device := &certificates.DeviceCertificate{UserID: u.UserID, DeviceID: u.DeviceID, DeviceLabel: u.DeviceLabel, VerifyKey: u.DeviceVerifyKey}
	redactedUser := &certificates.UserCertificate{UserID: u.UserID, PublicKey: u.PublicKey, Profile: u.Profile, Redacted: true}
	redactedDevice := &certificates.DeviceCertificate{UserID: u.UserID, DeviceID: u.DeviceID, VerifyKey: u.DeviceVerifyKey, Redacted: true}

	var req wire.UserCreateReq
	for _, p := range []signTarget{
		{user, &req.UserCertificate},
		{device, &req.DeviceCertificate},
		{redactedUser, &req.RedactedUserCertificate},
		{redactedDevice, &req.RedactedDeviceCertificate},
	} {
		signed, err := o.sign(p.c, ts)
		if err != nil {
			return nil, err
		}
		*p.dst = signed
	}
	return &req, nil
}

func (o *Ops) UpdateUserProfile(ctx context.Context, user certificates.UserID, profile certificates.UserProfile) (Outcome, error) {
	done, err := o.localCheck(ctx, func(tx certstore.ReadTx) (*Outcome, error) {
		if _, ok := tx.GetUserCertificate(user); !ok {
			return nil, ErrUserNotFound
		}
		if _, ok := tx.GetRevokedUserCertificate(user); ok {
			return nil, ErrUserRevoked
		}
		history := tx.GetUserProfileHistory(user)
		if last := history[len(history)-1]; last.Profile == profile {
			return &Outcome{Kind: LocalIdempotent, Timestamp: last.Timestamp}, nil
		}
		return nil, nil
	})
	if err != nil || done != nil {
		return deref(done), err
	}

	return o.run(ctx, action{
		name:  "user_update",
		topic: certificates.CommonTopic,
		send: func(ctx context.Context, ts time.Time) (*wire.ActionRep, error) {
			signed, err := o.sign(&certificates.UserUpdateCertificate{UserID: user, NewProfile: profile}, ts)
			if err != nil {
				return nil, err
			}
			return o.cmds.UserUpdate(ctx, &wire.UserUpdateReq{UserUpdateCertificate: signed})
		},
		idempotent: []wire.Status{wire.StatusUserNoChanges},
		rejected: rejections(map[wire.Status]error{
			wire.StatusUserNotFound:       ErrUserNotFound,
			wire.StatusUserAlreadyRevoked: ErrUserRevoked,
		}),
	})
}

func (o *Ops) RevokeUser(ctx context.Context, user certificates.UserID) (Outcome, error) {
	done, err := o.localCheck(ctx, func(tx certstore.ReadTx) (*Outcome, error) {
		if _, ok := tx.GetUserCertificate(user); !ok {
			return nil, ErrUserNotFound
		}
		if r, ok := tx.GetRevokedUserCertificate(user); ok {
			return &Outcome{Kind: LocalIdempotent, Timestamp: r.Timestamp}, nil
		}
		return nil, nil
	})
	if err != nil || done != nil {
		return deref(done), err
	}

	return o.run(ctx, action{
		name:  "user_revoke",
		topic: certificates.CommonTopic,
		send: func(ctx context.Context, ts time.Time) (*wire.ActionRep, error) {
			signed, err := o.sign(&certificates.RevokedUserCertificate{UserID: user}, ts)
			if err != nil {
				return nil, err
			}
			return o.cmds.UserRevoke(ctx, &wire.UserRevokeReq{RevokedUserCertificate: signed})
		},
		idempotent: []wire.Status{wire.StatusUserAlreadyRevoked},
		rejected: rejections(map[wire.Status]error{
			wire.StatusUserNotFound: ErrUserNotFound,
		}),
	})
}

// DeleteShamirRecovery removes the local user's current shamir recovery
// setup. Nothing is sent when there is none.
func (o *Ops) DeleteShamirRecovery(ctx context.Context) (Outcome, error) {
	var brief *certificates.ShamirRecoveryBriefCertificate
	done, err := o.localCheck(ctx, func(tx certstore.ReadTx) (*Outcome, error) {
		last := tx.GetLastShamirRecoveryForAuthor(certstore.Current, o.device.UserID)
		switch last.State {
		case certstore.ShamirRecoveryNeverSetup:
			return &Outcome{Kind: LocalIdempotent}, nil
		case certstore.ShamirRecoveryDeleted:
			return &Outcome{Kind: LocalIdempotent, Timestamp: last.Deletion.Timestamp}, nil
		}
		brief = last.Brief
		return nil, nil
	})
	if err != nil || done != nil {
		return deref(done), err
	}

	recipients := slices.Sorted(maps.Keys(brief.PerRecipientShares))

	return o.run(ctx, action{
		name:  "shamir_recovery_delete",
		topic: certificates.ShamirRecoveryTopic,
		send: func(ctx context.Context, ts time.Time) (*wire.ActionRep, error) {
			signed, err := o.sign(&certificates.ShamirRecoveryDeletionCertificate{
				SetupToDeleteTimestamp: brief.Timestamp,
				SetupToDeleteUserID:    brief.UserID,
				ShareRecipients:        recipients,
			}, ts)
			if err != nil {
				return nil, err
			}
			return o.cmds.ShamirRecoveryDelete(ctx, &wire.ShamirRecoveryDeleteReq{ShamirRecoveryDeletionCertificate: signed})
		},
		idempotent: []wire.Status{wire.StatusShamirRecoveryDeleted},
		rejected: rejections(map[wire.Status]error{
			wire.StatusShamirRecoveryNotFound: ErrShamirRecoveryMissing,
		}),
	})
}

// CreateRealm creates realm with the local user as its owner.
func (o *Ops) CreateRealm(ctx context.Context, realm certificates.RealmID) (Outcome, error) {
	done, err := o.localCheck(ctx, func(tx certstore.ReadTx) (*Outcome, error) {
		if !tx.RealmExists(realm) {
			return nil, nil
		}
		roles := tx.GetRealmRoles(realm)
		return &Outcome{Kind: LocalIdempotent, Timestamp: roles[0].Timestamp}, nil
	})
	if err != nil || done != nil {
		return deref(done), err
	}

	return o.run(ctx, action{
		name:  "realm_create",
		topic: certificates.RealmTopic(realm),
		send: func(ctx context.Context, ts time.Time) (*wire.ActionRep, error) {
			signed, err := o.sign(&certificates.RealmRoleCertificate{
				RealmID: realm,
				UserID:  o.device.UserID,
				Role:    certificates.RolePtr(certificates.RoleOwner),
			}, ts)
			if err != nil {
				return nil, err
			}
			return o.cmds.RealmCreate(ctx, &wire.RealmCreateReq{RealmRoleCertificate: signed})
		},
		idempotent: []wire.Status{wire.StatusRealmAlreadyExists},
		rejected:   rejections(nil),
	})
}

// RenameRealm uploads a new name for realm, sealed with the device local key.
// The local idempotence check only recognizes names this device sealed; a name
// set elsewhere is always overwritten.
func (o *Ops) RenameRealm(ctx context.Context, realm certificates.RealmID, name string) (Outcome, error) {
	var keyIndex uint64
	done, err := o.localCheck(ctx, func(tx certstore.ReadTx) (*Outcome, error) {
		if !tx.RealmExists(realm) {
			return nil, ErrRealmNotFound
		}
		if r, ok := tx.GetLastRealmKeyRotation(realm); ok {
			keyIndex = r.KeyIndex
		}
		if current, ok := tx.GetRealmName(realm); ok {
			if decoded, err := o.OpenRealmName(current.EncryptedName); err == nil && decoded == name {
				return &Outcome{Kind: LocalIdempotent, Timestamp: current.Timestamp}, nil
			}
		}
		return nil, nil
	})
	if err != nil || done != nil {
		return deref(done), err
	}

	encrypted, err := o.sealRealmName(name)
	if err != nil {
		return Outcome{}, err
	}

	return o.run(ctx, action{
		name:  "realm_rename",
		topic: certificates.RealmTopic(realm),
		send: func(ctx context.Context, ts time.Time) (*wire.ActionRep, error) {
			signed, err := o.sign(&certificates.RealmNameCertificate{
				RealmID:       realm,
				KeyIndex:      keyIndex,
				EncryptedName: encrypted,
			}, ts)
			if err != nil {
				return nil, err
			}
			return o.cmds.RealmRename(ctx, &wire.RealmRenameReq{RealmNameCertificate: signed})
		},
		rejected: rejections(map[wire.Status]error{
			wire.StatusRealmNotFound:    ErrRealmNotFound,
			wire.StatusRealmBadKeyIndex: ErrRealmBadKeyIndex,
		}),
	})
}

// ShareRealm gives role in realm to user.
func (o *Ops) ShareRealm(ctx context.Context, realm certificates.RealmID, user certificates.UserID, role certificates.RealmRole) (Outcome, error) {
	return o.setRealmRole(ctx, "realm_share", realm, user, &role)
}

// UnshareRealm takes away every role user holds in realm.
func (o *Ops) UnshareRealm(ctx context.Context, realm certificates.RealmID, user certificates.UserID) (Outcome, error) {
	return o.setRealmRole(ctx, "realm_unshare", realm, user, nil)
}

func (o *Ops) setRealmRole(ctx context.Context, name string, realm certificates.RealmID, user certificates.UserID, role *certificates.RealmRole) (Outcome, error) {
	done, err := o.localCheck(ctx, func(tx certstore.ReadTx) (*Outcome, error) {
		if !tx.RealmExists(realm) {
			return nil, ErrRealmNotFound
		}
		if _, ok := tx.GetUserCertificate(user); !ok {
			return nil, ErrUserNotFound
		}
		last, ok := tx.GetLastRealmRole(certstore.Current, realm, user)
		switch {
		case !ok && role == nil:
			return &Outcome{Kind: LocalIdempotent}, nil
		case ok && sameRole(last.Role, role):
			return &Outcome{Kind: LocalIdempotent, Timestamp: last.Timestamp}, nil
		}
		return nil, nil
	})
	if err != nil || done != nil {
		return deref(done), err
	}

	return o.run(ctx, action{
		name:  name,
		topic: certificates.RealmTopic(realm),
		send: func(ctx context.Context, ts time.Time) (*wire.ActionRep, error) {
			signed, err := o.sign(&certificates.RealmRoleCertificate{RealmID: realm, UserID: user, Role: role}, ts)
			if err != nil {
				return nil, err
			}
			if role == nil {
				return o.cmds.RealmUnshare(ctx, &wire.RealmUnshareReq{RealmRoleCertificate: signed})
			}
			return o.cmds.RealmShare(ctx, &wire.RealmShareReq{RealmRoleCertificate: signed})
		},
		idempotent: []wire.Status{wire.StatusRealmRoleNoChanges},
		rejected: rejections(map[wire.Status]error{
			wire.StatusRealmNotFound:      ErrRealmNotFound,
			wire.StatusUserNotFound:       ErrUserNotFound,
			wire.StatusUserAlreadyRevoked: ErrUserRevoked,
		}),
	})
}

func sameRole(a, b *certificates.RealmRole) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(o *Outcome) Outcome {
	if o == nil {
		return Outcome{}
	}
	return *o
}

package organization

import (
	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

// The checks below run before validation. They spot commands whose goal is
// already reached, or whose target does not exist, and answer with the
// dedicated status so clients can tell them apart from invalid certificates.

func checkUserCreate(tx certstore.ReadTx, c certificates.Certificate) *wire.ActionRep {
	u := c.(*certificates.UserCertificate)
	if existing, ok := tx.GetUserCertificate(u.UserID); ok {
		return &wire.ActionRep{Status: wire.StatusUserAlreadyExists, LastCertificateTimestamp: existing.Timestamp}
	}
	return nil
}

func checkUserUpdate(tx certstore.ReadTx, c certificates.Certificate) *wire.ActionRep {
	u := c.(*certificates.UserUpdateCertificate)
	if _, ok := tx.GetUserCertificate(u.UserID); !ok {
		return &wire.ActionRep{Status: wire.StatusUserNotFound}
	}
	if revoked, ok := tx.GetRevokedUserCertificate(u.UserID); ok {
		return &wire.ActionRep{Status: wire.StatusUserAlreadyRevoked, LastCertificateTimestamp: revoked.Timestamp}
	}
	history := tx.GetUserProfileHistory(u.UserID)
	if last := history[len(history)-1]; last.Profile == u.NewProfile {
		return &wire.ActionRep{Status: wire.StatusUserNoChanges, LastCertificateTimestamp: last.Timestamp}
	}
	return nil
}

func checkUserRevoke(tx certstore.ReadTx, c certificates.Certificate) *wire.ActionRep {
	r := c.(*certificates.RevokedUserCertificate)
	if _, ok := tx.GetUserCertificate(r.UserID); !ok {
		return &wire.ActionRep{Status: wire.StatusUserNotFound}
	}
	if revoked, ok := tx.GetRevokedUserCertificate(r.UserID); ok {
		return &wire.ActionRep{Status: wire.StatusUserAlreadyRevoked, LastCertificateTimestamp: revoked.Timestamp}
	}
	return nil
}

func checkRealmCreate(tx certstore.ReadTx, c certificates.Certificate) *wire.ActionRep {
	r := c.(*certificates.RealmRoleCertificate)
	if roles := tx.GetRealmRoles(r.RealmID); len(roles) > 0 {
		return &wire.ActionRep{Status: wire.StatusRealmAlreadyExists, LastCertificateTimestamp: roles[0].Timestamp}
	}
	return nil
}

func checkRealmRename(tx certstore.ReadTx, c certificates.Certificate) *wire.ActionRep {
	n := c.(*certificates.RealmNameCertificate)
	if !tx.RealmExists(n.RealmID) {
		return &wire.ActionRep{Status: wire.StatusRealmNotFound}
	}
	var current uint64
	if rot, ok := tx.GetLastRealmKeyRotation(n.RealmID); ok {
		current = rot.KeyIndex
	}
	if n.KeyIndex != current {
		return &wire.ActionRep{Status: wire.StatusRealmBadKeyIndex}
	}
	return nil
}

// checkRealmRoleChange serves realm_share (share set, a role is granted) and
// realm_unshare (the role is withdrawn).
func checkRealmRoleChange(share bool) func(tx certstore.ReadTx, c certificates.Certificate) *wire.ActionRep {
	return func(tx certstore.ReadTx, c certificates.Certificate) *wire.ActionRep {
		r := c.(*certificates.RealmRoleCertificate)
		if share != (r.Role != nil) {
			return invalidRep("role does not match the command")
		}
		if !tx.RealmExists(r.RealmID) {
			return &wire.ActionRep{Status: wire.StatusRealmNotFound}
		}
		if _, ok := tx.GetUserCertificate(r.UserID); !ok {
			return &wire.ActionRep{Status: wire.StatusUserNotFound}
		}
		if revoked, ok := tx.GetRevokedUserCertificate(r.UserID); ok && share {
			return &wire.ActionRep{Status: wire.StatusUserAlreadyRevoked, LastCertificateTimestamp: revoked.Timestamp}
		}

		prev, ok := tx.GetLastRealmRole(certstore.Current, r.RealmID, r.UserID)
		switch {
		case !ok && r.Role == nil:
			return &wire.ActionRep{Status: wire.StatusRealmRoleNoChanges}
		case ok && sameRole(prev.Role, r.Role):
			return &wire.ActionRep{Status: wire.StatusRealmRoleNoChanges, LastCertificateTimestamp: prev.Timestamp}
		}
		return nil
	}
}

func sameRole(a, b *certificates.RealmRole) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func checkShamirDelete(tx certstore.ReadTx, c certificates.Certificate) *wire.ActionRep {
	d := c.(*certificates.ShamirRecoveryDeletionCertificate)
	last := tx.GetLastShamirRecoveryForAuthor(certstore.Current, d.SetupToDeleteUserID)
	if last.Brief == nil || !last.Brief.Timestamp.Equal(d.SetupToDeleteTimestamp) {
		return &wire.ActionRep{Status: wire.StatusShamirRecoveryNotFound}
	}
	if last.State == certstore.ShamirRecoveryDeleted {
		return &wire.ActionRep{Status: wire.StatusShamirRecoveryDeleted, LastCertificateTimestamp: last.Deletion.Timestamp}
	}
	return nil
}

package validation

import (
	"fmt"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
)

// authorRealmRole returns the role the author holds in the realm at the
// certificate's timestamp.
func authorRealmRole(tx certstore.ReadTx, c certificates.Certificate, realm certificates.RealmID, author *authorInfo) (certificates.RealmRole, error) {
	upto := certstore.UpToTimestamp(c.Base().Timestamp)
	r, ok := tx.GetLastRealmRole(upto, realm, author.userID())
	if !ok || r.Role == nil {
		return "", invalid(ReasonRealmAuthorHasNoRole, c.Hint())
	}
	return *r.Role, nil
}

func requireRealmOwner(tx certstore.ReadTx, c certificates.Certificate, realm certificates.RealmID, author *authorInfo) error {
	role, err := authorRealmRole(tx, c, realm, author)
	if err != nil {
		return err
	}
	if role != certificates.RoleOwner {
		return invalid(ReasonRealmAuthorNotOwner, c.Hint())
	}
	return nil
}

func checkRealmRole(tx certstore.ReadTx, c *certificates.RealmRoleCertificate, author *authorInfo) error {
	if !tx.RealmExists(c.RealmID) {
		if c.UserID != author.userID() {
			return invalid(ReasonRealmFirstRoleMustBeSelfSigned, c.Hint())
		}
		if c.Role == nil || *c.Role != certificates.RoleOwner {
			return invalid(ReasonRealmFirstRoleMustBeOwner, c.Hint())
		}
		return nil
	}

	if c.UserID == author.userID() {
		return invalid(ReasonRealmCannotChangeOwnRole, c.Hint())
	}
	if _, ok := tx.GetUserCertificate(c.UserID); !ok {
		return invalid(ReasonRealmUnknownUser, c.Hint())
	}
	if c.Role != nil {
		if _, ok := tx.GetRevokedUserCertificate(c.UserID); ok {
			return invalid(ReasonRealmUserRevoked, c.Hint())
		}
		profile, _ := tx.GetUserProfileAt(certstore.UpToTimestamp(c.Timestamp), c.UserID)
		if profile == certificates.ProfileOutsider && certificates.IsOwnerOrManager(c.Role) {
			return invalid(ReasonRealmOutsiderCannotBeOwnerOrManager, c.Hint())
		}
	}

	authorRole, err := authorRealmRole(tx, c, c.RealmID, author)
	if err != nil {
		return err
	}
	var previous *certificates.RealmRole
	if r, ok := tx.GetLastRealmRole(certstore.Current, c.RealmID, c.UserID); ok {
		previous = r.Role
	}
	if certificates.IsOwnerOrManager(c.Role) || certificates.IsOwnerOrManager(previous) {
		if !authorRole.CanGrantOwnerOrManager() {
			return invalid(ReasonRealmAuthorNotOwner, c.Hint())
		}
		return nil
	}
	if !certificates.IsOwnerOrManager(&authorRole) {
		return invalid(ReasonRealmAuthorNotOwnerOrManager, c.Hint())
	}
	return nil
}

// requireExistingRealm rejects non role certificates opening a realm.
func requireExistingRealm(tx certstore.ReadTx, c certificates.Certificate, realm certificates.RealmID) error {
	if !tx.RealmExists(realm) {
		return invalid(ReasonRealmFirstCertificateMustBeRole, c.Hint())
	}
	return nil
}

func checkRealmName(tx certstore.ReadTx, c *certificates.RealmNameCertificate, author *authorInfo) error {
	if err := requireExistingRealm(tx, c, c.RealmID); err != nil {
		return err
	}
	if err := requireRealmOwner(tx, c, c.RealmID, author); err != nil {
		return err
	}
	var current uint64
	if r, ok := tx.GetLastRealmKeyRotation(c.RealmID); ok {
		current = r.KeyIndex
	}
	if c.KeyIndex != current {
		return &InvalidCertificateError{
			Reason: ReasonRealmKeyIndexMismatch,
			Hint:   fmt.Sprintf("%s, expected key index %d", c.Hint(), current),
		}
	}
	return nil
}

func checkRealmKeyRotation(tx certstore.ReadTx, c *certificates.RealmKeyRotationCertificate, author *authorInfo) error {
	if err := requireExistingRealm(tx, c, c.RealmID); err != nil {
		return err
	}
	if err := requireRealmOwner(tx, c, c.RealmID, author); err != nil {
		return err
	}
	var last uint64
	if r, ok := tx.GetLastRealmKeyRotation(c.RealmID); ok {
		last = r.KeyIndex
	}
	if c.KeyIndex != last+1 {
		return &InvalidCertificateError{
			Reason: ReasonRealmKeyIndexMismatch,
			Hint:   fmt.Sprintf("%s, expected key index %d", c.Hint(), last+1),
		}
	}
	return nil
}

func checkRealmArchiving(tx certstore.ReadTx, c *certificates.RealmArchivingCertificate, author *authorInfo) error {
	if err := requireExistingRealm(tx, c, c.RealmID); err != nil {
		return err
	}
	return requireRealmOwner(tx, c, c.RealmID, author)
}

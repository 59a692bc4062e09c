package validation

import (
	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
)

func checkUser(tx certstore.ReadTx, c *certificates.UserCertificate, author *authorInfo) error {
	if _, ok := tx.GetUserCertificate(c.UserID); ok {
		return invalid(ReasonUserAlreadyExists, c.Hint())
	}
	return requireAdmin(c, author)
}

func checkDevice(tx certstore.ReadTx, c *certificates.DeviceCertificate, author *authorInfo) error {
	if _, ok := tx.GetDeviceCertificate(c.DeviceID); ok {
		return invalid(ReasonDeviceAlreadyExists, c.Hint())
	}
	user, ok := tx.GetUserCertificate(c.UserID)
	if !ok {
		return invalid(ReasonUnknownUser, c.Hint())
	}
	if _, ok := tx.GetRevokedUserCertificate(c.UserID); ok {
		return invalid(ReasonUserRevoked, c.Hint())
	}

	if len(tx.ListUserDevices(c.UserID)) == 0 {
		// The first device is created together with its user.
		if c.Author != user.Author {
			return invalid(ReasonUserFirstDeviceAuthorMismatch, c.Hint())
		}
		if !c.Timestamp.Equal(user.Timestamp) {
			return &InvalidCertificateError{
				Reason:            ReasonUserFirstDeviceTimestampMismatch,
				Hint:              c.Hint(),
				ExpectedTimestamp: user.Timestamp,
			}
		}
		return nil
	}

	if author.userID() != c.UserID {
		return invalid(ReasonDeviceAuthorNotSameUser, c.Hint())
	}
	return nil
}

func checkRevokedUser(tx certstore.ReadTx, c *certificates.RevokedUserCertificate, author *authorInfo) error {
	if _, ok := tx.GetUserCertificate(c.UserID); !ok {
		return invalid(ReasonUnknownUser, c.Hint())
	}
	if _, ok := tx.GetRevokedUserCertificate(c.UserID); ok {
		return invalid(ReasonUserAlreadyRevoked, c.Hint())
	}
	if author.userID() == c.UserID {
		return invalid(ReasonCannotRevokeSelf, c.Hint())
	}
	return requireAdmin(c, author)
}

func checkUserUpdate(tx certstore.ReadTx, c *certificates.UserUpdateCertificate, author *authorInfo) error {
	if _, ok := tx.GetUserCertificate(c.UserID); !ok {
		return invalid(ReasonUnknownUser, c.Hint())
	}
	if _, ok := tx.GetRevokedUserCertificate(c.UserID); ok {
		return invalid(ReasonUserRevoked, c.Hint())
	}
	if author.userID() == c.UserID {
		return invalid(ReasonCannotUpdateOwnProfile, c.Hint())
	}
	if err := requireAdmin(c, author); err != nil {
		return err
	}

	if c.NewProfile == certificates.ProfileOutsider {
		for _, realm := range tx.ListUserRealms(c.UserID) {
			role, _ := tx.GetLastRealmRole(certstore.Current, realm, c.UserID)
			if certificates.IsOwnerOrManager(role.Role) {
				return invalid(ReasonCannotDowngradeUserToOutsider, c.Hint())
			}
		}
	}
	return nil
}

package validation

import (
	"maps"
	"slices"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
)

func checkShamirBrief(tx certstore.ReadTx, c *certificates.ShamirRecoveryBriefCertificate, author *authorInfo) error {
	if c.UserID != author.userID() {
		return invalid(ReasonShamirRecoveryNotAboutSelf, c.Hint())
	}
	for recipient := range c.PerRecipientShares {
		if _, ok := tx.GetUserCertificate(recipient); !ok {
			return invalid(ReasonShamirRecoveryUnknownRecipient, c.Hint())
		}
	}
	return nil
}

// checkShamirShare requires the share to follow the brief of its setup, which
// carries the same timestamp.
func checkShamirShare(tx certstore.ReadTx, c *certificates.ShamirRecoveryShareCertificate, author *authorInfo) error {
	if c.UserID != author.userID() {
		return invalid(ReasonShamirRecoveryNotAboutSelf, c.Hint())
	}
	brief, ok := tx.GetLastShamirRecoveryBrief()
	if !ok || !brief.Timestamp.Equal(c.Timestamp) || brief.Author != c.Author {
		return invalid(ReasonShamirRecoveryMissingBriefCertificate, c.Hint())
	}
	if brief.UserID != c.UserID {
		return invalid(ReasonShamirRecoveryBriefShareMismatch, c.Hint())
	}
	if _, ok := brief.PerRecipientShares[c.RecipientID]; !ok {
		return invalid(ReasonShamirRecoveryBriefShareMismatch, c.Hint())
	}
	return nil
}

func checkShamirDeletion(tx certstore.ReadTx, c *certificates.ShamirRecoveryDeletionCertificate, author *authorInfo) error {
	if c.SetupToDeleteUserID != author.userID() {
		return invalid(ReasonShamirRecoveryNotAboutSelf, c.Hint())
	}
	last := tx.GetLastShamirRecoveryForAuthor(certstore.Current, c.SetupToDeleteUserID)
	if last.Brief == nil || !last.Brief.Timestamp.Equal(c.SetupToDeleteTimestamp) {
		return invalid(ReasonShamirRecoveryDeletionMismatch, c.Hint())
	}
	if last.State == certstore.ShamirRecoveryDeleted {
		return invalid(ReasonShamirRecoveryAlreadyDeleted, c.Hint())
	}
	recipients := slices.Sorted(maps.Keys(last.Brief.PerRecipientShares))
	if !slices.Equal(recipients, slices.Sorted(slices.Values(c.ShareRecipients))) {
		return invalid(ReasonShamirRecoveryDeletionMismatch, c.Hint())
	}
	return nil
}

package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/common"
)

// Reason names the consistency rule a certificate broke.
type Reason string

const (
	ReasonCorrupted                      Reason = "corrupted"
	ReasonContentAlreadyExists           Reason = "content_already_exists"
	ReasonUnexpectedTopic                Reason = "unexpected_topic"
	ReasonUnexpectedUniverse             Reason = "unexpected_universe"
	ReasonInvalidTimestamp               Reason = "invalid_timestamp"
	ReasonRootSignatureOutOfBootstrap    Reason = "root_signature_out_of_bootstrap"
	ReasonRootSignatureTimestampMismatch Reason = "root_signature_timestamp_mismatch"
	ReasonNonExistingAuthor              Reason = "non_existing_author"
	ReasonSelfSigned                     Reason = "self_signed"
	ReasonOlderThanAuthor                Reason = "older_than_author"
	ReasonRevokedAuthor                  Reason = "revoked_author"
	ReasonAuthorNotAdmin                 Reason = "author_not_admin"

	ReasonUserAlreadyExists                   Reason = "user_already_exists"
	ReasonUserFirstDeviceAuthorMismatch       Reason = "user_first_device_author_mismatch"
	ReasonUserFirstDeviceTimestampMismatch    Reason = "user_first_device_timestamp_mismatch"
	ReasonDeviceAlreadyExists                 Reason = "device_already_exists"
	ReasonDeviceAuthorNotSameUser             Reason = "device_author_not_same_user"
	ReasonUnknownUser                         Reason = "unknown_user"
	ReasonUserRevoked                         Reason = "user_revoked"
	ReasonUserAlreadyRevoked                  Reason = "user_already_revoked"
	ReasonCannotRevokeSelf                    Reason = "cannot_revoke_self"
	ReasonCannotUpdateOwnProfile              Reason = "cannot_update_own_profile"
	ReasonCannotDowngradeUserToOutsider       Reason = "cannot_downgrade_user_to_outsider"
	ReasonRealmFirstCertificateMustBeRole     Reason = "realm_first_certificate_must_be_role"
	ReasonRealmFirstRoleMustBeSelfSigned      Reason = "realm_first_role_must_be_self_signed"
	ReasonRealmFirstRoleMustBeOwner           Reason = "realm_first_role_must_be_owner"
	ReasonRealmAuthorHasNoRole                Reason = "realm_author_has_no_role"
	ReasonRealmAuthorNotOwner                 Reason = "realm_author_not_owner"
	ReasonRealmAuthorNotOwnerOrManager        Reason = "realm_author_not_owner_or_manager"
	ReasonRealmCannotChangeOwnRole            Reason = "realm_cannot_change_own_role"
	ReasonRealmOutsiderCannotBeOwnerOrManager Reason = "realm_outsider_cannot_be_owner_or_manager"
	ReasonRealmUserRevoked                    Reason = "realm_user_revoked"
	ReasonRealmUnknownUser                    Reason = "realm_unknown_user"
	ReasonRealmKeyIndexMismatch               Reason = "realm_key_index_mismatch"

	ReasonSequesterAuthorityMustBeFirst  Reason = "sequester_authority_must_be_first"
	ReasonNotASequesteredOrganization    Reason = "not_a_sequestered_organization"
	ReasonSequesterServiceAlreadyExists  Reason = "sequester_service_already_exists"
	ReasonSequesterServiceUnknown        Reason = "sequester_service_unknown"
	ReasonSequesterServiceAlreadyRevoked Reason = "sequester_service_already_revoked"

	ReasonShamirRecoveryNotAboutSelf            Reason = "shamir_recovery_not_about_self"
	ReasonShamirRecoveryUnknownRecipient        Reason = "shamir_recovery_unknown_recipient"
	ReasonShamirRecoveryMissingBriefCertificate Reason = "shamir_recovery_missing_brief_certificate"
	ReasonShamirRecoveryBriefShareMismatch      Reason = "shamir_recovery_brief_share_mismatch"
	ReasonShamirRecoveryDeletionMismatch        Reason = "shamir_recovery_deletion_mismatch"
	ReasonShamirRecoveryAlreadyDeleted          Reason = "shamir_recovery_already_deleted"
)

// InvalidCertificateError reports a certificate breaking a consistency
// rule. Only the time fields relevant to Reason are set.
type InvalidCertificateError struct {
	Reason Reason
	Hint   string

	LastCertificateTimestamp time.Time
	ExpectedTimestamp        time.Time
	AuthorCreatedOn          time.Time
	AuthorRevokedOn          time.Time

	Err error
}

func (e *InvalidCertificateError) Error() string {
	msg := fmt.Sprintf("invalid certificate (%s): %s", e.Reason, e.Hint)
	switch {
	case !e.LastCertificateTimestamp.IsZero():
		msg += fmt.Sprintf(", last certificate timestamp %s", e.LastCertificateTimestamp.Format(time.RFC3339Nano))
	case !e.ExpectedTimestamp.IsZero():
		msg += fmt.Sprintf(", expected timestamp %s", e.ExpectedTimestamp.Format(time.RFC3339Nano))
	case !e.AuthorCreatedOn.IsZero():
		msg += fmt.Sprintf(", author created on %s", e.AuthorCreatedOn.Format(time.RFC3339Nano))
	case !e.AuthorRevokedOn.IsZero():
		msg += fmt.Sprintf(", author revoked on %s", e.AuthorRevokedOn.Format(time.RFC3339Nano))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidCertificateError) Unwrap() error { return e.Err }

func (e *InvalidCertificateError) Is(target error) bool {
	return target == common.ErrInvalidCertificate
}

// ReasonOf returns the reason of an InvalidCertificateError found in err's
// chain, or "" when there is none.
func ReasonOf(err error) Reason {
	var ice *InvalidCertificateError
	if errors.As(err, &ice) {
		return ice.Reason
	}
	return ""
}

func invalid(reason Reason, hint string) *InvalidCertificateError {
	return &InvalidCertificateError{Reason: reason, Hint: hint}
}

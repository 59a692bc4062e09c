package wire

import (
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
)

// Status is the outcome of a command as reported by the server.
type Status string

const (
	StatusOk                       Status = "ok"
	StatusRequireGreaterTimestamp  Status = "require_greater_timestamp"
	StatusTimestampOutOfBallpark   Status = "timestamp_out_of_ballpark"
	StatusInvalidCertificate       Status = "invalid_certificate"
	StatusAuthorNotAllowed         Status = "author_not_allowed"
	StatusUserNotFound             Status = "user_not_found"
	StatusUserAlreadyExists        Status = "user_already_exists"
	StatusUserAlreadyRevoked       Status = "user_already_revoked"
	StatusUserNoChanges            Status = "user_no_changes"
	StatusRealmNotFound            Status = "realm_not_found"
	StatusRealmAlreadyExists       Status = "realm_already_exists"
	StatusRealmRoleNoChanges       Status = "realm_role_no_changes"
	StatusRealmBadKeyIndex         Status = "realm_bad_key_index"
	StatusShamirRecoveryNotFound   Status = "shamir_recovery_not_found"
	StatusShamirRecoveryDeleted    Status = "shamir_recovery_already_deleted"
	StatusOrganizationBootstrapped Status = "organization_already_bootstrapped"
	StatusInvalidBootstrapToken    Status = "invalid_bootstrap_token"
)

// CertificateGetReq asks for every certificate strictly newer than the given
// per-topic marks. A zero time means "from the beginning".
type CertificateGetReq struct {
	CommonAfter         time.Time                          `json:"common_after"`
	SequesterAfter      time.Time                          `json:"sequester_after"`
	ShamirRecoveryAfter time.Time                          `json:"shamir_recovery_after"`
	RealmAfter          map[certificates.RealmID]time.Time `json:"realm_after,omitempty"`
}

// NewCertificateGetReq builds a request from the local ledger.
func NewCertificateGetReq(last certificates.PerTopicLastTimestamps) *CertificateGetReq {
	return &CertificateGetReq{
		CommonAfter:         last.Common,
		SequesterAfter:      last.Sequester,
		ShamirRecoveryAfter: last.ShamirRecovery,
		RealmAfter:          last.Clone().Realm,
	}
}

// After returns the requested mark for a topic.
func (r *CertificateGetReq) After(t certificates.Topic) time.Time {
	switch t.Kind {
	case certificates.TopicCommon:
		return r.CommonAfter
	case certificates.TopicSequester:
		return r.SequesterAfter
	case certificates.TopicShamirRecovery:
		return r.ShamirRecoveryAfter
	default:
		return r.RealmAfter[t.RealmID]
	}
}

type CertificateGetRep struct {
	Status         Status                            `json:"status"`
	Common         [][]byte                          `json:"common_certificates"`
	Sequester      [][]byte                          `json:"sequester_certificates"`
	ShamirRecovery [][]byte                          `json:"shamir_recovery_certificates"`
	Realm          map[certificates.RealmID][][]byte `json:"realm_certificates,omitempty"`
}

type UserCreateReq struct {
	UserCertificate           []byte `json:"user_certificate"`
	DeviceCertificate         []byte `json:"device_certificate"`
	RedactedUserCertificate   []byte `json:"redacted_user_certificate"`
	RedactedDeviceCertificate []byte `json:"redacted_device_certificate"`
}

type UserUpdateReq struct {
	UserUpdateCertificate []byte `json:"user_update_certificate"`
}

type UserRevokeReq struct {
	RevokedUserCertificate []byte `json:"revoked_user_certificate"`
}

type RealmCreateReq struct {
	RealmRoleCertificate []byte `json:"realm_role_certificate"`
}

type RealmRenameReq struct {
	RealmNameCertificate []byte `json:"realm_name_certificate"`
}

type RealmShareReq struct {
	RealmRoleCertificate []byte `json:"realm_role_certificate"`
}

type RealmUnshareReq struct {
	RealmRoleCertificate []byte `json:"realm_role_certificate"`
}

type ShamirRecoveryDeleteReq struct {
	ShamirRecoveryDeletionCertificate []byte `json:"shamir_recovery_deletion_certificate"`
}

// OrganizationBootstrapReq uploads the root-signed certificates creating the
// organization and its first admin.
type OrganizationBootstrapReq struct {
	BootstrapToken                string `json:"bootstrap_token"`
	RootVerifyKey                 []byte `json:"root_verify_key"`
	UserCertificate               []byte `json:"user_certificate"`
	DeviceCertificate             []byte `json:"device_certificate"`
	RedactedUserCertificate       []byte `json:"redacted_user_certificate"`
	RedactedDeviceCertificate     []byte `json:"redacted_device_certificate"`
	SequesterAuthorityCertificate []byte `json:"sequester_authority_certificate,omitempty"`
}

// ActionRep is the reply to every certificate-based command. Only the fields
// relevant to Status are set.
type ActionRep struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`

	// StatusRequireGreaterTimestamp
	StrictlyGreaterThan time.Time `json:"strictly_greater_than,omitzero"`

	// StatusTimestampOutOfBallpark
	ServerTimestamp           time.Time     `json:"server_timestamp,omitzero"`
	ClientTimestamp           time.Time     `json:"client_timestamp,omitzero"`
	BallparkClientEarlyOffset time.Duration `json:"ballpark_client_early_offset,omitempty"`
	BallparkClientLateOffset  time.Duration `json:"ballpark_client_late_offset,omitempty"`

	// Idempotent statuses: timestamp of the certificate that already
	// achieved the goal.
	LastCertificateTimestamp time.Time `json:"last_certificate_timestamp,omitzero"`
}

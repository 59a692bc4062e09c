// Package certificates defines the signed records forming an organization's
// trust graph, their wire codec and the per-topic timestamp ledger.
package certificates

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindUser                    Kind = "user_certificate"
	KindDevice                  Kind = "device_certificate"
	KindRevokedUser             Kind = "revoked_user_certificate"
	KindUserUpdate              Kind = "user_update_certificate"
	KindRealmRole               Kind = "realm_role_certificate"
	KindRealmName               Kind = "realm_name_certificate"
	KindRealmKeyRotation        Kind = "realm_key_rotation_certificate"
	KindRealmArchiving          Kind = "realm_archiving_certificate"
	KindSequesterAuthority      Kind = "sequester_authority_certificate"
	KindSequesterService        Kind = "sequester_service_certificate"
	KindSequesterRevokedService Kind = "sequester_revoked_service_certificate"
	KindShamirRecoveryBrief     Kind = "shamir_recovery_brief_certificate"
	KindShamirRecoveryShare     Kind = "shamir_recovery_share_certificate"
	KindShamirRecoveryDeletion  Kind = "shamir_recovery_deletion_certificate"
)

// Header holds the fields every certificate carries. Author is RootAuthor for
// certificates signed with the organization root key, and also for sequester
// service certificates, which the sequester authority key signs.
type Header struct {
	Author    DeviceID  `json:"author,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Header) Base() *Header { return h }

// Certificate is implemented by every certificate type.
type Certificate interface {
	Base() *Header
	Kind() Kind
	Topic() Topic
	// Hint is a short human readable description naming the certificate in
	// error messages.
	Hint() string

	validate() error
}

var errMissingField = errors.New("missing field")

func hint(c Certificate, extra string) string {
	b := c.Base()
	return fmt.Sprintf("%s(author=%s, timestamp=%s%s)", c.Kind(), b.Author,
		b.Timestamp.Format(time.RFC3339Nano), extra)
}

func (h *Header) validateAuthored() error {
	if h.Timestamp.IsZero() {
		return fmt.Errorf("timestamp: %w", errMissingField)
	}
	if h.Author.IsRoot() {
		return fmt.Errorf("author: %w", errMissingField)
	}
	return nil
}

func (h *Header) validateAny() error {
	if h.Timestamp.IsZero() {
		return fmt.Errorf("timestamp: %w", errMissingField)
	}
	return nil
}

// Common topic.

type HumanHandle struct {
	Email string `json:"email"`
	Label string `json:"label"`
}

func (h HumanHandle) String() string {
	return fmt.Sprintf("%s <%s>", h.Label, h.Email)
}

type UserCertificate struct {
	Header
	UserID      UserID       `json:"user_id"`
	HumanHandle *HumanHandle `json:"human_handle,omitempty"`
	PublicKey   []byte       `json:"public_key"`
	Profile     UserProfile  `json:"profile"`
	Redacted    bool         `json:"redacted,omitempty"`
}

func (c *UserCertificate) Kind() Kind   { return KindUser }
func (c *UserCertificate) Topic() Topic { return CommonTopic }
func (c *UserCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", user_id=%s, profile=%s", c.UserID, c.Profile))
}

func (c *UserCertificate) validate() error {
	if err := c.validateAny(); err != nil {
		return err
	}
	if !validID(string(c.UserID)) {
		return fmt.Errorf("user_id: %w", errMissingField)
	}
	if !c.Profile.Valid() {
		return fmt.Errorf("invalid profile %q", c.Profile)
	}
	if c.Redacted != (c.HumanHandle == nil) {
		return errors.New("human_handle must be present exactly when not redacted")
	}
	return nil
}

type DeviceCertificate struct {
	Header
	UserID      UserID   `json:"user_id"`
	DeviceID    DeviceID `json:"device_id"`
	DeviceLabel string   `json:"device_label,omitempty"`
	VerifyKey   []byte   `json:"verify_key"`
	Redacted    bool     `json:"redacted,omitempty"`
}

func (c *DeviceCertificate) Kind() Kind   { return KindDevice }
func (c *DeviceCertificate) Topic() Topic { return CommonTopic }
func (c *DeviceCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", user_id=%s, device_id=%s", c.UserID, c.DeviceID))
}

func (c *DeviceCertificate) validate() error {
	if err := c.validateAny(); err != nil {
		return err
	}
	if !validID(string(c.UserID)) || !validID(string(c.DeviceID)) {
		return fmt.Errorf("user_id/device_id: %w", errMissingField)
	}
	if len(c.VerifyKey) == 0 {
		return fmt.Errorf("verify_key: %w", errMissingField)
	}
	if c.Redacted && c.DeviceLabel != "" {
		return errors.New("redacted device certificate carries a label")
	}
	return nil
}

type RevokedUserCertificate struct {
	Header
	UserID UserID `json:"user_id"`
}

func (c *RevokedUserCertificate) Kind() Kind   { return KindRevokedUser }
func (c *RevokedUserCertificate) Topic() Topic { return CommonTopic }
func (c *RevokedUserCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", user_id=%s", c.UserID))
}

func (c *RevokedUserCertificate) validate() error {
	if err := c.validateAuthored(); err != nil {
		return err
	}
	if !validID(string(c.UserID)) {
		return fmt.Errorf("user_id: %w", errMissingField)
	}
	return nil
}

type UserUpdateCertificate struct {
	Header
	UserID     UserID      `json:"user_id"`
	NewProfile UserProfile `json:"new_profile"`
}

func (c *UserUpdateCertificate) Kind() Kind   { return KindUserUpdate }
func (c *UserUpdateCertificate) Topic() Topic { return CommonTopic }
func (c *UserUpdateCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", user_id=%s, new_profile=%s", c.UserID, c.NewProfile))
}

func (c *UserUpdateCertificate) validate() error {
	if err := c.validateAuthored(); err != nil {
		return err
	}
	if !validID(string(c.UserID)) {
		return fmt.Errorf("user_id: %w", errMissingField)
	}
	if !c.NewProfile.Valid() {
		return fmt.Errorf("invalid profile %q", c.NewProfile)
	}
	return nil
}

// Realm topics.

// RealmRoleCertificate grants Role to UserID in RealmID; a nil Role unshares
// the realm with that user.
type RealmRoleCertificate struct {
	Header
	RealmID RealmID    `json:"realm_id"`
	UserID  UserID     `json:"user_id"`
	Role    *RealmRole `json:"role"`
}

func (c *RealmRoleCertificate) Kind() Kind   { return KindRealmRole }
func (c *RealmRoleCertificate) Topic() Topic { return RealmTopic(c.RealmID) }
func (c *RealmRoleCertificate) Hint() string {
	role := "<unshared>"
	if c.Role != nil {
		role = string(*c.Role)
	}
	return hint(c, fmt.Sprintf(", realm_id=%s, user_id=%s, role=%s", c.RealmID, c.UserID, role))
}

func (c *RealmRoleCertificate) validate() error {
	if err := c.validateAuthored(); err != nil {
		return err
	}
	if !validID(string(c.RealmID)) || !validID(string(c.UserID)) {
		return fmt.Errorf("realm_id/user_id: %w", errMissingField)
	}
	if c.Role != nil && !c.Role.Valid() {
		return fmt.Errorf("invalid role %q", *c.Role)
	}
	return nil
}

type RealmNameCertificate struct {
	Header
	RealmID       RealmID `json:"realm_id"`
	KeyIndex      uint64  `json:"key_index"`
	EncryptedName []byte  `json:"encrypted_name"`
}

func (c *RealmNameCertificate) Kind() Kind   { return KindRealmName }
func (c *RealmNameCertificate) Topic() Topic { return RealmTopic(c.RealmID) }
func (c *RealmNameCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", realm_id=%s, key_index=%d", c.RealmID, c.KeyIndex))
}

func (c *RealmNameCertificate) validate() error {
	if err := c.validateAuthored(); err != nil {
		return err
	}
	if !validID(string(c.RealmID)) {
		return fmt.Errorf("realm_id: %w", errMissingField)
	}
	if len(c.EncryptedName) == 0 {
		return fmt.Errorf("encrypted_name: %w", errMissingField)
	}
	return nil
}

type RealmKeyRotationCertificate struct {
	Header
	RealmID             RealmID `json:"realm_id"`
	KeyIndex            uint64  `json:"key_index"`
	EncryptionAlgorithm string  `json:"encryption_algorithm"`
	HashAlgorithm       string  `json:"hash_algorithm"`
	KeyCanary           []byte  `json:"key_canary"`
}

func (c *RealmKeyRotationCertificate) Kind() Kind   { return KindRealmKeyRotation }
func (c *RealmKeyRotationCertificate) Topic() Topic { return RealmTopic(c.RealmID) }
func (c *RealmKeyRotationCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", realm_id=%s, key_index=%d", c.RealmID, c.KeyIndex))
}

func (c *RealmKeyRotationCertificate) validate() error {
	if err := c.validateAuthored(); err != nil {
		return err
	}
	if !validID(string(c.RealmID)) {
		return fmt.Errorf("realm_id: %w", errMissingField)
	}
	if c.KeyIndex == 0 {
		return errors.New("key_index starts at 1")
	}
	return nil
}

type RealmArchivingCertificate struct {
	Header
	RealmID       RealmID                     `json:"realm_id"`
	Configuration RealmArchivingConfiguration `json:"configuration"`
	DeletionDate  *time.Time                  `json:"deletion_date,omitempty"`
}

func (c *RealmArchivingCertificate) Kind() Kind   { return KindRealmArchiving }
func (c *RealmArchivingCertificate) Topic() Topic { return RealmTopic(c.RealmID) }
func (c *RealmArchivingCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", realm_id=%s, configuration=%s", c.RealmID, c.Configuration))
}

func (c *RealmArchivingCertificate) validate() error {
	if err := c.validateAuthored(); err != nil {
		return err
	}
	if !validID(string(c.RealmID)) {
		return fmt.Errorf("realm_id: %w", errMissingField)
	}
	switch c.Configuration {
	case ArchivingAvailable, ArchivingArchived:
		if c.DeletionDate != nil {
			return errors.New("deletion_date only allowed when deletion is planned")
		}
	case ArchivingDeletionPlanned:
		if c.DeletionDate == nil {
			return fmt.Errorf("deletion_date: %w", errMissingField)
		}
	default:
		return fmt.Errorf("invalid configuration %q", c.Configuration)
	}
	return nil
}

// Sequester topic.

type SequesterAuthorityCertificate struct {
	Header
	VerifyKey []byte `json:"verify_key"`
}

func (c *SequesterAuthorityCertificate) Kind() Kind   { return KindSequesterAuthority }
func (c *SequesterAuthorityCertificate) Topic() Topic { return SequesterTopic }
func (c *SequesterAuthorityCertificate) Hint() string { return hint(c, "") }

func (c *SequesterAuthorityCertificate) validate() error {
	if err := c.validateAny(); err != nil {
		return err
	}
	if !c.Author.IsRoot() {
		return errors.New("sequester authority must be signed by the root key")
	}
	if len(c.VerifyKey) == 0 {
		return fmt.Errorf("verify_key: %w", errMissingField)
	}
	return nil
}

type SequesterServiceCertificate struct {
	Header
	ServiceID     SequesterServiceID `json:"service_id"`
	ServiceLabel  string             `json:"service_label"`
	EncryptionKey []byte             `json:"encryption_key"`
}

func (c *SequesterServiceCertificate) Kind() Kind   { return KindSequesterService }
func (c *SequesterServiceCertificate) Topic() Topic { return SequesterTopic }
func (c *SequesterServiceCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", service_id=%s", c.ServiceID))
}

func (c *SequesterServiceCertificate) validate() error {
	if err := c.validateAny(); err != nil {
		return err
	}
	if !c.Author.IsRoot() {
		return errors.New("sequester service has no device author")
	}
	if !validID(string(c.ServiceID)) {
		return fmt.Errorf("service_id: %w", errMissingField)
	}
	return nil
}

type SequesterRevokedServiceCertificate struct {
	Header
	ServiceID SequesterServiceID `json:"service_id"`
}

func (c *SequesterRevokedServiceCertificate) Kind() Kind   { return KindSequesterRevokedService }
func (c *SequesterRevokedServiceCertificate) Topic() Topic { return SequesterTopic }
func (c *SequesterRevokedServiceCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", service_id=%s", c.ServiceID))
}

func (c *SequesterRevokedServiceCertificate) validate() error {
	if err := c.validateAny(); err != nil {
		return err
	}
	if !c.Author.IsRoot() {
		return errors.New("sequester service revocation has no device author")
	}
	if !validID(string(c.ServiceID)) {
		return fmt.Errorf("service_id: %w", errMissingField)
	}
	return nil
}

// Shamir recovery topic.

type ShamirRecoveryBriefCertificate struct {
	Header
	UserID             UserID           `json:"user_id"`
	Threshold          uint8            `json:"threshold"`
	PerRecipientShares map[UserID]uint8 `json:"per_recipient_shares"`
}

func (c *ShamirRecoveryBriefCertificate) Kind() Kind   { return KindShamirRecoveryBrief }
func (c *ShamirRecoveryBriefCertificate) Topic() Topic { return ShamirRecoveryTopic }
func (c *ShamirRecoveryBriefCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", user_id=%s, threshold=%d", c.UserID, c.Threshold))
}

func (c *ShamirRecoveryBriefCertificate) validate() error {
	if err := c.validateAuthored(); err != nil {
		return err
	}
	if !validID(string(c.UserID)) {
		return fmt.Errorf("user_id: %w", errMissingField)
	}
	total := 0
	for recipient, shares := range c.PerRecipientShares {
		if recipient == c.UserID {
			return errors.New("user cannot be its own recipient")
		}
		if shares == 0 {
			return errors.New("recipient with zero shares")
		}
		total += int(shares)
	}
	if c.Threshold == 0 || int(c.Threshold) > total {
		return fmt.Errorf("threshold %d out of range (total shares %d)", c.Threshold, total)
	}
	return nil
}

type ShamirRecoveryShareCertificate struct {
	Header
	UserID        UserID `json:"user_id"`
	RecipientID   UserID `json:"recipient"`
	CipheredShare []byte `json:"ciphered_share"`
}

func (c *ShamirRecoveryShareCertificate) Kind() Kind   { return KindShamirRecoveryShare }
func (c *ShamirRecoveryShareCertificate) Topic() Topic { return ShamirRecoveryTopic }
func (c *ShamirRecoveryShareCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", user_id=%s, recipient=%s", c.UserID, c.RecipientID))
}

func (c *ShamirRecoveryShareCertificate) validate() error {
	if err := c.validateAuthored(); err != nil {
		return err
	}
	if !validID(string(c.UserID)) || !validID(string(c.RecipientID)) {
		return fmt.Errorf("user_id/recipient: %w", errMissingField)
	}
	return nil
}

type ShamirRecoveryDeletionCertificate struct {
	Header
	SetupToDeleteTimestamp time.Time `json:"setup_to_delete_timestamp"`
	SetupToDeleteUserID    UserID    `json:"setup_to_delete_user_id"`
	ShareRecipients        []UserID  `json:"share_recipients"`
}

func (c *ShamirRecoveryDeletionCertificate) Kind() Kind   { return KindShamirRecoveryDeletion }
func (c *ShamirRecoveryDeletionCertificate) Topic() Topic { return ShamirRecoveryTopic }
func (c *ShamirRecoveryDeletionCertificate) Hint() string {
	return hint(c, fmt.Sprintf(", setup_to_delete_user_id=%s, setup_to_delete_timestamp=%s",
		c.SetupToDeleteUserID, c.SetupToDeleteTimestamp.Format(time.RFC3339Nano)))
}

func (c *ShamirRecoveryDeletionCertificate) validate() error {
	if err := c.validateAuthored(); err != nil {
		return err
	}
	if !validID(string(c.SetupToDeleteUserID)) || c.SetupToDeleteTimestamp.IsZero() {
		return fmt.Errorf("setup_to_delete: %w", errMissingField)
	}
	return nil
}

// IsRootSigned reports whether the certificate was signed with the
// organization root key. Sequester service certificates also have no device
// author but are signed by the sequester authority.
func IsRootSigned(c Certificate) bool {
	if !c.Base().Author.IsRoot() {
		return false
	}
	switch c.Kind() {
	case KindSequesterService, KindSequesterRevokedService:
		return false
	}
	return true
}

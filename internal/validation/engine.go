// Package validation checks raw signed certificates against the trust graph
// accumulated in a certstore transaction and appends the accepted ones.
package validation

import (
	"context"
	"maps"
	"slices"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/logging"
)

// Batch groups raw certificates by topic, each slice in the order the server
// declared for its topic.
type Batch struct {
	Common         [][]byte
	Sequester      [][]byte
	ShamirRecovery [][]byte
	Realm          map[certificates.RealmID][][]byte
}

// Len is the number of certificates in the batch.
func (b Batch) Len() int {
	n := len(b.Common) + len(b.Sequester) + len(b.ShamirRecovery)
	for _, certs := range b.Realm {
		n += len(certs)
	}
	return n
}

// MaybeRedactedSwitch is the result of AddCertificatesBatch. When Switched is
// set the transaction has been emptied and moved to the other universe; the
// caller must fetch everything again within the same transaction.
type MaybeRedactedSwitch struct {
	Switched             bool
	NewCertificatesCount int
}

// Engine validates certificates of one organization.
type Engine struct {
	RootVerifyKey cryptox.VerifyKey
	// LocalUserID is the user owning the store. It drives the redaction
	// switch; leave it empty on the server.
	LocalUserID certificates.UserID
	// Sequestered tells whether the organization accepts a sequester
	// authority.
	Sequestered bool
	Logger      logging.Logger
}

func (e *Engine) logger() logging.Logger {
	if e.Logger == nil {
		return logging.NewNop()
	}
	return e.Logger
}

// AddCertificatesBatch validates every certificate of batch in order and
// appends it to tx, so later certificates of the batch see the earlier ones.
// The first failure is returned and the caller must roll tx back.
//
// Topics are processed in the order common, sequester, realm (by realm id),
// shamir recovery.
func (e *Engine) AddCertificatesBatch(ctx context.Context, tx certstore.WriteTx, batch Batch) (MaybeRedactedSwitch, error) {
	var (
		count int
		added []certificates.Certificate
	)

	add := func(topic certificates.Topic, certs [][]byte) error {
		for _, signed := range certs {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := e.check(tx, topic, signed)
			if err != nil {
				return err
			}
			tx.Append(entry)
			added = append(added, entry.Certificate)
			count++
		}
		return nil
	}

	if err := add(certificates.CommonTopic, batch.Common); err != nil {
		return MaybeRedactedSwitch{}, err
	}
	if e.needsSwitch(tx) {
		from := tx.Universe()
		to := certificates.UniverseFull
		if from == certificates.UniverseFull {
			to = certificates.UniverseRedacted
		}
		e.logger().Info(ctx, "switching certificate universe", "from", from, "to", to)
		tx.ForgetAll(to)
		return MaybeRedactedSwitch{Switched: true}, nil
	}
	if err := e.checkUniverse(tx, added); err != nil {
		return MaybeRedactedSwitch{}, err
	}

	if err := add(certificates.SequesterTopic, batch.Sequester); err != nil {
		return MaybeRedactedSwitch{}, err
	}
	for _, id := range slices.Sorted(maps.Keys(batch.Realm)) {
		if err := add(certificates.RealmTopic(id), batch.Realm[id]); err != nil {
			return MaybeRedactedSwitch{}, err
		}
	}
	if err := add(certificates.ShamirRecoveryTopic, batch.ShamirRecovery); err != nil {
		return MaybeRedactedSwitch{}, err
	}

	if count > 0 {
		e.logger().Debug(ctx, "certificates accepted", "count", count)
	}
	return MaybeRedactedSwitch{NewCertificatesCount: count}, nil
}

// needsSwitch compares the universe required by the local user's current
// profile with the one the store holds.
func (e *Engine) needsSwitch(tx certstore.ReadTx) bool {
	if e.LocalUserID == "" {
		return false
	}
	profile, ok := tx.GetUserProfileAt(certstore.Current, e.LocalUserID)
	if !ok {
		return false
	}
	return certificates.UniverseFor(profile) != tx.Universe()
}

// checkUniverse rejects user and device certificates whose variant does not
// match the universe of the store. It runs once the switch is ruled out,
// since the batch that triggers a switch is served in the old universe.
func (e *Engine) checkUniverse(tx certstore.ReadTx, certs []certificates.Certificate) error {
	if e.LocalUserID == "" {
		return nil
	}
	redacted := tx.Universe() == certificates.UniverseRedacted
	for _, c := range certs {
		var got bool
		switch v := c.(type) {
		case *certificates.UserCertificate:
			got = v.Redacted
		case *certificates.DeviceCertificate:
			got = v.Redacted
		default:
			continue
		}
		if got != redacted {
			return invalid(ReasonUnexpectedUniverse, c.Hint())
		}
	}
	return nil
}

// check runs every rule applying to one certificate and returns the entry
// to append.
func (e *Engine) check(tx certstore.ReadTx, topic certificates.Topic, signed []byte) (certstore.Entry, error) {
	unsecure, err := certificates.UnsecureLoad(signed)
	if err != nil {
		return certstore.Entry{}, &InvalidCertificateError{
			Reason: ReasonCorrupted, Hint: "<undecodable certificate>", Err: err,
		}
	}
	if unsecure.Topic() != topic {
		return certstore.Entry{}, invalid(ReasonUnexpectedTopic, unsecure.Hint())
	}
	if tx.ContentExists(signed) {
		return certstore.Entry{}, invalid(ReasonContentAlreadyExists, unsecure.Hint())
	}

	key, err := e.verifyKeyFor(tx, unsecure)
	if err != nil {
		return certstore.Entry{}, err
	}
	c, err := certificates.VerifyAndLoad(signed, key)
	if err != nil {
		return certstore.Entry{}, &InvalidCertificateError{Reason: ReasonCorrupted, Hint: unsecure.Hint(), Err: err}
	}

	if err := e.checkRoot(tx, c); err != nil {
		return certstore.Entry{}, err
	}
	if err := checkTimestamp(tx, c); err != nil {
		return certstore.Entry{}, err
	}
	author, err := checkAuthor(tx, c)
	if err != nil {
		return certstore.Entry{}, err
	}

	switch v := c.(type) {
	case *certificates.UserCertificate:
		err = checkUser(tx, v, author)
	case *certificates.DeviceCertificate:
		err = checkDevice(tx, v, author)
	case *certificates.RevokedUserCertificate:
		err = checkRevokedUser(tx, v, author)
	case *certificates.UserUpdateCertificate:
		err = checkUserUpdate(tx, v, author)
	case *certificates.RealmRoleCertificate:
		err = checkRealmRole(tx, v, author)
	case *certificates.RealmNameCertificate:
		err = checkRealmName(tx, v, author)
	case *certificates.RealmKeyRotationCertificate:
		err = checkRealmKeyRotation(tx, v, author)
	case *certificates.RealmArchivingCertificate:
		err = checkRealmArchiving(tx, v, author)
	case *certificates.SequesterAuthorityCertificate:
		err = e.checkSequesterAuthority(tx, v)
	case *certificates.SequesterServiceCertificate:
		err = checkSequesterService(tx, v)
	case *certificates.SequesterRevokedServiceCertificate:
		err = checkSequesterRevokedService(tx, v)
	case *certificates.ShamirRecoveryBriefCertificate:
		err = checkShamirBrief(tx, v, author)
	case *certificates.ShamirRecoveryShareCertificate:
		err = checkShamirShare(tx, v, author)
	case *certificates.ShamirRecoveryDeletionCertificate:
		err = checkShamirDeletion(tx, v, author)
	default:
		err = common.NewUnexpectedResponseError("validate certificate", c.Kind())
	}
	if err != nil {
		return certstore.Entry{}, err
	}
	return certstore.NewEntry(c, signed), nil
}

// verifyKeyFor picks the key the certificate must be signed with, based on
// its claimed author.
func (e *Engine) verifyKeyFor(tx certstore.ReadTx, c certificates.Certificate) (cryptox.VerifyKey, error) {
	switch c.Kind() {
	case certificates.KindSequesterService, certificates.KindSequesterRevokedService:
		authority, ok := tx.GetSequesterAuthority()
		if !ok {
			return nil, invalid(ReasonNotASequesteredOrganization, c.Hint())
		}
		return cryptox.VerifyKey(authority.VerifyKey), nil
	}

	author := c.Base().Author
	if author.IsRoot() {
		return e.RootVerifyKey, nil
	}
	if d, ok := c.(*certificates.DeviceCertificate); ok && d.DeviceID == author {
		return nil, invalid(ReasonSelfSigned, c.Hint())
	}
	key, ok := tx.GetDeviceVerifyKey(author)
	if !ok {
		return nil, invalid(ReasonNonExistingAuthor, c.Hint())
	}
	return key, nil
}

func (e *Engine) checkRoot(tx certstore.ReadTx, c certificates.Certificate) error {
	if !certificates.IsRootSigned(c) {
		return nil
	}
	if tx.HasNonRootCertificates() {
		return invalid(ReasonRootSignatureOutOfBootstrap, c.Hint())
	}
	if rootTS, ok := tx.RootTimestamp(); ok && !rootTS.Equal(c.Base().Timestamp) {
		return &InvalidCertificateError{
			Reason:            ReasonRootSignatureTimestampMismatch,
			Hint:              c.Hint(),
			ExpectedTimestamp: rootTS,
		}
	}
	return nil
}

// checkTimestamp enforces strictly increasing timestamps per topic. A
// certificate may repeat the last timestamp only when it belongs to the same
// atomic group as its predecessor: root-signed bootstrap certificates, a
// user's first device, and the shares following a shamir brief. Their
// specific rules check the exact match.
func checkTimestamp(tx certstore.ReadTx, c certificates.Certificate) error {
	ts := c.Base().Timestamp
	last, ok := tx.LastTimestamps().Get(c.Topic())
	if !ok {
		return nil
	}
	if ts.After(last) {
		return nil
	}
	if ts.Equal(last) && mayShareTimestamp(tx, c) {
		return nil
	}
	return &InvalidCertificateError{
		Reason:                   ReasonInvalidTimestamp,
		Hint:                     c.Hint(),
		LastCertificateTimestamp: last,
	}
}

func mayShareTimestamp(tx certstore.ReadTx, c certificates.Certificate) bool {
	if certificates.IsRootSigned(c) {
		return true
	}
	switch v := c.(type) {
	case *certificates.DeviceCertificate:
		return len(tx.ListUserDevices(v.UserID)) == 0
	case *certificates.ShamirRecoveryShareCertificate:
		return true
	}
	return false
}

// authorInfo describes the device that signed a certificate, nil for
// certificates without a device author.
type authorInfo struct {
	device  *certificates.DeviceCertificate
	profile certificates.UserProfile
}

func (a *authorInfo) userID() certificates.UserID {
	if a == nil {
		return ""
	}
	return a.device.UserID
}

func checkAuthor(tx certstore.ReadTx, c certificates.Certificate) (*authorInfo, error) {
	b := c.Base()
	if b.Author.IsRoot() {
		return nil, nil
	}
	device, ok := tx.GetDeviceCertificate(b.Author)
	if !ok {
		return nil, invalid(ReasonNonExistingAuthor, c.Hint())
	}
	if b.Timestamp.Before(device.Timestamp) {
		return nil, &InvalidCertificateError{
			Reason:          ReasonOlderThanAuthor,
			Hint:            c.Hint(),
			AuthorCreatedOn: device.Timestamp,
		}
	}
	if revoked, ok := tx.GetRevokedUserCertificate(device.UserID); ok && !revoked.Timestamp.After(b.Timestamp) {
		return nil, &InvalidCertificateError{
			Reason:          ReasonRevokedAuthor,
			Hint:            c.Hint(),
			AuthorRevokedOn: revoked.Timestamp,
		}
	}
	profile, _ := tx.GetUserProfileAt(certstore.UpToTimestamp(b.Timestamp), device.UserID)
	return &authorInfo{device: device, profile: profile}, nil
}

func requireAdmin(c certificates.Certificate, author *authorInfo) error {
	if author != nil && author.profile != certificates.ProfileAdmin {
		return invalid(ReasonAuthorNotAdmin, c.Hint())
	}
	return nil
}

package organization

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	certrepo "github.com/dmitrijs2005/gophsafe/internal/server/repositories/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/validation"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

// errAbort unwinds a write transaction whose reply is already decided.
var errAbort = errors.New("action aborted")

// upload is one certificate of a command, with the variant served to
// outsiders for user and device certificates.
type upload struct {
	signed   []byte
	redacted []byte
}

// action describes one upload command: the certificate kinds it carries, in
// order, and the checks deciding its idempotent and not-found replies.
type action struct {
	name  string
	kinds []certificates.Kind
	check func(tx certstore.ReadTx, c certificates.Certificate) *wire.ActionRep
}

// authorReasons are the rules whose violation means the author lacks the
// right to act, rather than the certificate being malformed.
var authorReasons = map[validation.Reason]bool{
	validation.ReasonAuthorNotAdmin:               true,
	validation.ReasonRevokedAuthor:                true,
	validation.ReasonRealmAuthorHasNoRole:         true,
	validation.ReasonRealmAuthorNotOwner:          true,
	validation.ReasonRealmAuthorNotOwnerOrManager: true,
}

func invalidRep(reason string) *wire.ActionRep {
	return &wire.ActionRep{Status: wire.StatusInvalidCertificate, Reason: reason}
}

func rejection(err *validation.InvalidCertificateError) *wire.ActionRep {
	status := wire.StatusInvalidCertificate
	if authorReasons[err.Reason] {
		status = wire.StatusAuthorNotAllowed
	}
	return &wire.ActionRep{Status: status, Reason: string(err.Reason)}
}

func decodeUploads(uploads []upload, kinds []certificates.Kind) ([]certificates.Certificate, *wire.ActionRep) {
	if len(uploads) != len(kinds) {
		return nil, invalidRep("unexpected certificate count")
	}
	certs := make([]certificates.Certificate, len(uploads))
	for i, u := range uploads {
		c, err := certificates.UnsecureLoad(u.signed)
		if err != nil {
			return nil, invalidRep(string(validation.ReasonCorrupted))
		}
		if c.Kind() != kinds[i] {
			return nil, invalidRep(fmt.Sprintf("expected %s, got %s", kinds[i], c.Kind()))
		}
		certs[i] = c
	}
	return certs, nil
}

func (s *Service) ballpark(c certificates.Certificate) *wire.ActionRep {
	now := s.serverNow()
	client := c.Base().Timestamp
	if client.Before(now.Add(-s.cfg.BallparkEarlyOffset)) || client.After(now.Add(s.cfg.BallparkLateOffset)) {
		return &wire.ActionRep{
			Status:                    wire.StatusTimestampOutOfBallpark,
			ServerTimestamp:           now,
			ClientTimestamp:           client,
			BallparkClientEarlyOffset: s.cfg.BallparkEarlyOffset,
			BallparkClientLateOffset:  s.cfg.BallparkLateOffset,
		}
	}
	return nil
}

// submit runs one upload command on behalf of the authenticated device.
// Refusals are replies, not errors; errors are reserved for storage faults.
func (s *Service) submit(ctx context.Context, author certificates.DeviceID, a action, uploads ...upload) (*wire.ActionRep, error) {
	certs, rep := decodeUploads(uploads, a.kinds)
	if rep != nil {
		return rep, nil
	}
	first := certs[0]
	if first.Base().Author != author {
		return &wire.ActionRep{Status: wire.StatusAuthorNotAllowed, Reason: "certificate author is not the authenticated device"}, nil
	}
	if rep := s.ballpark(first); rep != nil {
		return rep, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, ErrNotBootstrapped
	}

	var accepted []certrepo.Record
	err := s.store.ForWrite(ctx, func(tx certstore.WriteTx) error {
		if a.check != nil {
			if rep = a.check(tx, first); rep != nil {
				return errAbort
			}
		}
		ts := first.Base().Timestamp
		if last, ok := tx.LastTimestamps().Get(first.Topic()); ok && !ts.After(last) {
			rep = &wire.ActionRep{Status: wire.StatusRequireGreaterTimestamp, StrictlyGreaterThan: last}
			return errAbort
		}

		records, r, err := s.accept(ctx, tx, s.engine, uploads)
		if err != nil {
			return err
		}
		if r != nil {
			rep = r
			return errAbort
		}
		if err := s.repo.Insert(ctx, records); err != nil {
			return err
		}
		accepted = records
		return nil
	})
	switch {
	case errors.Is(err, errAbort):
		s.logger.Info(ctx, "action refused", "action", a.name, "author", author, "status", rep.Status, "reason", rep.Reason)
		return rep, nil
	case err != nil:
		s.logger.Error(ctx, "action failed", "action", a.name, "author", author, "error", err)
		return nil, err
	}

	s.remember(accepted)
	s.logger.Info(ctx, "action accepted", "action", a.name, "author", author, "certificates", len(accepted))
	return &wire.ActionRep{Status: wire.StatusOk}, nil
}

// accept validates the uploads inside tx and returns the records to persist.
// A non nil reply means the uploads were refused.
func (s *Service) accept(ctx context.Context, tx certstore.WriteTx, engine *validation.Engine, uploads []upload) ([]certrepo.Record, *wire.ActionRep, error) {
	batch := validation.Batch{Realm: map[certificates.RealmID][][]byte{}}
	redacted := map[string][]byte{}
	for _, u := range uploads {
		c, err := certificates.UnsecureLoad(u.signed)
		if err != nil {
			return nil, invalidRep(string(validation.ReasonCorrupted)), nil
		}
		switch t := c.Topic(); t.Kind {
		case certificates.TopicCommon:
			batch.Common = append(batch.Common, u.signed)
		case certificates.TopicSequester:
			batch.Sequester = append(batch.Sequester, u.signed)
		case certificates.TopicShamirRecovery:
			batch.ShamirRecovery = append(batch.ShamirRecovery, u.signed)
		default:
			batch.Realm[t.RealmID] = append(batch.Realm[t.RealmID], u.signed)
		}
		redacted[certificates.ContentHash(u.signed)] = u.redacted
	}

	before := len(tx.Entries())
	if _, err := engine.AddCertificatesBatch(ctx, tx, batch); err != nil {
		var ice *validation.InvalidCertificateError
		if errors.As(err, &ice) {
			return nil, rejection(ice), nil
		}
		return nil, nil, err
	}

	added := tx.Entries()[before:]
	records := make([]certrepo.Record, 0, len(added))
	for _, e := range added {
		red := redacted[e.Hash]
		if rep := checkRedacted(tx, engine.RootVerifyKey, e.Certificate, red); rep != nil {
			return nil, rep, nil
		}
		b := e.Certificate.Base()
		records = append(records, certrepo.Record{
			Topic:     e.Certificate.Topic().Key(),
			Kind:      e.Certificate.Kind(),
			Timestamp: b.Timestamp,
			Hash:      e.Hash,
			Signed:    e.Signed,
			Redacted:  red,
		})
	}
	return records, nil, nil
}

// checkRedacted requires user and device certificates to come with a
// redacted variant signed by the same author and describing the same
// entity. Other certificates must not carry one.
func checkRedacted(tx certstore.ReadTx, root cryptox.VerifyKey, full certificates.Certificate, redacted []byte) *wire.ActionRep {
	switch full.(type) {
	case *certificates.UserCertificate, *certificates.DeviceCertificate:
	default:
		if redacted != nil {
			return invalidRep("unexpected redacted certificate")
		}
		return nil
	}
	if redacted == nil {
		return invalidRep("missing redacted certificate")
	}

	key := root
	if a := full.Base().Author; !a.IsRoot() {
		k, ok := tx.GetDeviceVerifyKey(a)
		if !ok {
			return invalidRep(string(validation.ReasonNonExistingAuthor))
		}
		key = k
	}
	c, err := certificates.VerifyAndLoad(redacted, key)
	if err != nil {
		return invalidRep("redacted certificate: " + err.Error())
	}
	if c.Base().Author != full.Base().Author || !c.Base().Timestamp.Equal(full.Base().Timestamp) {
		return invalidRep("redacted certificate header mismatch")
	}

	var same bool
	switch f := full.(type) {
	case *certificates.UserCertificate:
		r, ok := c.(*certificates.UserCertificate)
		same = ok && r.Redacted && r.UserID == f.UserID && r.Profile == f.Profile && bytes.Equal(r.PublicKey, f.PublicKey)
	case *certificates.DeviceCertificate:
		r, ok := c.(*certificates.DeviceCertificate)
		same = ok && r.Redacted && r.UserID == f.UserID && r.DeviceID == f.DeviceID && bytes.Equal(r.VerifyKey, f.VerifyKey)
	}
	if !same {
		return invalidRep("redacted certificate mismatch")
	}
	return nil
}

func (s *Service) UserCreate(ctx context.Context, author certificates.DeviceID, req *wire.UserCreateReq) (*wire.ActionRep, error) {
	return s.submit(ctx, author, action{
		name:  "user_create",
		kinds: []certificates.Kind{certificates.KindUser, certificates.KindDevice},
		check: checkUserCreate,
	},
		upload{signed: req.UserCertificate, redacted: req.RedactedUserCertificate},
		upload{signed: req.DeviceCertificate, redacted: req.RedactedDeviceCertificate},
	)
}

func (s *Service) UserUpdate(ctx context.Context, author certificates.DeviceID, req *wire.UserUpdateReq) (*wire.ActionRep, error) {
	return s.submit(ctx, author, action{
		name:  "user_update",
		kinds: []certificates.Kind{certificates.KindUserUpdate},
		check: checkUserUpdate,
	}, upload{signed: req.UserUpdateCertificate})
}

func (s *Service) UserRevoke(ctx context.Context, author certificates.DeviceID, req *wire.UserRevokeReq) (*wire.ActionRep, error) {
	return s.submit(ctx, author, action{
		name:  "user_revoke",
		kinds: []certificates.Kind{certificates.KindRevokedUser},
		check: checkUserRevoke,
	}, upload{signed: req.RevokedUserCertificate})
}

func (s *Service) RealmCreate(ctx context.Context, author certificates.DeviceID, req *wire.RealmCreateReq) (*wire.ActionRep, error) {
	return s.submit(ctx, author, action{
		name:  "realm_create",
		kinds: []certificates.Kind{certificates.KindRealmRole},
		check: checkRealmCreate,
	}, upload{signed: req.RealmRoleCertificate})
}

func (s *Service) RealmRename(ctx context.Context, author certificates.DeviceID, req *wire.RealmRenameReq) (*wire.ActionRep, error) {
	return s.submit(ctx, author, action{
		name:  "realm_rename",
		kinds: []certificates.Kind{certificates.KindRealmName},
		check: checkRealmRename,
	}, upload{signed: req.RealmNameCertificate})
}

func (s *Service) RealmShare(ctx context.Context, author certificates.DeviceID, req *wire.RealmShareReq) (*wire.ActionRep, error) {
	return s.submit(ctx, author, action{
		name:  "realm_share",
		kinds: []certificates.Kind{certificates.KindRealmRole},
		check: checkRealmRoleChange(true),
	}, upload{signed: req.RealmRoleCertificate})
}

func (s *Service) RealmUnshare(ctx context.Context, author certificates.DeviceID, req *wire.RealmUnshareReq) (*wire.ActionRep, error) {
	return s.submit(ctx, author, action{
		name:  "realm_unshare",
		kinds: []certificates.Kind{certificates.KindRealmRole},
		check: checkRealmRoleChange(false),
	}, upload{signed: req.RealmRoleCertificate})
}

func (s *Service) ShamirRecoveryDelete(ctx context.Context, author certificates.DeviceID, req *wire.ShamirRecoveryDeleteReq) (*wire.ActionRep, error) {
	return s.submit(ctx, author, action{
		name:  "shamir_recovery_delete",
		kinds: []certificates.Kind{certificates.KindShamirRecoveryDeletion},
		check: checkShamirDelete,
	}, upload{signed: req.ShamirRecoveryDeletionCertificate})
}

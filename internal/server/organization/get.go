package organization

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

// CertificateGet returns, per topic and in the order they were accepted, the
// certificates newer than the marks of req.
//
// Outsiders receive the redacted variant of user and device certificates.
// Realm topics are limited to the realms the caller has been part of; once
// the caller lost its role, nothing after the withdrawal is served.
func (s *Service) CertificateGet(ctx context.Context, device certificates.DeviceID, req *wire.CertificateGetReq) (*wire.CertificateGetRep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, ErrNotBootstrapped
	}

	rep := &wire.CertificateGetRep{Status: wire.StatusOk}
	err := s.store.ForRead(ctx, func(tx certstore.ReadTx) error {
		dev, ok := tx.GetDeviceCertificate(device)
		if !ok {
			return common.ErrorUnauthorized
		}
		profile, _ := tx.GetUserProfileAt(certstore.Current, dev.UserID)
		outsider := profile == certificates.ProfileOutsider
		visible := visibleRealms(tx, dev.UserID)

		for _, e := range tx.Entries() {
			topic := e.Certificate.Topic()
			ts := e.Certificate.Base().Timestamp
			if !ts.After(req.After(topic)) {
				continue
			}
			signed := e.Signed
			if red, ok := s.redacted[e.Hash]; ok && outsider {
				signed = red
			}

			switch topic.Kind {
			case certificates.TopicCommon:
				rep.Common = append(rep.Common, signed)
			case certificates.TopicSequester:
				rep.Sequester = append(rep.Sequester, signed)
			case certificates.TopicShamirRecovery:
				rep.ShamirRecovery = append(rep.ShamirRecovery, signed)
			case certificates.TopicRealm:
				until, ok := visible[topic.RealmID]
				if !ok || (!until.IsZero() && ts.After(until)) {
					continue
				}
				if rep.Realm == nil {
					rep.Realm = map[certificates.RealmID][][]byte{}
				}
				rep.Realm[topic.RealmID] = append(rep.Realm[topic.RealmID], signed)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// visibleRealms maps every realm the user ever held a role in to the
// timestamp its role was withdrawn, zero while it still holds one.
func visibleRealms(tx certstore.ReadTx, user certificates.UserID) map[certificates.RealmID]time.Time {
	out := map[certificates.RealmID]time.Time{}
	for _, realm := range tx.ListRealms() {
		last, ok := tx.GetLastRealmRole(certstore.Current, realm, user)
		if !ok {
			continue
		}
		var until time.Time
		if last.Role == nil {
			until = last.Timestamp
		}
		out[realm] = until
	}
	return out
}

package organization

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"errors"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	certrepo "github.com/dmitrijs2005/gophsafe/internal/server/repositories/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

// Bootstrap creates the organization from the root-signed certificates of
// its first admin, plus the sequester authority when the organization is
// sequestered.
func (s *Service) Bootstrap(ctx context.Context, req *wire.OrganizationBootstrapReq) (*wire.ActionRep, error) {
	if s.cfg.BootstrapToken != "" &&
		subtle.ConstantTimeCompare([]byte(req.BootstrapToken), []byte(s.cfg.BootstrapToken)) != 1 {
		return &wire.ActionRep{Status: wire.StatusInvalidBootstrapToken}, nil
	}
	if len(req.RootVerifyKey) != ed25519.PublicKeySize {
		return invalidRep("root verify key"), nil
	}

	uploads := []upload{
		{signed: req.UserCertificate, redacted: req.RedactedUserCertificate},
		{signed: req.DeviceCertificate, redacted: req.RedactedDeviceCertificate},
	}
	kinds := []certificates.Kind{certificates.KindUser, certificates.KindDevice}
	sequestered := req.SequesterAuthorityCertificate != nil
	if sequestered {
		uploads = append(uploads, upload{signed: req.SequesterAuthorityCertificate})
		kinds = append(kinds, certificates.KindSequesterAuthority)
	}
	certs, rep := decodeUploads(uploads, kinds)
	if rep != nil {
		return rep, nil
	}
	for _, c := range certs {
		if !certificates.IsRootSigned(c) {
			return invalidRep("bootstrap certificates must be root signed"), nil
		}
	}
	if rep := s.ballpark(certs[0]); rep != nil {
		return rep, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return &wire.ActionRep{Status: wire.StatusOrganizationBootstrapped}, nil
	}

	store, err := certstore.Open(ctx, certstore.NewMemoryBackend(), s.logger)
	if err != nil {
		return nil, err
	}
	engine := s.newEngine(req.RootVerifyKey, sequestered)
	org := certrepo.Organization{
		RootVerifyKey:  req.RootVerifyKey,
		Sequestered:    sequestered,
		BootstrappedAt: s.serverNow(),
	}

	var records []certrepo.Record
	err = store.ForWrite(ctx, func(tx certstore.WriteTx) error {
		recs, r, err := s.accept(ctx, tx, engine, uploads)
		if err != nil {
			return err
		}
		if r != nil {
			rep = r
			return errAbort
		}
		if err := s.repo.Bootstrap(ctx, org, recs); err != nil {
			if errors.Is(err, certrepo.ErrAlreadyBootstrapped) {
				rep = &wire.ActionRep{Status: wire.StatusOrganizationBootstrapped}
				return errAbort
			}
			return err
		}
		records = recs
		return nil
	})
	switch {
	case errors.Is(err, errAbort):
		_ = store.Stop()
		s.logger.Info(ctx, "bootstrap refused", "status", rep.Status, "reason", rep.Reason)
		return rep, nil
	case err != nil:
		_ = store.Stop()
		s.logger.Error(ctx, "bootstrap failed", "error", err)
		return nil, err
	}

	s.install(store, engine, records)
	s.logger.Info(ctx, "organization bootstrapped", "sequestered", sequestered)
	return &wire.ActionRep{Status: wire.StatusOk}, nil
}

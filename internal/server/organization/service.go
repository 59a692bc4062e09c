// Package organization implements the server side of the certificate
// protocol. It checks uploads against the organization's trust graph,
// persists the accepted certificates and serves them back to devices.
//
// The trust graph lives in a certstore over a memory backend, rebuilt from
// the repository at startup; the repository is the source of truth.
package organization

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/logging"
	certrepo "github.com/dmitrijs2005/gophsafe/internal/server/repositories/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/timex"
	"github.com/dmitrijs2005/gophsafe/internal/validation"
)

const (
	DefaultBallparkEarlyOffset = 300 * time.Second
	DefaultBallparkLateOffset  = 320 * time.Second
)

var ErrNotBootstrapped = errors.New("organization not bootstrapped")

type Config struct {
	// A client timestamp is accepted when it lies within
	// [server-BallparkEarlyOffset, server+BallparkLateOffset].
	BallparkEarlyOffset time.Duration
	BallparkLateOffset  time.Duration
	// BootstrapToken must be presented by the bootstrapping client when set.
	BootstrapToken string
}

type Option func(*Service)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	repo   certrepo.Repository
	cfg    Config
	now    func() time.Time
	logger logging.Logger

	// mu serializes uploads; readers share it.
	mu       sync.RWMutex
	store    *certstore.Store
	engine   *validation.Engine
	redacted map[string][]byte
}

func NewService(repo certrepo.Repository, cfg Config, logger logging.Logger, opts ...Option) *Service {
	if cfg.BallparkEarlyOffset == 0 {
		cfg.BallparkEarlyOffset = DefaultBallparkEarlyOffset
	}
	if cfg.BallparkLateOffset == 0 {
		cfg.BallparkLateOffset = DefaultBallparkLateOffset
	}
	s := &Service{
		repo:   repo,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("module", "organization"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load rebuilds the trust graph from the repository. A missing organization
// is not an error: the service then waits for OrganizationBootstrap.
func (s *Service) Load(ctx context.Context) error {
	org, err := s.repo.GetOrganization(ctx)
	if errors.Is(err, common.ErrorNotFound) {
		s.logger.Info(ctx, "organization not bootstrapped yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load organization: %w", err)
	}

	records, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load certificates: %w", err)
	}
	backend := certstore.NewMemoryBackend()
	log := make([]certstore.Record, 0, len(records))
	for _, r := range records {
		log = append(log, certstore.Record{Topic: r.Topic, Kind: r.Kind, Timestamp: r.Timestamp, Hash: r.Hash, Signed: r.Signed})
	}
	if err := backend.Commit(ctx, certstore.Changes{Universe: certificates.UniverseFull, Append: log}); err != nil {
		return err
	}
	store, err := certstore.Open(ctx, backend, s.logger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.install(store, s.newEngine(org.RootVerifyKey, org.Sequestered), records)
	s.logger.Info(ctx, "organization loaded", "certificates", len(records), "sequestered", org.Sequestered)
	return nil
}

func (s *Service) newEngine(root []byte, sequestered bool) *validation.Engine {
	return &validation.Engine{
		RootVerifyKey: cryptox.VerifyKey(root),
		Sequestered:   sequestered,
		Logger:        s.logger,
	}
}

// install must be called with mu held.
func (s *Service) install(store *certstore.Store, engine *validation.Engine, records []certrepo.Record) {
	s.store = store
	s.engine = engine
	s.redacted = map[string][]byte{}
	s.remember(records)
}

func (s *Service) remember(records []certrepo.Record) {
	for _, r := range records {
		if r.Redacted != nil {
			s.redacted[r.Hash] = r.Redacted
		}
	}
}

func (s *Service) Bootstrapped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store != nil
}

// DeviceVerifyKey returns the key a device signs its access tokens with.
// Unknown devices and devices of revoked users are refused with
// common.ErrorUnauthorized. It satisfies auth.KeyLookup.
func (s *Service) DeviceVerifyKey(device certificates.DeviceID) (cryptox.VerifyKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, common.ErrorUnauthorized
	}

	var key cryptox.VerifyKey
	err := s.store.ForRead(context.Background(), func(tx certstore.ReadTx) error {
		dev, ok := tx.GetDeviceCertificate(device)
		if !ok {
			return common.ErrorUnauthorized
		}
		if _, revoked := tx.GetRevokedUserCertificate(dev.UserID); revoked {
			return common.ErrorUnauthorized
		}
		key = cryptox.VerifyKey(dev.VerifyKey)
		return nil
	})
	return key, err
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store.Stop()
}

func (s *Service) serverNow() time.Time {
	return timex.Normalize(s.now())
}

// Package services contains application services of the client that combine
// local repositories with domain logic.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/client/manifests"
	manifestrepo "github.com/dmitrijs2005/gophsafe/internal/client/repositories/manifests"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/dbx"
	"github.com/dmitrijs2005/gophsafe/internal/logging"
	"github.com/dmitrijs2005/gophsafe/internal/timex"
)

// UserManifestService owns the local user manifest of a device. All
// read-modify-write sequences run under one lock and one transaction.
type UserManifestService struct {
	mu     sync.Mutex
	db     *sql.DB
	id     manifests.EntryID
	author certificates.DeviceID
	key    []byte
	clock  timex.TimeProvider
	merger manifests.Merger
	logger logging.Logger
}

func NewUserManifestService(db *sql.DB, id manifests.EntryID, author certificates.DeviceID, key []byte, clock timex.TimeProvider, logger logging.Logger) *UserManifestService {
	logger = logger.With("module", "user_manifest")
	return &UserManifestService{
		db:     db,
		id:     id,
		author: author,
		key:    key,
		clock:  clock,
		merger: manifests.Merger{Logger: logger},
		logger: logger,
	}
}

func (s *UserManifestService) load(ctx context.Context, repo manifestrepo.Repository) (manifests.LocalUserManifest, error) {
	rec, err := repo.Get(ctx, string(s.id))
	if errors.Is(err, common.ErrorNotFound) {
		return manifests.NewSpeculativeUserManifest(s.id, s.author, s.clock.Now()), nil
	}
	if err != nil {
		return manifests.LocalUserManifest{}, err
	}
	var m manifests.LocalUserManifest
	if err := cryptox.DecryptJSON(rec.Ciphertext, rec.Nonce, s.key, &m); err != nil {
		return manifests.LocalUserManifest{}, fmt.Errorf("decrypt user manifest: %w", err)
	}
	return m, nil
}

func (s *UserManifestService) save(ctx context.Context, repo manifestrepo.Repository, m manifests.LocalUserManifest) error {
	ct, nonce, err := cryptox.EncryptJSON(m, s.key)
	if err != nil {
		return fmt.Errorf("encrypt user manifest: %w", err)
	}
	return repo.Put(ctx, manifestrepo.Record{
		ID:          string(s.id),
		Kind:        manifestrepo.KindUser,
		BaseVersion: m.Base.Version,
		NeedSync:    m.NeedSync,
		Ciphertext:  ct,
		Nonce:       nonce,
	})
}

// update runs fn on the stored manifest and persists what it returns.
func (s *UserManifestService) update(ctx context.Context, fn func(m manifests.LocalUserManifest) (manifests.LocalUserManifest, bool, error)) (manifests.LocalUserManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out manifests.LocalUserManifest
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := manifestrepo.NewSQLiteRepository(tx)
		current, err := s.load(ctx, repo)
		if err != nil {
			return err
		}
		next, changed, err := fn(current)
		if err != nil {
			return err
		}
		out = next
		if !changed {
			return nil
		}
		return s.save(ctx, repo, next)
	})
	return out, err
}

// Get returns the local user manifest, a speculative one when none was
// stored yet.
func (s *UserManifestService) Get(ctx context.Context) (manifests.LocalUserManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, manifestrepo.NewSQLiteRepository(s.db))
}

// MergeRemote rebases the local manifest on a remote version. Versions not
// newer than the local base are ignored.
func (s *UserManifestService) MergeRemote(ctx context.Context, remote manifests.UserManifest) (manifests.LocalUserManifest, error) {
	return s.update(ctx, func(local manifests.LocalUserManifest) (manifests.LocalUserManifest, bool, error) {
		if remote.Version <= local.Base.Version {
			s.logger.Debug(ctx, "remote user manifest already merged", "remote_version", remote.Version, "base_version", local.Base.Version)
			return local, false, nil
		}
		merged, err := s.merger.MergeLocalUserManifests(ctx, local, remote)
		if err != nil {
			return local, false, err
		}
		s.logger.Info(ctx, "user manifest merged", "version", remote.Version, "need_sync", merged.NeedSync)
		return merged, true, nil
	})
}

// AddWorkspace records a workspace bound to a realm. Adding a known realm
// again only renames it.
func (s *UserManifestService) AddWorkspace(ctx context.Context, realm certificates.RealmID, name string, key []byte) (manifests.LocalUserManifest, error) {
	return s.update(ctx, func(m manifests.LocalUserManifest) (manifests.LocalUserManifest, bool, error) {
		now := s.clock.Now()
		workspaces := make([]manifests.WorkspaceEntry, 0, len(m.Workspaces)+1)
		found := false
		for _, w := range m.Workspaces {
			if w.ID == realm {
				if w.Name == name {
					return m, false, nil
				}
				w.Name = name
				found = true
			}
			workspaces = append(workspaces, w)
		}
		if !found {
			workspaces = append(workspaces, manifests.WorkspaceEntry{ID: realm, Name: name, Key: key, EncryptedOn: now})
		}
		m.Workspaces = workspaces
		m.NeedSync = true
		m.Updated = now
		return m, true, nil
	})
}

package certstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/logging"
)

// WriteTx is a ReadTx that can also change the store. Its reads see its own
// uncommitted changes.
type WriteTx interface {
	ReadTx
	// Append adds already validated certificates in the given order and
	// advances the timestamp ledger.
	Append(entries ...Entry)
	// ForgetAll drops every certificate and switches the store to universe.
	ForgetAll(universe certificates.Universe)
}

type Store struct {
	backend Backend
	logger  logging.Logger

	writeMu sync.Mutex
	current atomic.Pointer[index]
	stopped atomic.Bool
}

// Open loads the persisted log from backend. Stored certificates were
// verified before being committed, so they are decoded without checking
// signatures again.
func Open(ctx context.Context, backend Backend, logger logging.Logger) (*Store, error) {
	universe, records, err := backend.Load(ctx)
	if err != nil {
		return nil, common.NewInternalError("certstore load", err)
	}
	if universe == "" {
		universe = certificates.UniverseFull
	}

	ix := newIndex(universe)
	for _, r := range records {
		c, err := certificates.UnsecureLoad(r.Signed)
		if err != nil {
			return nil, common.NewInternalError("certstore load", fmt.Errorf("record %s: %w", r.Hash, err))
		}
		ix.add(NewEntry(c, r.Signed))
	}

	s := &Store{backend: backend, logger: logger.With("module", "certstore")}
	s.current.Store(ix)
	s.logger.Debug(ctx, "certificate store opened", "universe", universe, "certificates", len(records))
	return s, nil
}

// ForRead runs fn against the latest committed snapshot.
func (s *Store) ForRead(ctx context.Context, fn func(tx ReadTx) error) error {
	if s.stopped.Load() {
		return common.ErrStopped
	}
	return fn(s.current.Load())
}

// ForWrite runs fn with exclusive write access. If fn returns an error
// nothing is persisted nor published. The backend commit is not interrupted
// by ctx cancellation once fn has succeeded.
func (s *Store) ForWrite(ctx context.Context, fn func(tx WriteTx) error) error {
	if s.stopped.Load() {
		return common.ErrStopped
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.stopped.Load() {
		return common.ErrStopped
	}

	tx := &writeTx{index: s.current.Load()}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.owned {
		return nil
	}

	changes := Changes{Reset: tx.reset, Universe: tx.universe, Append: tx.appended}
	if err := s.backend.Commit(context.WithoutCancel(ctx), changes); err != nil {
		return common.NewInternalError("certstore commit", err)
	}
	s.current.Store(tx.index)
	return nil
}

func (s *Store) GetLastTimestamps(ctx context.Context) (certificates.PerTopicLastTimestamps, error) {
	var last certificates.PerTopicLastTimestamps
	err := s.ForRead(ctx, func(tx ReadTx) error {
		last = tx.LastTimestamps()
		return nil
	})
	return last, err
}

func (s *Store) GetLastShamirRecoveryForAuthor(ctx context.Context, upto UpTo, user UserID) (LastShamirRecovery, error) {
	var res LastShamirRecovery
	err := s.ForRead(ctx, func(tx ReadTx) error {
		res = tx.GetLastShamirRecoveryForAuthor(upto, user)
		return nil
	})
	return res, err
}

// Stop waits for the running write transaction, if any, and closes the
// backend. Every later call fails with common.ErrStopped.
func (s *Store) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.backend.Close()
}

type writeTx struct {
	*index
	owned    bool
	reset    bool
	appended []Record
}

func (tx *writeTx) own() {
	if !tx.owned {
		tx.index = tx.index.clone()
		tx.owned = true
	}
}

func (tx *writeTx) Append(entries ...Entry) {
	tx.own()
	for _, e := range entries {
		tx.index.add(e)
		tx.appended = append(tx.appended, e.record())
	}
}

func (tx *writeTx) ForgetAll(universe certificates.Universe) {
	tx.index = newIndex(universe)
	tx.owned = true
	tx.reset = true
	tx.appended = nil
}

package certificates

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
)

var (
	badgerCertPrefix = []byte("cert/")
	badgerHeadKey    = []byte("meta/head")
)

// badgerHead is the only key a commit writes transactionally. Certificates
// live under cert/<generation>/<seq> and only seq < Next of the current
// generation is part of the log, so records are written in batches of any
// size before the head makes them visible.
type badgerHead struct {
	Generation uint64                `json:"generation"`
	Universe   certificates.Universe `json:"universe"`
	Next       uint64                `json:"next"`
}

// BadgerBackend stores the certificate log in a badger key/value store,
// one key per certificate ordered by a sequence number.
type BadgerBackend struct {
	db   *badger.DB
	head badgerHead
}

var _ certstore.Backend = (*BadgerBackend)(nil)

// OpenBadgerBackend opens (or creates) the store in dir. An empty dir opens
// an in-memory store.
func OpenBadgerBackend(dir string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func generationPrefix(gen uint64) []byte {
	k := make([]byte, len(badgerCertPrefix)+8)
	copy(k, badgerCertPrefix)
	binary.BigEndian.PutUint64(k[len(badgerCertPrefix):], gen)
	return k
}

func certKey(gen, seq uint64) []byte {
	k := generationPrefix(gen)
	return binary.BigEndian.AppendUint64(k, seq)
}

func (b *BadgerBackend) Load(ctx context.Context) (certificates.Universe, []certstore.Record, error) {
	var (
		head    badgerHead
		records []certstore.Record
	)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerHeadKey)
		switch {
		case err == badger.ErrKeyNotFound:
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &head)
			}); err != nil {
				return err
			}
		}

		prefix := generationPrefix(head.Generation)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if binary.BigEndian.Uint64(it.Item().Key()[len(prefix):]) >= head.Next {
				break
			}
			var r certstore.Record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &r)
			}); err != nil {
				return err
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to load certificates: %w", err)
	}
	b.head = head

	// Leftovers of a commit interrupted before its head was written.
	if err := b.deleteExcept(head.Generation); err != nil {
		return "", nil, fmt.Errorf("failed to load certificates: %w", err)
	}
	return head.Universe, records, nil
}

// Commit writes the records first, then switches the head in one small
// transaction. A reset fills a new generation, so neither a large refill nor
// the deletion of the old log can exceed badger's transaction limits.
func (b *BadgerBackend) Commit(ctx context.Context, changes certstore.Changes) error {
	head := b.head
	if changes.Reset {
		head.Generation++
		head.Next = 0
		// A reset interrupted earlier may have left records in this
		// generation.
		if err := b.deletePrefix(generationPrefix(head.Generation)); err != nil {
			return fmt.Errorf("failed to commit certificates: %w", err)
		}
	}
	head.Universe = changes.Universe

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range changes.Append {
		v, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to commit certificates: %w", err)
		}
		if err := wb.Set(certKey(head.Generation, head.Next), v); err != nil {
			return fmt.Errorf("failed to commit certificates: %w", err)
		}
		head.Next++
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to commit certificates: %w", err)
	}

	v, err := json.Marshal(head)
	if err != nil {
		return fmt.Errorf("failed to commit certificates: %w", err)
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerHeadKey, v)
	}); err != nil {
		return fmt.Errorf("failed to commit certificates: %w", err)
	}
	previous := b.head.Generation
	b.head = head

	if changes.Reset {
		if err := b.deletePrefix(generationPrefix(previous)); err != nil {
			return fmt.Errorf("failed to drop previous certificates: %w", err)
		}
	}
	return nil
}

// deletePrefix removes every key under prefix in write batches.
func (b *BadgerBackend) deletePrefix(prefix []byte) error {
	return b.deleteKeys(func(key []byte) bool {
		return bytes.HasPrefix(key, prefix)
	})
}

// deleteExcept removes every certificate outside generation gen.
func (b *BadgerBackend) deleteExcept(gen uint64) error {
	keep := generationPrefix(gen)
	return b.deleteKeys(func(key []byte) bool {
		return !bytes.HasPrefix(key, keep)
	})
}

func (b *BadgerBackend) deleteKeys(match func(key []byte) bool) error {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(badgerCertPrefix); it.ValidForPrefix(badgerCertPrefix); it.Next() {
			if k := it.Item().Key(); match(k) {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

package certificates

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophsafe/internal/dbx"
)

// SQLiteBackend stores the certificate log in the local SQLite database.
// Each commit is one SQL transaction.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

var _ certstore.Backend = (*SQLiteBackend)(nil)

func (b *SQLiteBackend) Load(ctx context.Context) (certificates.Universe, []certstore.Record, error) {
	universe, err := metadata.NewSQLiteRepository(b.db).Universe(ctx)
	if err != nil {
		return "", nil, err
	}
	records, err := NewSQLiteRepository(b.db).List(ctx)
	if err != nil {
		return "", nil, err
	}
	return universe, records, nil
}

func (b *SQLiteBackend) Commit(ctx context.Context, changes certstore.Changes) error {
	return dbx.WithTx(ctx, b.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		certs := NewSQLiteRepository(tx)
		meta := metadata.NewSQLiteRepository(tx)

		if changes.Reset {
			if err := certs.Clear(ctx); err != nil {
				return err
			}
		}
		if err := meta.SetUniverse(ctx, changes.Universe); err != nil {
			return err
		}
		for _, r := range changes.Append {
			if err := certs.Insert(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close is a no-op: the database is shared with the manifest repository and
// closed by its owner.
func (b *SQLiteBackend) Close() error { return nil }

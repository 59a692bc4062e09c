// Package certificates persists the local certificate log. It provides the
// SQLite and badger backends of certstore.Store.
package certificates

import (
	"context"

	"github.com/dmitrijs2005/gophsafe/internal/certstore"
)

// Repository is the append-only certificate table.
type Repository interface {
	Insert(ctx context.Context, r certstore.Record) error
	List(ctx context.Context) ([]certstore.Record, error)
	Clear(ctx context.Context) error
}

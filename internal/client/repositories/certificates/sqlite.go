package certificates

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
	"github.com/dmitrijs2005/gophsafe/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, rec certstore.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO certificates (topic, kind, timestamp, hash, signed)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Topic, string(rec.Kind), rec.Timestamp.UnixMicro(), rec.Hash, rec.Signed)
	if err != nil {
		return fmt.Errorf("failed to insert certificate %s: %w", rec.Hash, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]certstore.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT topic, kind, timestamp, hash, signed
		FROM certificates
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	defer rows.Close()

	var result []certstore.Record
	for rows.Next() {
		var (
			rec  certstore.Record
			kind string
			ts   int64
		)
		if err := rows.Scan(&rec.Topic, &kind, &ts, &rec.Hash, &rec.Signed); err != nil {
			return nil, fmt.Errorf("failed to scan certificate row: %w", err)
		}
		rec.Kind = certificates.Kind(kind)
		rec.Timestamp = time.UnixMicro(ts).UTC()
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate certificate rows: %w", err)
	}

	return result, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM certificates`)
	if err != nil {
		return fmt.Errorf("failed to clear certificates: %w", err)
	}
	return nil
}

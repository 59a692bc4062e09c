package manifests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Record, error) {
	rec := &Record{ID: id}
	var (
		kind     string
		needSync int
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT kind, base_version, need_sync, ciphertext, nonce
		FROM local_manifests WHERE id = ?
	`, id).Scan(&kind, &rec.BaseVersion, &needSync, &rec.Ciphertext, &rec.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest %s: %w", id, err)
	}
	rec.Kind = Kind(kind)
	rec.NeedSync = needSync != 0
	return rec, nil
}

func (r *SQLiteRepository) Put(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO local_manifests (id, kind, base_version, need_sync, ciphertext, nonce)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			base_version = excluded.base_version,
			need_sync = excluded.need_sync,
			ciphertext = excluded.ciphertext,
			nonce = excluded.nonce
	`, rec.ID, string(rec.Kind), rec.BaseVersion, boolToInt(rec.NeedSync), rec.Ciphertext, rec.Nonce)
	if err != nil {
		return fmt.Errorf("failed to save manifest %s: %w", rec.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) ListNeedSync(ctx context.Context, kind Kind) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, base_version, ciphertext, nonce
		FROM local_manifests
		WHERE kind = ? AND need_sync = 1
		ORDER BY id
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list manifests: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		rec := Record{Kind: kind, NeedSync: true}
		if err := rows.Scan(&rec.ID, &rec.BaseVersion, &rec.Ciphertext, &rec.Nonce); err != nil {
			return nil, fmt.Errorf("failed to scan manifest row: %w", err)
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate manifest rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM local_manifests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete manifest %s: %w", id, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package certificates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/dbx"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"

	txAttempts = 3
)

// Appends must observe the whole log to keep timestamps and hashes unique.
var serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetOrganization(ctx context.Context) (*Organization, error) {
	org := &Organization{}
	err := r.db.QueryRowContext(ctx, `SELECT root_verify_key, sequestered, bootstrapped_at FROM organization WHERE id = 1`).
		Scan(&org.RootVerifyKey, &org.Sequestered, &org.BootstrappedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	org.BootstrappedAt = org.BootstrappedAt.UTC()
	return org, nil
}

func (r *PostgresRepository) Bootstrap(ctx context.Context, org Organization, records []Record) error {
	return dbx.WithRetryTx(ctx, r.db, serializable, txAttempts, isSerializationFailure, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO organization (id, root_verify_key, sequestered, bootstrapped_at)
			VALUES (1, $1, $2, $3)
			ON CONFLICT (id) DO NOTHING`,
			org.RootVerifyKey, org.Sequestered, org.BootstrappedAt)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n == 0 {
			return ErrAlreadyBootstrapped
		}
		return insertRecords(ctx, tx, records)
	})
}

func (r *PostgresRepository) Insert(ctx context.Context, records []Record) error {
	return dbx.WithRetryTx(ctx, r.db, serializable, txAttempts, isSerializationFailure, func(ctx context.Context, tx dbx.DBTX) error {
		return insertRecords(ctx, tx, records)
	})
}

func insertRecords(ctx context.Context, tx dbx.DBTX, records []Record) error {
	for _, rec := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO certificates (topic, kind, timestamp, hash, signed, redacted)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.Topic, string(rec.Kind), rec.Timestamp, rec.Hash, rec.Signed, rec.Redacted)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s", ErrDuplicate, rec.Hash)
			}
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT topic, kind, timestamp, hash, signed, redacted
		FROM certificates
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var (
			rec  Record
			kind string
		)
		if err := rows.Scan(&rec.Topic, &kind, &rec.Timestamp, &rec.Hash, &rec.Signed, &rec.Redacted); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		rec.Kind = certificates.Kind(kind)
		rec.Timestamp = rec.Timestamp.UTC()
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

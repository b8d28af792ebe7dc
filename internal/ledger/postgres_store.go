package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists records through a pgx pool. Every operation acquires
// its own pooled connection, so concurrent meter calls and summary queries
// never interleave statements on a shared handle.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	createTable := `
		CREATE TABLE IF NOT EXISTS metering_records (
			id           BIGSERIAL PRIMARY KEY,
			recorded_at  TIMESTAMPTZ NOT NULL,
			model        TEXT NOT NULL,
			tokens       BIGINT NOT NULL,
			cost         DOUBLE PRECISION NOT NULL,
			input_text   TEXT,
			output_text  TEXT,
			api_key_hash TEXT NOT NULL
		)
	`
	if _, err := s.db.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("%w: failed to create metering_records: %v", ErrStorage, err)
	}

	// The optional refs are coalesced so NULL and NULL count as the same
	// value; without this, Postgres treats NULLs as distinct and duplicates
	// would never coalesce.
	createIndex := `
		CREATE UNIQUE INDEX IF NOT EXISTS metering_records_natural_key
		ON metering_records (
			recorded_at, model, tokens, cost, api_key_hash,
			COALESCE(input_text, ''), COALESCE(output_text, '')
		)
	`
	if _, err := s.db.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("%w: failed to create natural key index: %v", ErrStorage, err)
	}

	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, record *Record) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	query := `
		INSERT INTO metering_records (recorded_at, model, tokens, cost, input_text, output_text, api_key_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING id
	`
	err := s.db.QueryRow(ctx, query,
		record.RecordedAt, record.Model, record.Tokens, record.Cost,
		record.InputText, record.OutputText, record.APIKeyHash,
	).Scan(&record.ID)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Exact duplicate coalesced with an existing row; insert-or-ignore.
			return nil
		}
		return fmt.Errorf("%w: failed to insert record: %v", ErrStorage, err)
	}

	return nil
}

func (s *PostgresStore) FindByDate(ctx context.Context, day time.Time) ([]*Record, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	query := `
		SELECT id, recorded_at, model, tokens, cost, input_text, output_text, api_key_hash
		FROM metering_records
		WHERE recorded_at >= $1 AND recorded_at < $2
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query records: %v", ErrStorage, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.ID, &r.RecordedAt, &r.Model, &r.Tokens, &r.Cost,
			&r.InputText, &r.OutputText, &r.APIKeyHash,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan record: %v", ErrStorage, err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating records: %v", ErrStorage, err)
	}

	return records, nil
}

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in the ledger_batches table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const recordColumns = `dataset, token, sequence, state, prior_state, attempts, op_id, cause, stats, cleaned_location, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec       Record
		state     string
		prior     string
		causeJSON []byte
		statsJSON []byte
	)
	err := row.Scan(&rec.Dataset, &rec.Token, &rec.Sequence, &state, &prior, &rec.Attempts, &rec.OpID,
		&causeJSON, &statsJSON, &rec.CleanedLocation, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.State = State(state)
	rec.PriorState = State(prior)
	if len(causeJSON) > 0 {
		var cause Cause
		if err := json.Unmarshal(causeJSON, &cause); err != nil {
			return nil, fmt.Errorf("failed to decode cause: %w", err)
		}
		rec.Cause = &cause
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &rec.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode stats: %w", err)
		}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, dataset, token string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM ledger_batches WHERE dataset = $1 AND token = $2`, dataset, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, dataset string) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM ledger_batches WHERE dataset = $1 ORDER BY sequence, token`, dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list ledger records: %w", err)
	}
	return out, nil
}

func encodeRecord(rec *Record) (cause []byte, stats []byte, err error) {
	if rec.Cause != nil {
		if cause, err = json.Marshal(rec.Cause); err != nil {
			return nil, nil, fmt.Errorf("failed to encode cause: %w", err)
		}
	}
	st := rec.Stats
	if st == nil {
		st = map[string]int64{}
	}
	if stats, err = json.Marshal(st); err != nil {
		return nil, nil, fmt.Errorf("failed to encode stats: %w", err)
	}
	return cause, stats, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	cause, stats, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO ledger_batches (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (dataset, token) DO NOTHING`,
		rec.Dataset, rec.Token, rec.Sequence, string(rec.State), string(rec.PriorState), rec.Attempts, rec.OpID,
		cause, stats, rec.CleanedLocation, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec *Record) error {
	cause, stats, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE ledger_batches
		SET state = $3, prior_state = $4, attempts = $5, op_id = $6, cause = $7, stats = $8,
		    cleaned_location = $9, updated_at = $10
		WHERE dataset = $1 AND token = $2`,
		rec.Dataset, rec.Token, string(rec.State), string(rec.PriorState), rec.Attempts, rec.OpID,
		cause, stats, rec.CleanedLocation, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update ledger record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
)

// PostgresBackend stores the catalog in the catalog_entries table.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

type fieldJSON struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

const entryColumns = `table_name, version, zone, signature, fields, location, partition_spec, published_at, superseded_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e          Entry
		zone       string
		fieldsJSON []byte
		specJSON   []byte
	)
	if err := row.Scan(&e.Table, &e.Version, &zone, &e.Signature, &fieldsJSON, &e.Location, &specJSON, &e.PublishedAt, &e.SupersededAt); err != nil {
		return nil, err
	}
	e.Zone = dataset.Zone(zone)
	var fields []fieldJSON
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	for _, f := range fields {
		e.Fields = append(e.Fields, contract.Field{Name: f.Name, Type: contract.LogicalType(f.Type), Nullable: f.Nullable})
	}
	if err := json.Unmarshal(specJSON, &e.PartitionSpec); err != nil {
		return nil, fmt.Errorf("failed to decode partition spec: %w", err)
	}
	e.PartitionSpec = normalizeSpec(e.PartitionSpec)
	e.PublishedAt = e.PublishedAt.UTC()
	if e.SupersededAt != nil {
		t := e.SupersededAt.UTC()
		e.SupersededAt = &t
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	defer rows.Close()
	out := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) Current(ctx context.Context, table string) (*Entry, error) {
	e, err := scanEntry(b.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM catalog_entries WHERE table_name = $1 AND superseded_at IS NULL`, table))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog entry: %w", err)
	}
	return e, nil
}

func (b *PostgresBackend) Versions(ctx context.Context, table string) ([]*Entry, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM catalog_entries WHERE table_name = $1 ORDER BY version`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog versions: %w", err)
	}
	return collectEntries(rows)
}

func (b *PostgresBackend) List(ctx context.Context) ([]*Entry, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM catalog_entries WHERE superseded_at IS NULL ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog entries: %w", err)
	}
	return collectEntries(rows)
}

// Commit flips the live version inside one transaction. A transaction-scoped advisory lock on the
// table name turns a concurrent publisher in another process into a ConflictError.
func (b *PostgresBackend) Commit(ctx context.Context, next *Entry) error {
	fields := make([]fieldJSON, len(next.Fields))
	for i, f := range next.Fields {
		fields[i] = fieldJSON{Name: f.Name, Type: string(f.Type), Nullable: f.Nullable}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	specJSON, err := json.Marshal(normalizeSpec(next.PartitionSpec))
	if err != nil {
		return fmt.Errorf("failed to encode partition spec: %w", err)
	}

	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext('catalog:' || $1))`, next.Table).Scan(&locked); err != nil {
			return fmt.Errorf("failed to lock catalog entry: %w", err)
		}
		if !locked {
			return &ConflictError{Table: next.Table, Reason: "publish in flight in another process"}
		}

		var current int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM catalog_entries WHERE table_name = $1`, next.Table).Scan(&current); err != nil {
			return fmt.Errorf("failed to read catalog version: %w", err)
		}
		if current+1 != next.Version {
			return &ConflictError{Table: next.Table, Reason: fmt.Sprintf("expected version %d, catalog is at %d", next.Version-1, current)}
		}

		if _, err := tx.Exec(ctx, `UPDATE catalog_entries SET superseded_at = $2 WHERE table_name = $1 AND superseded_at IS NULL`,
			next.Table, next.PublishedAt); err != nil {
			return fmt.Errorf("failed to supersede catalog entry: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO catalog_entries (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL)`,
			next.Table, next.Version, string(next.Zone), next.Signature, fieldsJSON, next.Location, specJSON, next.PublishedAt); err != nil {
			return fmt.Errorf("failed to insert catalog entry: %w", err)
		}
		return nil
	})
}

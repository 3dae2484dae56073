// Package warehouse materializes curated tables into ClickHouse for SQL access. Each load swaps a
// fully written staging table into place so readers never see a partial table.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/clickhouse"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/metrics"
)

const loadLogTable = "lakeflow_load_log"

type LoaderConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Client clickhouse.Client
}

func (cfg *LoaderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("client is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Loader struct {
	log *slog.Logger
	cfg LoaderConfig
}

func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Loader{log: cfg.Logger, cfg: cfg}, nil
}

type LoadResult struct {
	Table   string
	OpID    uuid.UUID
	Rows    int
	Skipped bool
}

// Load replaces the warehouse table named after t with its rows. A table whose latest load came
// from the same location and schema is skipped.
func (l *Loader) Load(ctx context.Context, t *dataset.Table, location string) (*LoadResult, error) {
	start := l.cfg.Clock.Now()
	defer func() {
		metrics.WarehouseLoadDuration.WithLabelValues(t.Name).Observe(l.cfg.Clock.Since(start).Seconds())
	}()

	conn, err := l.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	signature := t.Signature()
	loaded, err := l.alreadyLoaded(ctx, conn, t.Name, signature, location)
	if err != nil {
		return nil, err
	}
	if loaded {
		l.log.Info("warehouse: table already loaded, skipping", "table", t.Name, "location", location)
		return &LoadResult{Table: t.Name, Skipped: true}, nil
	}

	opID := uuid.New()
	staging := stagingName(t.Name, opID)
	ddl, err := CreateTableSQL(staging, t)
	if err != nil {
		return nil, err
	}

	defer func() {
		dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := conn.Exec(dropCtx, "DROP TABLE IF EXISTS "+quote(staging)); err != nil {
			l.log.Warn("warehouse: failed to drop staging table", "table", staging, "error", err)
		}
	}()

	if err := conn.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to create staging table %s: %w", staging, err)
	}
	if err := l.writeRows(ctx, conn, staging, t); err != nil {
		return nil, err
	}

	syncCtx := clickhouse.ContextWithSyncInsert(ctx)
	count, err := countRows(syncCtx, conn, staging)
	if err != nil {
		return nil, err
	}
	if count != uint64(len(t.Rows)) {
		return nil, fmt.Errorf("staging table %s has %d rows, expected %d", staging, count, len(t.Rows))
	}

	// The target may not exist yet; create it empty so the exchange is always valid.
	if err := conn.Exec(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s AS %s", quote(t.Name), quote(staging))); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	if err := conn.Exec(ctx, fmt.Sprintf("EXCHANGE TABLES %s AND %s", quote(t.Name), quote(staging))); err != nil {
		return nil, fmt.Errorf("failed to exchange %s with staging: %w", t.Name, err)
	}

	err = conn.Exec(syncCtx,
		"INSERT INTO "+loadLogTable+" (table_name, signature, location, op_id, row_count, loaded_at) VALUES (?, ?, ?, ?, ?, ?)",
		t.Name, signature, location, opID, uint64(len(t.Rows)), l.cfg.Clock.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record load of %s: %w", t.Name, err)
	}

	l.log.Info("warehouse: loaded table", "table", t.Name, "rows", len(t.Rows), "op_id", opID)
	return &LoadResult{Table: t.Name, OpID: opID, Rows: len(t.Rows)}, nil
}

func stagingName(table string, opID uuid.UUID) string {
	return table + "__staging_" + strings.ReplaceAll(opID.String(), "-", "")[:12]
}

// alreadyLoaded reports whether the latest load of table came from location under signature.
func (l *Loader) alreadyLoaded(ctx context.Context, conn clickhouse.Connection, table, signature, location string) (bool, error) {
	rows, err := conn.Query(ctx,
		"SELECT signature, location FROM "+loadLogTable+" WHERE table_name = ? ORDER BY loaded_at DESC LIMIT 1",
		table,
	)
	if err != nil {
		return false, fmt.Errorf("failed to query load log: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return false, rows.Err()
	}
	var lastSignature, lastLocation string
	if err := rows.Scan(&lastSignature, &lastLocation); err != nil {
		return false, fmt.Errorf("failed to scan load log: %w", err)
	}
	return lastSignature == signature && lastLocation == location, nil
}

func countRows(ctx context.Context, conn clickhouse.Connection, table string) (uint64, error) {
	rows, err := conn.Query(ctx, "SELECT count() FROM "+quote(table))
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	defer rows.Close()
	var n uint64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to scan count: %w", err)
		}
	}
	return n, rows.Err()
}

func (l *Loader) writeRows(ctx context.Context, conn clickhouse.Connection, table string, t *dataset.Table) error {
	if len(t.Rows) == 0 {
		return nil
	}
	l.log.Debug("warehouse: writing batch", "table", table, "count", len(t.Rows))

	batch, err := conn.PrepareBatch(ctx, "INSERT INTO "+quote(table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Close()

	for i, r := range t.Rows {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during batch insert: %w", ctx.Err())
		default:
		}
		if len(r.Values) != len(t.Fields) {
			return fmt.Errorf("row %d has %d columns, expected exactly %d", i, len(r.Values), len(t.Fields))
		}
		if err := batch.Append(r.Values...); err != nil {
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

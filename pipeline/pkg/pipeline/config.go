package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/alert"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/catalog"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/curate"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/ledger"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/lineage"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/storage"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/warehouse"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/utils/pkg/retry"
)

const defaultMaxConcurrency = 4

// Warehouse materializes a published curated table for SQL access.
type Warehouse interface {
	Load(ctx context.Context, t *dataset.Table, location string) (*warehouse.LoadResult, error)
}

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Contracts *contract.Registry
	Plan      *curate.Plan
	Ledger    *ledger.Ledger
	Catalog   *catalog.Registrar
	Store     storage.ObjectStore

	// Locker serializes writers of a curated table; defaults to a process-local locker.
	Locker curate.Locker
	// Warehouse, Lineage and Notifier are optional.
	Warehouse Warehouse
	Lineage   lineage.Recorder
	Notifier  alert.Notifier

	// MaxConcurrency bounds the datasets ingested, and the tables curated, in parallel.
	MaxConcurrency int
	// PublishRetry governs retries of retryable catalog conflicts.
	PublishRetry retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Contracts == nil {
		return errors.New("contracts are required")
	}
	if cfg.Plan == nil {
		return errors.New("plan is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Catalog == nil {
		return errors.New("catalog is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if err := cfg.Plan.Validate(); err != nil {
		return err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Locker == nil {
		cfg.Locker = curate.NewMemoryLocker()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = alert.LogNotifier{Logger: cfg.Logger}
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.PublishRetry.MaxAttempts == 0 {
		cfg.PublishRetry = retry.DefaultConfig()
	}
	return nil
}

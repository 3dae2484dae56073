// Package pipeline moves batches through the raw, cleaned and curated zones. Ingest lands and
// conforms one batch; Curate rebuilds the star schema from the latest cleaned snapshots and
// publishes the batches it consumed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/alert"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/catalog"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/curate"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/ledger"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/normalize"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/utils/pkg/retry"
)

// Stages name where a batch failed.
const (
	StageRaw       = "raw"
	StageNormalize = "normalize"
	StageConform   = "conform"
	StagePublish   = "publish"
	StageCurate    = "curate"
)

type Pipeline struct {
	log *slog.Logger
	cfg Config

	ready atomic.Bool
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Pipeline{log: cfg.Logger, cfg: cfg}, nil
}

// Ready reports whether a full run has completed.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// errorKind classifies an error for the ledger cause and alerts.
func errorKind(err error) string {
	var (
		unknown    *contract.UnknownDatasetError
		mismatch   *normalize.SchemaMismatchError
		integrity  *curate.ReferentialIntegrityError
		dependency *curate.DependencyNotReadyError
		order      *ledger.OutOfOrderBatchError
		conflict   *catalog.ConflictError
	)
	switch {
	case errors.As(err, &unknown):
		return "UnknownDataset"
	case errors.As(err, &mismatch):
		return "SchemaMismatch"
	case errors.As(err, &integrity):
		return "ReferentialIntegrityError"
	case errors.As(err, &dependency):
		return "DependencyNotReady"
	case errors.As(err, &order):
		return "OutOfOrderBatch"
	case errors.As(err, &conflict):
		return "CatalogConflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	}
	return "Internal"
}

func causeOf(stage string, err error) ledger.Cause {
	return ledger.Cause{
		Stage:     stage,
		Kind:      errorKind(err),
		Message:   err.Error(),
		Retryable: retry.IsRetryable(err),
	}
}

// fail moves the batch to Failed and raises an alert. Bookkeeping uses a context detached from
// cancellation so an interrupted batch is still recorded.
func (p *Pipeline) fail(ctx context.Context, dataset, token, stage string, err error) {
	ctx = context.WithoutCancel(ctx)
	cause := causeOf(stage, err)
	rec, ferr := p.cfg.Ledger.Fail(ctx, dataset, token, cause)
	if ferr != nil {
		p.log.Error("pipeline: failed to record batch failure", "dataset", dataset, "token", token, "error", ferr)
		return
	}
	a := alert.Alert{
		Dataset:   dataset,
		Token:     token,
		Stage:     cause.Stage,
		Kind:      cause.Kind,
		Message:   cause.Message,
		Retryable: cause.Retryable,
		At:        rec.UpdatedAt,
	}
	if nerr := p.cfg.Notifier.Notify(ctx, a); nerr != nil {
		p.log.Warn("pipeline: failed to send alert", "dataset", dataset, "token", token, "error", nerr)
	}
}

// publish registers a location in the catalog, retrying conflicts.
func (p *Pipeline) publish(ctx context.Context, req catalog.Request) (*catalog.Entry, error) {
	var entry *catalog.Entry
	err := retry.Do(ctx, p.cfg.PublishRetry, func() error {
		var err error
		entry, err = p.cfg.Catalog.Publish(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// discard removes a location written by a failed attempt unless the catalog already serves it.
func (p *Pipeline) discard(ctx context.Context, table, location string) {
	ctx = context.WithoutCancel(ctx)
	if cur, err := p.cfg.Catalog.Current(ctx, table); err == nil && cur.Location == location {
		return
	}
	if err := p.cfg.Store.DeletePrefix(ctx, location+"/"); err != nil {
		p.log.Warn("pipeline: failed to discard location", "table", table, "location", location, "error", err)
	}
}

func (p *Pipeline) currentLocation(ctx context.Context, table string) (string, bool, error) {
	cur, err := p.cfg.Catalog.Current(ctx, table)
	if errors.Is(err, catalog.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cur.Location, true, nil
}

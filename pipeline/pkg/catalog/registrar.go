package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/metrics"
)

const defaultPublishTimeout = 10 * time.Second

type RegistrarConfig struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Backend Backend
	// PublishTimeout bounds every backend call; a timeout fails the publish.
	PublishTimeout time.Duration
}

func (cfg *RegistrarConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Backend == nil {
		return errors.New("backend is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return nil
}

// Registrar is the only writer of catalog entries. Publishing is idempotent per table name.
type Registrar struct {
	log *slog.Logger
	cfg RegistrarConfig

	mu       sync.Mutex
	inflight map[string]bool
}

func NewRegistrar(cfg RegistrarConfig) (*Registrar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Registrar{
		log:      cfg.Logger,
		cfg:      cfg,
		inflight: make(map[string]bool),
	}, nil
}

func (r *Registrar) begin(table string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[table] {
		return &ConflictError{Table: table, Reason: "publish already in flight"}
	}
	r.inflight[table] = true
	return nil
}

func (r *Registrar) end(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, table)
}

// Publish points a table at a location. Republishing the same signature, location and partition
// spec returns the live entry unchanged. Any difference creates a new version and supersedes the
// previous one.
func (r *Registrar) Publish(ctx context.Context, req Request) (*Entry, error) {
	if req.Table == "" {
		return nil, errors.New("table is required")
	}
	if req.Location == "" {
		return nil, errors.New("location is required")
	}
	if err := r.begin(req.Table); err != nil {
		metrics.CatalogPublishTotal.WithLabelValues("conflict").Inc()
		return nil, err
	}
	defer r.end(req.Table)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()

	current, err := r.cfg.Backend.Current(ctx, req.Table)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.CatalogPublishTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to read catalog entry for %s: %w", req.Table, err)
	}
	if current != nil && current.Matches(req) {
		metrics.CatalogPublishTotal.WithLabelValues("unchanged").Inc()
		r.log.Debug("catalog: entry unchanged", "table", req.Table, "version", current.Version)
		return current, nil
	}

	next := &Entry{
		Table:         req.Table,
		Version:       1,
		Zone:          req.Zone,
		Signature:     contract.Signature(req.Fields),
		Fields:        slices.Clone(req.Fields),
		Location:      req.Location,
		PartitionSpec: slices.Clone(normalizeSpec(req.PartitionSpec)),
		PublishedAt:   r.cfg.Clock.Now().UTC(),
	}
	if current != nil {
		next.Version = current.Version + 1
	}
	if err := r.cfg.Backend.Commit(ctx, next); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			metrics.CatalogPublishTotal.WithLabelValues("conflict").Inc()
			return nil, err
		}
		metrics.CatalogPublishTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to publish %s: %w", req.Table, err)
	}

	metrics.CatalogPublishTotal.WithLabelValues("published").Inc()
	r.log.Info("catalog: published", "table", req.Table, "version", next.Version, "location", next.Location, "signature", next.Signature[:12])
	return next, nil
}

func (r *Registrar) Current(ctx context.Context, table string) (*Entry, error) {
	return r.cfg.Backend.Current(ctx, table)
}

func (r *Registrar) Versions(ctx context.Context, table string) ([]*Entry, error) {
	return r.cfg.Backend.Versions(ctx, table)
}

func (r *Registrar) List(ctx context.Context) ([]*Entry, error) {
	return r.cfg.Backend.List(ctx)
}

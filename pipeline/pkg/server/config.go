package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/catalog"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/ledger"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Catalog interface {
	List(ctx context.Context) ([]*catalog.Entry, error)
	Current(ctx context.Context, table string) (*catalog.Entry, error)
	Versions(ctx context.Context, table string) ([]*catalog.Entry, error)
}

type Ledger interface {
	List(ctx context.Context, dataset string) ([]*ledger.Record, error)
}

type Lineage interface {
	Sources(ctx context.Context, table string) ([]string, error)
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo
	// AllowedOrigins enables CORS for the listed browser origins.
	AllowedOrigins []string

	Catalog Catalog
	Ledger  Ledger
	// Lineage is optional; without it the lineage route is not mounted.
	Lineage Lineage
	// Ready reports whether the pipeline has completed its first run.
	Ready func() bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Catalog == nil {
		return errors.New("catalog is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Ready == nil {
		cfg.Ready = func() bool { return true }
	}
	return nil
}

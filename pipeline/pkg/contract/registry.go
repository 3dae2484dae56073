package contract

import (
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MigrationMarker records an explicit switch of the active contract version.
type MigrationMarker struct {
	Dataset     string
	FromVersion int
	ToVersion   int
	Reason      string
	At          time.Time
}

type registerOptions struct {
	migration *string
}

type RegisterOption func(*registerOptions)

// WithMigration permits registering a changed contract for a dataset that already has one.
func WithMigration(reason string) RegisterOption {
	return func(o *registerOptions) {
		o.migration = &reason
	}
}

// Registry holds the append-only contract versions of every source dataset. The latest version of
// a dataset is its active version.
type Registry struct {
	clock clockwork.Clock

	mu         sync.RWMutex
	versions   map[string][]*Contract
	migrations map[string][]MigrationMarker
}

func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		clock:      clock,
		versions:   make(map[string][]*Contract),
		migrations: make(map[string][]MigrationMarker),
	}
}

// Register validates and publishes a contract. Re-registering a contract identical to the active
// version is a no-op that returns the active version.
func (r *Registry) Register(c Contract, opts ...RegisterOption) (*Contract, error) {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.versions[c.Dataset]
	if n := len(existing); n > 0 {
		active := existing[n-1]
		if active.SameShape(&c) {
			return active.clone(), nil
		}
		if o.migration == nil {
			return nil, &MigrationRequiredError{Dataset: c.Dataset, ActiveVersion: active.Version}
		}
		r.migrations[c.Dataset] = append(r.migrations[c.Dataset], MigrationMarker{
			Dataset:     c.Dataset,
			FromVersion: active.Version,
			ToVersion:   active.Version + 1,
			Reason:      *o.migration,
			At:          r.clock.Now().UTC(),
		})
	}

	published := c.clone()
	published.Version = len(existing) + 1
	published.PublishedAt = r.clock.Now().UTC()
	r.versions[c.Dataset] = append(existing, published)
	return published.clone(), nil
}

// MustRegister registers a contract and panics on error. Intended for static reference contracts.
func (r *Registry) MustRegister(c Contract, opts ...RegisterOption) *Contract {
	out, err := r.Register(c, opts...)
	if err != nil {
		panic(err)
	}
	return out
}

// Get returns the active (latest) contract of a dataset.
func (r *Registry) Get(dataset string) (*Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.versions[dataset]
	if len(versions) == 0 {
		return nil, &UnknownDatasetError{Dataset: dataset}
	}
	return versions[len(versions)-1].clone(), nil
}

// GetVersion returns a specific contract version, for replay and debugging.
func (r *Registry) GetVersion(dataset string, version int) (*Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.versions[dataset]
	if version < 1 || version > len(versions) {
		return nil, &UnknownDatasetError{Dataset: dataset, Version: version}
	}
	return versions[version-1].clone(), nil
}

// Datasets returns the registered dataset names, sorted.
func (r *Registry) Datasets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Migrations(dataset string) []MigrationMarker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.migrations[dataset])
}

// IsUnknownDataset reports whether err is (or wraps) an UnknownDatasetError.
func IsUnknownDataset(err error) bool {
	var u *UnknownDatasetError
	return errors.As(err, &u)
}

// Package lineage records which tables each curated table was derived from.
package lineage

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Derivation is one published curated table and the tables it was built from.
type Derivation struct {
	Table    string
	Version  int
	Location string
	Sources  []string
	At       time.Time
}

type Recorder interface {
	Record(ctx context.Context, d Derivation) error
	Sources(ctx context.Context, table string) ([]string, error)
}

// MemoryRecorder keeps the latest derivation of each table in memory.
type MemoryRecorder struct {
	mu      sync.RWMutex
	current map[string]Derivation
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{current: make(map[string]Derivation)}
}

func (r *MemoryRecorder) Record(ctx context.Context, d Derivation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.Sources = sortedUnique(d.Sources)
	r.current[d.Table] = d
	return nil
}

func (r *MemoryRecorder) Sources(ctx context.Context, table string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.current[table].Sources), nil
}

func sortedUnique(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return slices.Compact(out)
}

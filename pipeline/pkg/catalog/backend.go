package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Backend is the metadata catalog service the registrar publishes to.
type Backend interface {
	// Current returns the live entry of a table or ErrNotFound.
	Current(ctx context.Context, table string) (*Entry, error)
	// Versions returns every entry of a table, oldest first.
	Versions(ctx context.Context, table string) ([]*Entry, error)
	// List returns the live entry of every table ordered by name.
	List(ctx context.Context) ([]*Entry, error)
	// Commit supersedes the live entry, which must be at version next.Version-1 (or absent for
	// version 1), and stores next as live. A mismatch is a *ConflictError.
	Commit(ctx context.Context, next *Entry) error
}

// MemoryBackend keeps the catalog in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]*Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]*Entry)}
}

func (b *MemoryBackend) Current(_ context.Context, table string) (*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	versions := b.entries[table]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return versions[len(versions)-1].clone(), nil
}

func (b *MemoryBackend) Versions(_ context.Context, table string) ([]*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Entry, 0, len(b.entries[table]))
	for _, e := range b.entries[table] {
		out = append(out, e.clone())
	}
	return out, nil
}

func (b *MemoryBackend) List(_ context.Context) ([]*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Entry, 0, len(b.entries))
	for _, versions := range b.entries {
		out = append(out, versions[len(versions)-1].clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out, nil
}

func (b *MemoryBackend) Commit(ctx context.Context, next *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	versions := b.entries[next.Table]
	if len(versions)+1 != next.Version {
		return &ConflictError{Table: next.Table, Reason: fmt.Sprintf("expected version %d, catalog is at %d", next.Version-1, len(versions))}
	}
	if len(versions) > 0 {
		at := next.PublishedAt
		versions[len(versions)-1].SupersededAt = &at
	}
	b.entries[next.Table] = append(versions, next.clone())
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Locker grants session-level advisory locks keyed by name. Each held lock pins one pooled
// connection until it is released.
type Locker struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewLocker(log *slog.Logger, pool *pgxpool.Pool) *Locker {
	return &Locker{log: log, pool: pool}
}

// Lock blocks until the lock is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, name string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, name); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to lock %s: %w", name, err)
	}
	l.log.Debug("postgres: advisory lock held", "name", name)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, name); err != nil {
			l.log.Warn("postgres: failed to release advisory lock", "name", name, "error", err)
			// The session may still hold the lock; drop the connection rather than return it.
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}

package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	laketesting "github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, store Store) (*Ledger, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	l, err := New(Config{Logger: laketesting.NewLogger(), Clock: clock, Store: store})
	require.NoError(t, err)
	return l, clock
}

// uniqueDataset keeps tests independent on the shared database.
func uniqueDataset(name string) string {
	return fmt.Sprintf("%s_%s", name, uuid.NewString()[:8])
}

func TestLake_Ledger_Config(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Store: NewMemoryStore()})
	require.EqualError(t, err, "failed to validate config: logger is required")
	_, err = New(Config{Logger: laketesting.NewLogger()})
	require.EqualError(t, err, "failed to validate config: store is required")
}

func TestLake_Ledger_RegisterBatch(t *testing.T) {
	t.Parallel()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()

			t.Run("idempotent by token", func(t *testing.T) {
				t.Parallel()
				l, _ := newTestLedger(t, store)
				ds := uniqueDataset("orders")

				first, err := l.RegisterBatch(ctx, ds, "orders.csv:10:abc", 1)
				require.NoError(t, err)
				require.Equal(t, StateIngested, first.State)
				require.Equal(t, 1, first.Attempts)
				require.NotEmpty(t, first.OpID)

				again, err := l.RegisterBatch(ctx, ds, "orders.csv:10:abc", 1)
				require.NoError(t, err)
				require.Equal(t, first.OpID, again.OpID)

				records, err := l.List(ctx, ds)
				require.NoError(t, err)
				require.Len(t, records, 1)
			})

			t.Run("refuses successor while predecessor in flight", func(t *testing.T) {
				t.Parallel()
				l, _ := newTestLedger(t, store)
				ds := uniqueDataset("orders")

				_, err := l.RegisterBatch(ctx, ds, "b1", 1)
				require.NoError(t, err)
				_, err = l.RegisterBatch(ctx, ds, "b2", 2)
				var ooo *OutOfOrderBatchError
				require.True(t, errors.As(err, &ooo))
				require.Equal(t, "b1", ooo.BlockingToken)
				require.Equal(t, StateIngested, ooo.BlockingState)

				_, err = l.Advance(ctx, ds, "b1", StatePublished)
				require.NoError(t, err)
				_, err = l.RegisterBatch(ctx, ds, "b2", 2)
				require.NoError(t, err)
			})

			t.Run("refuses stale sequence", func(t *testing.T) {
				t.Parallel()
				l, _ := newTestLedger(t, store)
				ds := uniqueDataset("orders")

				_, err := l.RegisterBatch(ctx, ds, "b2", 2)
				require.NoError(t, err)
				_, err = l.Fail(ctx, ds, "b2", Cause{Stage: "normalize", Message: "boom"})
				require.NoError(t, err)

				_, err = l.RegisterBatch(ctx, ds, "b1", 1)
				var ooo *OutOfOrderBatchError
				require.True(t, errors.As(err, &ooo))
				require.Equal(t, int64(2), ooo.MaxSequence)
			})

			t.Run("datasets are independent", func(t *testing.T) {
				t.Parallel()
				l, _ := newTestLedger(t, store)
				a, b := uniqueDataset("orders"), uniqueDataset("customers")
				_, err := l.RegisterBatch(ctx, a, "t", 1)
				require.NoError(t, err)
				_, err = l.RegisterBatch(ctx, b, "t", 1)
				require.NoError(t, err)
			})
		})
	}
}

func TestLake_Ledger_Transitions(t *testing.T) {
	t.Parallel()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()

			t.Run("forward only", func(t *testing.T) {
				t.Parallel()
				l, clock := newTestLedger(t, store)
				ds := uniqueDataset("orders")
				_, err := l.RegisterBatch(ctx, ds, "b1", 1)
				require.NoError(t, err)

				clock.Advance(time.Minute)
				rec, err := l.Advance(ctx, ds, "b1", StateConformed)
				require.NoError(t, err)
				require.Equal(t, StateConformed, rec.State)
				require.Equal(t, time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC), rec.UpdatedAt)

				rec, err = l.Advance(ctx, ds, "b1", StateConformed)
				require.NoError(t, err)
				require.Equal(t, StateConformed, rec.State)

				_, err = l.Advance(ctx, ds, "b1", StateValidated)
				var invalid *InvalidTransitionError
				require.True(t, errors.As(err, &invalid))

				_, err = l.Advance(ctx, ds, "b1", StateFailed)
				require.True(t, errors.As(err, &invalid))
			})

			t.Run("fail and retry", func(t *testing.T) {
				t.Parallel()
				l, _ := newTestLedger(t, store)
				ds := uniqueDataset("orders")
				first, err := l.RegisterBatch(ctx, ds, "b1", 1)
				require.NoError(t, err)
				_, err = l.Advance(ctx, ds, "b1", StateValidated)
				require.NoError(t, err)

				cause := Cause{Stage: "conform", Kind: "timeout", Message: "context deadline exceeded", Retryable: true}
				rec, err := l.Fail(ctx, ds, "b1", cause)
				require.NoError(t, err)
				require.Equal(t, StateFailed, rec.State)
				require.Equal(t, StateValidated, rec.PriorState)

				got, err := l.Get(ctx, ds, "b1")
				require.NoError(t, err)
				require.Equal(t, &cause, got.Cause)
				require.Equal(t, "b1", got.Token)

				_, err = l.Advance(ctx, ds, "b1", StateConformed)
				var invalid *InvalidTransitionError
				require.True(t, errors.As(err, &invalid))

				rec, err = l.Retry(ctx, ds, "b1")
				require.NoError(t, err)
				require.Equal(t, StateValidated, rec.State)
				require.Equal(t, 2, rec.Attempts)
				require.Nil(t, rec.Cause)
				require.NotEqual(t, first.OpID, rec.OpID)

				_, err = l.Retry(ctx, ds, "b1")
				require.True(t, errors.As(err, &invalid))
			})

			t.Run("published is terminal", func(t *testing.T) {
				t.Parallel()
				l, _ := newTestLedger(t, store)
				ds := uniqueDataset("orders")
				_, err := l.RegisterBatch(ctx, ds, "b1", 1)
				require.NoError(t, err)

				processed, err := l.IsProcessed(ctx, ds, "b1")
				require.NoError(t, err)
				require.False(t, processed)

				_, err = l.Advance(ctx, ds, "b1", StatePublished)
				require.NoError(t, err)
				processed, err = l.IsProcessed(ctx, ds, "b1")
				require.NoError(t, err)
				require.True(t, processed)

				_, err = l.Fail(ctx, ds, "b1", Cause{Message: "late"})
				var invalid *InvalidTransitionError
				require.True(t, errors.As(err, &invalid))
			})

			t.Run("annotate", func(t *testing.T) {
				t.Parallel()
				l, _ := newTestLedger(t, store)
				ds := uniqueDataset("orders")
				_, err := l.RegisterBatch(ctx, ds, "b1", 1)
				require.NoError(t, err)
				_, err = l.Annotate(ctx, ds, "b1", map[string]int64{"accepted": 3}, "")
				require.NoError(t, err)
				rec, err := l.Annotate(ctx, ds, "b1", map[string]int64{"rejected": 1}, "cleaned/orders/snapshot=x")
				require.NoError(t, err)
				require.Equal(t, map[string]int64{"accepted": 3, "rejected": 1}, rec.Stats)

				got, err := l.Get(ctx, ds, "b1")
				require.NoError(t, err)
				require.Equal(t, "cleaned/orders/snapshot=x", got.CleanedLocation)
				require.Equal(t, rec.Stats, got.Stats)
			})

			t.Run("unknown batch", func(t *testing.T) {
				t.Parallel()
				l, _ := newTestLedger(t, store)
				_, err := l.Advance(ctx, uniqueDataset("orders"), "missing", StateValidated)
				require.ErrorIs(t, err, ErrNotFound)
				processed, err := l.IsProcessed(ctx, uniqueDataset("orders"), "missing")
				require.NoError(t, err)
				require.False(t, processed)
			})
		})
	}
}

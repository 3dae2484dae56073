package conform

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
	"github.com/stretchr/testify/require"
)

var (
	t1 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
)

func ordersContract(eventTime string) *contract.Contract {
	return &contract.Contract{
		Dataset: "orders",
		Fields: []contract.Field{
			{Name: "order_id", Type: contract.TypeString},
			{Name: "customer_id", Type: contract.TypeString},
			{Name: "order_purchase_timestamp", Type: contract.TypeTimestamp, Nullable: true},
		},
		Key:            []string{"order_id"},
		EventTimeField: eventTime,
	}
}

func row(ord int64, id string, ts any) dataset.Row {
	return dataset.Row{Ordinal: ord, Values: []any{id, "C1", ts}}
}

func TestLake_Conform_LatestEventTimeWins(t *testing.T) {
	t.Parallel()

	// T2 arrives first in batch order but is more recent, so it survives.
	rows := []dataset.Row{row(0, "O1", t2), row(1, "O1", t1)}
	res, err := Conform(rows, ordersContract("order_purchase_timestamp"))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, t2, res.Rows[0].Values[2])
	require.Equal(t, []Discard{{Key: "O1", Ordinal: 1, SupersededBy: 0, Reason: ReasonSupersededByKey}}, res.Audit.Discards)
}

func TestLake_Conform_TieBreak(t *testing.T) {
	t.Parallel()

	t.Run("encounter order without event time", func(t *testing.T) {
		t.Parallel()
		res, err := Conform([]dataset.Row{row(0, "O1", t2), row(1, "O1", t1)}, ordersContract(""))
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		require.Equal(t, int64(1), res.Rows[0].Ordinal)
	})

	t.Run("encounter order on equal event time", func(t *testing.T) {
		t.Parallel()
		res, err := Conform([]dataset.Row{row(0, "O1", t1), row(5, "O1", t1), row(3, "O1", t1)}, ordersContract("order_purchase_timestamp"))
		require.NoError(t, err)
		require.Equal(t, int64(5), res.Rows[0].Ordinal)
		require.Len(t, res.Audit.Discards, 2)
		require.Equal(t, int64(0), res.Audit.Discards[0].Ordinal)
		require.Equal(t, int64(3), res.Audit.Discards[1].Ordinal)
	})

	t.Run("null event time is oldest", func(t *testing.T) {
		t.Parallel()
		res, err := Conform([]dataset.Row{row(0, "O1", t1), row(1, "O1", nil)}, ordersContract("order_purchase_timestamp"))
		require.NoError(t, err)
		require.Equal(t, int64(0), res.Rows[0].Ordinal)
	})

	t.Run("duplicate ordinals are rejected", func(t *testing.T) {
		t.Parallel()
		_, err := Conform([]dataset.Row{row(0, "O1", t1), row(0, "O2", t1)}, ordersContract(""))
		require.Error(t, err)
	})
}

func TestLake_Conform_Properties(t *testing.T) {
	t.Parallel()

	c := ordersContract("order_purchase_timestamp")
	var rows []dataset.Row
	ids := []string{"O1", "O2", "O3", "O4", "O5"}
	for i := range 60 {
		ts := t1.Add(time.Duration(i%7) * time.Minute)
		rows = append(rows, row(int64(i), ids[i%len(ids)], ts))
	}

	base, err := Conform(rows, c)
	require.NoError(t, err)

	t.Run("dedup uniqueness", func(t *testing.T) {
		seen := map[string]bool{}
		for _, r := range base.Rows {
			id := r.Values[0].(string)
			require.False(t, seen[id], id)
			seen[id] = true
		}
		require.Len(t, base.Rows, len(ids))
	})

	t.Run("audit completeness", func(t *testing.T) {
		require.Equal(t, len(rows), len(base.Rows)+len(base.Audit.Discards))
	})

	t.Run("order independence", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(1, 2))
		for range 20 {
			shuffled := append([]dataset.Row(nil), rows...)
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			res, err := Conform(shuffled, c)
			require.NoError(t, err)
			require.Equal(t, base, res)
		}
	})
}

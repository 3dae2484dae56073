package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func eventsContract() *contract.Contract {
	return &contract.Contract{
		Dataset: "events",
		Version: 1,
		Fields: []contract.Field{
			{Name: "event_id", Type: contract.TypeString},
			{Name: "event_type", Type: contract.TypeString, Enum: []string{"page_view", "purchase"}},
			{Name: "event_ts", Type: contract.TypeTimestamp},
			{Name: "price", Type: contract.TypeDecimal, Nullable: true},
			{Name: "qty", Type: contract.TypeInteger, Nullable: true},
			{Name: "is_authenticated", Type: contract.TypeBoolean, Nullable: true},
			{Name: "order_id", Type: contract.TypeString, Nullable: true},
			{Name: "event_date", Type: contract.TypeDate, DerivedFrom: "event_ts", Derive: contract.DeriveDate},
		},
		Key:             []string{"event_id"},
		EventTimeField:  "event_ts",
		PartitionColumn: "event_date",
	}
}

func TestLake_Normalize_Record(t *testing.T) {
	t.Parallel()
	c := eventsContract()

	t.Run("casts in contract order", func(t *testing.T) {
		t.Parallel()
		raw := dataset.RawRecord{
			"is_authenticated": "1",
			"event_ts":         "2024-03-01 23:15:00.25",
			"event_type":       "purchase",
			"event_id":         " E1 ",
			"price":            "19.90",
			"qty":              "3",
			"order_id":         "O1",
			"unknown_column":   "dropped",
		}
		row, warnings, err := Normalize(raw, 7, c)
		require.NoError(t, err)
		require.Empty(t, warnings)
		require.Equal(t, int64(7), row.Ordinal)
		require.Len(t, row.Values, len(c.Fields))
		require.Equal(t, "E1", row.Values[0])
		require.Equal(t, "purchase", row.Values[1])
		require.Equal(t, time.Date(2024, 3, 1, 23, 15, 0, 250_000_000, time.UTC), row.Values[2])
		require.True(t, decimal.RequireFromString("19.9").Equal(row.Values[3].(decimal.Decimal)))
		require.Equal(t, int64(3), row.Values[4])
		require.Equal(t, true, row.Values[5])
		require.Equal(t, "O1", row.Values[6])
		require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), row.Values[7])
	})

	t.Run("accepted timestamp layouts", func(t *testing.T) {
		t.Parallel()
		want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		for _, s := range []string{"2024-03-01 10:00:00", "2024-03-01T10:00:00", "2024-03-01T12:00:00+02:00", "2024-03-01 10:00:00Z"} {
			row, _, err := Normalize(dataset.RawRecord{"event_id": "E1", "event_type": "page_view", "event_ts": s}, 0, c)
			require.NoError(t, err, s)
			require.True(t, want.Equal(row.Values[2].(time.Time)), s)
		}
	})

	t.Run("empty nullable values are null", func(t *testing.T) {
		t.Parallel()
		row, warnings, err := Normalize(dataset.RawRecord{"event_id": "E1", "event_type": "page_view", "event_ts": "2024-03-01 10:00:00", "order_id": "  "}, 0, c)
		require.NoError(t, err)
		require.Empty(t, warnings)
		require.Nil(t, row.Values[3])
		require.Nil(t, row.Values[6])
	})

	t.Run("unparsable nullable becomes null with warning", func(t *testing.T) {
		t.Parallel()
		row, warnings, err := Normalize(dataset.RawRecord{"event_id": "E1", "event_type": "page_view", "event_ts": "2024-03-01 10:00:00", "qty": "three", "is_authenticated": "maybe"}, 4, c)
		require.NoError(t, err)
		require.Nil(t, row.Values[4])
		require.Nil(t, row.Values[5])
		require.Len(t, warnings, 2)
		require.Equal(t, "qty", warnings[0].Field)
		require.Equal(t, "three", warnings[0].Value)
		require.Equal(t, int64(4), warnings[0].Ordinal)
	})

	t.Run("unparsable required is a mismatch", func(t *testing.T) {
		t.Parallel()
		_, _, err := Normalize(dataset.RawRecord{"event_id": "E1", "event_type": "page_view", "event_ts": "yesterday"}, 3, c)
		var mismatch *SchemaMismatchError
		require.True(t, errors.As(err, &mismatch))
		require.Equal(t, "event_ts", mismatch.Field)
		require.Equal(t, "yesterday", mismatch.Value)
		require.Equal(t, int64(3), mismatch.Ordinal)
	})

	t.Run("missing required is a mismatch", func(t *testing.T) {
		t.Parallel()
		_, _, err := Normalize(dataset.RawRecord{"event_type": "page_view", "event_ts": "2024-03-01 10:00:00"}, 0, c)
		var mismatch *SchemaMismatchError
		require.True(t, errors.As(err, &mismatch))
		require.Equal(t, "event_id", mismatch.Field)
		require.Contains(t, mismatch.Reason, "missing")
	})

	t.Run("enum violation is a mismatch", func(t *testing.T) {
		t.Parallel()
		_, _, err := Normalize(dataset.RawRecord{"event_id": "E1", "event_type": "teleport", "event_ts": "2024-03-01 10:00:00"}, 0, c)
		var mismatch *SchemaMismatchError
		require.True(t, errors.As(err, &mismatch))
		require.Equal(t, "event_type", mismatch.Field)
	})
}

func TestLake_Normalize_Batch(t *testing.T) {
	t.Parallel()
	c := eventsContract()

	records := []dataset.RawRecord{
		{"event_id": "E1", "event_type": "page_view", "event_ts": "2024-03-01 10:00:00"},
		{"event_id": "E2", "event_type": "page_view", "event_ts": "bad"},
		{"event_id": "E3", "event_type": "purchase", "event_ts": "2024-03-01 11:00:00", "qty": "x"},
		{"event_id": "", "event_type": "purchase", "event_ts": "2024-03-01 11:00:00"},
	}
	tbl, report, err := NormalizeBatch(records, 100, c)
	require.NoError(t, err)
	require.Equal(t, dataset.ZoneCleaned, tbl.Zone)
	require.Equal(t, "events", tbl.Name)
	require.Equal(t, "event_date", tbl.PartitionColumn)
	require.Len(t, tbl.Rows, 2)
	require.Equal(t, int64(100), tbl.Rows[0].Ordinal)
	require.Equal(t, int64(102), tbl.Rows[1].Ordinal)

	require.Equal(t, 4, report.Input)
	require.Equal(t, 2, report.Accepted)
	require.Equal(t, 2, report.Rejected)
	require.Equal(t, 1, report.Warnings)
	require.Equal(t, report.Input, report.Accepted+report.Rejected)
	require.Len(t, report.Mismatches, 2)
	require.Equal(t, map[string]int{"event_ts": 1, "event_id": 1}, report.RejectedByField)
}

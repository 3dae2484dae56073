package dataset

import (
	"testing"
	"time"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testTable() *Table {
	return &Table{
		Zone: ZoneCleaned,
		Name: "orders",
		Fields: []contract.Field{
			{Name: "order_id", Type: contract.TypeString},
			{Name: "price", Type: contract.TypeDecimal, Nullable: true},
			{Name: "qty", Type: contract.TypeInteger, Nullable: true},
			{Name: "ts", Type: contract.TypeTimestamp},
			{Name: "day", Type: contract.TypeDate},
			{Name: "paid", Type: contract.TypeBoolean, Nullable: true},
		},
		Key:             []string{"order_id"},
		PartitionColumn: "day",
		Rows: []Row{
			{Ordinal: 0, Values: []any{"O1", decimal.RequireFromString("10.50"), int64(2), time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), true}},
			{Ordinal: 1, Values: []any{"O2", nil, nil, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), nil}},
			{Ordinal: 2, Values: []any{"O3", decimal.RequireFromString("1"), int64(-7), time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), false}},
		},
	}
}

func TestLake_Dataset_SurrogateKey(t *testing.T) {
	t.Parallel()

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		a := NewNaturalKey("O1", int64(3)).ToSurrogate()
		b := NewNaturalKey("O1", int64(3)).ToSurrogate()
		require.Equal(t, a, b)
		require.Len(t, string(a), 64)
	})

	t.Run("no separator collisions", func(t *testing.T) {
		t.Parallel()
		require.NotEqual(t, NewNaturalKey("a|b", "c").ToSurrogate(), NewNaturalKey("a", "b|c").ToSurrogate())
		require.NotEqual(t, NewNaturalKey("1").ToSurrogate(), NewNaturalKey(int64(1)).ToSurrogate())
		require.NotEqual(t, NewNaturalKey(nil).ToSurrogate(), NewNaturalKey("").ToSurrogate())
	})

	t.Run("decimal scale is ignored", func(t *testing.T) {
		t.Parallel()
		require.Equal(t,
			NewNaturalKey(decimal.RequireFromString("1.50")).ToSurrogate(),
			NewNaturalKey(decimal.RequireFromString("1.5")).ToSurrogate())
	})

	t.Run("string form", func(t *testing.T) {
		t.Parallel()
		k := KeyOf([]any{"O1", "x", "P9"}, []int{0, 2})
		require.Equal(t, "O1|P9", k.String())
		require.False(t, k.HasNull())
		require.True(t, NewNaturalKey("O1", nil).HasNull())
	})
}

func TestLake_Dataset_Compare(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, -1, Compare(nil, t1))
	require.Equal(t, 1, Compare(t1, nil))
	require.Equal(t, 0, Compare(nil, nil))
	require.Equal(t, -1, Compare(t1, t1.Add(time.Second)))
	require.Equal(t, 1, Compare(int64(5), int64(4)))
	require.Equal(t, 0, Compare(decimal.RequireFromString("2.0"), decimal.RequireFromString("2")))
}

func TestLake_Dataset_Encode(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		tbl := testTable()
		data, err := Encode(tbl)
		require.NoError(t, err)

		got, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, tbl.QualifiedName(), got.QualifiedName())
		require.Equal(t, tbl.Signature(), got.Signature())
		require.Equal(t, tbl.Key, got.Key)
		require.Equal(t, "day", got.PartitionColumn)
		require.Len(t, got.Rows, 3)
		require.Equal(t, "O1", got.Rows[0].Values[0])
		require.True(t, decimal.RequireFromString("10.5").Equal(got.Rows[0].Values[1].(decimal.Decimal)))
		require.Equal(t, int64(2), got.Rows[0].Values[2])
		require.True(t, tbl.Rows[0].Values[3].(time.Time).Equal(got.Rows[0].Values[3].(time.Time)))
		require.Nil(t, got.Rows[1].Values[1])
		require.Nil(t, got.Rows[1].Values[5])
		require.Equal(t, false, got.Rows[2].Values[5])
	})

	t.Run("byte identical for equal tables", func(t *testing.T) {
		t.Parallel()
		a, err := Encode(testTable())
		require.NoError(t, err)
		b, err := Encode(testTable())
		require.NoError(t, err)
		require.Equal(t, a, b)
	})

	t.Run("rejects mistyped values", func(t *testing.T) {
		t.Parallel()
		tbl := testTable()
		tbl.Rows[0].Values[2] = "two"
		_, err := Encode(tbl)
		require.ErrorContains(t, err, "expected int64")
	})

	t.Run("rejects short rows", func(t *testing.T) {
		t.Parallel()
		tbl := testTable()
		tbl.Rows[0].Values = tbl.Rows[0].Values[:2]
		_, err := Encode(tbl)
		require.Error(t, err)
	})
}

func TestLake_Dataset_Partition(t *testing.T) {
	t.Parallel()

	tbl := testTable()
	parts, err := Partition(tbl)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.Equal(t, "2024-01-01", parts[0].Value)
	require.Len(t, parts[0].Table.Rows, 1)
	require.Equal(t, "2024-01-02", parts[1].Value)
	require.Len(t, parts[1].Table.Rows, 2)

	t.Run("null partition", func(t *testing.T) {
		t.Parallel()
		tbl := testTable()
		tbl.Fields[4].Nullable = true
		tbl.Rows[1].Values[4] = nil
		parts, err := Partition(tbl)
		require.NoError(t, err)
		require.Equal(t, NullPartition, parts[len(parts)-1].Value)
	})

	t.Run("merge restores ordinal order", func(t *testing.T) {
		t.Parallel()
		tables := make([]*Table, len(parts))
		for i, p := range parts {
			tables[i] = p.Table
		}
		merged, err := Merge(tables)
		require.NoError(t, err)
		require.Len(t, merged.Rows, 3)
		for i, r := range merged.Rows {
			require.Equal(t, int64(i), r.Ordinal)
		}
	})

	t.Run("unpartitioned", func(t *testing.T) {
		t.Parallel()
		tbl := testTable()
		tbl.PartitionColumn = ""
		parts, err := Partition(tbl)
		require.NoError(t, err)
		require.Len(t, parts, 1)
		require.Empty(t, parts[0].Value)
	})
}

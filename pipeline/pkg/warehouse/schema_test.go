package warehouse

import (
	"testing"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
	"github.com/stretchr/testify/require"
)

func TestLake_Warehouse_ColumnType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		field contract.Field
		want  string
	}{
		{contract.Field{Name: "a", Type: contract.TypeString}, "String"},
		{contract.Field{Name: "a", Type: contract.TypeString, Nullable: true}, "Nullable(String)"},
		{contract.Field{Name: "a", Type: contract.TypeString, Enum: []string{"x"}}, "LowCardinality(String)"},
		{contract.Field{Name: "a", Type: contract.TypeString, Enum: []string{"x"}, Nullable: true}, "LowCardinality(Nullable(String))"},
		{contract.Field{Name: "a", Type: contract.TypeInteger}, "Int64"},
		{contract.Field{Name: "a", Type: contract.TypeDecimal, Nullable: true}, "Nullable(Decimal(38, 9))"},
		{contract.Field{Name: "a", Type: contract.TypeTimestamp}, "DateTime64(3, 'UTC')"},
		{contract.Field{Name: "a", Type: contract.TypeDate}, "Date32"},
		{contract.Field{Name: "a", Type: contract.TypeBoolean, Nullable: true}, "Nullable(Bool)"},
	}
	for _, tt := range tests {
		got, err := ColumnType(tt.field)
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}

	_, err := ColumnType(contract.Field{Name: "a", Type: "blob"})
	require.ErrorContains(t, err, "unsupported logical type")
}

func TestLake_Warehouse_CreateTableSQL(t *testing.T) {
	t.Parallel()

	t.Run("partitioned fact", func(t *testing.T) {
		t.Parallel()
		tbl := &dataset.Table{
			Zone: dataset.ZoneCurated,
			Name: "fact_orders",
			Fields: []contract.Field{
				{Name: "order_id", Type: contract.TypeString},
				{Name: "customer_id", Type: contract.TypeString},
				{Name: "order_purchase_date", Type: contract.TypeDate},
			},
			Key:             []string{"order_id"},
			PartitionColumn: "order_purchase_date",
		}
		ddl, err := CreateTableSQL("fact_orders", tbl)
		require.NoError(t, err)
		require.Equal(t, "CREATE TABLE `fact_orders`\n(\n"+
			"    `order_id` String,\n"+
			"    `customer_id` String,\n"+
			"    `order_purchase_date` Date32\n"+
			")\nENGINE = MergeTree\n"+
			"PARTITION BY toYYYYMM(`order_purchase_date`)\n"+
			"ORDER BY (`order_id`)", ddl)
	})

	t.Run("nullable key falls back to tuple", func(t *testing.T) {
		t.Parallel()
		tbl := &dataset.Table{
			Zone: dataset.ZoneCurated,
			Name: "t",
			Fields: []contract.Field{
				{Name: "a", Type: contract.TypeString},
				{Name: "b", Type: contract.TypeString, Nullable: true},
			},
			Key: []string{"a", "b"},
		}
		ddl, err := CreateTableSQL("t", tbl)
		require.NoError(t, err)
		require.Contains(t, ddl, "ORDER BY tuple()")
		require.NotContains(t, ddl, "PARTITION BY")
	})

	t.Run("unknown key", func(t *testing.T) {
		t.Parallel()
		tbl := &dataset.Table{Zone: dataset.ZoneCurated, Name: "t", Key: []string{"missing"}}
		_, err := CreateTableSQL("t", tbl)
		require.ErrorContains(t, err, "no key field")
	})
}

package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
	laketesting "github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func TestLake_Source_ReadCSV(t *testing.T) {
	t.Parallel()

	t.Run("maps header to values", func(t *testing.T) {
		t.Parallel()
		in := "\ufefforder_id, customer_id ,order_status\nO1,C1,delivered\n\"O2\",C2,\"shipped, late\"\nO3,C3\n"
		records, err := ReadCSV(strings.NewReader(in))
		require.NoError(t, err)
		require.Equal(t, []dataset.RawRecord{
			{"order_id": "O1", "customer_id": "C1", "order_status": "delivered"},
			{"order_id": "O2", "customer_id": "C2", "order_status": "shipped, late"},
			{"order_id": "O3", "customer_id": "C3"},
		}, records)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		records, err := ReadCSV(strings.NewReader(""))
		require.NoError(t, err)
		require.Empty(t, records)
	})

	t.Run("malformed quoting", func(t *testing.T) {
		t.Parallel()
		_, err := ReadCSV(strings.NewReader("a,b\n\"x,y\n"))
		require.Error(t, err)
	})
}

func TestLake_Source_Token(t *testing.T) {
	t.Parallel()

	a := Token("orders.csv", []byte("x"))
	require.True(t, strings.HasPrefix(a, "orders.csv:1:"))
	require.Equal(t, a, Token("orders.csv", []byte("x")))
	require.NotEqual(t, a, Token("orders.csv", []byte("y")))
}

func TestLake_Source_ScanDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	write("olist_orders_dataset.csv", "order_id\nO1\n")
	write("orders/002.csv", "order_id\nO3\n")
	write("orders/001.csv", "order_id\nO2\n")
	write("customers.csv", "customer_id\nC1\n")
	write("notes.txt", "ignored")
	write("unknown.csv", "x\n1\n")

	resolve := func(name string) (string, bool) {
		switch name {
		case "olist_orders_dataset", "orders":
			return "orders", true
		case "customers":
			return "customers", true
		}
		return "", false
	}
	batches, err := ScanDir(laketesting.NewLogger(), dir, resolve)
	require.NoError(t, err)
	require.Len(t, batches, 4)

	require.Equal(t, "customers", batches[0].Dataset)
	require.Equal(t, int64(1), batches[0].Sequence)

	require.Equal(t, "orders", batches[1].Dataset)
	require.Equal(t, int64(1), batches[1].Sequence)
	require.Equal(t, "O1", batches[1].Records[0]["order_id"])
	require.Equal(t, "O2", batches[2].Records[0]["order_id"])
	require.Equal(t, int64(3), batches[3].Sequence)
	require.True(t, strings.HasPrefix(batches[3].Token, "002.csv:"))
}

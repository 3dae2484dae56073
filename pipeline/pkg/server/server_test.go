package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/catalog"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/ledger"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/lineage"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/server"
	laketesting "github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv      *httptest.Server
	registry *catalog.Registrar
	ledger   *ledger.Ledger
	ready    atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := laketesting.NewLogger()
	ctx := t.Context()

	reg, err := catalog.NewRegistrar(catalog.RegistrarConfig{Logger: log, Backend: catalog.NewMemoryBackend()})
	require.NoError(t, err)
	led, err := ledger.New(ledger.Config{Logger: log, Store: ledger.NewMemoryStore()})
	require.NoError(t, err)
	lin := lineage.NewMemoryRecorder()

	fields := []contract.Field{{Name: "order_id", Type: contract.TypeString}}
	for _, loc := range []string{"cleaned/orders/snapshot=1", "cleaned/orders/snapshot=2"} {
		_, err = reg.Publish(ctx, catalog.Request{Table: "cleaned.orders", Zone: dataset.ZoneCleaned, Fields: fields, Location: loc})
		require.NoError(t, err)
	}
	_, err = led.RegisterBatch(ctx, "orders", "orders.csv:1:abc", 1)
	require.NoError(t, err)
	require.NoError(t, lin.Record(ctx, lineage.Derivation{Table: "curated.fact_orders", Sources: []string{"cleaned.orders"}}))

	f := &fixture{registry: reg, ledger: led}
	s, err := server.New(server.Config{
		Logger:         log,
		ListenAddr:     ":0",
		Catalog:        reg,
		Ledger:         led,
		Lineage:        lin,
		Ready:          func() bool { return f.ready.Load() },
		AllowedOrigins: []string{"http://localhost:3000"},
		VersionInfo:    server.VersionInfo{Version: "test"},
	})
	require.NoError(t, err)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestLake_Server_Health(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.get(t, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, f.get(t, "/readyz", nil))
	f.ready.Store(true)
	require.Equal(t, http.StatusOK, f.get(t, "/readyz", nil))
	require.Equal(t, http.StatusOK, f.get(t, "/metrics", nil))

	var version server.VersionInfo
	require.Equal(t, http.StatusOK, f.get(t, "/version", &version))
	require.Equal(t, "test", version.Version)
}

func TestLake_Server_Catalog(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	t.Run("list", func(t *testing.T) {
		var entries []map[string]any
		require.Equal(t, http.StatusOK, f.get(t, "/v1/catalog", &entries))
		require.Len(t, entries, 1)
		require.Equal(t, "cleaned.orders", entries[0]["table"])
		require.EqualValues(t, 2, entries[0]["version"])
		require.Len(t, entries[0]["fields"], 1)
	})

	t.Run("current", func(t *testing.T) {
		var entry map[string]any
		require.Equal(t, http.StatusOK, f.get(t, "/v1/catalog/cleaned.orders", &entry))
		require.Equal(t, "cleaned/orders/snapshot=2", entry["location"])
		require.NotContains(t, entry, "superseded_at")
	})

	t.Run("versions", func(t *testing.T) {
		var entries []map[string]any
		require.Equal(t, http.StatusOK, f.get(t, "/v1/catalog/cleaned.orders/versions", &entries))
		require.Len(t, entries, 2)
		require.Contains(t, entries[0], "superseded_at")
	})

	t.Run("missing", func(t *testing.T) {
		require.Equal(t, http.StatusNotFound, f.get(t, "/v1/catalog/cleaned.nope", nil))
		require.Equal(t, http.StatusNotFound, f.get(t, "/v1/catalog/cleaned.nope/versions", nil))
	})
}

func TestLake_Server_LedgerAndLineage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var records []map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/v1/ledger/orders", &records))
	require.Len(t, records, 1)
	require.Equal(t, "Ingested", records[0]["state"])
	require.Equal(t, http.StatusNotFound, f.get(t, "/v1/ledger/customers", nil))

	var lin map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/v1/lineage/curated.fact_orders", &lin))
	require.Equal(t, []any{"cleaned.orders"}, lin["sources"])
}

func TestLake_Server_CORS(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/catalog", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestLake_Server_Config(t *testing.T) {
	t.Parallel()

	_, err := server.New(server.Config{})
	require.EqualError(t, err, "failed to validate config: logger is required")
	_, err = server.New(server.Config{Logger: laketesting.NewLogger(), ListenAddr: ":0"})
	require.EqualError(t, err, "failed to validate config: catalog is required")
}

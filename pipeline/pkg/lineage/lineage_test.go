package lineage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/lineage"
	laketesting "github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/utils/pkg/testing"
	"github.com/stretchr/testify/require"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
)

const neo4jPassword = "password"

var boltURL string

func TestMain(m *testing.M) {
	log := laketesting.NewLogger()
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5", tcneo4j.WithAdminPassword(neo4jPassword))
	if err != nil {
		log.Error("failed to start Neo4j container", "error", err)
		os.Exit(1)
	}
	boltURL, err = container.BoltUrl(ctx)
	if err != nil {
		log.Error("failed to get Neo4j bolt url", "error", err)
		os.Exit(1)
	}
	code := m.Run()
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := container.Terminate(terminateCtx); err != nil {
		log.Error("failed to terminate Neo4j container", "error", err)
	}
	cancel()
	os.Exit(code)
}

func recorders(t *testing.T) map[string]lineage.Recorder {
	r, err := lineage.NewNeo4jRecorder(t.Context(), laketesting.NewLogger(), lineage.Neo4jConfig{
		URI:      boltURL,
		Password: neo4jPassword,
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(context.Background()) })
	return map[string]lineage.Recorder{
		"memory": lineage.NewMemoryRecorder(),
		"neo4j":  r,
	}
}

func TestLake_Lineage_Record(t *testing.T) {
	t.Parallel()

	for name, r := range recorders(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			table := "curated.fact_" + uuid.NewString()[:8]

			err := r.Record(ctx, lineage.Derivation{
				Table:    table,
				Version:  1,
				Location: "curated/x/snapshot=1",
				Sources:  []string{"cleaned.orders", "curated.dim_customer", "cleaned.orders"},
				At:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			})
			require.NoError(t, err)
			got, err := r.Sources(ctx, table)
			require.NoError(t, err)
			require.Equal(t, []string{"cleaned.orders", "curated.dim_customer"}, got)

			// A later derivation replaces the edges.
			err = r.Record(ctx, lineage.Derivation{
				Table:   table,
				Version: 2,
				Sources: []string{"cleaned.orders"},
				At:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			})
			require.NoError(t, err)
			got, err = r.Sources(ctx, table)
			require.NoError(t, err)
			require.Equal(t, []string{"cleaned.orders"}, got)

			got, err = r.Sources(ctx, "curated.missing_"+uuid.NewString()[:8])
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestLake_Lineage_Neo4jConfig(t *testing.T) {
	t.Parallel()

	cfg := lineage.Neo4jConfig{}
	require.EqualError(t, cfg.Validate(), "NEO4J_URI is required")

	cfg = lineage.Neo4jConfig{URI: "bolt://localhost:7687"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, lineage.DefaultDatabase, cfg.Database)
	require.Equal(t, "neo4j", cfg.Username)
}

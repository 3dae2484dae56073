package lineage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const DefaultDatabase = "neo4j"

type Neo4jConfig struct {
	URI      string
	Database string
	Username string
	Password string
}

// Neo4jConfigFromEnv reads NEO4J_* variables. An empty URI disables lineage recording.
func Neo4jConfigFromEnv() Neo4jConfig {
	return Neo4jConfig{
		URI:      os.Getenv("NEO4J_URI"),
		Database: os.Getenv("NEO4J_DATABASE"),
		Username: os.Getenv("NEO4J_USERNAME"),
		Password: os.Getenv("NEO4J_PASSWORD"),
	}
}

func (cfg *Neo4jConfig) Validate() error {
	if cfg.URI == "" {
		return errors.New("NEO4J_URI is required")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Username == "" {
		cfg.Username = "neo4j"
	}
	return nil
}

// Neo4jRecorder stores derivations as (:Table)-[:DERIVED_FROM]->(:Table) edges.
type Neo4jRecorder struct {
	log    *slog.Logger
	driver neo4j.DriverWithContext
	db     string
}

func NewNeo4jRecorder(ctx context.Context, log *slog.Logger, cfg Neo4jConfig) (*Neo4jRecorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	log.Info("lineage: neo4j connected", "uri", cfg.URI, "database", cfg.Database)

	r := &Neo4jRecorder{log: log, driver: driver, db: cfg.Database}
	if err := r.ensureSchema(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return r, nil
}

func (r *Neo4jRecorder) ensureSchema(ctx context.Context) error {
	_, err := neo4j.ExecuteQuery(ctx, r.driver,
		"CREATE CONSTRAINT lakeflow_table_name IF NOT EXISTS FOR (t:Table) REQUIRE t.name IS UNIQUE",
		nil, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(r.db))
	if err != nil {
		return fmt.Errorf("failed to create table constraint: %w", err)
	}
	return nil
}

func (r *Neo4jRecorder) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// Record replaces the outgoing DERIVED_FROM edges of d.Table with d.Sources.
func (r *Neo4jRecorder) Record(ctx context.Context, d Derivation) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.db, AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	sources := sortedUnique(d.Sources)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MERGE (t:Table {name: $table})
			SET t.version = $version, t.location = $location, t.updated_at = $at
			WITH t
			OPTIONAL MATCH (t)-[old:DERIVED_FROM]->(s:Table)
			WHERE NOT s.name IN $sources
			DELETE old`,
			map[string]any{
				"table":    d.Table,
				"version":  int64(d.Version),
				"location": d.Location,
				"at":       d.At.UTC(),
				"sources":  sources,
			})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		res, err = tx.Run(ctx, `
			MATCH (t:Table {name: $table})
			UNWIND $sources AS source
			MERGE (s:Table {name: source})
			MERGE (t)-[:DERIVED_FROM]->(s)`,
			map[string]any{"table": d.Table, "sources": sources})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to record lineage of %s: %w", d.Table, err)
	}
	r.log.Debug("lineage: recorded", "table", d.Table, "sources", sources)
	return nil
}

func (r *Neo4jRecorder) Sources(ctx context.Context, table string) ([]string, error) {
	res, err := neo4j.ExecuteQuery(ctx, r.driver,
		"MATCH (:Table {name: $table})-[:DERIVED_FROM]->(s:Table) RETURN s.name AS name ORDER BY name",
		map[string]any{"table": table},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.db),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query lineage of %s: %w", table, err)
	}
	out := make([]string, 0, len(res.Records))
	for _, rec := range res.Records {
		name, _, err := neo4j.GetRecordValue[string](rec, "name")
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

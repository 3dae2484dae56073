package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/alert"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/catalog"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/clickhouse"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/curate"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/ledger"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/lineage"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/metrics"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/olist"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/pipeline"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/postgres"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/server"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/source"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/storage"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/warehouse"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/utils/pkg/logger"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr = ":8080"

	storageFile   = "file"
	storageS3     = "s3"
	storageMemory = "memory"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", "text", "log format: text or json (or set LOG_FORMAT env var)")

	// Input
	inputDirFlag := flag.String("input-dir", "data", "directory of source CSV files (or set LAKE_INPUT_DIR env var)")

	// Storage
	storageFlag := flag.String("storage", storageFile, "object storage backend: file, s3 or memory (or set LAKE_STORAGE env var)")
	lakeRootFlag := flag.String("lake-root", "lake", "root directory of the file storage backend (or set LAKE_ROOT env var)")
	s3BucketFlag := flag.String("s3-bucket", "", "S3 bucket (or set LAKE_S3_BUCKET env var)")
	s3PrefixFlag := flag.String("s3-prefix", "", "S3 key prefix (or set LAKE_S3_PREFIX env var)")
	s3RegionFlag := flag.String("s3-region", "", "S3 region (or set AWS_REGION env var)")
	s3EndpointFlag := flag.String("s3-endpoint", "", "S3 endpoint override, e.g. for MinIO (or set LAKE_S3_ENDPOINT env var)")
	s3RPSFlag := flag.Float64("s3-requests-per-second", 0, "pace S3 requests; 0 disables pacing")

	// Bookkeeping
	postgresFlag := flag.Bool("postgres", false, "keep the ledger, catalog and locks in PostgreSQL, configured by POSTGRES_* env vars")
	postgresMigrateFlag := flag.Bool("postgres-migrate", true, "apply PostgreSQL migrations on startup")

	// Curation
	maxRejectRateFlag := flag.Float64("max-reject-rate", 0, "fail a fact when this fraction of its rows is rejected by strict foreign keys; 0 disables")
	fkPolicyFlag := flag.StringSlice("fk-policy", nil, "foreign key policy override as <fact>.<field>=strict|tag-unknown (repeatable)")
	maxConcurrencyFlag := flag.Int("max-concurrency", 4, "datasets ingested and tables curated in parallel")

	// Read API
	serveFlag := flag.Bool("serve", false, "keep serving the read API after the run until interrupted")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "read API listen address (or set LAKE_LISTEN_ADDR env var)")
	allowedOriginsFlag := flag.StringSlice("allowed-origins", nil, "browser origins allowed by CORS (or set LAKE_ALLOWED_ORIGINS env var)")

	// Alerting
	slackWebhookFlag := flag.String("slack-webhook-url", "", "Slack incoming webhook for batch failure alerts (or set SLACK_WEBHOOK_URL env var)")
	slackChannelFlag := flag.String("slack-channel", "", "Slack channel override for alerts (or set SLACK_CHANNEL env var)")
	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN for batch failure alerts (or set SENTRY_DSN env var)")

	flag.Parse()

	// Override flags with environment variables if set
	overrideString(inputDirFlag, "LAKE_INPUT_DIR")
	overrideString(storageFlag, "LAKE_STORAGE")
	overrideString(lakeRootFlag, "LAKE_ROOT")
	overrideString(s3BucketFlag, "LAKE_S3_BUCKET")
	overrideString(s3PrefixFlag, "LAKE_S3_PREFIX")
	overrideString(s3RegionFlag, "AWS_REGION")
	overrideString(s3EndpointFlag, "LAKE_S3_ENDPOINT")
	overrideString(listenAddrFlag, "LAKE_LISTEN_ADDR")
	overrideString(slackWebhookFlag, "SLACK_WEBHOOK_URL")
	overrideString(slackChannelFlag, "SLACK_CHANNEL")
	overrideString(sentryDSNFlag, "SENTRY_DSN")
	overrideString(logFormatFlag, "LOG_FORMAT")
	if v := os.Getenv("LAKE_ALLOWED_ORIGINS"); v != "" {
		*allowedOriginsFlag = strings.Split(v, ",")
	}
	if os.Getenv("LAKE_POSTGRES") == "true" {
		*postgresFlag = true
	}

	format, err := logger.ParseFormat(*logFormatFlag)
	if err != nil {
		return err
	}
	log := logger.NewWithOptions(logger.Options{Verbose: *verboseFlag, Format: format})
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Alerting
	notifiers := alert.Multi{alert.LogNotifier{Logger: log}}
	if *slackWebhookFlag != "" {
		n, err := alert.NewSlackNotifier(log, *slackWebhookFlag, *slackChannelFlag)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, n)
	}
	if *sentryDSNFlag != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: *sentryDSNFlag, Release: version}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		notifiers = append(notifiers, alert.NewSentryNotifier(sentry.CurrentHub()))
	}

	store, err := newStore(ctx, log, *storageFlag, storage.S3Config{
		Logger:            log,
		Bucket:            *s3BucketFlag,
		Prefix:            *s3PrefixFlag,
		Region:            *s3RegionFlag,
		Endpoint:          *s3EndpointFlag,
		RequestsPerSecond: *s3RPSFlag,
	}, *lakeRootFlag)
	if err != nil {
		return err
	}

	// Ledger, catalog and locks
	ledgerStore := ledger.Store(ledger.NewMemoryStore())
	catalogBackend := catalog.Backend(catalog.NewMemoryBackend())
	var locker curate.Locker
	if *postgresFlag {
		pgCfg := postgres.ConfigFromEnv()
		if err := pgCfg.Validate(); err != nil {
			return err
		}
		if *postgresMigrateFlag {
			if err := postgres.Migrate(ctx, log, pgCfg.ConnString()); err != nil {
				return err
			}
		}
		pool, err := postgres.NewPool(ctx, log, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		ledgerStore = ledger.NewPostgresStore(pool)
		catalogBackend = catalog.NewPostgresBackend(pool)
		locker = postgres.NewLocker(log, pool)
	}
	if msg := bookkeepingWarning(*storageFlag, *postgresFlag); msg != "" {
		log.Warn(msg, "storage", *storageFlag)
	}

	l, err := ledger.New(ledger.Config{Logger: log, Store: ledgerStore})
	if err != nil {
		return err
	}
	registrar, err := catalog.NewRegistrar(catalog.RegistrarConfig{Logger: log, Backend: catalogBackend})
	if err != nil {
		return err
	}

	// Warehouse
	var wh pipeline.Warehouse
	if chCfg := clickhouse.ConfigFromEnv(); chCfg.Addr != "" {
		if err := clickhouse.Migrate(ctx, log, chCfg); err != nil {
			return err
		}
		client, err := clickhouse.NewClient(ctx, log, chCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		loader, err := warehouse.NewLoader(warehouse.LoaderConfig{Logger: log, Client: client})
		if err != nil {
			return err
		}
		wh = loader
	}

	// Lineage
	var recorder lineage.Recorder = lineage.NewMemoryRecorder()
	if neoCfg := lineage.Neo4jConfigFromEnv(); neoCfg.URI != "" {
		neo, err := lineage.NewNeo4jRecorder(ctx, log, neoCfg)
		if err != nil {
			return err
		}
		defer neo.Close(context.WithoutCancel(ctx))
		recorder = neo
	}

	contracts := contract.NewRegistry(nil)
	if err := olist.Register(contracts); err != nil {
		return err
	}
	policies, err := olist.ParsePolicies(*fkPolicyFlag)
	if err != nil {
		return err
	}
	plan, err := olist.Plan(olist.PlanOptions{MaxRejectRate: *maxRejectRateFlag, Policies: policies})
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Config{
		Logger:         log,
		Contracts:      contracts,
		Plan:           plan,
		Ledger:         l,
		Catalog:        registrar,
		Store:          store,
		Locker:         locker,
		Warehouse:      wh,
		Lineage:        recorder,
		Notifier:       notifiers,
		MaxConcurrency: *maxConcurrencyFlag,
	})
	if err != nil {
		return err
	}

	var srv *server.Server
	serveErr := make(chan error, 1)
	if *serveFlag {
		srv, err = server.New(server.Config{
			Logger:         log,
			ListenAddr:     *listenAddrFlag,
			VersionInfo:    server.VersionInfo{Version: version, Commit: commit, Date: date},
			AllowedOrigins: *allowedOriginsFlag,
			Catalog:        registrar,
			Ledger:         l,
			Lineage:        recorder,
			Ready:          p.Ready,
		})
		if err != nil {
			return err
		}
		go func() {
			serveErr <- srv.Run(ctx)
		}()
	}

	batches, err := source.ScanDir(log, *inputDirFlag, olist.ResolveFile)
	if err != nil {
		return err
	}
	log.Info("lakeflow: starting run", "batches", len(batches), "input_dir", *inputDirFlag, "storage", *storageFlag)

	res, err := p.Run(ctx, batches)
	if err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	failed := res.Failed()
	log.Info("lakeflow: run complete", "batches", len(res.Batches), "failed", failed)

	if srv != nil {
		if err := <-serveErr; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d batches failed", failed)
	}
	return nil
}

func overrideString(value *string, env string) {
	if v := os.Getenv(env); v != "" {
		*value = v
	}
}

// bookkeepingWarning describes the mismatch of a persistent object store with the in-memory ledger
// and catalog: the snapshots survive the process but their history does not, so the next run
// reprocesses every batch.
func bookkeepingWarning(kind string, persistent bool) string {
	if persistent || kind == storageMemory {
		return ""
	}
	return "lakeflow: ledger and catalog are in memory while snapshots persist; every batch will be reprocessed on the next run (use --postgres)"
}

func newStore(ctx context.Context, log *slog.Logger, kind string, s3Cfg storage.S3Config, root string) (storage.ObjectStore, error) {
	switch kind {
	case storageFile:
		log.Info("lakeflow: using file storage", "root", root)
		return storage.NewFileStore(root)
	case storageS3:
		return storage.NewS3Store(ctx, s3Cfg)
	case storageMemory:
		log.Warn("lakeflow: using memory storage, nothing will persist")
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", kind)
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"energy-monitor/internal/alerting/notify"
	apihttp "energy-monitor/internal/api/http"
	"energy-monitor/internal/audit"
	"energy-monitor/internal/auth"
	"energy-monitor/internal/eventing"
	"energy-monitor/internal/eventing/eventbus"
	eventingrepo "energy-monitor/internal/eventing/infrastructure/postgres"
	"energy-monitor/internal/monitoring/application"
	"energy-monitor/internal/monitoring/application/events"
	monitoring "energy-monitor/internal/monitoring/domain"
	monitoringrepo "energy-monitor/internal/monitoring/infrastructure/postgres"
	"energy-monitor/internal/monitoring/interfaces"
	"energy-monitor/internal/observability/metrics"
	"energy-monitor/internal/routing"
	"energy-monitor/internal/sharding"
)

func main() {
	_ = godotenv.Load()
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg := loadConfig()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	shardCfg, err := sharding.LoadConfig()
	if err != nil {
		logger.Fatalf("sharding config error: %v", err)
	}
	ring, err := sharding.NewRing(shardCfg.Shards, shardCfg.VirtualNodes)
	if err != nil {
		logger.Fatalf("shard ring error: %v", err)
	}
	metrics.SetRingSize(ring.Size())

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(events.MeasurementReceived{})
	registry.Register(events.OverconsumptionAlert{})
	registry.Register(events.DeviceCreated{})
	registry.Register(events.DeviceDeleted{})
	registry.Register(events.UserCreated{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, baseBus)

	buckets := monitoringrepo.NewBucketRepository(db)
	references := monitoringrepo.NewReferenceRepository(db)

	aggregator, err := application.NewAggregator(buckets, references,
		application.WithPublisher(publisher),
		application.WithLogger(logger),
		application.WithOperationTimeout(shardCfg.OperationTimeout()),
		application.WithFinalizeAfter(cfg.FinalizeAfter),
	)
	if err != nil {
		logger.Fatalf("aggregator error: %v", err)
	}

	router, err := routing.NewRouter(ring)
	if err != nil {
		logger.Fatalf("shard router error: %v", err)
	}
	pipeline, err := routing.NewPipeline(router, aggregator,
		routing.WithQueueSize(shardCfg.QueueSize),
		routing.WithWorkersPerShard(shardCfg.WorkersPerShard),
		routing.WithMaxAttempts(shardCfg.MaxAttempts),
		routing.WithPipelineLogger(logger),
		routing.WithFailureHandler(func(m monitoring.Measurement, err error) {
			logger.Printf("measurement dropped device=%s hour=%s: %v", m.DeviceID, m.HourStart().Format(time.RFC3339), err)
		}),
	)
	if err != nil {
		logger.Fatalf("shard pipeline error: %v", err)
	}
	go func() {
		if err := pipeline.Run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("pipeline stopped: %v", err)
		}
	}()

	refSync, err := application.NewReferenceSync(references, references, buckets, logger)
	if err != nil {
		logger.Fatalf("reference sync error: %v", err)
	}
	history, err := application.NewConsumptionHistory(buckets)
	if err != nil {
		logger.Fatalf("consumption history error: %v", err)
	}

	if err := interfaces.RegisterMeasurementConsumer(baseBus, pipeline, processedStore, logger); err != nil {
		logger.Fatalf("measurement consumer error: %v", err)
	}
	if err := interfaces.RegisterSyncConsumers(baseBus, refSync, processedStore, logger); err != nil {
		logger.Fatalf("sync consumer error: %v", err)
	}
	if cfg.AlertWebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.AlertWebhookURL,
			notify.WithHTTPClient(&http.Client{Timeout: cfg.AlertNotifyTimeout}))
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		template, err := notify.NewTemplate(cfg.AlertNotifyTemplate)
		if err != nil {
			logger.Fatalf("alert template error: %v", err)
		}
		var notifyOpts []notify.Option
		if cfg.AlertNotifyCooldown > 0 {
			notifyOpts = append(notifyOpts, notify.WithCooldown(cfg.AlertNotifyCooldown))
		}
		if cfg.AlertNotifyDedupeWindow > 0 {
			notifyOpts = append(notifyOpts, notify.WithDedupeWindow(cfg.AlertNotifyDedupeWindow))
		}
		notifier, err := notify.NewNotifier(channel, template, notifyOpts...)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		if err := interfaces.RegisterAlertConsumer(baseBus, notifier, processedStore, logger); err != nil {
			logger.Fatalf("alert consumer error: %v", err)
		}
	}

	go func() {
		ticker := time.NewTicker(cfg.OutboxDispatchInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := dispatcher.Dispatch(context.Background(), 100); err != nil {
				logger.Printf("outbox dispatch error: %v", err)
			}
		}
	}()

	if cfg.DedupRetention > 0 {
		go func() {
			ticker := time.NewTicker(cfg.DedupPruneInterval)
			defer ticker.Stop()
			for range ticker.C {
				cutoff := time.Now().UTC().Add(-cfg.DedupRetention)
				pruned, err := buckets.PruneAppliedBefore(context.Background(), cutoff)
				if err != nil {
					logger.Printf("dedup prune error: %v", err)
					continue
				}
				if pruned > 0 {
					logger.Printf("dedup prune removed %d keys before %s", pruned, cutoff.Format(time.RFC3339))
				}
			}
		}()
	}

	ownerChecker := auth.NewOwnerChecker(references)
	measurementsHandler, err := apihttp.NewMeasurementsHandler(pipeline, logger)
	if err != nil {
		logger.Fatalf("measurements handler error: %v", err)
	}
	consumptionHandler, err := apihttp.NewConsumptionHandler(history, ownerChecker, logger)
	if err != nil {
		logger.Fatalf("consumption handler error: %v", err)
	}
	exportHandler, err := apihttp.NewExportHandler(history, ownerChecker, audit.NewRepository(db), logger)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}
	ringHandler, err := apihttp.NewRingHandler(ring)
	if err != nil {
		logger.Fatalf("ring handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/readyz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	var ingest http.Handler
	if cfg.IngestSecret != "" {
		ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)
		ingest = ingestAuth.Wrap(measurementsHandler)
	}

	handler, err := apihttp.NewRouter(apihttp.RouterConfig{
		Measurements: measurementsHandler,
		Consumption:  consumptionHandler,
		Export:       exportHandler,
		Ring:         ringHandler,
		Ingest:       ingest,
		Auth:         authMiddleware,
		Ready: func(ctx context.Context) error {
			if ring.Size() == 0 {
				return sharding.ErrNoShardAvailable
			}
			return db.PingContext(ctx)
		},
		AccessLog: os.Stdout,
	})
	if err != nil {
		logger.Fatalf("router error: %v", err)
	}

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}
	logger.Printf("http listening on %s shards=%d", cfg.HTTPAddr, len(ring.Shards()))
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL             string
	HTTPAddr                string
	JWTSecret               string
	IngestSecret            string
	IngestSkewSeconds       int
	AlertWebhookURL         string
	AlertNotifyTemplate     string
	AlertNotifyCooldown     time.Duration
	AlertNotifyDedupeWindow time.Duration
	AlertNotifyTimeout      time.Duration
	FinalizeAfter           time.Duration
	DedupRetention          time.Duration
	DedupPruneInterval      time.Duration
	OutboxDispatchInterval  time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:             getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:                getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:               getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:            getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:       getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		AlertWebhookURL:         getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertNotifyTemplate:     getenvDefault("ALERT_NOTIFY_TEMPLATE", ""),
		AlertNotifyCooldown:     getenvDuration("ALERT_NOTIFY_COOLDOWN", 0),
		AlertNotifyDedupeWindow: getenvDuration("ALERT_NOTIFY_DEDUP_WINDOW", 0),
		AlertNotifyTimeout:      getenvDuration("ALERT_NOTIFY_TIMEOUT", 5*time.Second),
		FinalizeAfter:           getenvDuration("AGGREGATION_FINALIZE_AFTER", 0),
		DedupRetention:          getenvDuration("DEDUP_RETENTION", 48*time.Hour),
		DedupPruneInterval:      getenvDuration("DEDUP_PRUNE_INTERVAL", time.Hour),
		OutboxDispatchInterval:  getenvDuration("OUTBOX_DISPATCH_INTERVAL", 10*time.Second),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

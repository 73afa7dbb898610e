package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	appconfig "github.com/ahrav/commit-quality-orchestrator/internal/app/config"
	"github.com/ahrav/commit-quality-orchestrator/internal/app/dispatch"
	"github.com/ahrav/commit-quality-orchestrator/internal/app/lock"
	appmetrics "github.com/ahrav/commit-quality-orchestrator/internal/app/metrics"
	"github.com/ahrav/commit-quality-orchestrator/internal/app/reconcile"
	"github.com/ahrav/commit-quality-orchestrator/internal/app/repocache"
	appretry "github.com/ahrav/commit-quality-orchestrator/internal/app/retry"
	appwebhook "github.com/ahrav/commit-quality-orchestrator/internal/app/webhook"
	apiretry "github.com/ahrav/commit-quality-orchestrator/internal/api/retry"
	apiwebhook "github.com/ahrav/commit-quality-orchestrator/internal/api/webhook"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/cluster/kubernetes"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/eventbus/kafka"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/scanner"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage/postgres"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/otel"
)

const serviceType = "orchestrator"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			attrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				attrs[k] = v
			}
			attrsJSON, err := json.Marshal(attrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, attrsJSON)
		},
	}

	svcName := fmt.Sprintf("ORCHESTRATOR-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}
	appLog := logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := os.Getenv("ORCHESTRATOR_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		appLog.Error(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	tp, telemetryTeardown, err := otel.InitTelemetry(appLog, otel.Config{
		ServiceName:      cfg.ServiceName,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		appLog.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(cfg.ServiceName)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(":8081", ready)
	go func() {
		if err := healthServer.Server().ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error(ctx, "health server stopped unexpectedly", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := healthServer.Server().Shutdown(shutdownCtx); err != nil {
			appLog.Error(ctx, "error shutting down health server", "error", err)
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		appLog.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		appLog.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		appLog.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}
	appLog.Info(ctx, "migrations applied, starting application")

	store := postgres.NewStore(pool, tracer)
	jobStore := postgres.NewJobStore(store)
	projectStore := postgres.NewProjectStore(store)
	resultStore := postgres.NewResultStore(store)
	lockStore := postgres.NewLockStore(store)
	webhookStore := postgres.NewWebhookStore(store)

	kafkaClient, err := kafka.NewClient(&kafka.ClientConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.GroupID,
		ClientID: svcName,
	})
	if err != nil {
		appLog.Error(ctx, "failed to create kafka client", "error", err)
		os.Exit(1)
	}
	defer kafkaClient.Close()

	queueCfg := &kafka.Config{
		Brokers:     cfg.Kafka.Brokers,
		GroupID:     cfg.Kafka.GroupID,
		ClientID:    svcName,
		NormalTopic: cfg.Kafka.NormalTopic,
		RetryTopic:  cfg.Kafka.RetryTopic,
		HighTopic:   cfg.Kafka.HighPriorityTopic,
		DLQTopic:    cfg.Kafka.DLQTopic,
	}
	queue, err := kafka.ConnectQueue(queueCfg, kafkaClient, appLog, nil, tracer)
	if err != nil {
		appLog.Error(ctx, "failed to connect queue", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	k8sCfg := &kubernetes.K8sConfig{
		Namespace:    cfg.Kubernetes.Namespace,
		LeaderLockID: cfg.Kubernetes.LeaderLockID,
		Identity:     cfg.Kubernetes.Identity,
		Kubeconfig:   cfg.Kubernetes.Kubeconfig,
	}
	coord, err := kubernetes.NewCoordinator(hostname, k8sCfg, appLog, tracer)
	if err != nil {
		appLog.Error(ctx, "failed to create coordinator", "error", err)
		os.Exit(1)
	}
	defer coord.Stop()

	lockManager := lock.New(lockStore, maxConcurrencyAcrossServers(cfg), cfg.Dispatcher.LockTTL)
	repoCache := repocache.New(cfg.RepoCache.BaseDir, appLog)
	fetcher := appmetrics.New(cfg.Dispatcher.FetchRPS, cfg.Dispatcher.FetchBurst)
	scanRunner := scanner.New(cfg.RepoCache.BaseDir+"/scan-logs", scanner.HTTPExistenceChecker(nil))

	dispatcher := dispatch.New(jobStore, projectStore, resultStore, lockManager, repoCache, scanRunner, fetcher, queue, cfg, appLog)

	reconciler := reconcile.New(
		jobStore, projectStore, resultStore, lockManager, queue,
		cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, cfg.Reconciler.StaleQueueAfter,
		cfg.Dispatcher.RetryBackoffBase, cfg.Dispatcher.RetryBackoffCap, cfg.Dispatcher.RetryJitterRatio,
		appLog,
	)
	coord.OnLeadershipChange(func(isLeader bool) {
		if !isLeader {
			return
		}
		go func() {
			if err := reconciler.Run(ctx); err != nil {
				appLog.Error(ctx, "reconciler stopped", "error", err)
			}
		}()
	})

	intake := appwebhook.New(jobStore, projectStore, resultStore, webhookStore, lockStore, fetcher, cfg, cfg.Webhook.SharedSecret, cfg.Webhook.HMACSecret, appLog)
	webhookServer := apiwebhook.NewServer(intake, appLog)

	retrySvc := appretry.New(jobStore, resultStore, queue, appLog)
	retryServer := apiretry.NewServer(retrySvc, appLog)

	apiMux := http.NewServeMux()
	apiMux.Handle("/v1/webhooks/", webhookServer.Handler())
	apiMux.Handle("/v1/jobs/", retryServer.Handler())
	httpServer := &http.Server{Addr: cfg.Webhook.ListenAddr, Handler: apiMux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error(ctx, "webhook server stopped unexpectedly", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLog.Error(ctx, "error shutting down webhook server", "error", err)
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		if err := coord.Start(ctx); err != nil {
			errCh <- fmt.Errorf("coordinator: %w", err)
		}
	}()
	go func() {
		if err := queue.Consume(ctx, dispatcher.Handle); err != nil {
			errCh <- fmt.Errorf("dispatcher consume loop: %w", err)
		}
	}()

	ready.Store(true)
	appLog.Info(ctx, "orchestrator started")

	select {
	case sig := <-sigCh:
		appLog.Info(ctx, "received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		appLog.Error(ctx, "component failure", "error", err)
		cancel()
	}
}

// maxConcurrencyAcrossServers picks the widest per-server concurrency cap
// configured, used as the lock.Manager's cap since the Postgres-backed
// semaphore is partitioned per analysis server name at acquire time anyway.
func maxConcurrencyAcrossServers(cfg *appconfig.Config) int {
	max := 1
	for _, s := range cfg.AnalysisServers {
		if s.ConcurrencyCap > max {
			max = s.ConcurrencyCap
		}
	}
	return max
}

// runMigrations applies every pending migration under db/migrations via
// golang-migrate.
func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)

	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	const migrationsPath = "file://db/migrations"
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

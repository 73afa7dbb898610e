// Command ingest loads a project CSV and materializes its Project and
// ScanJob rows, publishing each job onto the Queue for the orchestrator's
// dispatchers to claim. Grounded on cmd/controller/main.go for the
// config/telemetry/storage wiring shared across this module's binaries.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace/noop"

	appconfig "github.com/ahrav/commit-quality-orchestrator/internal/app/config"
	"github.com/ahrav/commit-quality-orchestrator/internal/app/ingest"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/eventbus/kafka"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage/postgres"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
)

func main() {
	if len(os.Args) != 4 {
		log.Fatalf("usage: %s <project-name> <source-path> <csv-path>", os.Args[0])
	}
	projectName, sourcePath, csvPath := os.Args[1], os.Args[2], os.Args[3]

	ctx := context.Background()
	appLog := logger.New(os.Stdout, logger.LevelInfo, "INGEST", nil)

	configPath := os.Getenv("ORCHESTRATOR_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		appLog.Error(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		appLog.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		appLog.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	tracer := noop.NewTracerProvider().Tracer("ingest")
	store := postgres.NewStore(pool, tracer)
	projectStore := postgres.NewProjectStore(store)
	jobStore := postgres.NewJobStore(store)

	kafkaClient, err := kafka.NewClient(&kafka.ClientConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.GroupID,
		ClientID: "ingest",
	})
	if err != nil {
		appLog.Error(ctx, "failed to create kafka client", "error", err)
		os.Exit(1)
	}
	defer kafkaClient.Close()

	queueCfg := &kafka.Config{
		Brokers:     cfg.Kafka.Brokers,
		GroupID:     cfg.Kafka.GroupID,
		ClientID:    "ingest",
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

	selector := roundRobin(cfg.AnalysisServers)
	ingestor := ingest.New(projectStore, jobStore, queue, selector, appLog)

	f, err := os.Open(csvPath)
	if err != nil {
		appLog.Error(ctx, "failed to open csv", "path", csvPath, "error", err)
		os.Exit(1)
	}
	defer f.Close()

	project, err := ingestor.Ingest(ctx, projectName, sourcePath, f)
	if err != nil {
		appLog.Error(ctx, "ingestion failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("ingested project %s with %d commits\n", project.ID().String(), project.TotalCommits())
}

// roundRobin returns a selector cycling through servers by name, used when
// no per-commit routing policy is configured.
func roundRobin(servers []appconfig.AnalysisServer) ingest.ServerSelector {
	i := 0
	return func() string {
		if len(servers) == 0 {
			return ""
		}
		name := servers[i%len(servers)].Name
		i++
		return name
	}
}

// Worker consumes analysis jobs from Kafka and runs them through the claim,
// metering, and analysis pipeline. Set DATABASE_URL, KAFKA_BROKERS, and
// OPENAI_API_KEY; KAFKA_GROUP_ID and JOBS_KAFKA_TOPIC have defaults.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	analysisrepo "fleet-insight/engine/internal/analysis/repository"
	"fleet-insight/engine/internal/analyzer"
	analystopenai "fleet-insight/engine/internal/analyzer/openai"
	"fleet-insight/engine/internal/config"
	"fleet-insight/engine/internal/db"
	entityrepo "fleet-insight/engine/internal/entity/repository"
	exclusionrepo "fleet-insight/engine/internal/exclusion/repository"
	exclusionservice "fleet-insight/engine/internal/exclusion/service"
	quotarepo "fleet-insight/engine/internal/quota/repository"
	quotaservice "fleet-insight/engine/internal/quota/service"
	"fleet-insight/engine/internal/queue"
	"fleet-insight/engine/internal/registry"
	"fleet-insight/engine/internal/scheduler"
	"fleet-insight/engine/internal/telemetry/otel"
	"fleet-insight/engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Fatal("worker: OPENAI_API_KEY is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "fleet-insight-worker", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	costOverrides, _ := cfg.CostOverrides()
	intervalOverrides, _ := cfg.IntervalOverrides()
	types, err := registry.New(costOverrides, intervalOverrides)
	if err != nil {
		log.Fatalf("registry: %v", err)
	}

	entities := entityrepo.NewPostgresRepository(database)
	records := analysisrepo.NewPostgresRepository(database)
	quotas := quotarepo.NewPostgresRepository(database)
	rules := exclusionrepo.NewPostgresRepository(database)

	ledger := quotaservice.NewLedgerService(quotas, types)

	// The ledger freeze lives in this process's service instance, so the
	// audit sweep must run here for a violation to actually halt debits.
	go scheduler.NewReconciler(entities, ledger).Run(ctx, cfg.ReconcileInterval())
	resolver := exclusionservice.NewResolver(rules, entities, types)
	analyst := analystopenai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	adapters := analyzer.NewAdapters(entities, records, analyst)

	metrics, err := worker.NewMetrics(providers.MeterProvider.Meter("fleet-insight/worker"))
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	executor := worker.NewExecutor(records, entities, ledger, resolver, types, adapters, metrics)

	reader := queue.NewReader(brokers, cfg.JobsKafkaTopic, cfg.KafkaGroupID)
	defer reader.Close()

	log.Printf("worker: consuming from %s (group %s)", cfg.JobsKafkaTopic, cfg.KafkaGroupID)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("worker: stopped")
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}

		job, err := queue.UnmarshalJob(msg.Value)
		if err != nil {
			log.Printf("worker: malformed job dropped: %v", err)
			continue
		}

		if err := executor.Execute(ctx, job); err != nil {
			log.Printf("worker: job for record %s: %v", job.RecordID, err)
		}
	}
}

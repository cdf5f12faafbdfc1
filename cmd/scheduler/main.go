// Scheduler runs the periodic loops: per-type analysis ticks that enqueue
// jobs to Kafka, the reaper that reclaims stuck records, the ledger
// reconciler, and the score aggregator. Set DATABASE_URL and KAFKA_BROKERS.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fleet-insight/engine/internal/aggregate"
	analysisrepo "fleet-insight/engine/internal/analysis/repository"
	"fleet-insight/engine/internal/config"
	"fleet-insight/engine/internal/db"
	entityrepo "fleet-insight/engine/internal/entity/repository"
	"fleet-insight/engine/internal/gate"
	quotarepo "fleet-insight/engine/internal/quota/repository"
	quotaservice "fleet-insight/engine/internal/quota/service"
	"fleet-insight/engine/internal/queue"
	"fleet-insight/engine/internal/registry"
	"fleet-insight/engine/internal/scheduler"
	"fleet-insight/engine/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("scheduler: KAFKA_BROKERS is required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("scheduler: DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("scheduler: shutting down...")
		cancel()
	}()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "fleet-insight-scheduler", cfg.OTLPInsecure)
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

	producer, err := queue.NewKafkaProducer(brokers, cfg.JobsKafkaTopic)
	if err != nil {
		log.Fatalf("queue: %v", err)
	}
	defer producer.Close()

	quotas := quotarepo.NewPostgresRepository(database)
	ledger := quotaservice.NewLedgerService(quotas, types)

	sched := scheduler.New(types, entities, gate.New(records), records, producer, cfg.SchedulerBatchSize)
	reaper := scheduler.NewReaper(types, records)
	reconciler := scheduler.NewReconciler(entities, ledger)
	aggregator := aggregate.New(entities)

	log.Printf("scheduler: running %d analysis types, batch size %d", len(types.All()), cfg.SchedulerBatchSize)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		reaper.Run(ctx, cfg.ReapInterval())
	}()
	go func() {
		defer wg.Done()
		reconciler.Run(ctx, cfg.ReconcileInterval())
	}()
	go func() {
		defer wg.Done()
		aggregator.Run(ctx, cfg.AggregateInterval())
	}()
	wg.Wait()
	log.Println("scheduler: stopped")
}

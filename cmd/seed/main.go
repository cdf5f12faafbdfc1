// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev tenant (Acme Fleet) already exists.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"fleet-insight/engine/internal/config"
	"fleet-insight/engine/internal/db"
	entitydomain "fleet-insight/engine/internal/entity/domain"
	entityrepo "fleet-insight/engine/internal/entity/repository"
	exclusiondomain "fleet-insight/engine/internal/exclusion/domain"
	exclusionrepo "fleet-insight/engine/internal/exclusion/repository"
	quotadomain "fleet-insight/engine/internal/quota/domain"
	quotarepo "fleet-insight/engine/internal/quota/repository"
)

const devTenantID = "tenant-acme-dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("seed: DATABASE_URL is required")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	entities := entityrepo.NewPostgresRepository(database)
	quotas := quotarepo.NewPostgresRepository(database)
	rules := exclusionrepo.NewPostgresRepository(database)

	if existing, err := entities.GetByID(ctx, devTenantID); err != nil {
		log.Fatalf("seed: %v", err)
	} else if existing != nil {
		log.Println("seed: dev tenant already present; nothing to do")
		return
	}

	now := time.Now().UTC()
	create := func(e *entitydomain.Entity) {
		e.CreatedAt = now
		e.AnalysesEnabled = true
		if err := e.Validate(); err != nil {
			log.Fatalf("seed: %s: %v", e.ID, err)
		}
		if err := entities.Create(ctx, e); err != nil {
			log.Fatalf("seed: create %s: %v", e.ID, err)
		}
	}

	create(&entitydomain.Entity{ID: devTenantID, Kind: entitydomain.KindTenant, Name: "Acme Fleet"})

	orgEast := "org-" + uuid.NewString()
	orgWest := "org-" + uuid.NewString()
	create(&entitydomain.Entity{ID: orgEast, Kind: entitydomain.KindOrganization, ParentID: devTenantID, Name: "East Region"})
	create(&entitydomain.Entity{ID: orgWest, Kind: entitydomain.KindOrganization, ParentID: devTenantID, Name: "West Region"})

	groupStores := "grp-" + uuid.NewString()
	groupDepot := "grp-" + uuid.NewString()
	create(&entitydomain.Entity{ID: groupStores, Kind: entitydomain.KindGroup, ParentID: orgEast, Name: "Retail Stores"})
	create(&entitydomain.Entity{ID: groupDepot, Kind: entitydomain.KindGroup, ParentID: orgWest, Name: "Depot Kiosks"})

	for i, platform := range []string{"linux", "linux", "windows", "rtos"} {
		parent := groupStores
		if i >= 2 {
			parent = groupDepot
		}
		create(&entitydomain.Entity{
			ID:       "dev-" + uuid.NewString(),
			Kind:     entitydomain.KindDevice,
			ParentID: parent,
			Name:     "device-" + platform,
			Platform: platform,
		})
	}

	if err := quotas.Credit(ctx, &quotadomain.LedgerEntry{
		ID:        uuid.NewString(),
		TenantID:  devTenantID,
		Amount:    500,
		Reason:    "dev seed top-up",
		CreatedAt: now,
	}); err != nil {
		log.Fatalf("seed: credit: %v", err)
	}

	seedRules := []exclusiondomain.Rule{
		{
			EntityKind: string(entitydomain.KindTenant), EntityID: devTenantID, AnalysisType: "device_health",
			ExclusionText: "Ignore devices undergoing scheduled maintenance windows.",
			PriorityText:  "Prioritize connectivity drops over resource pressure.",
		},
		{
			EntityKind: string(entitydomain.KindOrganization), EntityID: orgEast, AnalysisType: "device_health",
			PriorityText: "East region kiosks are customer-facing; weigh uptime heavily.",
		},
	}
	for i := range seedRules {
		if err := rules.UpsertRule(ctx, &seedRules[i]); err != nil {
			log.Fatalf("seed: rule: %v", err)
		}
	}

	log.Println("seed: dev tenant created with 2 organizations, 2 groups, 4 devices, 500 tokens")
}

package scheduler

import (
	"context"
	"log"
	"time"

	entitydomain "fleet-insight/engine/internal/entity/domain"
)

// reconcilePageSize bounds how many tenants one sweep page loads.
const reconcilePageSize = 100

// LedgerAuditor verifies a tenant's balance against its ledger entries,
// freezing debits on a mismatch; satisfied by the quota ledger service.
type LedgerAuditor interface {
	Reconcile(ctx context.Context, tenantID string) error
}

// TenantSource pages through tenant entities.
type TenantSource interface {
	ListByKindPage(ctx context.Context, kind entitydomain.Kind, afterID string, limit int) ([]*entitydomain.Entity, error)
}

// Reconciler periodically audits every tenant's ledger. A conservation
// violation freezes the tenant's debits inside the ledger service until a
// later clean pass thaws it.
type Reconciler struct {
	entities TenantSource
	ledger   LedgerAuditor
}

// NewReconciler returns a Reconciler with the given dependencies.
func NewReconciler(entities TenantSource, ledger LedgerAuditor) *Reconciler {
	return &Reconciler{entities: entities, ledger: ledger}
}

// Run sweeps on the given interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep reconciles every tenant. A single tenant's mismatch or error is
// logged and never stops the rest of the sweep; the freeze itself is applied
// by the ledger service.
func (r *Reconciler) Sweep(ctx context.Context) {
	afterID := ""
	for {
		page, err := r.entities.ListByKindPage(ctx, entitydomain.KindTenant, afterID, reconcilePageSize)
		if err != nil {
			log.Printf("reconcile: list tenants: %v", err)
			return
		}
		if len(page) == 0 {
			return
		}
		for _, tenant := range page {
			if err := r.ledger.Reconcile(ctx, tenant.ID); err != nil {
				log.Printf("reconcile: tenant %s: %v", tenant.ID, err)
			}
		}
		if len(page) < reconcilePageSize {
			return
		}
		afterID = page[len(page)-1].ID
	}
}

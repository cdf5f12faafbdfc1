package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-insight/engine/internal/quota/domain"
)

// LedgerRepo is the minimal quota repository needed by the ledger service.
type LedgerRepo interface {
	Debit(ctx context.Context, entry *domain.LedgerEntry) error
	Credit(ctx context.Context, entry *domain.LedgerEntry) error
	GetBalance(ctx context.Context, tenantID string) (*domain.Balance, error)
	SumEntries(ctx context.Context, tenantID string) (int64, error)
	CostOverride(ctx context.Context, tenantID, analysisType string) (*int, error)
}

// CostTable supplies per-type default costs; satisfied by the analysis type registry.
type CostTable interface {
	DefaultCost(analysisType string) (int, bool)
}

// LedgerService meters analyses against prepaid tenant balances. It is the
// only path to the balance; a detected conservation violation freezes the
// tenant's debits until Reconcile passes again.
type LedgerService struct {
	repo  LedgerRepo
	costs CostTable
	now   func() time.Time

	mu     sync.Mutex
	frozen map[string]bool
}

// NewLedgerService returns a LedgerService with the given dependencies.
func NewLedgerService(repo LedgerRepo, costs CostTable) *LedgerService {
	return &LedgerService{
		repo:   repo,
		costs:  costs,
		now:    func() time.Time { return time.Now().UTC() },
		frozen: map[string]bool{},
	}
}

// Debit charges amount tokens against the tenant. Returns
// domain.ErrInsufficientBalance when the balance is too low (no writes) and
// domain.ErrLedgerFrozen when the tenant is frozen pending reconciliation.
func (s *LedgerService) Debit(ctx context.Context, tenantID string, amount int, reason string) error {
	if s.isFrozen(tenantID) {
		return domain.ErrLedgerFrozen
	}
	return s.repo.Debit(ctx, &domain.LedgerEntry{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Amount:    int64(amount),
		Reason:    reason,
		CreatedAt: s.now(),
	})
}

// Credit adds amount tokens to the tenant (top-up path).
func (s *LedgerService) Credit(ctx context.Context, tenantID string, amount int, reason string) error {
	return s.repo.Credit(ctx, &domain.LedgerEntry{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Amount:    int64(amount),
		Reason:    reason,
		CreatedAt: s.now(),
	})
}

// GetCost resolves the token cost for an analysis type: the tenant override
// if present, else the registry default. Unknown types are an error.
func (s *LedgerService) GetCost(ctx context.Context, tenantID, analysisType string) (int, error) {
	override, err := s.repo.CostOverride(ctx, tenantID, analysisType)
	if err != nil {
		return 0, err
	}
	if override != nil {
		return *override, nil
	}
	cost, ok := s.costs.DefaultCost(analysisType)
	if !ok {
		return 0, fmt.Errorf("no cost configured for analysis type %q", analysisType)
	}
	return cost, nil
}

// Reconcile verifies balance == sum(ledger entries) for the tenant. A
// mismatch freezes further debits for the tenant; a clean pass thaws it.
// A missing balance row with no entries is consistent (zero account).
func (s *LedgerService) Reconcile(ctx context.Context, tenantID string) error {
	balance, err := s.repo.GetBalance(ctx, tenantID)
	if err != nil {
		return err
	}
	sum, err := s.repo.SumEntries(ctx, tenantID)
	if err != nil {
		return err
	}
	var current int64
	if balance != nil {
		current = balance.Balance
	}
	if current != sum {
		s.setFrozen(tenantID, true)
		log.Printf("quota: ledger violation for tenant %s: balance %d != entry sum %d; debits frozen", tenantID, current, sum)
		return fmt.Errorf("ledger inconsistency for tenant %s: balance %d, entry sum %d: %w",
			tenantID, current, sum, domain.ErrLedgerFrozen)
	}
	s.setFrozen(tenantID, false)
	return nil
}

// Frozen reports whether the tenant's debits are currently frozen.
func (s *LedgerService) Frozen(tenantID string) bool {
	return s.isFrozen(tenantID)
}

func (s *LedgerService) isFrozen(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen[tenantID]
}

func (s *LedgerService) setFrozen(tenantID string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v {
		s.frozen[tenantID] = true
	} else {
		delete(s.frozen, tenantID)
	}
}

package repository

import (
	"context"

	"fleet-insight/engine/internal/quota/domain"
)

// Repository defines persistence for quota balances and the ledger.
// Debit and Credit are the only writers of the balance; each runs the
// balance update and the ledger append in one transaction.
type Repository interface {
	// Debit atomically checks balance >= amount, decrements, and appends a
	// negative ledger entry. Returns domain.ErrInsufficientBalance (no
	// writes) when the balance is too low, domain.ErrNoAccount when the
	// tenant has no balance row. amount must be positive.
	Debit(ctx context.Context, entry *domain.LedgerEntry) error
	// Credit atomically increments the balance and appends a positive ledger
	// entry, creating the balance row if absent. amount must be positive.
	Credit(ctx context.Context, entry *domain.LedgerEntry) error
	GetBalance(ctx context.Context, tenantID string) (*domain.Balance, error)
	// SumEntries returns the sum of all ledger amounts for the tenant.
	SumEntries(ctx context.Context, tenantID string) (int64, error)
	// CostOverride returns the tenant's per-type cost override, or nil if none.
	CostOverride(ctx context.Context, tenantID, analysisType string) (*int, error)
}

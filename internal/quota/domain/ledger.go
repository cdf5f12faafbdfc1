package domain

import (
	"errors"
	"time"
)

// LedgerEntry is one append-only movement on a tenant's token balance.
// Debits are negative, credits positive. Entries are never updated or
// deleted; the balance row must equal their sum at all times.
type LedgerEntry struct {
	ID        string
	TenantID  string
	Amount    int64
	Reason    string
	CreatedAt time.Time
}

// Balance is a tenant's current prepaid token balance.
type Balance struct {
	TenantID string
	Balance  int64
}

var (
	// ErrInsufficientBalance: the debit would take the balance below zero;
	// nothing was written.
	ErrInsufficientBalance = errors.New("insufficient token balance")
	// ErrNoAccount: the tenant has no balance row; provisioning creates it.
	ErrNoAccount = errors.New("tenant has no quota account")
	// ErrLedgerFrozen: a conservation violation was detected for the tenant;
	// debits are refused until reconciled.
	ErrLedgerFrozen = errors.New("quota ledger frozen pending reconciliation")
)

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fleet-insight/engine/internal/quota/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a quota repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Debit checks and decrements the balance and appends the ledger entry in one
// transaction. The balance row is locked FOR UPDATE for the duration, so
// concurrent debits against the same tenant serialize and the
// balance-equals-sum invariant holds at every commit point.
func (r *PostgresRepository) Debit(ctx context.Context, entry *domain.LedgerEntry) error {
	if entry.Amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", entry.Amount)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM quota_balances WHERE tenant_id = $1 FOR UPDATE`,
		entry.TenantID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNoAccount
		}
		return err
	}
	if balance < entry.Amount {
		return domain.ErrInsufficientBalance
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE quota_balances SET balance = balance - $2 WHERE tenant_id = $1`,
		entry.TenantID, entry.Amount); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_ledger (id, tenant_id, amount, reason, created_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.TenantID, -entry.Amount, entry.Reason, entry.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// Credit increments the balance (creating the row if absent) and appends the
// ledger entry in one transaction.
func (r *PostgresRepository) Credit(ctx context.Context, entry *domain.LedgerEntry) error {
	if entry.Amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", entry.Amount)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quota_balances (tenant_id, balance) VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET balance = quota_balances.balance + EXCLUDED.balance`,
		entry.TenantID, entry.Amount); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_ledger (id, tenant_id, amount, reason, created_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.TenantID, entry.Amount, entry.Reason, entry.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// GetBalance returns the tenant's balance, or nil if no account exists.
func (r *PostgresRepository) GetBalance(ctx context.Context, tenantID string) (*domain.Balance, error) {
	b := domain.Balance{TenantID: tenantID}
	err := r.db.QueryRowContext(ctx,
		`SELECT balance FROM quota_balances WHERE tenant_id = $1`, tenantID).Scan(&b.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// SumEntries returns the sum of ledger amounts for the tenant (0 with no entries).
func (r *PostgresRepository) SumEntries(ctx context.Context, tenantID string) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM quota_ledger WHERE tenant_id = $1`, tenantID).Scan(&sum)
	return sum, err
}

// CostOverride returns the tenant's cost override for the type, or nil if none.
func (r *PostgresRepository) CostOverride(ctx context.Context, tenantID, analysisType string) (*int, error) {
	var cost int
	err := r.db.QueryRowContext(ctx,
		`SELECT cost FROM tenant_cost_overrides WHERE tenant_id = $1 AND analysis_type = $2`,
		tenantID, analysisType).Scan(&cost)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cost, nil
}

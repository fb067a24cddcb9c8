package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
)

// LedgerRepository keeps customer balances and the settlement audit trail.
type LedgerRepository struct {
	store *Store
}

var _ domain.Ledger = (*LedgerRepository)(nil)

func (r *LedgerRepository) Credit(ctx context.Context, customerID string, amount decimal.Decimal) error {
	query := `
		INSERT INTO customer_balances (customer_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (customer_id)
		DO UPDATE SET balance = customer_balances.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
	`

	_, err := r.store.executor.ExecContext(ctx, query, customerID, amount.String(), time.Now())
	if err != nil {
		r.store.logger.Error("Failed to credit customer", "customer_id", customerID, "error", err)
		return errors.ErrPersistence.WithDetails(err.Error())
	}

	r.store.logger.Info("Customer credited", "customer_id", customerID, "amount", amount)
	return nil
}

func (r *LedgerRepository) Debit(ctx context.Context, customerID string, amount decimal.Decimal) error {
	query := `
		UPDATE customer_balances
		SET balance = balance - $1, updated_at = $2
		WHERE customer_id = $3 AND balance >= $1
	`

	result, err := r.store.executor.ExecContext(ctx, query, amount.String(), time.Now(), customerID)
	if err != nil {
		r.store.logger.Error("Failed to debit customer", "customer_id", customerID, "error", err)
		return errors.ErrPersistence.WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.ErrPersistence.WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.store.logger.Warn("Insufficient balance for debit", "customer_id", customerID, "amount", amount)
		return errors.ErrInsufficientBalance
	}

	r.store.logger.Info("Customer debited", "customer_id", customerID, "amount", amount)
	return nil
}

func (r *LedgerRepository) RecordTransaction(ctx context.Context, customerID string, amount decimal.Decimal, kind domain.TransactionKind, reference string) (*domain.LedgerTransaction, error) {
	txn := &domain.LedgerTransaction{
		ID:         uuid.New(),
		CustomerID: customerID,
		Amount:     amount,
		Kind:       kind,
		Reference:  reference,
		CreatedAt:  time.Now(),
	}

	query := `
		INSERT INTO ledger_transactions (id, customer_id, amount, kind, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.store.executor.ExecContext(ctx, query,
		txn.ID,
		txn.CustomerID,
		txn.Amount.String(),
		string(txn.Kind),
		txn.Reference,
		txn.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == uniqueViolation {
				r.store.logger.Warn("Duplicate ledger transaction", "reference", reference, "kind", kind)
				return nil, errors.ErrDuplicateTransaction
			}
		}
		r.store.logger.Error("Failed to record ledger transaction", "reference", reference, "error", err)
		return nil, errors.ErrPersistence.WithDetails(err.Error())
	}

	r.store.logger.Info("Ledger transaction recorded",
		"transaction_id", txn.ID,
		"customer_id", customerID,
		"kind", kind,
		"reference", reference,
	)
	return txn, nil
}

// Balance reports zero for customers that have never been credited.
func (r *LedgerRepository) Balance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	query := `SELECT balance FROM customer_balances WHERE customer_id = $1`

	var balanceStr string
	err := r.store.executor.QueryRowContext(ctx, query, customerID).Scan(&balanceStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, nil
		}
		r.store.logger.Error("Failed to get balance", "customer_id", customerID, "error", err)
		return decimal.Zero, errors.ErrPersistence.WithDetails(err.Error())
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		r.store.logger.Error("Failed to parse balance", "customer_id", customerID, "balance_str", balanceStr, "error", err)
		return decimal.Zero, errors.NewAppError(errors.InternalError, "failed to parse balance").WithDetails(err.Error())
	}
	return balance, nil
}

// Transactions lists the ledger records written for one settlement reference.
func (r *LedgerRepository) Transactions(ctx context.Context, reference string) ([]domain.LedgerTransaction, error) {
	query := `
		SELECT id, customer_id, amount, kind, reference, created_at
		FROM ledger_transactions
		WHERE reference = $1
		ORDER BY created_at, kind
	`

	rows, err := r.store.executor.QueryContext(ctx, query, reference)
	if err != nil {
		r.store.logger.Error("Failed to list ledger transactions", "reference", reference, "error", err)
		return nil, errors.ErrPersistence.WithDetails(err.Error())
	}
	defer rows.Close()

	var txns []domain.LedgerTransaction
	for rows.Next() {
		var txn domain.LedgerTransaction
		var amountStr, kind string
		if err := rows.Scan(&txn.ID, &txn.CustomerID, &amountStr, &kind, &txn.Reference, &txn.CreatedAt); err != nil {
			return nil, errors.ErrPersistence.WithDetails(err.Error())
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, errors.ErrPersistence.WithDetails(err.Error())
		}
		txn.Amount = amount
		txn.Kind = domain.TransactionKind(kind)
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrPersistence.WithDetails(err.Error())
	}
	return txns, nil
}

func (r *LedgerRepository) WithTransaction(ctx context.Context, fn func(ledger domain.Ledger) error) error {
	return r.store.WithTransaction(ctx, func(txStore *Store) error {
		return fn(txStore.Ledger())
	})
}

package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	TransactionDebit  TransactionKind = "debit"
	TransactionCredit TransactionKind = "credit"
)

type CustomerBalance struct {
	CustomerID string          `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// LedgerTransaction is the audit record of one settlement leg.
// Reference is the match id; (Reference, Kind) is unique.
type LedgerTransaction struct {
	ID         uuid.UUID       `json:"id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Kind       TransactionKind `json:"kind"`
	Reference  string          `json:"reference"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Ledger is the balance collaborator used by settlement.
type Ledger interface {
	Credit(ctx context.Context, customerID string, amount decimal.Decimal) error
	Debit(ctx context.Context, customerID string, amount decimal.Decimal) error
	RecordTransaction(ctx context.Context, customerID string, amount decimal.Decimal, kind TransactionKind, reference string) (*LedgerTransaction, error)
	Balance(ctx context.Context, customerID string) (decimal.Decimal, error)
	WithTransaction(ctx context.Context, fn func(ledger Ledger) error) error
}

// BalanceValidator is consulted before a withdrawal is queued.
type BalanceValidator interface {
	ValidateWithdrawal(ctx context.Context, customerID string, amount decimal.Decimal) error
}

package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
)

// LedgerBalanceValidator refuses withdrawals larger than the customer's
// current ledger balance.
type LedgerBalanceValidator struct {
	ledger domain.Ledger
	logger *slog.Logger
}

var _ domain.BalanceValidator = (*LedgerBalanceValidator)(nil)

func NewLedgerBalanceValidator(ledger domain.Ledger, logger *slog.Logger) *LedgerBalanceValidator {
	return &LedgerBalanceValidator{ledger: ledger, logger: logger}
}

func (v *LedgerBalanceValidator) ValidateWithdrawal(ctx context.Context, customerID string, amount decimal.Decimal) error {
	balance, err := v.ledger.Balance(ctx, customerID)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		v.logger.Warn("Withdrawal exceeds balance",
			"customer_id", customerID,
			"amount", amount,
			"balance", balance)
		return errors.ErrInsufficientBalance.WithDetails("balance " + balance.String() + " is below " + amount.String())
	}
	return nil
}

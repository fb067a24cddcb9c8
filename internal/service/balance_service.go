package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
)

var maxTopUp = decimal.NewFromInt(10_000_000_000)

// BalanceService reads customer balances and applies administrator top-ups.
type BalanceService struct {
	ledger domain.Ledger
	logger *slog.Logger
}

func NewBalanceService(ledger domain.Ledger, logger *slog.Logger) *BalanceService {
	return &BalanceService{
		ledger: ledger,
		logger: logger,
	}
}

func (s *BalanceService) GetBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	if strings.TrimSpace(customerID) == "" {
		return decimal.Zero, errors.Validation("customer id is required")
	}
	return s.ledger.Balance(ctx, customerID)
}

// TopUp credits a customer outside of settlement and records it under a
// fresh "topup:" reference. It returns the new balance.
func (s *BalanceService) TopUp(ctx context.Context, customerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.logger.Info("Topping up balance", "customer_id", customerID, "amount", amount)

	if strings.TrimSpace(customerID) == "" {
		return decimal.Zero, errors.Validation("customer id is required")
	}
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	if amount.GreaterThan(maxTopUp) {
		return decimal.Zero, errors.Validation("invalid amount: exceeds maximum top-up")
	}

	reference := "topup:" + uuid.NewString()
	var balance decimal.Decimal
	err := s.ledger.WithTransaction(ctx, func(ledger domain.Ledger) error {
		if err := ledger.Credit(ctx, customerID, amount); err != nil {
			return err
		}
		if _, err := ledger.RecordTransaction(ctx, customerID, amount, domain.TransactionCredit, reference); err != nil {
			return err
		}
		var err error
		balance, err = ledger.Balance(ctx, customerID)
		return err
	})
	if err != nil {
		s.logger.Error("Top-up failed", "customer_id", customerID, "error", err)
		return decimal.Zero, err
	}

	s.logger.Info("Balance topped up", "customer_id", customerID, "reference", reference, "balance", balance)
	return balance, nil
}

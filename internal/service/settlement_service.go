package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
	"p2p-queue/internal/metrics"
	"p2p-queue/internal/queue"
)

type SettlementOptions struct {
	// DebitWithdrawals also decrements the withdrawing customer's balance.
	// Off by default: the withdrawal amount is normally reserved upstream.
	DebitWithdrawals bool
	LedgerTimeout    time.Duration
}

// SettlementExecutor applies the financial effect of an approved match once.
// It expects the match and both items to be processing.
type SettlementExecutor struct {
	store    *queue.Store
	ledger   domain.Ledger
	notifier domain.Notifier
	metrics  *metrics.Metrics
	opts     SettlementOptions
	logger   *slog.Logger
}

func NewSettlementExecutor(
	store *queue.Store,
	ledger domain.Ledger,
	notifier domain.Notifier,
	m *metrics.Metrics,
	opts SettlementOptions,
	logger *slog.Logger,
) *SettlementExecutor {
	if opts.LedgerTimeout <= 0 {
		opts.LedgerTimeout = 10 * time.Second
	}
	return &SettlementExecutor{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
		logger:   logger,
	}
}

// Settle moves a processing match to completed. A match in any other status
// is rejected with InvalidState, so a second attempt never reaches the ledger.
// Settlement is detached from the caller's cancellation: once a match is
// processing it must end completed or failed. The ledger call is bounded by
// LedgerTimeout instead.
func (e *SettlementExecutor) Settle(ctx context.Context, matchID uuid.UUID) (domain.Match, error) {
	ctx = context.WithoutCancel(ctx)

	m, err := e.store.GetMatch(matchID)
	if err != nil {
		return domain.Match{}, err
	}
	if m.Status != domain.MatchProcessing {
		return m, errors.ErrInvalidState.WithDetails("match " + matchID.String() + " is " + string(m.Status))
	}

	withdrawal, err := e.store.Get(m.WithdrawalItemID)
	if err != nil {
		return e.fail(ctx, m, false, err)
	}
	deposit, err := e.store.Get(m.DepositItemID)
	if err != nil {
		return e.fail(ctx, m, false, err)
	}

	e.logger.Info("Settling match",
		"match_id", m.ID,
		"withdrawal_customer_id", withdrawal.CustomerID,
		"deposit_customer_id", deposit.CustomerID,
		"amount", m.Amount)

	if err := e.applyLedger(ctx, &m, &withdrawal, &deposit); err != nil {
		return e.fail(ctx, m, false, err)
	}

	completed, err := e.complete(ctx, m.ID)
	if err != nil {
		return e.fail(ctx, m, true, err)
	}

	if e.metrics != nil {
		e.metrics.SettlementCompleted()
	}
	e.notify(ctx, domain.MatchEvent(domain.EventSettlementCompleted, &completed, ""))
	e.logger.Info("Match settled", "match_id", completed.ID, "amount", completed.Amount)
	return completed, nil
}

// applyLedger writes every balance change and audit record in one ledger
// transaction. The match id is the reference; (reference, kind) is unique.
func (e *SettlementExecutor) applyLedger(ctx context.Context, m *domain.Match, withdrawal, deposit *domain.QueueItem) error {
	lctx, cancel := context.WithTimeout(ctx, e.opts.LedgerTimeout)
	defer cancel()

	reference := m.ID.String()
	return e.ledger.WithTransaction(lctx, func(ledger domain.Ledger) error {
		if e.opts.DebitWithdrawals {
			if err := ledger.Debit(lctx, withdrawal.CustomerID, m.Amount); err != nil {
				return err
			}
		}
		if _, err := ledger.RecordTransaction(lctx, withdrawal.CustomerID, m.Amount, domain.TransactionDebit, reference); err != nil {
			return err
		}
		if err := ledger.Credit(lctx, deposit.CustomerID, m.Amount); err != nil {
			return err
		}
		if _, err := ledger.RecordTransaction(lctx, deposit.CustomerID, m.Amount, domain.TransactionCredit, reference); err != nil {
			return err
		}
		return nil
	})
}

func (e *SettlementExecutor) complete(ctx context.Context, matchID uuid.UUID) (domain.Match, error) {
	var completed domain.Match
	err := e.store.Update(ctx, func(tx *queue.Tx) error {
		m, err := tx.UpdateMatch(matchID, domain.MatchCompleted, nil)
		if err != nil {
			return err
		}
		for _, id := range []uuid.UUID{m.WithdrawalItemID, m.DepositItemID} {
			if _, err := tx.UpdateStatus(id, domain.ItemCompleted, nil); err != nil {
				return err
			}
		}
		completed = m
		return nil
	})
	return completed, err
}

// fail forces the match and both items to failed and raises the operator
// alert. ledgerApplied is set when money already moved.
func (e *SettlementExecutor) fail(ctx context.Context, m domain.Match, ledgerApplied bool, cause error) (domain.Match, error) {
	reason := "settlement failed: " + cause.Error()

	failed := m
	err := e.store.Update(ctx, func(tx *queue.Tx) error {
		var err error
		failed, err = tx.UpdateMatch(m.ID, domain.MatchFailed, func(updated *domain.Match) {
			updated.Notes = reason
		})
		if err != nil {
			return err
		}
		for _, id := range []uuid.UUID{m.WithdrawalItemID, m.DepositItemID} {
			item, err := tx.Item(id)
			if err != nil || item.Status != domain.ItemProcessing {
				continue
			}
			if _, err := tx.UpdateStatus(id, domain.ItemFailed, nil); err != nil {
				return err
			}
		}
		return nil
	})

	e.logger.Error("Settlement failed",
		"match_id", m.ID,
		"withdrawal_item_id", m.WithdrawalItemID,
		"deposit_item_id", m.DepositItemID,
		"amount", m.Amount,
		"ledger_applied", ledgerApplied,
		"reconciliation_required", true,
		"error", cause)
	if err != nil {
		e.logger.Error("Failed to mark settlement as failed",
			"match_id", m.ID,
			"reconciliation_required", true,
			"error", err)
		failed = m
	}

	if e.metrics != nil {
		e.metrics.SettlementFailed()
	}
	e.notify(ctx, domain.MatchEvent(domain.EventSettlementFailed, &failed, reason))
	return failed, errors.ErrSettlement.WithDetails(cause.Error())
}

func (e *SettlementExecutor) notify(ctx context.Context, event domain.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Warn("Notification failed", "event_type", event.Type, "error", err)
	}
}

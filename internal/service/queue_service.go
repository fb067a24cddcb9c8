// Package service holds the queue's business operations. All mutations are
// funnelled through a single goroutine owned by QueueService; reads go
// straight to the store.
package service

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
	"p2p-queue/internal/matching"
	"p2p-queue/internal/metrics"
	"p2p-queue/internal/queue"
)

type Options struct {
	RescanInterval  time.Duration
	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration
	CommandBuffer   int
}

type command struct {
	ctx   context.Context
	run   func(ctx context.Context) error
	reply chan error
}

type QueueService struct {
	store      *queue.Store
	matcher    *matching.Matcher
	settlement *SettlementExecutor
	stats      *StatsReporter
	balance    domain.BalanceValidator
	notifier   domain.Notifier
	metrics    *metrics.Metrics
	validate   *validator.Validate
	opts       Options
	logger     *slog.Logger

	commands  chan command
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   chan struct{}
}

// NewQueueService wires the actor. balance may be nil to skip the
// withdrawal balance check.
func NewQueueService(
	store *queue.Store,
	matcher *matching.Matcher,
	settlement *SettlementExecutor,
	stats *StatsReporter,
	balance domain.BalanceValidator,
	notifier domain.Notifier,
	m *metrics.Metrics,
	opts Options,
	logger *slog.Logger,
) *QueueService {
	return &QueueService{
		store:      store,
		matcher:    matcher,
		settlement: settlement,
		stats:      stats,
		balance:    balance,
		notifier:   notifier,
		metrics:    m,
		validate:   newValidator(),
		opts:       opts,
		logger:     logger,
		commands:   make(chan command, opts.CommandBuffer),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		started:    make(chan struct{}),
	}
}

// Start launches the actor goroutine. Calling it more than once is a no-op.
func (s *QueueService) Start() {
	s.startOnce.Do(func() {
		select {
		case <-s.quit:
			return
		default:
		}
		close(s.started)
		go s.run()
		s.logger.Info("Queue service started",
			"rescan_interval", s.opts.RescanInterval,
			"cleanup_interval", s.opts.CleanupInterval)
	})
}

// Stop waits for the command in flight to finish. Queued commands are
// answered with ErrServiceStopped.
func (s *QueueService) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		select {
		case <-s.started:
			<-s.done
		default:
			close(s.done)
		}
		s.logger.Info("Queue service stopped")
	})
}

func (s *QueueService) run() {
	defer close(s.done)

	rescan := newTicker(s.opts.RescanInterval)
	defer rescan.Stop()
	cleanup := newTicker(s.opts.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-s.quit:
			return
		case cmd := <-s.commands:
			if err := cmd.ctx.Err(); err != nil {
				cmd.reply <- err
				continue
			}
			cmd.reply <- cmd.run(cmd.ctx)
			s.observe()
		case <-rescan.C:
			if _, err := s.rescan(context.Background()); err != nil {
				s.logger.Error("Periodic rescan failed", "error", err)
			}
			s.observe()
		case <-cleanup.C:
			s.store.Cleanup(s.opts.CleanupMaxAge)
			s.observe()
		}
	}
}

// submit runs fn on the actor goroutine and waits for its result.
func (s *QueueService) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-s.started:
	default:
		return errors.ErrServiceStopped
	}

	cmd := command{ctx: ctx, run: fn, reply: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return errors.ErrServiceStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return errors.ErrServiceStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *QueueService) observe() {
	if s.metrics != nil {
		s.metrics.Observe(s.stats.Stats())
	}
}

// Enqueue validates and stores a new item, then tries to match it in the
// same atomic update.
func (s *QueueService) Enqueue(ctx context.Context, req *EnqueueRequest) (domain.QueueItem, *domain.Match, error) {
	if err := s.validateEnqueue(req); err != nil {
		return domain.QueueItem{}, nil, err
	}
	if req.Side == domain.SideWithdrawal && s.balance != nil {
		if err := s.balance.ValidateWithdrawal(ctx, req.CustomerID, req.Amount); err != nil {
			return domain.QueueItem{}, nil, err
		}
	}

	s.logger.Info("Enqueueing item",
		"side", req.Side,
		"customer_id", req.CustomerID,
		"amount", req.Amount,
		"payment_method", req.PaymentMethod)

	var item domain.QueueItem
	var match *domain.Match
	err := s.submit(ctx, func(ctx context.Context) error {
		return s.store.Update(ctx, func(tx *queue.Tx) error {
			added, err := tx.AddItem(req.toNewItem())
			if err != nil {
				return err
			}
			m, err := s.tryMatch(tx, added.ID)
			if err != nil {
				return err
			}
			if item, err = tx.Item(added.ID); err != nil {
				return err
			}
			match = m
			return nil
		})
	})
	if err != nil {
		s.logger.Error("Failed to enqueue item", "customer_id", req.CustomerID, "error", err)
		return domain.QueueItem{}, nil, err
	}

	s.logger.Info("Item queued", "item_id", item.ID, "side", item.Side, "status", item.Status)
	s.notify(ctx, domain.ItemEvent(domain.EventItemQueued, &item))
	if match != nil {
		s.matchFound(ctx, match)
	}
	return item, match, nil
}

// tryMatch looks for a counter-item for itemID in the staged view and, if
// one is found, records the match and flips both items to matched. A pair
// that has been matched before is never offered again.
func (s *QueueService) tryMatch(tx *queue.Tx, itemID uuid.UUID) (*domain.Match, error) {
	item, err := tx.Item(itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != domain.ItemPending {
		return nil, nil
	}

	pool := tx.Items(domain.ItemFilter{
		Side:          item.Side.Opposite(),
		Status:        domain.ItemPending,
		PaymentMethod: item.PaymentMethod,
	})
	skip := func(candidate *domain.QueueItem) bool {
		return tx.HasPaired(pairOf(&item, candidate))
	}

	result, ok := s.matcher.FindBest(&item, pool, skip)
	if !ok {
		return nil, nil
	}

	pair := pairOf(&item, &result.Candidate)
	m := domain.Match{
		ID:               uuid.New(),
		WithdrawalItemID: pair.WithdrawalItemID,
		DepositItemID:    pair.DepositItemID,
		Amount:           result.Amount,
		Score:            result.Score,
		Status:           domain.MatchPending,
	}
	if err := tx.RecordMatch(m); err != nil {
		return nil, err
	}

	candidateID := result.Candidate.ID
	if _, err := tx.UpdateStatus(item.ID, domain.ItemMatched, func(i *domain.QueueItem) {
		i.MatchedWith = &candidateID
	}); err != nil {
		return nil, err
	}
	if _, err := tx.UpdateStatus(candidateID, domain.ItemMatched, func(i *domain.QueueItem) {
		i.MatchedWith = &itemID
	}); err != nil {
		return nil, err
	}

	recorded, err := tx.Match(m.ID)
	if err != nil {
		return nil, err
	}
	return &recorded, nil
}

func pairOf(a, b *domain.QueueItem) domain.PairKey {
	if a.Side == domain.SideWithdrawal {
		return domain.PairKey{WithdrawalItemID: a.ID, DepositItemID: b.ID}
	}
	return domain.PairKey{WithdrawalItemID: b.ID, DepositItemID: a.ID}
}

func (s *QueueService) matchFound(ctx context.Context, m *domain.Match) {
	s.logger.Info("Match found",
		"match_id", m.ID,
		"withdrawal_item_id", m.WithdrawalItemID,
		"deposit_item_id", m.DepositItemID,
		"amount", m.Amount,
		"score", m.Score)
	if s.metrics != nil {
		s.metrics.MatchCreated()
	}
	s.notify(ctx, domain.MatchEvent(domain.EventMatchFound, m, ""))
}

// Rescan retries matching for every pending item, oldest first. Each
// successful match is its own atomic update.
func (s *QueueService) Rescan(ctx context.Context) (int, error) {
	var created int
	err := s.submit(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.rescan(ctx)
		return err
	})
	return created, err
}

// rescan keeps going past an item that fails to update; the failures are
// returned joined.
func (s *QueueService) rescan(ctx context.Context) (int, error) {
	created := 0
	var errs []error
	for item := range s.store.List(domain.ItemFilter{Status: domain.ItemPending}) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var match *domain.Match
		err := s.store.Update(ctx, func(tx *queue.Tx) error {
			var err error
			match, err = s.tryMatch(tx, item.ID)
			return err
		})
		if err != nil {
			s.logger.Warn("Rescan skipped item", "item_id", item.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if match != nil {
			created++
			s.matchFound(ctx, match)
		}
	}
	if created > 0 {
		s.logger.Info("Rescan created matches", "matches", created)
	}
	return created, errors.Join(errs...)
}

// Approve moves a pending match and its items to processing and settles it.
// A settlement failure is returned together with the failed match.
func (s *QueueService) Approve(ctx context.Context, matchID uuid.UUID) (domain.Match, error) {
	var result domain.Match
	err := s.submit(ctx, func(ctx context.Context) error {
		var approved domain.Match
		err := s.store.Update(ctx, func(tx *queue.Tx) error {
			m, err := tx.Match(matchID)
			if err != nil {
				return err
			}
			if m.Status != domain.MatchPending {
				return errors.ErrInvalidState.WithDetails("match " + matchID.String() + " is " + string(m.Status))
			}
			if approved, err = tx.UpdateMatch(matchID, domain.MatchProcessing, nil); err != nil {
				return err
			}
			for _, id := range []uuid.UUID{m.WithdrawalItemID, m.DepositItemID} {
				if _, err := tx.UpdateStatus(id, domain.ItemProcessing, nil); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.logger.Info("Match approved", "match_id", matchID)
		s.notify(ctx, domain.MatchEvent(domain.EventMatchApproved, &approved, ""))

		result, err = s.settlement.Settle(ctx, matchID)
		return err
	})
	return result, err
}

// Reject fails a pending match and returns both items to the pool. The pair
// stays excluded from future matching.
func (s *QueueService) Reject(ctx context.Context, matchID uuid.UUID, reason string) (domain.Match, error) {
	if reason == "" {
		reason = "rejected by administrator"
	}
	if len(reason) > maxNotesLength {
		return domain.Match{}, errors.Validation("invalid reason: longer than %d characters", maxNotesLength)
	}

	var rejected domain.Match
	err := s.submit(ctx, func(ctx context.Context) error {
		return s.store.Update(ctx, func(tx *queue.Tx) error {
			m, err := tx.Match(matchID)
			if err != nil {
				return err
			}
			if m.Status != domain.MatchPending {
				return errors.ErrInvalidState.WithDetails("match " + matchID.String() + " is " + string(m.Status))
			}
			if rejected, err = tx.UpdateMatch(matchID, domain.MatchFailed, func(updated *domain.Match) {
				updated.Notes = reason
			}); err != nil {
				return err
			}
			return releaseItems(tx, m.WithdrawalItemID, m.DepositItemID)
		})
	})
	if err != nil {
		return domain.Match{}, err
	}

	s.logger.Info("Match rejected", "match_id", matchID, "reason", reason)
	s.notify(ctx, domain.MatchEvent(domain.EventMatchRejected, &rejected, reason))
	return rejected, nil
}

func releaseItems(tx *queue.Tx, ids ...uuid.UUID) error {
	for _, id := range ids {
		if _, err := tx.UpdateStatus(id, domain.ItemPending, func(i *domain.QueueItem) {
			i.MatchedWith = nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Cancel withdraws a pending or matched item. Cancelling a matched item
// fails its pending match and returns the partner to pending.
func (s *QueueService) Cancel(ctx context.Context, itemID uuid.UUID) (domain.QueueItem, error) {
	var cancelled domain.QueueItem
	var failedMatch *domain.Match
	err := s.submit(ctx, func(ctx context.Context) error {
		return s.store.Update(ctx, func(tx *queue.Tx) error {
			item, err := tx.Item(itemID)
			if err != nil {
				return err
			}
			if item.Status == domain.ItemMatched {
				if m, ok := tx.ActiveMatchFor(itemID); ok && m.Status == domain.MatchPending {
					failed, err := tx.UpdateMatch(m.ID, domain.MatchFailed, func(updated *domain.Match) {
						updated.Notes = "item cancelled"
					})
					if err != nil {
						return err
					}
					partner := m.DepositItemID
					if partner == itemID {
						partner = m.WithdrawalItemID
					}
					if err := releaseItems(tx, partner); err != nil {
						return err
					}
					failedMatch = &failed
				}
			}
			cancelled, err = tx.UpdateStatus(itemID, domain.ItemCancelled, func(i *domain.QueueItem) {
				i.MatchedWith = nil
			})
			return err
		})
	})
	if err != nil {
		return domain.QueueItem{}, err
	}

	s.logger.Info("Item cancelled", "item_id", itemID)
	s.notify(ctx, domain.ItemEvent(domain.EventItemCancelled, &cancelled))
	if failedMatch != nil {
		s.notify(ctx, domain.MatchEvent(domain.EventMatchRejected, failedMatch, failedMatch.Notes))
	}
	return cancelled, nil
}

// UpdateMetadata edits notes and/or priority. Side, customer and amount are
// immutable after creation.
func (s *QueueService) UpdateMetadata(ctx context.Context, itemID uuid.UUID, meta domain.ItemMetadata) (domain.QueueItem, error) {
	if err := validateMetadata(meta); err != nil {
		return domain.QueueItem{}, err
	}

	var updated domain.QueueItem
	err := s.submit(ctx, func(ctx context.Context) error {
		return s.store.Update(ctx, func(tx *queue.Tx) error {
			var err error
			updated, err = tx.UpdateMetadata(itemID, meta)
			return err
		})
	})
	if err != nil {
		return domain.QueueItem{}, err
	}

	s.logger.Info("Item metadata updated", "item_id", itemID)
	return updated, nil
}

// Cleanup drops old terminal records from the working set.
func (s *QueueService) Cleanup(ctx context.Context, maxAge time.Duration) (items, matches int, err error) {
	err = s.submit(ctx, func(context.Context) error {
		items, matches = s.store.Cleanup(maxAge)
		return nil
	})
	return items, matches, err
}

func (s *QueueService) Get(id uuid.UUID) (domain.QueueItem, error) {
	return s.store.Get(id)
}

func (s *QueueService) GetMatch(id uuid.UUID) (domain.Match, error) {
	return s.store.GetMatch(id)
}

func (s *QueueService) List(filter domain.ItemFilter) iter.Seq[domain.QueueItem] {
	return s.store.List(filter)
}

func (s *QueueService) ListMatches(filter domain.MatchFilter) iter.Seq[domain.Match] {
	return s.store.ListMatches(filter)
}

func (s *QueueService) Stats() domain.QueueStats {
	return s.stats.Stats()
}

func (s *QueueService) notify(ctx context.Context, event domain.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("Notification failed", "event_type", event.Type, "error", err)
	}
}

// newTicker returns a ticker that never fires for a non-positive interval.
func newTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		t := time.NewTicker(time.Hour)
		t.Stop()
		return t
	}
	return time.NewTicker(d)
}

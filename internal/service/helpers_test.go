package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
	"p2p-queue/internal/matching"
	"p2p-queue/internal/metrics"
	"p2p-queue/internal/queue"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakePersister struct {
	mu   sync.Mutex
	err  error
	sets []*queue.Changeset
}

// Persist fails on a done context the way BeginTx does.
func (p *fakePersister) Persist(ctx context.Context, cs *queue.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sets = append(p.sets, cs)
	return nil
}

func (p *fakePersister) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// fakeLedger keeps balances in memory. WithTransaction restores the previous
// state when fn fails.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	txns     []domain.LedgerTransaction
	failOn   domain.TransactionKind
	// onBegin runs at the start of every WithTransaction.
	onBegin func()
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]decimal.Decimal)}
}

func (l *fakeLedger) Credit(_ context.Context, customerID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failOn == domain.TransactionCredit {
		return errors.ErrPersistence.WithDetails("ledger unavailable")
	}
	l.balances[customerID] = l.balances[customerID].Add(amount)
	return nil
}

func (l *fakeLedger) Debit(_ context.Context, customerID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failOn == domain.TransactionDebit {
		return errors.ErrPersistence.WithDetails("ledger unavailable")
	}
	if l.balances[customerID].LessThan(amount) {
		return errors.ErrInsufficientBalance
	}
	l.balances[customerID] = l.balances[customerID].Sub(amount)
	return nil
}

func (l *fakeLedger) RecordTransaction(_ context.Context, customerID string, amount decimal.Decimal, kind domain.TransactionKind, reference string) (*domain.LedgerTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, txn := range l.txns {
		if txn.Reference == reference && txn.Kind == kind {
			return nil, errors.ErrDuplicateTransaction
		}
	}
	txn := domain.LedgerTransaction{
		ID:         uuid.New(),
		CustomerID: customerID,
		Amount:     amount,
		Kind:       kind,
		Reference:  reference,
		CreatedAt:  time.Now(),
	}
	l.txns = append(l.txns, txn)
	return &txn, nil
}

func (l *fakeLedger) Balance(_ context.Context, customerID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[customerID], nil
}

func (l *fakeLedger) WithTransaction(ctx context.Context, fn func(ledger domain.Ledger) error) error {
	if l.onBegin != nil {
		l.onBegin()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	balances := make(map[string]decimal.Decimal, len(l.balances))
	for k, v := range l.balances {
		balances[k] = v
	}
	txns := len(l.txns)
	l.mu.Unlock()

	if err := fn(l); err != nil {
		l.mu.Lock()
		l.balances = balances
		l.txns = l.txns[:txns]
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *fakeLedger) transactions(reference string) []domain.LedgerTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.LedgerTransaction
	for _, txn := range l.txns {
		if txn.Reference == reference {
			out = append(out, txn)
		}
	}
	return out
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, event domain.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func eventOfType(t domain.EventType) interface{} {
	return mock.MatchedBy(func(e domain.Event) bool { return e.Type == t })
}

type fixture struct {
	service   *QueueService
	store     *queue.Store
	persister *fakePersister
	ledger    *fakeLedger
	notifier  *mockNotifier
	metrics   *metrics.Metrics
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	balanceCheck     bool
	debitWithdrawals bool
}

func withBalanceCheck() fixtureOption {
	return func(c *fixtureConfig) { c.balanceCheck = true }
}

func withDebitWithdrawals() fixtureOption {
	return func(c *fixtureConfig) { c.debitWithdrawals = true }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	var cfg fixtureConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	persister := &fakePersister{}
	store := queue.NewStore(persister, queue.Options{}, testLogger)
	ledger := newFakeLedger()
	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()
	m := metrics.New(prometheus.NewRegistry())

	var balance domain.BalanceValidator
	if cfg.balanceCheck {
		balance = NewLedgerBalanceValidator(ledger, testLogger)
	}

	settlement := NewSettlementExecutor(store, ledger, notifier, m, SettlementOptions{
		DebitWithdrawals: cfg.debitWithdrawals,
	}, testLogger)
	svc := NewQueueService(
		store,
		matching.NewMatcher(),
		settlement,
		NewStatsReporter(store, nil),
		balance,
		notifier,
		m,
		Options{CommandBuffer: 16, CleanupMaxAge: time.Hour},
		testLogger,
	)
	svc.Start()
	t.Cleanup(svc.Stop)

	return &fixture{
		service:   svc,
		store:     store,
		persister: persister,
		ledger:    ledger,
		notifier:  notifier,
		metrics:   m,
	}
}

func request(side domain.Side, customerID string, amount int64) *EnqueueRequest {
	return &EnqueueRequest{
		Side:          side,
		CustomerID:    customerID,
		Amount:        decimal.NewFromInt(amount),
		PaymentMethod: "bank_transfer",
	}
}

func (f *fixture) enqueue(t *testing.T, side domain.Side, customerID string, amount int64) (domain.QueueItem, *domain.Match) {
	t.Helper()
	item, match, err := f.service.Enqueue(context.Background(), request(side, customerID, amount))
	require.NoError(t, err)
	return item, match
}

// matched enqueues a deposit then a withdrawal that pairs with it.
func (f *fixture) matched(t *testing.T, withdrawal, deposit int64) (domain.QueueItem, domain.QueueItem, domain.Match) {
	t.Helper()
	d, m := f.enqueue(t, domain.SideDeposit, "depositor", deposit)
	require.Nil(t, m)
	w, m := f.enqueue(t, domain.SideWithdrawal, "withdrawer", withdrawal)
	require.NotNil(t, m)
	return w, d, *m
}

func (f *fixture) item(t *testing.T, id uuid.UUID) domain.QueueItem {
	t.Helper()
	item, err := f.store.Get(id)
	require.NoError(t, err)
	return item
}

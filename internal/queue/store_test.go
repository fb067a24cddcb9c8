package queue

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
)

type fakePersister struct {
	mu         sync.Mutex
	changesets []*Changeset
	err        error
}

func (p *fakePersister) Persist(ctx context.Context, cs *Changeset) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.changesets = append(p.changesets, cs)
	return nil
}

func (p *fakePersister) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakePersister, *clock) {
	t.Helper()
	p := &fakePersister{}
	c := &clock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(p, Options{PersistTimeout: time.Second, Now: c.Now}, logger), p, c
}

func newItem(side domain.Side, amount int64) domain.NewItem {
	return domain.NewItem{
		Side:          side,
		CustomerID:    "cust-" + string(side),
		Amount:        decimal.NewFromInt(amount),
		PaymentMethod: "bank_transfer",
	}
}

func TestAddAssignsIDAndPendingStatus(t *testing.T) {
	s, p, c := newTestStore(t)
	ctx := context.Background()

	a, err := s.Add(ctx, newItem(domain.SideWithdrawal, 100))
	require.NoError(t, err)
	b, err := s.Add(ctx, newItem(domain.SideWithdrawal, 100))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, domain.ItemPending, a.Status)
	assert.Equal(t, c.Now(), a.CreatedAt)
	require.Len(t, p.changesets, 2)
	assert.Equal(t, a.ID, p.changesets[0].NewItems[0].ID)

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestGetUnknownItem(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.Get(uuid.New())
	assert.True(t, errors.Is(err, errors.ErrItemNotFound))

	_, err = s.GetMatch(uuid.New())
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))
}

func TestPersistenceFailureLeavesStateUnchanged(t *testing.T) {
	s, p, _ := newTestStore(t)
	ctx := context.Background()

	item, err := s.Add(ctx, newItem(domain.SideDeposit, 100))
	require.NoError(t, err)

	p.fail(stderrors.New("connection reset"))

	_, err = s.Add(ctx, newItem(domain.SideDeposit, 200))
	assert.True(t, errors.Is(err, errors.ErrPersistence))

	_, err = s.UpdateStatus(ctx, item.ID, domain.ItemCancelled, nil)
	assert.True(t, errors.Is(err, errors.ErrPersistence))

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemPending, got.Status)
	assert.Len(t, slices.Collect(s.List(domain.ItemFilter{})), 1)
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	s, p, _ := newTestStore(t)
	ctx := context.Background()

	item, err := s.Add(ctx, newItem(domain.SideDeposit, 100))
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, item.ID, domain.ItemCompleted, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	_, err = s.UpdateStatus(ctx, item.ID, domain.ItemCancelled, nil)
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, item.ID, domain.ItemPending, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition), "cancelled is terminal")

	assert.Len(t, p.changesets, 2)
	assert.Equal(t, domain.ItemPending, p.changesets[1].ItemUpdates[0].PrevStatus)
}

func TestUpdateStatusKeepsImmutableFields(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	item, err := s.Add(ctx, newItem(domain.SideDeposit, 100))
	require.NoError(t, err)

	updated, err := s.UpdateStatus(ctx, item.ID, domain.ItemCancelled, func(i *domain.QueueItem) {
		i.Amount = decimal.NewFromInt(1)
		i.CustomerID = "someone-else"
		i.Notes = "cancelled by admin"
	})
	require.NoError(t, err)

	assert.True(t, updated.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, item.CustomerID, updated.CustomerID)
	assert.Equal(t, "cancelled by admin", updated.Notes)
}

func TestListFiltersAndOrdersByCreatedAt(t *testing.T) {
	s, _, c := newTestStore(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for _, amount := range []int64{300, 100, 200} {
		item, err := s.Add(ctx, newItem(domain.SideDeposit, amount))
		require.NoError(t, err)
		ids = append(ids, item.ID)
		c.Advance(time.Second)
	}
	_, err := s.Add(ctx, newItem(domain.SideWithdrawal, 100))
	require.NoError(t, err)

	floor := decimal.NewFromInt(150)
	got := slices.Collect(s.List(domain.ItemFilter{Side: domain.SideDeposit, MinAmount: &floor}))
	require.Len(t, got, 2)
	assert.Equal(t, ids[0], got[0].ID)
	assert.Equal(t, ids[2], got[1].ID)
}

func TestListSnapshotIsNotRestartable(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.Add(context.Background(), newItem(domain.SideDeposit, 100))
	require.NoError(t, err)

	seq := s.List(domain.ItemFilter{})
	assert.Len(t, slices.Collect(seq), 1)
	assert.Empty(t, slices.Collect(seq))
}

func matchPair(t *testing.T, s *Store) (domain.QueueItem, domain.QueueItem, domain.Match) {
	t.Helper()
	ctx := context.Background()
	w, err := s.Add(ctx, newItem(domain.SideWithdrawal, 100))
	require.NoError(t, err)
	d, err := s.Add(ctx, newItem(domain.SideDeposit, 100))
	require.NoError(t, err)

	m := domain.Match{ID: uuid.New(), WithdrawalItemID: w.ID, DepositItemID: d.ID, Amount: w.Amount, Score: 120}
	err = s.Update(ctx, func(tx *Tx) error {
		if err := tx.RecordMatch(m); err != nil {
			return err
		}
		if _, err := tx.UpdateStatus(w.ID, domain.ItemMatched, func(i *domain.QueueItem) { i.MatchedWith = &d.ID }); err != nil {
			return err
		}
		_, err := tx.UpdateStatus(d.ID, domain.ItemMatched, func(i *domain.QueueItem) { i.MatchedWith = &w.ID })
		return err
	})
	require.NoError(t, err)
	return w, d, m
}

func TestUpdateIsAtomic(t *testing.T) {
	s, p, _ := newTestStore(t)
	w, d, m := matchPair(t, s)

	cs := p.changesets[len(p.changesets)-1]
	assert.Len(t, cs.NewMatches, 1)
	assert.Len(t, cs.ItemUpdates, 2)

	// A failing step inside the callback discards the staged match and status changes.
	err := s.Update(context.Background(), func(tx *Tx) error {
		if _, err := tx.UpdateMatch(m.ID, domain.MatchProcessing, nil); err != nil {
			return err
		}
		_, err := tx.UpdateStatus(w.ID, domain.ItemCompleted, nil)
		return err
	})
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	got, _ := s.GetMatch(m.ID)
	assert.Equal(t, domain.MatchPending, got.Status)
	gotD, _ := s.Get(d.ID)
	assert.Equal(t, w.ID, *gotD.MatchedWith)
}

func TestRecordMatchOncePerPair(t *testing.T) {
	s, _, _ := newTestStore(t)
	w, d, _ := matchPair(t, s)

	err := s.RecordMatch(context.Background(), domain.Match{WithdrawalItemID: w.ID, DepositItemID: d.ID, Amount: w.Amount})
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestRecordMatchRequiresOppositeSides(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Add(ctx, newItem(domain.SideDeposit, 100))
	b, _ := s.Add(ctx, newItem(domain.SideDeposit, 100))

	err := s.RecordMatch(ctx, domain.Match{WithdrawalItemID: a.ID, DepositItemID: b.ID, Amount: a.Amount})
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestUpdateMatchSetsCompletedAtOnTerminal(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, _, m := matchPair(t, s)
	ctx := context.Background()

	processing, err := s.UpdateMatch(ctx, m.ID, domain.MatchProcessing, nil)
	require.NoError(t, err)
	assert.Nil(t, processing.CompletedAt)

	completed, err := s.UpdateMatch(ctx, m.ID, domain.MatchCompleted, nil)
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)

	_, err = s.UpdateMatch(ctx, m.ID, domain.MatchCompleted, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestCleanupNeverRemovesNonTerminal(t *testing.T) {
	s, _, c := newTestStore(t)
	ctx := context.Background()

	pending, _ := s.Add(ctx, newItem(domain.SideDeposit, 100))
	w, d, m := matchPair(t, s)
	cancelled, _ := s.Add(ctx, newItem(domain.SideWithdrawal, 50))
	_, err := s.UpdateStatus(ctx, cancelled.ID, domain.ItemCancelled, nil)
	require.NoError(t, err)

	c.Advance(30 * 24 * time.Hour)
	items, matches := s.Cleanup(time.Hour)

	assert.Equal(t, 1, items)
	assert.Equal(t, 0, matches)
	for _, id := range []uuid.UUID{pending.ID, w.ID, d.ID} {
		_, err := s.Get(id)
		assert.NoError(t, err)
	}
	_, err = s.GetMatch(m.ID)
	assert.NoError(t, err)
	_, err = s.Get(cancelled.ID)
	assert.True(t, errors.Is(err, errors.ErrItemNotFound))
}

func TestCleanupKeepsRecentTerminalRecords(t *testing.T) {
	s, _, c := newTestStore(t)
	ctx := context.Background()

	item, _ := s.Add(ctx, newItem(domain.SideDeposit, 100))
	_, err := s.UpdateStatus(ctx, item.ID, domain.ItemCancelled, nil)
	require.NoError(t, err)

	c.Advance(time.Minute)
	removed, _ := s.Cleanup(time.Hour)
	assert.Zero(t, removed)
}

func TestRejectedPairStaysExcludedAfterMatchCleanup(t *testing.T) {
	s, _, c := newTestStore(t)
	ctx := context.Background()
	w, d, m := matchPair(t, s)

	err := s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.UpdateMatch(m.ID, domain.MatchFailed, nil); err != nil {
			return err
		}
		for _, id := range []uuid.UUID{w.ID, d.ID} {
			if _, err := tx.UpdateStatus(id, domain.ItemPending, func(i *domain.QueueItem) { i.MatchedWith = nil }); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	c.Advance(48 * time.Hour)
	_, removedMatches := s.Cleanup(time.Hour)
	assert.Equal(t, 1, removedMatches)

	err = s.Update(ctx, func(tx *Tx) error {
		assert.True(t, tx.HasPaired(domain.PairKey{WithdrawalItemID: w.ID, DepositItemID: d.ID}))
		return nil
	})
	require.NoError(t, err)
}

func TestRestoreSeedsWorkingSet(t *testing.T) {
	s, _, _ := newTestStore(t)
	w := domain.QueueItem{ID: uuid.New(), Side: domain.SideWithdrawal, Status: domain.ItemMatched, Amount: decimal.NewFromInt(10)}
	d := domain.QueueItem{ID: uuid.New(), Side: domain.SideDeposit, Status: domain.ItemMatched, Amount: decimal.NewFromInt(10)}
	m := domain.Match{ID: uuid.New(), WithdrawalItemID: w.ID, DepositItemID: d.ID, Status: domain.MatchPending}

	s.Restore([]domain.QueueItem{w, d}, []domain.Match{m})

	got, err := s.GetMatch(m.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.WithdrawalItemID)
	assert.Len(t, slices.Collect(s.ListMatches(domain.MatchFilter{Status: domain.MatchPending})), 1)
}

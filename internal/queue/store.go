// Package queue holds the working set of queue items and matches. Every
// mutation goes through Update, which stages changes, writes them through to
// the Persister and only then commits them in memory.
package queue

import (
	"cmp"
	"context"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
)

const defaultPersistTimeout = 5 * time.Second

type Options struct {
	PersistTimeout time.Duration
	Now            func() time.Time
}

type Store struct {
	persister Persister
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger

	// writeMu serialises Update and Cleanup; mu guards the maps for readers.
	writeMu sync.Mutex
	mu      sync.RWMutex
	items   map[uuid.UUID]*domain.QueueItem
	matches map[uuid.UUID]*domain.Match
	pairs   map[domain.PairKey]uuid.UUID
}

func NewStore(persister Persister, opts Options, logger *slog.Logger) *Store {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		persister: persister,
		timeout:   opts.PersistTimeout,
		now:       opts.Now,
		logger:    logger,
		items:     make(map[uuid.UUID]*domain.QueueItem),
		matches:   make(map[uuid.UUID]*domain.Match),
		pairs:     make(map[domain.PairKey]uuid.UUID),
	}
}

// Restore seeds the working set from durable storage at startup.
func (s *Store) Restore(items []domain.QueueItem, matches []domain.Match) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		c := item.Clone()
		s.items[c.ID] = &c
	}
	for _, m := range matches {
		c := m.Clone()
		s.matches[c.ID] = &c
		s.pairs[c.Pair()] = c.ID
	}
	s.logger.Info("Queue working set restored", "items", len(items), "matches", len(matches))
}

// Update runs fn against a staged view of the store. If fn fails nothing is
// written; if persistence fails the in-memory state is left untouched.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := newTx(s)
	if err := fn(tx); err != nil {
		return err
	}

	cs := tx.changeset()
	if cs.Empty() {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.persister.Persist(pctx, cs); err != nil {
		s.logger.Error("Failed to persist queue changeset",
			"new_items", len(cs.NewItems),
			"item_updates", len(cs.ItemUpdates),
			"new_matches", len(cs.NewMatches),
			"match_updates", len(cs.MatchUpdates),
			"error", err)
		var appErr *errors.AppError
		if errors.As(err, &appErr) && appErr.Code == errors.PersistenceFailed {
			return appErr
		}
		return errors.ErrPersistence.WithDetails(err.Error())
	}

	s.mu.Lock()
	for id, item := range tx.items {
		s.items[id] = item
	}
	for id, m := range tx.matches {
		s.matches[id] = m
		s.pairs[m.Pair()] = id
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) Add(ctx context.Context, n domain.NewItem) (domain.QueueItem, error) {
	var added domain.QueueItem
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		added, err = tx.AddItem(n)
		return err
	})
	return added, err
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, next domain.ItemStatus, apply func(item *domain.QueueItem)) (domain.QueueItem, error) {
	var updated domain.QueueItem
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		updated, err = tx.UpdateStatus(id, next, apply)
		return err
	})
	return updated, err
}

func (s *Store) RecordMatch(ctx context.Context, m domain.Match) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.RecordMatch(m)
	})
}

func (s *Store) UpdateMatch(ctx context.Context, id uuid.UUID, next domain.MatchStatus, apply func(m *domain.Match)) (domain.Match, error) {
	var updated domain.Match
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		updated, err = tx.UpdateMatch(id, next, apply)
		return err
	})
	return updated, err
}

func (s *Store) Get(id uuid.UUID) (domain.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return domain.QueueItem{}, errors.ErrItemNotFound
	}
	return item.Clone(), nil
}

func (s *Store) GetMatch(id uuid.UUID) (domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return domain.Match{}, errors.ErrMatchNotFound
	}
	return m.Clone(), nil
}

// List returns a snapshot of the items passing filter, oldest first. The
// sequence is taken at call time and yields each item once.
func (s *Store) List(filter domain.ItemFilter) iter.Seq[domain.QueueItem] {
	s.mu.RLock()
	snapshot := make([]domain.QueueItem, 0, len(s.items))
	for _, item := range s.items {
		if filter.Matches(item) {
			snapshot = append(snapshot, item.Clone())
		}
	}
	s.mu.RUnlock()

	sortItems(snapshot)
	return once(snapshot)
}

func (s *Store) ListMatches(filter domain.MatchFilter) iter.Seq[domain.Match] {
	s.mu.RLock()
	snapshot := make([]domain.Match, 0, len(s.matches))
	for _, m := range s.matches {
		if filter.Matches(m) {
			snapshot = append(snapshot, m.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(snapshot, func(a, b domain.Match) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return once(snapshot)
}

// Snapshot copies the whole working set under one read lock.
func (s *Store) Snapshot() ([]domain.QueueItem, []domain.Match) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.QueueItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item.Clone())
	}
	matches := make([]domain.Match, 0, len(s.matches))
	for _, m := range s.matches {
		matches = append(matches, m.Clone())
	}
	return items, matches
}

// Cleanup drops terminal items and matches whose last update is older than
// maxAge from the working set. Durable rows are kept for audit.
func (s *Store) Cleanup(maxAge time.Duration) (removedItems, removedMatches int) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	for id, item := range s.items {
		if item.Status.IsTerminal() && item.UpdatedAt.Before(cutoff) {
			delete(s.items, id)
			removedItems++
		}
	}
	for id, m := range s.matches {
		if m.Status.IsTerminal() && m.UpdatedAt.Before(cutoff) {
			delete(s.matches, id)
			removedMatches++
		}
	}
	// A pair is only needed while both of its items can still be matched.
	for pair := range s.pairs {
		_, wok := s.items[pair.WithdrawalItemID]
		_, dok := s.items[pair.DepositItemID]
		if !wok || !dok {
			delete(s.pairs, pair)
		}
	}

	if removedItems > 0 || removedMatches > 0 {
		s.logger.Info("Queue cleanup completed", "removed_items", removedItems, "removed_matches", removedMatches, "max_age", maxAge)
	}
	return removedItems, removedMatches
}

func sortItems(items []domain.QueueItem) {
	slices.SortFunc(items, func(a, b domain.QueueItem) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}

// once yields from a private snapshot and cannot be replayed.
func once[T any](snapshot []T) iter.Seq[T] {
	var mu sync.Mutex
	consumed := false
	return func(yield func(T) bool) {
		mu.Lock()
		if consumed {
			mu.Unlock()
			return
		}
		consumed = true
		mu.Unlock()

		for _, v := range snapshot {
			if !yield(v) {
				return
			}
		}
	}
}

package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
)

// Store provides a unified interface for all repository operations with transaction support
type Store struct {
	executor SQLExecutor
	logger   *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		executor: db,
		logger:   logger,
	}
}

// Items returns a QueueItemRepository using the current executor
func (s *Store) Items() *QueueItemRepository {
	return NewQueueItemRepository(s.executor, s.logger)
}

// Matches returns a MatchRepository using the current executor
func (s *Store) Matches() *MatchRepository {
	return NewMatchRepository(s.executor, s.logger)
}

// Ledger returns the balance/ledger collaborator bound to this store
func (s *Store) Ledger() domain.Ledger {
	return &LedgerRepository{store: s}
}

// WithTransaction executes a function within a database transaction.
// Nested calls reuse the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(*Store) error) error {
	if _, inTx := s.executor.(*sql.Tx); inTx {
		return fn(s)
	}

	// Only sql.DB can begin transactions
	db, ok := s.executor.(DB)
	if !ok {
		return errors.ErrCannotBeginTransaction
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.ErrPersistence.WithDetails(err.Error())
	}

	txStore := &Store{
		executor: tx,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.ErrPersistence.WithDetails(err.Error())
	}
	return nil
}

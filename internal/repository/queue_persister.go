package repository

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
	"p2p-queue/internal/queue"
)

// QueuePersister writes queue changesets to Postgres. Each changeset is one
// transaction: touched rows are locked in id order and checked against the
// status the in-memory store expected before anything is written.
type QueuePersister struct {
	store *Store
}

var _ queue.Persister = (*QueuePersister)(nil)

func NewQueuePersister(store *Store) *QueuePersister {
	return &QueuePersister{store: store}
}

func (p *QueuePersister) Persist(ctx context.Context, cs *queue.Changeset) error {
	if cs.Empty() {
		return nil
	}

	return p.store.WithTransaction(ctx, func(txStore *Store) error {
		items := txStore.Items()
		matches := txStore.Matches()

		if len(cs.ItemUpdates) > 0 {
			if err := p.verifyItemStatuses(ctx, items, cs.ItemUpdates); err != nil {
				return err
			}
		}

		for i := range cs.NewItems {
			if err := items.Insert(ctx, &cs.NewItems[i]); err != nil {
				return err
			}
		}
		for i := range cs.ItemUpdates {
			u := &cs.ItemUpdates[i]
			if err := items.UpdateIfStatus(ctx, &u.Item, u.PrevStatus); err != nil {
				return err
			}
		}
		for i := range cs.NewMatches {
			if err := matches.Insert(ctx, &cs.NewMatches[i]); err != nil {
				return err
			}
		}
		for i := range cs.MatchUpdates {
			u := &cs.MatchUpdates[i]
			if err := matches.UpdateIfStatus(ctx, &u.Match, u.PrevStatus); err != nil {
				return err
			}
		}

		p.store.logger.Debug("Queue changeset persisted",
			"new_items", len(cs.NewItems),
			"item_updates", len(cs.ItemUpdates),
			"new_matches", len(cs.NewMatches),
			"match_updates", len(cs.MatchUpdates),
		)
		return nil
	})
}

func (p *QueuePersister) verifyItemStatuses(ctx context.Context, items *QueueItemRepository, updates []queue.ItemUpdate) error {
	ids := make([]uuid.UUID, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.Item.ID)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})

	statuses, err := items.LockForUpdate(ctx, ids)
	if err != nil {
		return err
	}

	for _, u := range updates {
		current, ok := statuses[u.Item.ID]
		if !ok {
			return errors.ErrPersistence.WithDetails("queue item " + u.Item.ID.String() + " does not exist")
		}
		if current != u.PrevStatus {
			p.store.logger.Warn("Queue item status conflict",
				"item_id", u.Item.ID,
				"expected_status", u.PrevStatus,
				"actual_status", current,
			)
			return errors.ErrPersistence.WithDetails("queue item " + u.Item.ID.String() + " is " + string(current))
		}
	}
	return nil
}

// LoadWorkingSet reads what the in-memory store needs at startup: every
// active item, terminal items younger than retention, and every match that
// references a loaded item so previously tried pairs stay excluded.
func (p *QueuePersister) LoadWorkingSet(ctx context.Context, retention time.Duration) ([]domain.QueueItem, []domain.Match, error) {
	items, err := p.store.Items().ListWorkingSet(ctx, time.Now().Add(-retention))
	if err != nil {
		return nil, nil, err
	}

	ids := make([]uuid.UUID, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}

	matches, err := p.store.Matches().ListForItems(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	p.store.logger.Info("Queue working set loaded", "items", len(items), "matches", len(matches))
	return items, matches, nil
}

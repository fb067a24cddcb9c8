package queue

import (
	"context"

	"p2p-queue/internal/domain"
)

// ItemUpdate carries the new row and the status it is expected to replace.
type ItemUpdate struct {
	Item       domain.QueueItem
	PrevStatus domain.ItemStatus
}

type MatchUpdate struct {
	Match      domain.Match
	PrevStatus domain.MatchStatus
}

// Changeset is everything one Store.Update wrote. It must be persisted atomically.
type Changeset struct {
	NewItems     []domain.QueueItem
	ItemUpdates  []ItemUpdate
	NewMatches   []domain.Match
	MatchUpdates []MatchUpdate
}

func (c *Changeset) Empty() bool {
	return len(c.NewItems) == 0 && len(c.ItemUpdates) == 0 && len(c.NewMatches) == 0 && len(c.MatchUpdates) == 0
}

// Persister is the durable side of the store. The in-memory state is only
// committed after Persist returns nil.
type Persister interface {
	Persist(ctx context.Context, cs *Changeset) error
}

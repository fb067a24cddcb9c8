package queue

import (
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/errors"
)

// Tx is a staged view of the store handed to Update callbacks. Reads see
// staged writes; nothing is visible to other readers until Update commits.
type Tx struct {
	s   *Store
	now time.Time

	items      map[uuid.UUID]*domain.QueueItem
	itemOrder  []uuid.UUID
	itemPrev   map[uuid.UUID]domain.ItemStatus
	matches    map[uuid.UUID]*domain.Match
	matchOrder []uuid.UUID
	matchPrev  map[uuid.UUID]domain.MatchStatus
}

func newTx(s *Store) *Tx {
	return &Tx{
		s:         s,
		now:       s.now().UTC(),
		items:     make(map[uuid.UUID]*domain.QueueItem),
		itemPrev:  make(map[uuid.UUID]domain.ItemStatus),
		matches:   make(map[uuid.UUID]*domain.Match),
		matchPrev: make(map[uuid.UUID]domain.MatchStatus),
	}
}

// Now is the timestamp stamped on every row written by this Tx.
func (tx *Tx) Now() time.Time {
	return tx.now
}

func (tx *Tx) lookupItem(id uuid.UUID) (*domain.QueueItem, bool) {
	if item, ok := tx.items[id]; ok {
		return item, true
	}
	item, ok := tx.s.items[id]
	return item, ok
}

func (tx *Tx) lookupMatch(id uuid.UUID) (*domain.Match, bool) {
	if m, ok := tx.matches[id]; ok {
		return m, true
	}
	m, ok := tx.s.matches[id]
	return m, ok
}

func (tx *Tx) Item(id uuid.UUID) (domain.QueueItem, error) {
	item, ok := tx.lookupItem(id)
	if !ok {
		return domain.QueueItem{}, errors.ErrItemNotFound
	}
	return item.Clone(), nil
}

func (tx *Tx) Match(id uuid.UUID) (domain.Match, error) {
	m, ok := tx.lookupMatch(id)
	if !ok {
		return domain.Match{}, errors.ErrMatchNotFound
	}
	return m.Clone(), nil
}

// Items is List over the staged view.
func (tx *Tx) Items(filter domain.ItemFilter) iter.Seq[domain.QueueItem] {
	view := make([]domain.QueueItem, 0, len(tx.s.items)+len(tx.items))
	for id, item := range tx.s.items {
		if _, staged := tx.items[id]; staged {
			continue
		}
		if filter.Matches(item) {
			view = append(view, item.Clone())
		}
	}
	for _, item := range tx.items {
		if filter.Matches(item) {
			view = append(view, item.Clone())
		}
	}
	sortItems(view)
	return slices.Values(view)
}

// ActiveMatchFor returns the non-terminal match an item is a party to, if any.
func (tx *Tx) ActiveMatchFor(itemID uuid.UUID) (domain.Match, bool) {
	for id, m := range tx.matches {
		if !m.Status.IsTerminal() && m.Involves(itemID) {
			return tx.matches[id].Clone(), true
		}
	}
	for id, m := range tx.s.matches {
		if _, staged := tx.matches[id]; staged {
			continue
		}
		if !m.Status.IsTerminal() && m.Involves(itemID) {
			return m.Clone(), true
		}
	}
	return domain.Match{}, false
}

// HasPaired reports whether a match was ever recorded for this pair.
func (tx *Tx) HasPaired(pair domain.PairKey) bool {
	if _, ok := tx.s.pairs[pair]; ok {
		return true
	}
	for _, m := range tx.matches {
		if m.Pair() == pair {
			return true
		}
	}
	return false
}

func (tx *Tx) stageItem(item *domain.QueueItem, prev domain.ItemStatus, isNew bool) {
	if _, seen := tx.items[item.ID]; !seen {
		tx.itemOrder = append(tx.itemOrder, item.ID)
		if !isNew {
			tx.itemPrev[item.ID] = prev
		}
	}
	tx.items[item.ID] = item
}

func (tx *Tx) stageMatch(m *domain.Match, prev domain.MatchStatus, isNew bool) {
	if _, seen := tx.matches[m.ID]; !seen {
		tx.matchOrder = append(tx.matchOrder, m.ID)
		if !isNew {
			tx.matchPrev[m.ID] = prev
		}
	}
	tx.matches[m.ID] = m
}

// AddItem assigns id and createdAt and stages the item as pending.
func (tx *Tx) AddItem(n domain.NewItem) (domain.QueueItem, error) {
	item := &domain.QueueItem{
		ID:             uuid.New(),
		Side:           n.Side,
		CustomerID:     n.CustomerID,
		Amount:         n.Amount,
		PaymentMethod:  n.PaymentMethod,
		PaymentDetails: n.PaymentDetails,
		Priority:       n.Priority,
		Status:         domain.ItemPending,
		Notes:          n.Notes,
		CreatedAt:      tx.now,
		UpdatedAt:      tx.now,
	}
	tx.stageItem(item, "", true)
	return item.Clone(), nil
}

// UpdateStatus validates current → next against the item state machine and
// applies extra field changes. apply must not touch id, side, customer or amount.
func (tx *Tx) UpdateStatus(id uuid.UUID, next domain.ItemStatus, apply func(item *domain.QueueItem)) (domain.QueueItem, error) {
	current, ok := tx.lookupItem(id)
	if !ok {
		return domain.QueueItem{}, errors.ErrItemNotFound
	}
	if !current.Status.CanTransitionTo(next) {
		return domain.QueueItem{}, errors.ErrInvalidTransition.WithDetails(
			"item " + id.String() + ": " + string(current.Status) + " -> " + string(next))
	}

	updated := current.Clone()
	if apply != nil {
		apply(&updated)
	}
	updated.ID = current.ID
	updated.Side = current.Side
	updated.CustomerID = current.CustomerID
	updated.Amount = current.Amount
	updated.CreatedAt = current.CreatedAt
	updated.Status = next
	updated.UpdatedAt = tx.now

	tx.stageItem(&updated, tx.originalItemStatus(current), false)
	return updated.Clone(), nil
}

// UpdateMetadata changes notes and/or priority without a status transition.
func (tx *Tx) UpdateMetadata(id uuid.UUID, meta domain.ItemMetadata) (domain.QueueItem, error) {
	current, ok := tx.lookupItem(id)
	if !ok {
		return domain.QueueItem{}, errors.ErrItemNotFound
	}

	updated := current.Clone()
	if meta.Notes != nil {
		updated.Notes = *meta.Notes
	}
	if meta.Priority != nil {
		updated.Priority = *meta.Priority
	}
	updated.UpdatedAt = tx.now

	tx.stageItem(&updated, tx.originalItemStatus(current), false)
	return updated.Clone(), nil
}

func (tx *Tx) originalItemStatus(current *domain.QueueItem) domain.ItemStatus {
	if prev, ok := tx.itemPrev[current.ID]; ok {
		return prev
	}
	return current.Status
}

// RecordMatch stages a new match. A pair can only ever be matched once.
func (tx *Tx) RecordMatch(m domain.Match) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if _, exists := tx.lookupMatch(m.ID); exists {
		return errors.ErrInvalidState.WithDetails("match " + m.ID.String() + " already recorded")
	}
	if tx.HasPaired(m.Pair()) {
		return errors.ErrInvalidState.WithDetails("pair already matched once")
	}
	w, ok := tx.lookupItem(m.WithdrawalItemID)
	if !ok {
		return errors.ErrItemNotFound.WithDetails(m.WithdrawalItemID.String())
	}
	d, ok := tx.lookupItem(m.DepositItemID)
	if !ok {
		return errors.ErrItemNotFound.WithDetails(m.DepositItemID.String())
	}
	if w.Side != domain.SideWithdrawal || d.Side != domain.SideDeposit {
		return errors.ErrInvalidState.WithDetails("match must pair a withdrawal with a deposit")
	}

	c := m.Clone()
	if c.Status == "" {
		c.Status = domain.MatchPending
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.stageMatch(&c, "", true)
	return nil
}

func (tx *Tx) UpdateMatch(id uuid.UUID, next domain.MatchStatus, apply func(m *domain.Match)) (domain.Match, error) {
	current, ok := tx.lookupMatch(id)
	if !ok {
		return domain.Match{}, errors.ErrMatchNotFound
	}
	if !current.Status.CanTransitionTo(next) {
		return domain.Match{}, errors.ErrInvalidTransition.WithDetails(
			"match " + id.String() + ": " + string(current.Status) + " -> " + string(next))
	}

	updated := current.Clone()
	if apply != nil {
		apply(&updated)
	}
	updated.ID = current.ID
	updated.WithdrawalItemID = current.WithdrawalItemID
	updated.DepositItemID = current.DepositItemID
	updated.Amount = current.Amount
	updated.Score = current.Score
	updated.CreatedAt = current.CreatedAt
	updated.Status = next
	updated.UpdatedAt = tx.now
	if next.IsTerminal() && updated.CompletedAt == nil {
		t := tx.now
		updated.CompletedAt = &t
	}

	prev := current.Status
	if p, ok := tx.matchPrev[id]; ok {
		prev = p
	}
	tx.stageMatch(&updated, prev, false)
	return updated.Clone(), nil
}

func (tx *Tx) changeset() *Changeset {
	cs := &Changeset{}
	for _, id := range tx.itemOrder {
		item := *tx.items[id]
		if prev, updated := tx.itemPrev[id]; updated {
			cs.ItemUpdates = append(cs.ItemUpdates, ItemUpdate{Item: item, PrevStatus: prev})
		} else {
			cs.NewItems = append(cs.NewItems, item)
		}
	}
	for _, id := range tx.matchOrder {
		m := *tx.matches[id]
		if prev, updated := tx.matchPrev[id]; updated {
			cs.MatchUpdates = append(cs.MatchUpdates, MatchUpdate{Match: m, PrevStatus: prev})
		} else {
			cs.NewMatches = append(cs.NewMatches, m)
		}
	}
	return cs
}

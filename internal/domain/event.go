package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventItemQueued          EventType = "item_queued"
	EventItemCancelled       EventType = "item_cancelled"
	EventMatchFound          EventType = "match_found"
	EventMatchApproved       EventType = "match_approved"
	EventMatchRejected       EventType = "match_rejected"
	EventSettlementCompleted EventType = "settlement_completed"
	EventSettlementFailed    EventType = "settlement_failed"
)

// Event is what the notification collaborator receives.
type Event struct {
	Type       EventType        `json:"type"`
	ItemID     *uuid.UUID       `json:"item_id,omitempty"`
	MatchID    *uuid.UUID       `json:"match_id,omitempty"`
	Side       Side             `json:"side,omitempty"`
	CustomerID string           `json:"customer_id,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

func ItemEvent(t EventType, item *QueueItem) Event {
	id := item.ID
	amount := item.Amount
	return Event{
		Type:       t,
		ItemID:     &id,
		Side:       item.Side,
		CustomerID: item.CustomerID,
		Amount:     &amount,
		OccurredAt: time.Now().UTC(),
	}
}

func MatchEvent(t EventType, m *Match, reason string) Event {
	id := m.ID
	amount := m.Amount
	return Event{
		Type:       t,
		MatchID:    &id,
		Amount:     &amount,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// Notifier delivers events best-effort; errors never roll back queue state.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

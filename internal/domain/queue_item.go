package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideWithdrawal Side = "withdrawal"
	SideDeposit    Side = "deposit"
)

func (s Side) Valid() bool {
	return s == SideWithdrawal || s == SideDeposit
}

// Opposite returns the side an item of this side is matched against.
func (s Side) Opposite() Side {
	if s == SideWithdrawal {
		return SideDeposit
	}
	return SideWithdrawal
}

// QueueItem is one customer cash movement waiting to be paired.
// PaymentDetails is opaque and never read by the matching core.
type QueueItem struct {
	ID             uuid.UUID       `json:"id"`
	Side           Side            `json:"side"`
	CustomerID     string          `json:"customer_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentDetails json.RawMessage `json:"payment_details,omitempty"`
	Priority       int             `json:"priority"`
	Status         ItemStatus      `json:"status"`
	MatchedWith    *uuid.UUID      `json:"matched_with,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone returns a deep copy; the store hands out clones only.
func (i QueueItem) Clone() QueueItem {
	c := i
	if i.MatchedWith != nil {
		id := *i.MatchedWith
		c.MatchedWith = &id
	}
	if i.PaymentDetails != nil {
		c.PaymentDetails = append(json.RawMessage(nil), i.PaymentDetails...)
	}
	return c
}

// NewItem carries the caller-supplied fields of an enqueue.
type NewItem struct {
	Side           Side
	CustomerID     string
	Amount         decimal.Decimal
	PaymentMethod  string
	PaymentDetails json.RawMessage
	Priority       int
	Notes          string
}

// ItemMetadata is the administrator-editable subset of a QueueItem.
type ItemMetadata struct {
	Notes    *string
	Priority *int
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Match pairs one withdrawal with one deposit. Score is fixed at creation.
type Match struct {
	ID               uuid.UUID       `json:"id"`
	WithdrawalItemID uuid.UUID       `json:"withdrawal_item_id"`
	DepositItemID    uuid.UUID       `json:"deposit_item_id"`
	Amount           decimal.Decimal `json:"amount"`
	Score            int             `json:"score"`
	Status           MatchStatus     `json:"status"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

func (m Match) Clone() Match {
	c := m
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// Involves reports whether itemID is one of the two paired items.
func (m Match) Involves(itemID uuid.UUID) bool {
	return m.WithdrawalItemID == itemID || m.DepositItemID == itemID
}

// PairKey identifies a withdrawal/deposit pair independent of the match id.
type PairKey struct {
	WithdrawalItemID uuid.UUID
	DepositItemID    uuid.UUID
}

func (m Match) Pair() PairKey {
	return PairKey{WithdrawalItemID: m.WithdrawalItemID, DepositItemID: m.DepositItemID}
}

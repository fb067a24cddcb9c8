package domain

import (
	"github.com/shopspring/decimal"
)

// ItemFilter narrows a listing; zero-valued fields are ignored and the rest are ANDed.
type ItemFilter struct {
	Side          Side
	Status        ItemStatus
	PaymentMethod string
	CustomerID    string
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
}

func (f ItemFilter) Matches(item *QueueItem) bool {
	if f.Side != "" && item.Side != f.Side {
		return false
	}
	if f.Status != "" && item.Status != f.Status {
		return false
	}
	if f.PaymentMethod != "" && item.PaymentMethod != f.PaymentMethod {
		return false
	}
	if f.CustomerID != "" && item.CustomerID != f.CustomerID {
		return false
	}
	if f.MinAmount != nil && item.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && item.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	return true
}

type MatchFilter struct {
	Status MatchStatus
}

func (f MatchFilter) Matches(m *Match) bool {
	return f.Status == "" || m.Status == f.Status
}

package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestItemFilterMatches(t *testing.T) {
	item := &QueueItem{
		ID:            uuid.New(),
		Side:          SideDeposit,
		CustomerID:    "cust-1",
		Amount:        decimal.NewFromInt(500),
		PaymentMethod: "bank_transfer",
		Status:        ItemPending,
	}
	lo := decimal.NewFromInt(100)
	hi := decimal.NewFromInt(500)
	tooHigh := decimal.NewFromInt(501)

	assert.True(t, ItemFilter{}.Matches(item))
	assert.True(t, ItemFilter{Side: SideDeposit, Status: ItemPending, PaymentMethod: "bank_transfer", CustomerID: "cust-1", MinAmount: &lo, MaxAmount: &hi}.Matches(item))
	assert.False(t, ItemFilter{Side: SideWithdrawal}.Matches(item))
	assert.False(t, ItemFilter{Status: ItemMatched}.Matches(item))
	assert.False(t, ItemFilter{PaymentMethod: "crypto"}.Matches(item))
	assert.False(t, ItemFilter{CustomerID: "cust-2"}.Matches(item))
	assert.False(t, ItemFilter{MinAmount: &tooHigh}.Matches(item))
	assert.False(t, ItemFilter{MaxAmount: &lo}.Matches(item))
}

func TestQueueItemCloneIsDeep(t *testing.T) {
	partner := uuid.New()
	item := QueueItem{MatchedWith: &partner, PaymentDetails: []byte(`{"iban":"X"}`)}

	c := item.Clone()
	*c.MatchedWith = uuid.New()
	c.PaymentDetails[2] = 'Z'

	assert.Equal(t, partner, *item.MatchedWith)
	assert.Equal(t, `{"iban":"X"}`, string(item.PaymentDetails))
}

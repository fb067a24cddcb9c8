package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to ItemStatus
		allowed  bool
	}{
		{ItemPending, ItemMatched, true},
		{ItemPending, ItemCancelled, true},
		{ItemPending, ItemProcessing, false},
		{ItemMatched, ItemProcessing, true},
		{ItemMatched, ItemPending, true},
		{ItemMatched, ItemCancelled, true},
		{ItemMatched, ItemCompleted, false},
		{ItemProcessing, ItemCompleted, true},
		{ItemProcessing, ItemFailed, true},
		{ItemProcessing, ItemCancelled, false},
		{ItemProcessing, ItemPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTerminalItemStatusesHaveNoExits(t *testing.T) {
	all := []ItemStatus{ItemPending, ItemMatched, ItemProcessing, ItemCompleted, ItemFailed, ItemCancelled}
	for _, from := range []ItemStatus{ItemCompleted, ItemFailed, ItemCancelled} {
		assert.True(t, from.IsTerminal())
		for _, to := range all {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, ItemPending.IsTerminal())
	assert.False(t, ItemMatched.IsTerminal())
	assert.False(t, ItemProcessing.IsTerminal())
}

func TestMatchStatusTransitions(t *testing.T) {
	assert.True(t, MatchPending.CanTransitionTo(MatchProcessing))
	assert.True(t, MatchPending.CanTransitionTo(MatchFailed))
	assert.False(t, MatchPending.CanTransitionTo(MatchCompleted))
	assert.True(t, MatchProcessing.CanTransitionTo(MatchCompleted))
	assert.True(t, MatchProcessing.CanTransitionTo(MatchFailed))
	assert.False(t, MatchCompleted.CanTransitionTo(MatchCompleted))
	assert.False(t, MatchCompleted.CanTransitionTo(MatchFailed))
	assert.False(t, MatchFailed.CanTransitionTo(MatchPending))
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideDeposit, SideWithdrawal.Opposite())
	assert.Equal(t, SideWithdrawal, SideDeposit.Opposite())
	assert.False(t, Side("transfer").Valid())
}

package domain

type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemMatched    ItemStatus = "matched"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemCancelled  ItemStatus = "cancelled"
)

var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemPending:    {ItemMatched, ItemCancelled},
	ItemMatched:    {ItemProcessing, ItemPending, ItemCancelled},
	ItemProcessing: {ItemCompleted, ItemFailed},
}

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemPending, ItemMatched, ItemProcessing, ItemCompleted, ItemFailed, ItemCancelled:
		return true
	}
	return false
}

func (s ItemStatus) IsTerminal() bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemCancelled
}

// CanTransitionTo reports whether the queue item state machine permits s → next.
func (s ItemStatus) CanTransitionTo(next ItemStatus) bool {
	for _, allowed := range itemTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchProcessing MatchStatus = "processing"
	MatchCompleted  MatchStatus = "completed"
	MatchFailed     MatchStatus = "failed"
)

var matchTransitions = map[MatchStatus][]MatchStatus{
	MatchPending:    {MatchProcessing, MatchFailed},
	MatchProcessing: {MatchCompleted, MatchFailed},
}

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchPending, MatchProcessing, MatchCompleted, MatchFailed:
		return true
	}
	return false
}

func (s MatchStatus) IsTerminal() bool {
	return s == MatchCompleted || s == MatchFailed
}

func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	for _, allowed := range matchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Package matching selects the counter-item for a newly queued withdrawal or
// deposit. Selection is greedy and one-shot: closest amount first, oldest
// candidate on ties.
package matching

import (
	"iter"
	"time"

	"github.com/shopspring/decimal"

	"p2p-queue/internal/domain"
)

var (
	hundred        = decimal.NewFromInt(100)
	two            = decimal.NewFromInt(2)
	methodBonus    = decimal.NewFromInt(20)
	maxWaitBonus   = decimal.NewFromInt(20)
	msPerWaitPoint = decimal.NewFromInt(60_000)
)

// Result is the selected candidate together with the values the Match is created from.
type Result struct {
	Candidate domain.QueueItem
	Amount    decimal.Decimal
	Score     int
}

type Matcher struct {
	now func() time.Time
}

func NewMatcher() *Matcher {
	return &Matcher{now: time.Now}
}

// NewMatcherWithClock is used where wait-time scoring must be deterministic.
func NewMatcherWithClock(now func() time.Time) *Matcher {
	return &Matcher{now: now}
}

// IsCandidate reports whether b may be paired with the newly queued a.
// A deposit must cover the withdrawal it backs.
func IsCandidate(a, b *domain.QueueItem) bool {
	if a.ID == b.ID || b.Side == a.Side || b.Status != domain.ItemPending {
		return false
	}
	if b.PaymentMethod != a.PaymentMethod {
		return false
	}
	if a.Side == domain.SideWithdrawal {
		return b.Amount.GreaterThanOrEqual(a.Amount)
	}
	return b.Amount.LessThanOrEqual(a.Amount)
}

// ranksBefore orders candidates for a: smaller |a-x| first, then older createdAt.
// The id comparison only makes the order total.
func ranksBefore(a, x, y *domain.QueueItem) bool {
	dx := a.Amount.Sub(x.Amount).Abs()
	dy := a.Amount.Sub(y.Amount).Abs()
	if c := dx.Cmp(dy); c != 0 {
		return c < 0
	}
	if !x.CreatedAt.Equal(y.CreatedAt) {
		return x.CreatedAt.Before(y.CreatedAt)
	}
	return x.ID.String() < y.ID.String()
}

// FindBest scans pool for the best candidate for item. skip, when non-nil,
// removes candidates the caller has already paired with item before.
// Priority is stored on items but deliberately plays no part in selection.
func (m *Matcher) FindBest(item *domain.QueueItem, pool iter.Seq[domain.QueueItem], skip func(candidate *domain.QueueItem) bool) (*Result, bool) {
	var best *domain.QueueItem
	for candidate := range pool {
		if !IsCandidate(item, &candidate) {
			continue
		}
		if skip != nil && skip(&candidate) {
			continue
		}
		if best == nil || ranksBefore(item, &candidate, best) {
			c := candidate
			best = &c
		}
	}
	if best == nil {
		return nil, false
	}

	return &Result{
		Candidate: *best,
		Amount:    decimal.Min(item.Amount, best.Amount),
		Score:     Score(item, best, m.now()),
	}, true
}

// Score is the audit score of pairing a with b at time now:
//
//	amountScore = max(0, 100 - |a-b|/a*100)
//	score = (100 + amountScore)/2 + 20 + min(20, combinedWaitMillis/60000)
//
// rounded to the nearest integer.
func Score(a, b *domain.QueueItem, now time.Time) int {
	amountScore := decimal.Zero
	if a.Amount.IsPositive() {
		diff := a.Amount.Sub(b.Amount).Abs()
		amountScore = decimal.Max(decimal.Zero, hundred.Sub(diff.Div(a.Amount).Mul(hundred)))
	}

	score := hundred.Add(amountScore).Div(two)
	if a.PaymentMethod == b.PaymentMethod {
		score = score.Add(methodBonus)
	}

	waitMs := waitMillis(a, now) + waitMillis(b, now)
	score = score.Add(decimal.Min(maxWaitBonus, decimal.NewFromInt(waitMs).Div(msPerWaitPoint)))

	return int(score.Round(0).IntPart())
}

func waitMillis(item *domain.QueueItem, now time.Time) int64 {
	ms := now.Sub(item.CreatedAt).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

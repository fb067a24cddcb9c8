package service

import (
	"time"

	"p2p-queue/internal/domain"
	"p2p-queue/internal/queue"
)

const successWindow = 24 * time.Hour

// StatsReporter aggregates the working set. It only reads the store.
type StatsReporter struct {
	store *queue.Store
	now   func() time.Time
}

func NewStatsReporter(store *queue.Store, now func() time.Time) *StatsReporter {
	if now == nil {
		now = time.Now
	}
	return &StatsReporter{store: store, now: now}
}

// Stats is computed from one snapshot of the store, so counts agree with
// each other and with the store at the time of the call.
func (r *StatsReporter) Stats() domain.QueueStats {
	items, matches := r.store.Snapshot()
	now := r.now()

	stats := domain.QueueStats{
		Counts: map[domain.Side]map[domain.ItemStatus]int{
			domain.SideWithdrawal: {},
			domain.SideDeposit:    {},
		},
		Pending: map[domain.Side]int{
			domain.SideWithdrawal: 0,
			domain.SideDeposit:    0,
		},
		GeneratedAt: now,
	}

	var totalWait time.Duration
	var pending int
	windowStart := now.Add(-successWindow)

	for i := range items {
		item := &items[i]
		stats.Counts[item.Side][item.Status]++

		switch {
		case item.Status == domain.ItemPending:
			stats.Pending[item.Side]++
			pending++
			totalWait += now.Sub(item.CreatedAt)
		case item.Status.IsTerminal() && !item.UpdatedAt.Before(windowStart):
			stats.Terminal24h++
			if item.Status == domain.ItemCompleted {
				stats.Completed24h++
			}
		}
	}

	for i := range matches {
		if matches[i].Status == domain.MatchPending {
			stats.PendingMatches++
		}
	}

	if pending > 0 {
		stats.AverageWait = totalWait / time.Duration(pending)
		stats.AverageWaitSeconds = stats.AverageWait.Seconds()
	}
	if stats.Terminal24h > 0 {
		stats.SuccessRate24h = float64(stats.Completed24h) / float64(stats.Terminal24h)
	}
	return stats
}

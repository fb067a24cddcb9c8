// Package metrics exposes queue statistics and settlement outcomes to
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"p2p-queue/internal/domain"
)

type Metrics struct {
	Items              *prometheus.GaugeVec
	PendingMatches     prometheus.Gauge
	AverageWait        prometheus.Gauge
	SuccessRate        prometheus.Gauge
	MatchesCreated     prometheus.Counter
	SettlementOutcomes *prometheus.CounterVec
	SettlementFailures prometheus.Counter
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Items: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "p2p_queue",
				Name:      "items",
				Help:      "Queue items in the working set by side and status",
			},
			[]string{"side", "status"},
		),
		PendingMatches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2p_queue",
			Name:      "pending_matches",
			Help:      "Matches awaiting administrator approval",
		}),
		AverageWait: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2p_queue",
			Name:      "pending_average_wait_seconds",
			Help:      "Average time pending items have been waiting",
		}),
		SuccessRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2p_queue",
			Name:      "success_rate_24h",
			Help:      "Share of items reaching a terminal state in the last 24h that completed",
		}),
		MatchesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p_queue",
			Name:      "matches_created_total",
			Help:      "Matches created by the matcher",
		}),
		SettlementOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "p2p_queue",
				Name:      "settlements_total",
				Help:      "Settlement attempts by outcome",
			},
			[]string{"outcome"},
		),
		SettlementFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p_queue",
			Name:      "settlement_failures_total",
			Help:      "Settlements forced to failed that need manual reconciliation",
		}),
	}
}

var (
	sides    = []domain.Side{domain.SideWithdrawal, domain.SideDeposit}
	statuses = []domain.ItemStatus{
		domain.ItemPending,
		domain.ItemMatched,
		domain.ItemProcessing,
		domain.ItemCompleted,
		domain.ItemFailed,
		domain.ItemCancelled,
	}
)

// Observe publishes a stats snapshot. Every side/status pair is set so a
// count that drops to zero is reported as zero.
func (m *Metrics) Observe(stats domain.QueueStats) {
	for _, side := range sides {
		for _, status := range statuses {
			m.Items.WithLabelValues(string(side), string(status)).Set(float64(stats.Counts[side][status]))
		}
	}
	m.PendingMatches.Set(float64(stats.PendingMatches))
	m.AverageWait.Set(stats.AverageWait.Seconds())
	m.SuccessRate.Set(stats.SuccessRate24h)
}

func (m *Metrics) MatchCreated() {
	m.MatchesCreated.Inc()
}

func (m *Metrics) SettlementCompleted() {
	m.SettlementOutcomes.WithLabelValues("completed").Inc()
}

func (m *Metrics) SettlementFailed() {
	m.SettlementOutcomes.WithLabelValues("failed").Inc()
	m.SettlementFailures.Inc()
}

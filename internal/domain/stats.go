package domain

import "time"

// QueueStats is a point-in-time aggregate of the working set.
type QueueStats struct {
	Counts             map[Side]map[ItemStatus]int `json:"counts"`
	Pending            map[Side]int                `json:"pending"`
	PendingMatches     int                         `json:"pending_matches"`
	AverageWait        time.Duration               `json:"-"`
	AverageWaitSeconds float64                     `json:"average_wait_seconds"`
	Terminal24h        int                         `json:"terminal_24h"`
	Completed24h       int                         `json:"completed_24h"`
	SuccessRate24h     float64                     `json:"success_rate_24h"`
	GeneratedAt        time.Time                   `json:"generated_at"`
}

package models

import "time"

// SchedulerState is the price scheduler's per-portfolio state.
type SchedulerState string

const (
	StateIdle         SchedulerState = "IDLE"
	StateFetching     SchedulerState = "FETCHING"
	StateComputing    SchedulerState = "COMPUTING"
	StateBroadcasting SchedulerState = "BROADCASTING"
	StateErrorBackoff SchedulerState = "ERROR_BACKOFF"
)

// CycleSummary reports the outcome of one price cycle.
type CycleSummary struct {
	PortfolioID string           `json:"portfolio_id"`
	SessionOpen bool             `json:"session_open"`
	Total       int              `json:"total"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	Stale       int              `json:"stale"`
	Changed     int              `json:"changed"`
	Unchanged   int              `json:"unchanged"`
	Partial     bool             `json:"partial"`
	State       SchedulerState   `json:"state"`
	Interval    time.Duration    `json:"interval"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Snapshots   []*PriceSnapshot `json:"snapshots,omitempty"`
}

// NewsSummary aggregates stored articles for a holding.
type NewsSummary struct {
	HoldingID        string         `json:"holding_id"`
	Days             int            `json:"days"`
	Total            int            `json:"total"`
	Positive         int            `json:"positive"`
	Negative         int            `json:"negative"`
	Neutral          int            `json:"neutral"`
	AverageRelevance float64        `json:"average_relevance"`
	Latest           []*NewsArticle `json:"latest"`
}

// StrategyCycleResult reports the outcome of one strategy cycle.
type StrategyCycleResult struct {
	PortfolioID string    `json:"portfolio_id"`
	Holdings    int       `json:"holdings"`
	Changed     int       `json:"changed"`
	Unchanged   int       `json:"unchanged"`
	Degraded    int       `json:"degraded"`
	Failed      int       `json:"failed"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

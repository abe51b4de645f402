package models

import "time"

// NotificationType identifies a pushed event.
type NotificationType string

const (
	NotificationPriceChanged    NotificationType = "PRICE_CHANGED"
	NotificationStrategyChanged NotificationType = "STRATEGY_CHANGED"
	NotificationDegraded        NotificationType = "DEGRADED"
	NotificationMarketSummary   NotificationType = "MARKET_SUMMARY"
	NotificationNewsAlert       NotificationType = "NEWS_ALERT"
	NotificationSystemMessage   NotificationType = "SYSTEM_MESSAGE"
)

// NotificationEvent is delivered at most once to the target user's live
// connections. It is never persisted.
type NotificationEvent struct {
	ID          string                 `json:"id"`
	Type        NotificationType       `json:"type"`
	UserID      string                 `json:"user_id"`
	PortfolioID string                 `json:"portfolio_id,omitempty"`
	HoldingID   string                 `json:"holding_id,omitempty"`
	Payload     map[string]interface{} `json:"payload"`
	Timestamp   time.Time              `json:"timestamp"`
}

package models

import "time"

// Portfolio is a user's set of holdings. The pipeline only reads it; the
// owner receives the portfolio's notifications.
type Portfolio struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id" badgerhold:"index"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Holding is a position in one symbol. Only the price scheduler mutates
// LastPrice and LastUpdated.
type Holding struct {
	ID          string    `json:"id"`
	PortfolioID string    `json:"portfolio_id" badgerhold:"index"`
	Symbol      string    `json:"symbol"` // exchange-qualified, e.g. "KRX:005930"
	Name        string    `json:"name"`
	Quantity    float64   `json:"quantity"`
	AverageCost float64   `json:"average_cost"`
	LastPrice   float64   `json:"last_price"`
	LastUpdated time.Time `json:"last_updated"`
	CreatedAt   time.Time `json:"created_at"`
}

// MarketValue returns quantity at the last known price.
func (h *Holding) MarketValue() float64 {
	return h.Quantity * h.LastPrice
}

// UnrealizedPnL returns the gain or loss against average cost.
func (h *Holding) UnrealizedPnL() float64 {
	return (h.LastPrice - h.AverageCost) * h.Quantity
}

// UnrealizedReturn returns the fractional return against average cost, 0 when cost is unknown.
func (h *Holding) UnrealizedReturn() float64 {
	if h.AverageCost == 0 {
		return 0
	}
	return (h.LastPrice - h.AverageCost) / h.AverageCost
}

package models

import (
	"fmt"
	"time"
)

// MarketSession is the provider's view of the market at quote time.
type MarketSession string

const (
	SessionOpen   MarketSession = "OPEN"
	SessionClosed MarketSession = "CLOSED"
)

// Quote is a price observation returned by a quote provider.
type Quote struct {
	Symbol    string        `json:"symbol"`
	Price     float64       `json:"price"`
	Timestamp time.Time     `json:"timestamp"`
	Session   MarketSession `json:"session"`
}

// PriceSnapshot is a stored observation. Timestamps strictly increase per holding.
type PriceSnapshot struct {
	ID        string        `json:"id"`
	HoldingID string        `json:"holding_id" badgerhold:"index"`
	Price     float64       `json:"price"`
	Timestamp time.Time     `json:"timestamp"`
	Session   MarketSession `json:"session"`
	Stale     bool          `json:"stale"`
}

// SnapshotKey is stable for a (holding, timestamp) pair so re-upserts update in place.
func SnapshotKey(holdingID string, ts time.Time) string {
	return fmt.Sprintf("%s:%020d", holdingID, ts.UTC().UnixNano())
}

// PriceTrend summarizes recent snapshots for strategy prompts.
type PriceTrend struct {
	Symbol    string    `json:"symbol"`
	Current   float64   `json:"current"`
	Reference float64   `json:"reference"` // oldest sample in the window
	ChangePct float64   `json:"change_pct"`
	Samples   int       `json:"samples"`
	Stale     bool      `json:"stale"`
	AsOf      time.Time `json:"as_of"`
}

// NewPriceTrend builds a trend from snapshots ordered oldest first.
func NewPriceTrend(symbol string, snapshots []*PriceSnapshot) PriceTrend {
	trend := PriceTrend{Symbol: symbol, Samples: len(snapshots)}
	if len(snapshots) == 0 {
		trend.Stale = true
		return trend
	}
	first, last := snapshots[0], snapshots[len(snapshots)-1]
	trend.Current = last.Price
	trend.Reference = first.Price
	trend.Stale = last.Stale
	trend.AsOf = last.Timestamp
	if first.Price != 0 {
		trend.ChangePct = (last.Price - first.Price) / first.Price
	}
	return trend
}

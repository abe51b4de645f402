package models

import "time"

// Action is a recommended trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid reports whether a is one of BUY, SELL, HOLD.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// StrategyDecision is an immutable recommendation. Exactly one decision per
// holding has Current set; archiving clears the flag and nothing else.
type StrategyDecision struct {
	ID              string    `json:"id"`
	HoldingID       string    `json:"holding_id" badgerhold:"index"`
	Action          Action    `json:"action"`
	Rationale       string    `json:"rationale"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
	SupersedesID    string    `json:"supersedes_id,omitempty"`
	Current         bool      `json:"current"`
	Annotation      string    `json:"annotation,omitempty"` // set when the verdict was a fallback
	ArticleCount    int       `json:"article_count"`
	DroppedArticles int       `json:"dropped_articles,omitempty"`
	Provider        string    `json:"provider,omitempty"`
}

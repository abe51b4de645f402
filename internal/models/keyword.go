package models

import "time"

// KeywordOrigin records how a keyword entered the index.
type KeywordOrigin string

const (
	KeywordOriginBase    KeywordOrigin = "base"    // holding name or code
	KeywordOriginDerived KeywordOrigin = "derived" // sector words inferred from the name
	KeywordOriginCustom  KeywordOrigin = "custom"  // added by the user
)

const (
	MinKeywordPriority = 1
	MaxKeywordPriority = 5
)

// Keyword is a search term attached to a holding. Priority 1..5 weights relevance.
type Keyword struct {
	ID        string        `json:"id"`
	HoldingID string        `json:"holding_id" badgerhold:"index"`
	Text      string        `json:"text"`
	Priority  int           `json:"priority"`
	Active    bool          `json:"active"`
	Origin    KeywordOrigin `json:"origin"`
	CreatedAt time.Time     `json:"created_at"`
}

// Weight normalizes priority into (0,1].
func (k Keyword) Weight() float64 {
	p := k.Priority
	if p < MinKeywordPriority {
		p = MinKeywordPriority
	}
	if p > MaxKeywordPriority {
		p = MaxKeywordPriority
	}
	return float64(p) / float64(MaxKeywordPriority)
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// Sentiment is the directional label attached to a ranked article.
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
)

// RawArticle is what a news source returns before dedup and scoring.
type RawArticle struct {
	SourceID    string
	Title       string
	URL         string
	Body        string
	Publisher   string
	PublishedAt time.Time
	// Polarity is the provider's sentiment score in [-1,1] when it supplies one.
	Polarity *float64
}

// NewsArticle is a deduplicated article. Relevance and Sentiment are set by ranking.
type NewsArticle struct {
	DedupKey    string    `json:"dedup_key"`
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Body        string    `json:"body"`
	Publisher   string    `json:"publisher,omitempty"`
	Keyword     string    `json:"keyword"`
	PublishedAt time.Time `json:"published_at"`
	CollectedAt time.Time `json:"collected_at"`
	Relevance   float64   `json:"relevance"`
	Sentiment   Sentiment `json:"sentiment"`
	Polarity    *float64  `json:"polarity,omitempty"`
	HoldingID   string    `json:"holding_id" badgerhold:"index"`
}

// DedupKey hashes the normalized title with the source id.
func DedupKey(title, sourceID string) string {
	sum := sha256.Sum256([]byte(NormalizeTitle(title) + "|" + strings.ToLower(strings.TrimSpace(sourceID))))
	return hex.EncodeToString(sum[:16])
}

// NormalizeTitle lowercases, drops punctuation and collapses whitespace.
func NormalizeTitle(title string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// StorageKey scopes an article to the holding it was collected for.
func (a *NewsArticle) StorageKey() string {
	return a.HoldingID + ":" + a.DedupKey
}

package eodhd

import (
	"encoding/json"
	"strconv"
	"time"
)

// flexFloat decodes numbers that the API sometimes returns as strings or "NA".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexFloat(v)
		return nil
	}
	*f = 0
	return nil
}

// RealTimeQuote is the delayed live quote returned by /real-time/{symbol}.
type RealTimeQuote struct {
	Code          string    `json:"code"`
	Timestamp     flexFloat `json:"timestamp"` // unix seconds
	GMTOffset     int       `json:"gmtoffset"`
	Open          flexFloat `json:"open"`
	High          flexFloat `json:"high"`
	Low           flexFloat `json:"low"`
	Close         flexFloat `json:"close"`
	Volume        flexFloat `json:"volume"`
	PreviousClose flexFloat `json:"previousClose"`
	Change        flexFloat `json:"change"`
	ChangePercent flexFloat `json:"change_p"`
}

// Time returns the quote timestamp, zero when the API had none.
func (q *RealTimeQuote) Time() time.Time {
	if q.Timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(q.Timestamp), 0).UTC()
}

// Price returns the last traded price.
func (q *RealTimeQuote) Price() float64 {
	return float64(q.Close)
}

// Valid reports whether the quote carries a usable price and time.
func (q *RealTimeQuote) Valid() bool {
	return q.Close > 0 && q.Timestamp > 0
}

// NewsItem represents a news article.
type NewsItem struct {
	Date      time.Time      `json:"-"`
	DateStr   string         `json:"date"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Link      string         `json:"link"`
	Symbols   []string       `json:"symbols"`
	Tags      []string       `json:"tags"`
	Sentiment *NewsSentiment `json:"sentiment,omitempty"`
}

// NewsSentiment represents sentiment scores for news.
type NewsSentiment struct {
	Polarity float64 `json:"polarity"`
	Neg      float64 `json:"neg"`
	Neu      float64 `json:"neu"`
	Pos      float64 `json:"pos"`
}

// NewsResponse is the response from the news endpoint.
type NewsResponse []NewsItem

// ExchangeHoliday is one entry of ExchangeHolidays.
type ExchangeHoliday struct {
	Name string `json:"Holiday"`
	Date string `json:"Date"` // "2006-01-02"
	Type string `json:"Type"`
}

// ExchangeDetails is the response from /exchange-details/{code}.
type ExchangeDetails struct {
	Code         string                     `json:"Code"`
	Name         string                     `json:"Name"`
	Country      string                     `json:"Country"`
	Currency     string                     `json:"Currency"`
	Timezone     string                     `json:"Timezone"`
	IsOpen       bool                       `json:"isOpen"`
	TradingHours map[string]interface{}     `json:"TradingHours"`
	Holidays     map[string]ExchangeHoliday `json:"ExchangeHolidays"`
}

// HolidayDates parses the holiday dates in loc, skipping malformed entries.
func (d *ExchangeDetails) HolidayDates(loc *time.Location) []time.Time {
	dates := make([]time.Time, 0, len(d.Holidays))
	for _, h := range d.Holidays {
		t, err := time.ParseInLocation("2006-01-02", h.Date, loc)
		if err != nil {
			continue
		}
		dates = append(dates, t)
	}
	return dates
}

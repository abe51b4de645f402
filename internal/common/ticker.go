// Package common provides shared utilities across the application.
package common

import (
	"strings"
)

// Ticker represents a parsed exchange-qualified holding symbol.
// Format: EXCHANGE:CODE (e.g., "KRX:005930", "NASDAQ:AAPL")
type Ticker struct {
	Exchange string
	Code     string
	Raw      string
}

// ExchangeToSuffix maps exchange codes to EODHD API suffixes.
var ExchangeToSuffix = map[string]string{
	"KRX":    ".KO",
	"KOSPI":  ".KO",
	"KOSDAQ": ".KQ",
	"NYSE":   ".US",
	"NASDAQ": ".US",
	"ASX":    ".AU",
	"TSE":    ".TSE",
	"HKEX":   ".HK",
}

// DefaultExchange is used for symbols without an exchange prefix.
// Overridden from [market] default_exchange.
var DefaultExchange = "KRX"

// SetDefaultExchange sets the default exchange for parsing symbols.
func SetDefaultExchange(exchange string) {
	if exchange != "" {
		DefaultExchange = strings.ToUpper(exchange)
	}
}

// ParseTicker parses an exchange-qualified symbol.
//   - "KRX:005930" -> Exchange="KRX", Code="005930"
//   - "KOSDAQ.035720" -> Exchange="KOSDAQ", Code="035720" (known exchanges only)
//   - "005930" -> Exchange=DefaultExchange
func ParseTicker(ticker string) Ticker {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return Ticker{}
	}

	if idx := strings.Index(ticker, ":"); idx > 0 {
		return Ticker{
			Exchange: strings.ToUpper(ticker[:idx]),
			Code:     strings.ToUpper(ticker[idx+1:]),
			Raw:      ticker,
		}
	}

	if idx := strings.Index(ticker, "."); idx > 0 {
		possibleExchange := strings.ToUpper(ticker[:idx])
		if _, ok := ExchangeToSuffix[possibleExchange]; ok {
			return Ticker{
				Exchange: possibleExchange,
				Code:     strings.ToUpper(ticker[idx+1:]),
				Raw:      ticker,
			}
		}
	}

	return Ticker{
		Exchange: DefaultExchange,
		Code:     strings.ToUpper(ticker),
		Raw:      ticker,
	}
}

// String returns the full exchange-qualified symbol.
func (t Ticker) String() string {
	if t.Exchange == "" || t.Code == "" {
		return t.Code
	}
	return t.Exchange + ":" + t.Code
}

// EODHDSymbol returns the EODHD API symbol format.
// Example: "KRX:005930" -> "005930.KO"
func (t Ticker) EODHDSymbol() string {
	if t.Code == "" {
		return ""
	}
	suffix, ok := ExchangeToSuffix[t.Exchange]
	if !ok {
		suffix = ExchangeToSuffix[DefaultExchange]
	}
	if suffix == "" {
		suffix = ".KO"
	}
	return t.Code + suffix
}

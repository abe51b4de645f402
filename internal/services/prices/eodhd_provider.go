package prices

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/eodhd"
	"github.com/ternarybob/tradepulse/internal/models"
)

// EODHDQuoteProvider reads delayed real-time quotes from EODHD.
type EODHDQuoteProvider struct {
	client  *eodhd.Client
	session *common.TradingSession
}

// NewEODHDQuoteProvider creates a quote provider over an EODHD client.
func NewEODHDQuoteProvider(client *eodhd.Client, session *common.TradingSession) *EODHDQuoteProvider {
	return &EODHDQuoteProvider{client: client, session: session}
}

// GetPrice returns the latest quote. A quote whose last trade is not from
// the asOf trading day is marked CLOSED, which covers unlisted holidays.
func (p *EODHDQuoteProvider) GetPrice(ctx context.Context, symbol string, asOf time.Time) (*models.Quote, error) {
	ticker := common.ParseTicker(symbol)
	if ticker.Code == "" {
		return nil, common.NewValidationError("empty symbol")
	}

	raw, err := p.client.GetRealTimeQuote(ctx, ticker.EODHDSymbol())
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if !raw.Valid() {
		return nil, fmt.Errorf("%w: no usable quote for %s", common.ErrProviderUnavailable, symbol)
	}

	quote := &models.Quote{
		Symbol:    ticker.String(),
		Price:     raw.Price(),
		Timestamp: raw.Time(),
		Session:   models.SessionOpen,
	}
	if !p.session.IsOpen(asOf) || !sameDay(quote.Timestamp, asOf, p.session.Location) {
		quote.Session = models.SessionClosed
	}
	return quote, nil
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// Package exchange keeps the trading session's holiday calendar in step
// with the exchange calendar published by EODHD.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/eodhd"
)

// DefaultRefreshInterval is how often the calendar is re-fetched.
const DefaultRefreshInterval = 24 * time.Hour

// DetailsFetcher loads exchange details.
type DetailsFetcher interface {
	GetExchangeDetails(ctx context.Context, code string) (*eodhd.ExchangeDetails, error)
}

// Service merges published exchange holidays into a TradingSession.
type Service struct {
	fetcher  DetailsFetcher
	session  *common.TradingSession
	code     string
	interval time.Duration
	logger   arbor.ILogger

	mu       sync.RWMutex
	lastSync time.Time
	lastErr  error
}

// NewService creates a holiday sync for exchange, e.g. "KRX".
func NewService(fetcher DetailsFetcher, session *common.TradingSession, exchange string, logger arbor.ILogger) *Service {
	return &Service{
		fetcher:  fetcher,
		session:  session,
		code:     EODHDCode(exchange),
		interval: DefaultRefreshInterval,
		logger:   logger,
	}
}

// WithRefreshInterval overrides the refresh interval.
func (s *Service) WithRefreshInterval(interval time.Duration) *Service {
	if interval > 0 {
		s.interval = interval
	}
	return s
}

// EODHDCode maps "KRX" to the EODHD exchange code "KO".
func EODHDCode(exchange string) string {
	suffix, ok := common.ExchangeToSuffix[strings.ToUpper(exchange)]
	if !ok {
		return strings.ToUpper(exchange)
	}
	return strings.TrimPrefix(suffix, ".")
}

// Code returns the EODHD exchange code being synced.
func (s *Service) Code() string {
	return s.code
}

// Sync fetches the calendar once and returns the number of new holidays.
// A failed fetch leaves the configured calendar untouched.
func (s *Service) Sync(ctx context.Context) (int, error) {
	details, err := s.fetcher.GetExchangeDetails(ctx, s.code)

	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.lastSync = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().
			Str("exchange", s.code).
			Str("kind", string(common.Classify(err))).
			Err(err).
			Msg("Exchange calendar fetch failed - using configured holidays")
		return 0, fmt.Errorf("failed to fetch exchange details for %s: %w", s.code, err)
	}

	added := s.session.AddHolidays(details.HolidayDates(s.session.Location))
	s.logger.Info().
		Str("exchange", s.code).
		Int("published", len(details.Holidays)).
		Int("added", added).
		Msg("Exchange calendar synced")
	return added, nil
}

// Start syncs immediately and then every refresh interval until ctx is done.
func (s *Service) Start(ctx context.Context) {
	common.SafeGo(s.logger, "exchange-calendar-"+s.code, func() {
		s.Sync(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sync(ctx)
			}
		}
	})
}

// LastSync returns the time of the last successful sync and the last error.
func (s *Service) LastSync() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync, s.lastErr
}

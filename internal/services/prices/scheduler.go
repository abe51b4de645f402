// Package prices polls quotes for portfolio holdings inside the trading
// session and broadcasts price moves.
package prices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
	"github.com/ternarybob/tradepulse/internal/services/events"
)

// Status is the scheduler's view of one portfolio.
type Status struct {
	PortfolioID         string                `json:"portfolio_id"`
	State               models.SchedulerState `json:"state"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	Interval            time.Duration         `json:"interval"`
	NextDue             time.Time             `json:"next_due"`
	LastCycle           *models.CycleSummary  `json:"last_cycle,omitempty"`
}

type portfolioState struct {
	state    models.SchedulerState
	failures int
	interval time.Duration
	nextDue  time.Time
	last     *models.CycleSummary
}

type fetchResult struct {
	done  bool
	quote *models.Quote
	err   error
}

// Scheduler runs price cycles. State is kept per portfolio; cycles for
// different portfolios never share locks beyond the state map.
type Scheduler struct {
	quotes  interfaces.QuoteProvider
	store   interfaces.PortfolioStore
	bus     interfaces.EventService
	session *common.TradingSession
	config  common.PricesConfig
	logger  arbor.ILogger
	now     func() time.Time

	mu     sync.Mutex
	states map[string]*portfolioState
}

// NewScheduler creates a price scheduler.
func NewScheduler(quotes interfaces.QuoteProvider, store interfaces.PortfolioStore, bus interfaces.EventService, session *common.TradingSession, config common.PricesConfig, logger arbor.ILogger) *Scheduler {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.MaxBackoff < config.Interval {
		config.MaxBackoff = config.Interval
	}
	return &Scheduler{
		quotes:  quotes,
		store:   store,
		bus:     bus,
		session: session,
		config:  config,
		logger:  logger,
		now:     time.Now,
		states:  make(map[string]*portfolioState),
	}
}

func (s *Scheduler) stateFor(portfolioID string) *portfolioState {
	st, ok := s.states[portfolioID]
	if !ok {
		st = &portfolioState{state: models.StateIdle, interval: s.config.Interval}
		s.states[portfolioID] = st
	}
	return st
}

func (s *Scheduler) setState(portfolioID string, state models.SchedulerState) {
	s.mu.Lock()
	s.stateFor(portfolioID).state = state
	s.mu.Unlock()
}

// Status returns the portfolio's scheduler state.
func (s *Scheduler) Status(portfolioID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(portfolioID)
	status := Status{
		PortfolioID:         portfolioID,
		State:               st.state,
		ConsecutiveFailures: st.failures,
		Interval:            st.interval,
		NextDue:             st.nextDue,
	}
	if st.last != nil {
		cp := *st.last
		status.LastCycle = &cp
	}
	return status
}

// MarketSummary returns the most recent cycle summary for a portfolio.
func (s *Scheduler) MarketSummary(portfolioID string) (*models.CycleSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[portfolioID]
	if !ok || st.last == nil {
		return nil, false
	}
	cp := *st.last
	return &cp, true
}

// Due reports whether a scheduled tick should run a cycle now. It is false
// only while the portfolio is backing off and its next due time is ahead.
func (s *Scheduler) Due(portfolioID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(portfolioID)
	if st.failures < s.config.FailureThreshold {
		return true
	}
	return !s.now().Before(st.nextDue)
}

// RunCycle polls every holding of the portfolio once. Outside the session
// the cached snapshots are returned flagged stale and no quote is fetched.
func (s *Scheduler) RunCycle(ctx context.Context, portfolio *models.Portfolio) (*models.CycleSummary, error) {
	start := s.now()
	summary := &models.CycleSummary{
		PortfolioID: portfolio.ID,
		StartedAt:   start,
		SessionOpen: s.session.IsOpen(start),
	}

	holdings, err := s.store.GetHoldings(ctx, portfolio.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load holdings for %s: %w", portfolio.ID, err)
	}
	summary.Total = len(holdings)

	if !summary.SessionOpen {
		s.serveStale(ctx, holdings, summary)
		s.finish(ctx, portfolio, summary, false)
		return summary, nil
	}

	s.setState(portfolio.ID, models.StateFetching)
	results, partial := s.fetchAll(ctx, holdings)
	if ctx.Err() != nil {
		s.setState(portfolio.ID, models.StateIdle)
		return nil, ctx.Err()
	}

	s.setState(portfolio.ID, models.StateComputing)
	summary.Partial = partial
	for i, holding := range holdings {
		s.apply(ctx, portfolio, holding, results[i], summary)
	}

	cycleFailed := summary.Total > 0 && summary.Succeeded == 0 && summary.Failed > 0
	s.finish(ctx, portfolio, summary, cycleFailed)
	return summary, nil
}

// fetchAll fetches quotes concurrently. Holdings still pending at the cycle
// deadline come back with done=false and partial is set.
func (s *Scheduler) fetchAll(ctx context.Context, holdings []*models.Holding) ([]fetchResult, bool) {
	cycleCtx := ctx
	if s.config.CycleDeadline > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.config.CycleDeadline)
		defer cancel()
	}

	var mu sync.Mutex
	results := make([]fetchResult, len(holdings))
	asOf := s.now()

	var wg sync.WaitGroup
	for i, holding := range holdings {
		common.SafeGoGroup(&wg, s.logger, "price-fetch-"+holding.Symbol, func() {
			quote, err := s.fetch(cycleCtx, holding.Symbol, asOf)
			mu.Lock()
			results[i] = fetchResult{done: true, quote: quote, err: err}
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	partial := false
	select {
	case <-done:
	case <-cycleCtx.Done():
		partial = true
		s.logger.Warn().
			Int("holdings", len(holdings)).
			Dur("deadline", s.config.CycleDeadline).
			Msg("Price cycle deadline reached with fetches pending")
	}

	mu.Lock()
	defer mu.Unlock()
	snapshot := make([]fetchResult, len(results))
	copy(snapshot, results)
	return snapshot, partial
}

func (s *Scheduler) fetch(ctx context.Context, symbol string, asOf time.Time) (*models.Quote, error) {
	if s.config.QuoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.QuoteTimeout)
		defer cancel()
	}
	quote, err := s.quotes.GetPrice(ctx, symbol, asOf)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: quote for %s timed out", common.ErrNetwork, symbol)
		}
		return nil, err
	}
	return quote, nil
}

// apply folds one fetch result into the store and the summary.
func (s *Scheduler) apply(ctx context.Context, portfolio *models.Portfolio, holding *models.Holding, result fetchResult, summary *models.CycleSummary) {
	switch {
	case !result.done:
		summary.Failed++
		summary.Partial = true
		s.markStale(ctx, holding, summary)
		return
	case result.err != nil:
		s.logger.Warn().
			Str("holding_id", holding.ID).
			Str("symbol", holding.Symbol).
			Str("kind", string(common.Classify(result.err))).
			Err(result.err).
			Msg("Quote fetch failed, keeping last snapshot")
		summary.Failed++
		s.markStale(ctx, holding, summary)
		return
	case result.quote.Session == models.SessionClosed:
		s.logger.Debug().Str("symbol", holding.Symbol).Msg("Provider reports market closed, serving stale")
		s.markStale(ctx, holding, summary)
		return
	}

	quote := result.quote
	last, err := s.store.LatestSnapshot(ctx, holding.ID)
	if err != nil {
		s.logger.Warn().Str("holding_id", holding.ID).Err(err).Msg("Failed to load latest snapshot")
		summary.Failed++
		return
	}
	if last != nil && quote.Timestamp.Before(last.Timestamp) {
		err := common.NewInvariantViolation("quote for %s at %s precedes stored %s",
			holding.Symbol, quote.Timestamp.Format(time.RFC3339), last.Timestamp.Format(time.RFC3339))
		s.logger.Error().Str("holding_id", holding.ID).Err(err).Msg("Price snapshot invariant violated")
		summary.Failed++
		return
	}

	snapshot := &models.PriceSnapshot{
		HoldingID: holding.ID,
		Price:     quote.Price,
		Timestamp: quote.Timestamp,
		Session:   quote.Session,
	}
	if err := s.store.UpsertSnapshot(ctx, snapshot); err != nil {
		s.logger.Error().Str("holding_id", holding.ID).Err(err).Msg("Failed to store price snapshot")
		summary.Failed++
		return
	}
	summary.Succeeded++
	summary.Snapshots = append(summary.Snapshots, snapshot)

	previous := holding.LastPrice
	delta := quote.Price - previous
	if delta == 0 {
		summary.Unchanged++
		return
	}

	if err := s.store.UpdateHoldingPrice(ctx, holding.ID, quote.Price, quote.Timestamp); err != nil {
		s.logger.Error().Str("holding_id", holding.ID).Err(err).Msg("Failed to update holding price")
		return
	}
	summary.Changed++

	pct := 0.0
	if previous != 0 {
		pct = delta / previous
	}
	s.emit(ctx, &models.NotificationEvent{
		Type:        models.NotificationPriceChanged,
		UserID:      portfolio.OwnerID,
		PortfolioID: portfolio.ID,
		HoldingID:   holding.ID,
		Payload: map[string]interface{}{
			"symbol":         holding.Symbol,
			"name":           holding.Name,
			"price":          quote.Price,
			"previous_price": previous,
			"change":         delta,
			"change_pct":     pct,
			"quote_time":     quote.Timestamp,
		},
	})
}

// markStale re-upserts the latest snapshot with the stale flag.
func (s *Scheduler) markStale(ctx context.Context, holding *models.Holding, summary *models.CycleSummary) {
	last, err := s.store.LatestSnapshot(ctx, holding.ID)
	if err != nil {
		s.logger.Warn().Str("holding_id", holding.ID).Err(err).Msg("Failed to load latest snapshot")
		return
	}
	if last == nil {
		return
	}
	if !last.Stale {
		last.Stale = true
		if err := s.store.UpsertSnapshot(ctx, last); err != nil {
			s.logger.Warn().Str("holding_id", holding.ID).Err(err).Msg("Failed to flag snapshot stale")
			return
		}
	}
	summary.Stale++
	summary.Snapshots = append(summary.Snapshots, last)
}

func (s *Scheduler) serveStale(ctx context.Context, holdings []*models.Holding, summary *models.CycleSummary) {
	for _, holding := range holdings {
		s.markStale(ctx, holding, summary)
	}
	s.logger.Debug().
		Str("portfolio_id", summary.PortfolioID).
		Int("stale", summary.Stale).
		Msg("Market closed, served cached snapshots")
}

// finish records the outcome, adjusts backoff and broadcasts the summary.
func (s *Scheduler) finish(ctx context.Context, portfolio *models.Portfolio, summary *models.CycleSummary, cycleFailed bool) {
	s.setState(portfolio.ID, models.StateBroadcasting)
	summary.CompletedAt = s.now()

	s.mu.Lock()
	st := s.stateFor(portfolio.ID)
	switch {
	case cycleFailed:
		st.failures++
		if st.failures >= s.config.FailureThreshold {
			st.interval *= 2
			if st.interval > s.config.MaxBackoff {
				st.interval = s.config.MaxBackoff
			}
		}
	case summary.SessionOpen:
		st.failures = 0
		st.interval = s.config.Interval
	}
	st.nextDue = summary.CompletedAt.Add(st.interval)
	if st.failures >= s.config.FailureThreshold {
		summary.State = models.StateErrorBackoff
	} else {
		summary.State = models.StateIdle
	}
	summary.Interval = st.interval
	failures := st.failures
	cp := *summary
	st.last = &cp
	s.mu.Unlock()

	if summary.State == models.StateErrorBackoff {
		s.logger.Warn().
			Str("portfolio_id", portfolio.ID).
			Int("consecutive_failures", failures).
			Dur("interval", summary.Interval).
			Msg("Price polling backing off")
	}

	s.emit(ctx, &models.NotificationEvent{
		Type:        models.NotificationMarketSummary,
		UserID:      portfolio.OwnerID,
		PortfolioID: portfolio.ID,
		Payload: map[string]interface{}{
			"session_open": summary.SessionOpen,
			"total":        summary.Total,
			"succeeded":    summary.Succeeded,
			"failed":       summary.Failed,
			"stale":        summary.Stale,
			"changed":      summary.Changed,
			"partial":      summary.Partial,
			"state":        string(summary.State),
		},
	})

	s.setState(portfolio.ID, summary.State)

	s.logger.Info().
		Str("portfolio_id", portfolio.ID).
		Bool("session_open", summary.SessionOpen).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("stale", summary.Stale).
		Int("changed", summary.Changed).
		Msg("Price cycle complete")
}

func (s *Scheduler) emit(ctx context.Context, event *models.NotificationEvent) {
	if err := events.Emit(ctx, s.bus, event); err != nil {
		s.logger.Warn().Str("type", string(event.Type)).Err(err).Msg("Failed to emit price event")
	}
}

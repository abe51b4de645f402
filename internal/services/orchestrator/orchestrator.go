// Package orchestrator drives the price and strategy cycles on timers and
// on demand, one cycle per portfolio and kind at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
	"github.com/ternarybob/tradepulse/internal/services/news"
	"github.com/ternarybob/tradepulse/internal/services/relevance"
	"github.com/ternarybob/tradepulse/internal/services/strategy"
)

// CycleKind names a recurring cycle.
type CycleKind string

const (
	KindPrices   CycleKind = "prices"
	KindStrategy CycleKind = "strategy"
)

// PriceRunner runs one price cycle for a portfolio.
type PriceRunner interface {
	RunCycle(ctx context.Context, portfolio *models.Portfolio) (*models.CycleSummary, error)
	Due(portfolioID string) bool
}

// KeywordSource yields the active keywords of a holding.
type KeywordSource interface {
	Keywords(ctx context.Context, holding *models.Holding) ([]*models.Keyword, error)
}

// Collector gathers news for keywords.
type Collector interface {
	Collect(ctx context.Context, keywords []*models.Keyword) (*news.CollectResult, error)
}

// Ranker scores and filters collected articles.
type Ranker interface {
	Rank(articles []*models.NewsArticle, keywords []*models.Keyword, incomplete bool) *relevance.RankResult
}

// Evaluator produces strategy decisions.
type Evaluator interface {
	Evaluate(ctx context.Context, holding *models.Holding, ranked *relevance.RankResult, trend models.PriceTrend) (*strategy.Evaluation, error)
}

// Config holds the timer intervals and limits.
type Config struct {
	PriceInterval    time.Duration
	StrategyInterval time.Duration
	MaxConcurrency   int
	TrendWindow      int
	AlertThreshold   float64       // 0 disables NEWS_ALERT
	AlertTTL         time.Duration // an article alerts once within this window
}

// NewConfig picks the orchestrator settings out of the application config.
func NewConfig(config *common.Config) Config {
	return Config{
		PriceInterval:    config.Prices.Interval,
		StrategyInterval: config.Strategy.Interval,
		MaxConcurrency:   config.Orchestrator.MaxConcurrency,
		TrendWindow:      config.Prices.TrendWindow,
		AlertThreshold:   config.Relevance.AlertThreshold,
		AlertTTL:         config.News.RecencyWindow,
	}
}

// Schedule describes one timer.
type Schedule struct {
	Kind      CycleKind     `json:"kind"`
	Spec      string        `json:"spec"`
	Interval  time.Duration `json:"interval"`
	LastFired time.Time     `json:"last_fired,omitempty"`
	NextRun   time.Time     `json:"next_run,omitempty"`

	entryID cron.EntryID
}

// TickResult counts what one tick did across portfolios.
type TickResult struct {
	Kind    CycleKind `json:"kind"`
	Started int       `json:"started"`
	Skipped int       `json:"skipped"`
	Failed  int       `json:"failed"`
}

type leaseKey struct {
	portfolioID string
	kind        CycleKind
}

// Orchestrator owns the cycle timers, the per-portfolio leases and the
// global concurrency cap.
type Orchestrator struct {
	store    interfaces.PortfolioStore
	prices   PriceRunner
	keywords KeywordSource
	crawler  Collector
	ranker   Ranker
	engine   Evaluator
	bus      interfaces.EventService
	config   Config
	logger   arbor.ILogger

	sem chan struct{}

	leaseMu sync.Mutex
	leases  map[leaseKey]time.Time

	alertMu sync.Mutex
	alerted map[string]time.Time // holding id + dedup key -> alert time

	mu        sync.Mutex
	cron      *cron.Cron
	schedules map[CycleKind]*Schedule
	running   bool
	stopping  bool
	ctx       context.Context
	cancel    context.CancelFunc
	inflight  sync.WaitGroup
}

// New creates an orchestrator. It does not start the timers.
func New(store interfaces.PortfolioStore, prices PriceRunner, keywords KeywordSource, crawler Collector, ranker Ranker, engine Evaluator, bus interfaces.EventService, config Config, logger arbor.ILogger) *Orchestrator {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	if config.TrendWindow <= 0 {
		config.TrendWindow = 12
	}
	if config.AlertTTL <= 0 {
		config.AlertTTL = 72 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     store,
		prices:    prices,
		keywords:  keywords,
		crawler:   crawler,
		ranker:    ranker,
		engine:    engine,
		bus:       bus,
		config:    config,
		logger:    logger,
		sem:       make(chan struct{}, config.MaxConcurrency),
		leases:    make(map[leaseKey]time.Time),
		alerted:   make(map[string]time.Time),
		schedules: make(map[CycleKind]*Schedule),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the two "@every" timers and starts them.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("orchestrator already running")
	}
	if o.ctx.Err() != nil {
		o.ctx, o.cancel = context.WithCancel(context.Background())
	}

	o.cron = cron.New()
	for kind, interval := range map[CycleKind]time.Duration{
		KindPrices:   o.config.PriceInterval,
		KindStrategy: o.config.StrategyInterval,
	} {
		spec := common.EverySchedule(interval)
		if err := common.ValidateSchedule(spec); err != nil {
			return fmt.Errorf("%s schedule: %w", kind, err)
		}
		id, err := o.cron.AddFunc(spec, func() { o.fire(kind) })
		if err != nil {
			return fmt.Errorf("failed to add %s schedule: %w", kind, err)
		}
		o.schedules[kind] = &Schedule{Kind: kind, Spec: spec, Interval: interval, entryID: id}
	}

	o.cron.Start()
	o.running = true

	o.logger.Info().
		Dur("price_interval", o.config.PriceInterval).
		Dur("strategy_interval", o.config.StrategyInterval).
		Int("max_concurrency", o.config.MaxConcurrency).
		Msg("Orchestrator started")
	return nil
}

// Stop halts the timers, cancels in-flight cycles and waits for them. New
// cycles are refused with common.ErrShuttingDown until it returns; after
// that manual cycles run again and Start may be called.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return
	}
	o.stopping = true
	wasRunning := o.running
	o.running = false
	var cronDone context.Context
	if wasRunning {
		cronDone = o.cron.Stop()
	}
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	if cronDone != nil {
		<-cronDone.Done()
	}
	o.inflight.Wait()

	o.mu.Lock()
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.stopping = false
	o.mu.Unlock()

	if wasRunning {
		o.logger.Info().Msg("Orchestrator stopped")
	}
}

// begin registers an in-flight cycle and returns the orchestrator's lifetime
// context. The caller must call o.inflight.Done when the cycle ends.
func (o *Orchestrator) begin() (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopping {
		return nil, common.ErrShuttingDown
	}
	o.inflight.Add(1)
	return o.ctx, nil
}

// bind derives a context from ctx that is also cancelled when lifetime ends.
func bind(ctx, lifetime context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Running reports whether the timers are active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Schedules returns the registered timers.
func (o *Orchestrator) Schedules() []Schedule {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := make([]Schedule, 0, len(o.schedules))
	for _, kind := range []CycleKind{KindPrices, KindStrategy} {
		s, ok := o.schedules[kind]
		if !ok {
			continue
		}
		cp := *s
		if o.cron != nil {
			cp.NextRun = o.cron.Entry(s.entryID).Next
		}
		result = append(result, cp)
	}
	return result
}

func (o *Orchestrator) fire(kind CycleKind) {
	o.mu.Lock()
	if s, ok := o.schedules[kind]; ok {
		s.LastFired = time.Now()
	}
	lifetime := o.ctx
	o.mu.Unlock()

	var result TickResult
	switch kind {
	case KindPrices:
		result = o.TickPrices(lifetime)
	case KindStrategy:
		result = o.TickStrategy(lifetime)
	}

	o.logger.Debug().
		Str("kind", string(kind)).
		Int("started", result.Started).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Tick complete")
}

// acquire takes the lease for (portfolio, kind). It returns false when a
// cycle of that kind is already running for the portfolio.
func (o *Orchestrator) acquire(portfolioID string, kind CycleKind) bool {
	o.leaseMu.Lock()
	defer o.leaseMu.Unlock()

	key := leaseKey{portfolioID: portfolioID, kind: kind}
	if _, held := o.leases[key]; held {
		return false
	}
	o.leases[key] = time.Now()
	return true
}

func (o *Orchestrator) release(portfolioID string, kind CycleKind) {
	o.leaseMu.Lock()
	delete(o.leases, leaseKey{portfolioID: portfolioID, kind: kind})
	o.leaseMu.Unlock()
}

// Busy reports whether a cycle of kind holds the portfolio's lease.
func (o *Orchestrator) Busy(portfolioID string, kind CycleKind) bool {
	o.leaseMu.Lock()
	defer o.leaseMu.Unlock()
	_, held := o.leases[leaseKey{portfolioID: portfolioID, kind: kind}]
	return held
}

// slot waits for a concurrency slot. The returned func frees it.
func (o *Orchestrator) slot(ctx context.Context) (func(), error) {
	select {
	case o.sem <- struct{}{}:
		return func() { <-o.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TickPrices runs a price cycle for every portfolio that is due and not
// already cycling.
func (o *Orchestrator) TickPrices(ctx context.Context) TickResult {
	return o.tick(ctx, KindPrices, func(ctx context.Context, portfolio *models.Portfolio) error {
		_, err := o.prices.RunCycle(ctx, portfolio)
		return err
	})
}

// TickStrategy runs a strategy cycle for every portfolio not already cycling.
func (o *Orchestrator) TickStrategy(ctx context.Context) TickResult {
	return o.tick(ctx, KindStrategy, func(ctx context.Context, portfolio *models.Portfolio) error {
		_, err := o.strategyCycle(ctx, portfolio)
		return err
	})
}

func (o *Orchestrator) tick(ctx context.Context, kind CycleKind, run func(context.Context, *models.Portfolio) error) TickResult {
	result := TickResult{Kind: kind}

	lifetime, err := o.begin()
	if err != nil {
		o.logger.Debug().Str("kind", string(kind)).Msg("Orchestrator stopping, tick dropped")
		return result
	}
	defer o.inflight.Done()
	ctx, unbind := bind(ctx, lifetime)
	defer unbind()

	portfolios, err := o.store.ListPortfolios(ctx)
	if err != nil {
		o.logger.Error().Str("kind", string(kind)).Err(err).Msg("Failed to list portfolios")
		result.Failed++
		return result
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, portfolio := range portfolios {
		if kind == KindPrices && !o.prices.Due(portfolio.ID) {
			o.logger.Debug().Str("portfolio_id", portfolio.ID).Msg("Price polling backing off, tick skipped")
			result.Skipped++
			continue
		}
		if !o.acquire(portfolio.ID, kind) {
			o.logger.Info().
				Str("portfolio_id", portfolio.ID).
				Str("kind", string(kind)).
				Msg("Cycle still running, tick skipped")
			result.Skipped++
			continue
		}
		result.Started++

		common.SafeGoGroup(&wg, o.logger, string(kind)+"-cycle-"+portfolio.ID, func() {
			err := o.runLeased(ctx, portfolio, kind, run)
			if err != nil {
				mu.Lock()
				result.Failed++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return result
}

// runLeased runs a cycle whose lease is already held and releases the lease
// on every exit path.
func (o *Orchestrator) runLeased(ctx context.Context, portfolio *models.Portfolio, kind CycleKind, run func(context.Context, *models.Portfolio) error) (err error) {
	defer o.release(portfolio.ID, kind)
	defer common.RecoverPanic(o.logger, string(kind)+"-cycle-"+portfolio.ID, func(recovered interface{}) {
		err = fmt.Errorf("%s cycle for %s panicked: %v", kind, portfolio.ID, recovered)
	})

	free, err := o.slot(ctx)
	if err != nil {
		return err
	}
	defer free()

	if err := run(ctx, portfolio); err != nil {
		if !errors.Is(err, context.Canceled) {
			o.logger.Warn().
				Str("portfolio_id", portfolio.ID).
				Str("kind", string(kind)).
				Err(err).
				Msg("Cycle failed")
		}
		return err
	}
	return nil
}

func (o *Orchestrator) lookup(ctx context.Context, portfolioID string) (*models.Portfolio, error) {
	portfolio, err := o.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewValidationError("unknown portfolio %s", portfolioID)
		}
		return nil, err
	}
	return portfolio, nil
}

// RunPriceCycle runs a price cycle now, ignoring backoff.
func (o *Orchestrator) RunPriceCycle(ctx context.Context, portfolioID string) (*models.CycleSummary, error) {
	lifetime, err := o.begin()
	if err != nil {
		return nil, err
	}
	defer o.inflight.Done()
	ctx, unbind := bind(ctx, lifetime)
	defer unbind()

	portfolio, err := o.lookup(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	if !o.acquire(portfolioID, KindPrices) {
		return nil, fmt.Errorf("%w: prices for %s", common.ErrCycleInProgress, portfolioID)
	}

	var summary *models.CycleSummary
	err = o.runLeased(ctx, portfolio, KindPrices, func(ctx context.Context, p *models.Portfolio) error {
		var runErr error
		summary, runErr = o.prices.RunCycle(ctx, p)
		return runErr
	})
	return summary, err
}

// RunStrategyCycle runs a strategy cycle now and waits for it.
func (o *Orchestrator) RunStrategyCycle(ctx context.Context, portfolioID string) (*models.StrategyCycleResult, error) {
	lifetime, err := o.begin()
	if err != nil {
		return nil, err
	}
	defer o.inflight.Done()
	ctx, unbind := bind(ctx, lifetime)
	defer unbind()

	portfolio, err := o.lookup(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	if !o.acquire(portfolioID, KindStrategy) {
		return nil, fmt.Errorf("%w: strategy for %s", common.ErrCycleInProgress, portfolioID)
	}

	var result *models.StrategyCycleResult
	err = o.runLeased(ctx, portfolio, KindStrategy, func(ctx context.Context, p *models.Portfolio) error {
		var runErr error
		result, runErr = o.strategyCycle(ctx, p)
		return runErr
	})
	return result, err
}

// TriggerStrategyCycle validates and leases synchronously, then runs the
// cycle in the background under the orchestrator's lifetime.
func (o *Orchestrator) TriggerStrategyCycle(ctx context.Context, portfolioID string) error {
	lifetime, err := o.begin()
	if err != nil {
		return err
	}
	started := false
	defer func() {
		if !started {
			o.inflight.Done()
		}
	}()

	portfolio, err := o.lookup(ctx, portfolioID)
	if err != nil {
		return err
	}
	if !o.acquire(portfolioID, KindStrategy) {
		return fmt.Errorf("%w: strategy for %s", common.ErrCycleInProgress, portfolioID)
	}

	started = true
	common.SafeGo(o.logger, "strategy-trigger-"+portfolioID, func() {
		defer o.inflight.Done()
		o.runLeased(lifetime, portfolio, KindStrategy, func(ctx context.Context, p *models.Portfolio) error {
			_, err := o.strategyCycle(ctx, p)
			return err
		})
	})
	return nil
}

package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/eodhd"
	"github.com/ternarybob/tradepulse/internal/handlers"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/services/analysis"
	"github.com/ternarybob/tradepulse/internal/services/events"
	"github.com/ternarybob/tradepulse/internal/services/exchange"
	"github.com/ternarybob/tradepulse/internal/services/keywords"
	"github.com/ternarybob/tradepulse/internal/services/llm"
	"github.com/ternarybob/tradepulse/internal/services/news"
	"github.com/ternarybob/tradepulse/internal/services/notify"
	"github.com/ternarybob/tradepulse/internal/services/orchestrator"
	"github.com/ternarybob/tradepulse/internal/services/prices"
	"github.com/ternarybob/tradepulse/internal/services/relevance"
	"github.com/ternarybob/tradepulse/internal/services/strategy"
	"github.com/ternarybob/tradepulse/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	Store     interfaces.PortfolioStore
	ctx       context.Context
	cancelCtx context.CancelFunc

	// Event-driven services
	EventService interfaces.EventService
	Hub          *notify.Hub

	// Pipeline services
	Session         *common.TradingSession
	EODHDClient     *eodhd.Client
	ExchangeService *exchange.Service
	PriceScheduler  *prices.Scheduler
	KeywordService  *keywords.Service
	NewsCrawler     *news.Crawler
	Scorer          *relevance.Scorer
	ProviderFactory *llm.ProviderFactory
	AnalysisClient  *analysis.Client
	StrategyEngine  *strategy.Engine
	Orchestrator    *orchestrator.Orchestrator

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	PortfolioHandler *handlers.PortfolioHandler
	HoldingHandler   *handlers.HoldingHandler
	WSHandler        *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initEvents(); err != nil {
		return nil, fmt.Errorf("failed to initialize events: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Bool("orchestrator_enabled", cfg.Orchestrator.Enabled).
		Strs("news_sources", app.NewsCrawler.Sources()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens the portfolio store selected in [storage]
func (a *App) initDatabase() error {
	store, err := storage.NewPortfolioStore(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create portfolio store: %w", err)
	}
	a.Store = store

	a.Logger.Info().Str("type", a.Config.Storage.Type).Msg("Storage initialized")
	return nil
}

// initEvents creates the event bus and attaches the notification hub
func (a *App) initEvents() error {
	a.EventService = events.NewService(a.Logger)

	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return err
	}

	a.Hub = notify.NewHub(a.Logger)
	if err := a.Hub.Subscribe(a.EventService); err != nil {
		return fmt.Errorf("failed to subscribe notification hub: %w", err)
	}
	return nil
}

func (a *App) initServices() error {
	session, err := common.NewTradingSession(a.Config.Market)
	if err != nil {
		return fmt.Errorf("invalid market session: %w", err)
	}
	a.Session = session
	common.SetDefaultExchange(a.Config.Market.DefaultExchange)

	// 1. Market data
	a.EODHDClient = eodhd.NewClient(
		a.Config.EODHD.APIKey,
		eodhd.WithBaseURL(a.Config.EODHD.BaseURL),
		eodhd.WithRateLimit(a.Config.EODHD.RateLimit),
		eodhd.WithLogger(a.Logger),
	)
	a.ExchangeService = exchange.NewService(a.EODHDClient, session, common.DefaultExchange, a.Logger)
	if a.Config.EODHD.APIKey == "" {
		a.Logger.Warn().Msg("EODHD API key not configured - price updates and EODHD news will fail")
	} else {
		a.ExchangeService.Start(a.ctx)
	}

	a.PriceScheduler = prices.NewScheduler(
		prices.NewEODHDQuoteProvider(a.EODHDClient, session),
		a.Store,
		a.EventService,
		session,
		a.Config.Prices,
		a.Logger,
	)

	// 2. News
	a.KeywordService = keywords.NewService(a.Store, a.Logger)
	a.NewsCrawler = news.NewCrawler(a.newsSources(), a.Config.News, a.Logger)
	a.Scorer = relevance.NewScorer(a.Config.Relevance, a.Logger)

	// 3. Inference
	a.ProviderFactory = llm.NewProviderFactory(&a.Config.Gemini, &a.Config.Claude, &a.Config.LLM, a.Logger)
	if !a.ProviderFactory.Available(a.Config.Strategy.Model) {
		a.Logger.Warn().
			Str("model", a.Config.Strategy.Model).
			Msg("No API key for the strategy model - decisions will be degraded")
	}
	inference := llm.NewInferenceService(a.ProviderFactory, a.Config.Strategy.Model, a.Config.Strategy.InferenceTimeout, a.Logger)
	a.AnalysisClient = analysis.NewClient(inference, a.Config.Strategy, a.Logger)
	a.StrategyEngine = strategy.NewEngine(a.AnalysisClient, a.Store, a.EventService, a.Config.Strategy, a.Logger)

	// 4. Scheduling
	a.Orchestrator = orchestrator.New(
		a.Store,
		a.PriceScheduler,
		a.KeywordService,
		a.NewsCrawler,
		a.Scorer,
		a.StrategyEngine,
		a.EventService,
		orchestrator.NewConfig(a.Config),
		a.Logger,
	)

	return nil
}

func (a *App) newsSources() []interfaces.NewsSource {
	var sources []interfaces.NewsSource
	if a.Config.News.EODHDEnabled {
		sources = append(sources, news.NewEODHDSource(a.EODHDClient, a.Config.News.MaxArticlesPerKeyword, a.Config.News.RecencyWindow))
	}

	httpClient := &http.Client{Timeout: a.Config.News.RequestTimeout}
	for _, sc := range a.Config.News.Sources {
		if !sc.Enabled {
			a.Logger.Debug().Str("source", sc.ID).Msg("News source disabled")
			continue
		}
		sources = append(sources, news.NewHTMLSource(sc, httpClient, a.Config.News.UserAgent, a.Logger))
	}
	return sources
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.PortfolioHandler = handlers.NewPortfolioHandler(a.Orchestrator, a.PriceScheduler, a.Logger)
	a.HoldingHandler = handlers.NewHoldingHandler(a.Store, a.KeywordService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Hub, a.Orchestrator, a.Config.WebSocket, a.Logger)
}

// Close stops background cycles and releases resources
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Orchestrator != nil {
		a.Orchestrator.Stop()
	}

	if a.Hub != nil {
		if err := a.Hub.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close notification hub")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.ProviderFactory != nil {
		if err := a.ProviderFactory.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM providers")
		}
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}

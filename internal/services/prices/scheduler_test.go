package prices

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/eodhd"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
	"github.com/ternarybob/tradepulse/internal/services/events"
	"github.com/ternarybob/tradepulse/internal/storage/memory"
)

// Tuesday 10:00 and 20:00 in Seoul.
var (
	openTime   = time.Date(2026, 10, 13, 1, 0, 0, 0, time.UTC)
	closedTime = time.Date(2026, 10, 13, 11, 0, 0, 0, time.UTC)
)

type quoteFunc func(ctx context.Context, asOf time.Time) (*models.Quote, error)

type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]quoteFunc
	calls  int32
}

func (f *fakeQuotes) set(symbol string, fn quoteFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[symbol] = fn
}

func (f *fakeQuotes) GetPrice(ctx context.Context, symbol string, asOf time.Time) (*models.Quote, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	fn, ok := f.quotes[symbol]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown symbol %s", common.ErrProviderUnavailable, symbol)
	}
	return fn(ctx, asOf)
}

func fixedQuote(symbol string, price float64, at time.Time) quoteFunc {
	return func(ctx context.Context, asOf time.Time) (*models.Quote, error) {
		return &models.Quote{Symbol: symbol, Price: price, Timestamp: at, Session: models.SessionOpen}, nil
	}
}

func failingQuote(err error) quoteFunc {
	return func(ctx context.Context, asOf time.Time) (*models.Quote, error) {
		return nil, err
	}
}

type recorder struct {
	mu     sync.Mutex
	events []*models.NotificationEvent
}

func (r *recorder) handle(ctx context.Context, event interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.Payload.(*models.NotificationEvent))
	return nil
}

func (r *recorder) ofType(t models.NotificationType) []*models.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.NotificationEvent
	for _, e := range r.events {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}

type fixture struct {
	scheduler *Scheduler
	quotes    *fakeQuotes
	store     *memory.Store
	events    *recorder
	portfolio *models.Portfolio
	clock     time.Time
}

func newFixture(t *testing.T, config common.PricesConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := arbor.NewLogger()

	session, err := common.NewTradingSession(common.NewDefaultConfig().Market)
	require.NoError(t, err)

	store := memory.NewStore()
	portfolio := &models.Portfolio{ID: "p1", OwnerID: "u1"}
	require.NoError(t, store.SavePortfolio(ctx, portfolio))
	require.NoError(t, store.SaveHolding(ctx, &models.Holding{ID: "h1", PortfolioID: "p1", Symbol: "KRX:005930", Name: "삼성전자", LastPrice: 70000}))
	require.NoError(t, store.SaveHolding(ctx, &models.Holding{ID: "h2", PortfolioID: "p1", Symbol: "KRX:000660", Name: "SK하이닉스", LastPrice: 180000}))

	bus := events.NewService(logger)
	rec := &recorder{}
	for _, eventType := range interfaces.NotificationEventTypes {
		require.NoError(t, bus.Subscribe(eventType, rec.handle))
	}

	quotes := &fakeQuotes{quotes: make(map[string]quoteFunc)}
	f := &fixture{quotes: quotes, store: store, events: rec, portfolio: portfolio, clock: openTime}
	f.scheduler = NewScheduler(quotes, store, bus, session, config, logger)
	f.scheduler.now = func() time.Time { return f.clock }
	return f
}

func defaultConfig() common.PricesConfig {
	return common.PricesConfig{
		Interval:         5 * time.Minute,
		QuoteTimeout:     time.Second,
		CycleDeadline:    2 * time.Second,
		FailureThreshold: 3,
		MaxBackoff:       time.Hour,
	}
}

func TestRunCycleUpdatesChangedPrices(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	quoteAt := openTime.Add(-time.Minute)
	f.quotes.set("KRX:005930", fixedQuote("KRX:005930", 71000, quoteAt))
	f.quotes.set("KRX:000660", fixedQuote("KRX:000660", 180000, quoteAt))

	summary, err := f.scheduler.RunCycle(ctx, f.portfolio)
	require.NoError(t, err)
	assert.True(t, summary.SessionOpen)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Changed)
	assert.Equal(t, 1, summary.Unchanged)
	assert.Equal(t, models.StateIdle, summary.State)

	h1, err := f.store.GetHolding(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 71000.0, h1.LastPrice)
	assert.True(t, quoteAt.Equal(h1.LastUpdated))

	// Unchanged holdings still get a snapshot
	latest, err := f.store.LatestSnapshot(ctx, "h2")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.False(t, latest.Stale)

	changed := f.events.ofType(models.NotificationPriceChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "u1", changed[0].UserID)
	assert.Equal(t, "h1", changed[0].HoldingID)
	assert.Equal(t, 1000.0, changed[0].Payload["change"])
	assert.InDelta(t, 1000.0/70000.0, changed[0].Payload["change_pct"], 1e-9)

	summaries := f.events.ofType(models.NotificationMarketSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].Payload["succeeded"])

	got, ok := f.scheduler.MarketSummary("p1")
	require.True(t, ok)
	assert.Equal(t, 2, got.Succeeded)
}

func TestRunCyclePartialFailureKeepsStaleSnapshot(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, f.store.UpsertSnapshot(ctx, &models.PriceSnapshot{HoldingID: "h2", Price: 180000, Timestamp: openTime.Add(-10 * time.Minute), Session: models.SessionOpen}))

	f.quotes.set("KRX:005930", fixedQuote("KRX:005930", 70500, openTime))
	f.quotes.set("KRX:000660", failingQuote(fmt.Errorf("%w: 503", common.ErrProviderUnavailable)))

	summary, err := f.scheduler.RunCycle(ctx, f.portfolio)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Stale)
	assert.False(t, summary.Partial)

	stale, err := f.store.LatestSnapshot(ctx, "h2")
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.Equal(t, 180000.0, stale.Price)

	h2, err := f.store.GetHolding(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, 180000.0, h2.LastPrice)
}

func TestRunCycleOutsideSessionServesStale(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	f.clock = closedTime
	require.NoError(t, f.store.UpsertSnapshot(ctx, &models.PriceSnapshot{HoldingID: "h1", Price: 70000, Timestamp: openTime, Session: models.SessionOpen}))
	f.quotes.set("KRX:005930", fixedQuote("KRX:005930", 99999, closedTime))

	summary, err := f.scheduler.RunCycle(ctx, f.portfolio)
	require.NoError(t, err)
	assert.False(t, summary.SessionOpen)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.quotes.calls))
	assert.Equal(t, 1, summary.Stale)
	require.Len(t, summary.Snapshots, 1)
	assert.True(t, summary.Snapshots[0].Stale)

	latest, err := f.store.LatestSnapshot(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, latest.Stale)

	h1, err := f.store.GetHolding(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 70000.0, h1.LastPrice)
	assert.Empty(t, f.events.ofType(models.NotificationPriceChanged))
}

func TestRunCycleRejectsBackwardTimestamp(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, f.store.UpsertSnapshot(ctx, &models.PriceSnapshot{HoldingID: "h1", Price: 70000, Timestamp: openTime, Session: models.SessionOpen}))

	f.quotes.set("KRX:005930", fixedQuote("KRX:005930", 72000, openTime.Add(-time.Hour)))
	f.quotes.set("KRX:000660", fixedQuote("KRX:000660", 181000, openTime))

	summary, err := f.scheduler.RunCycle(ctx, f.portfolio)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)

	h1, err := f.store.GetHolding(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 70000.0, h1.LastPrice)

	h2, err := f.store.GetHolding(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, 181000.0, h2.LastPrice)
}

func TestRunCycleClosedQuoteIsStale(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	require.NoError(t, f.store.UpsertSnapshot(ctx, &models.PriceSnapshot{HoldingID: "h1", Price: 70000, Timestamp: openTime.Add(-24 * time.Hour), Session: models.SessionOpen}))

	f.quotes.set("KRX:005930", func(ctx context.Context, asOf time.Time) (*models.Quote, error) {
		return &models.Quote{Symbol: "KRX:005930", Price: 70000, Timestamp: openTime.Add(-24 * time.Hour), Session: models.SessionClosed}, nil
	})
	f.quotes.set("KRX:000660", fixedQuote("KRX:000660", 180000, openTime))

	summary, err := f.scheduler.RunCycle(ctx, f.portfolio)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stale)
	assert.Equal(t, 0, summary.Failed)

	latest, err := f.store.LatestSnapshot(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, latest.Stale)
}

func TestRunCycleDeadlineMarksPartial(t *testing.T) {
	config := defaultConfig()
	config.QuoteTimeout = 5 * time.Second
	config.CycleDeadline = 50 * time.Millisecond
	f := newFixture(t, config)

	f.quotes.set("KRX:005930", fixedQuote("KRX:005930", 70000, openTime))
	f.quotes.set("KRX:000660", func(ctx context.Context, asOf time.Time) (*models.Quote, error) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return nil, ctx.Err()
	})

	summary, err := f.scheduler.RunCycle(context.Background(), f.portfolio)
	require.NoError(t, err)
	assert.True(t, summary.Partial)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunCycleBacksOffAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	down := failingQuote(fmt.Errorf("%w: down", common.ErrProviderUnavailable))
	f.quotes.set("KRX:005930", down)
	f.quotes.set("KRX:000660", down)

	for i := 0; i < 2; i++ {
		summary, err := f.scheduler.RunCycle(ctx, f.portfolio)
		require.NoError(t, err)
		assert.Equal(t, models.StateIdle, summary.State)
		assert.True(t, f.scheduler.Due("p1"))
	}

	summary, err := f.scheduler.RunCycle(ctx, f.portfolio)
	require.NoError(t, err)
	assert.Equal(t, models.StateErrorBackoff, summary.State)
	assert.Equal(t, 10*time.Minute, summary.Interval)
	assert.False(t, f.scheduler.Due("p1"))

	status := f.scheduler.Status("p1")
	assert.Equal(t, models.StateErrorBackoff, status.State)
	assert.Equal(t, 3, status.ConsecutiveFailures)

	_, err = f.scheduler.RunCycle(ctx, f.portfolio)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, f.scheduler.Status("p1").Interval)

	f.clock = f.clock.Add(21 * time.Minute)
	assert.True(t, f.scheduler.Due("p1"))

	f.quotes.set("KRX:005930", fixedQuote("KRX:005930", 70000, f.clock))
	summary, err = f.scheduler.RunCycle(ctx, f.portfolio)
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, summary.State)
	assert.Equal(t, 5*time.Minute, summary.Interval)
	assert.Equal(t, 0, f.scheduler.Status("p1").ConsecutiveFailures)
}

func TestBackoffIsCapped(t *testing.T) {
	config := defaultConfig()
	config.MaxBackoff = 15 * time.Minute
	f := newFixture(t, config)
	down := failingQuote(fmt.Errorf("%w: down", common.ErrNetwork))
	f.quotes.set("KRX:005930", down)
	f.quotes.set("KRX:000660", down)

	for i := 0; i < 6; i++ {
		_, err := f.scheduler.RunCycle(context.Background(), f.portfolio)
		require.NoError(t, err)
	}
	assert.Equal(t, 15*time.Minute, f.scheduler.Status("p1").Interval)
}

func TestEODHDQuoteProvider(t *testing.T) {
	session, err := common.NewTradingSession(common.NewDefaultConfig().Market)
	require.NoError(t, err)

	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/real-time/005930.KO", r.URL.Path)
		w.Write([]byte(body))
	}))
	defer server.Close()

	client := eodhd.NewClient("key", eodhd.WithBaseURL(server.URL), eodhd.WithRateLimit(100))
	provider := NewEODHDQuoteProvider(client, session)
	ctx := context.Background()

	body = fmt.Sprintf(`{"code":"005930.KO","timestamp":%d,"close":71000}`, openTime.Add(-15*time.Minute).Unix())
	quote, err := provider.GetPrice(ctx, "KRX:005930", openTime)
	require.NoError(t, err)
	assert.Equal(t, 71000.0, quote.Price)
	assert.Equal(t, models.SessionOpen, quote.Session)

	// Last trade from the previous day means the market did not open today
	body = fmt.Sprintf(`{"code":"005930.KO","timestamp":%d,"close":71000}`, openTime.Add(-24*time.Hour).Unix())
	quote, err = provider.GetPrice(ctx, "KRX:005930", openTime)
	require.NoError(t, err)
	assert.Equal(t, models.SessionClosed, quote.Session)

	body = `{"code":"005930.KO","timestamp":"NA","close":"NA"}`
	_, err = provider.GetPrice(ctx, "KRX:005930", openTime)
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/models"
	"github.com/ternarybob/tradepulse/internal/services/keywords"
	"github.com/ternarybob/tradepulse/internal/services/prices"
	"github.com/ternarybob/tradepulse/internal/storage/memory"
)

type fakeCycles struct {
	triggered  []string
	triggerErr error
	summary    *models.CycleSummary
	priceErr   error
}

func (f *fakeCycles) TriggerStrategyCycle(ctx context.Context, portfolioID string) error {
	if f.triggerErr != nil {
		return f.triggerErr
	}
	f.triggered = append(f.triggered, portfolioID)
	return nil
}

func (f *fakeCycles) RunPriceCycle(ctx context.Context, portfolioID string) (*models.CycleSummary, error) {
	return f.summary, f.priceErr
}

type fakeMarket struct {
	summary *models.CycleSummary
}

func (f *fakeMarket) MarketSummary(portfolioID string) (*models.CycleSummary, bool) {
	return f.summary, f.summary != nil
}

func (f *fakeMarket) Status(portfolioID string) prices.Status {
	return prices.Status{PortfolioID: portfolioID, State: models.StateIdle, Interval: 5 * time.Minute}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteServiceErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{common.NewValidationError("bad"), http.StatusBadRequest},
		{common.ErrNotFound, http.StatusNotFound},
		{common.ErrCycleInProgress, http.StatusConflict},
		{&common.RateLimitedError{RetryAfter: time.Second, Err: common.ErrRateLimited}, http.StatusTooManyRequests},
		{common.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{common.ErrShuttingDown, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		WriteServiceError(rec, tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestPathParamAndQueryInt(t *testing.T) {
	assert.Equal(t, "h1", PathParam("/api/holdings/h1/strategy", holdingsPrefix))
	assert.Equal(t, "p1", PathParam("/api/portfolios/p1", portfoliosPrefix))
	assert.Equal(t, "", PathParam("/other/h1", holdingsPrefix))

	r := httptest.NewRequest("GET", "/x?days=500&limit=abc", nil)
	assert.Equal(t, 90, QueryInt(r, "days", 7, 90))
	assert.Equal(t, 20, QueryInt(r, "limit", 20, 200))
	assert.Equal(t, 3, QueryInt(r, "missing", 3, 0))
}

func TestRefreshStrategyStartsCycle(t *testing.T) {
	cycles := &fakeCycles{}
	h := NewPortfolioHandler(cycles, &fakeMarket{}, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.RefreshStrategyHandler(rec, httptest.NewRequest("POST", "/api/portfolios/p1/strategy/refresh", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", decode(t, rec)["status"])
	assert.Equal(t, []string{"p1"}, cycles.triggered)
}

func TestRefreshStrategyConflict(t *testing.T) {
	h := NewPortfolioHandler(&fakeCycles{triggerErr: common.ErrCycleInProgress}, &fakeMarket{}, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.RefreshStrategyHandler(rec, httptest.NewRequest("POST", "/api/portfolios/p1/strategy/refresh", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.RefreshStrategyHandler(rec, httptest.NewRequest("GET", "/api/portfolios/p1/strategy/refresh", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRefreshPricesReturnsSummary(t *testing.T) {
	cycles := &fakeCycles{summary: &models.CycleSummary{PortfolioID: "p1", Total: 2, Succeeded: 2, Changed: 1, Unchanged: 1}}
	h := NewPortfolioHandler(cycles, &fakeMarket{}, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.RefreshPricesHandler(rec, httptest.NewRequest("POST", "/api/portfolios/p1/prices/refresh", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.CycleSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Changed)
	assert.Equal(t, 2, summary.Succeeded)
}

func TestMarketSummaryIncludesStatus(t *testing.T) {
	h := NewPortfolioHandler(&fakeCycles{}, &fakeMarket{}, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.MarketSummaryHandler(rec, httptest.NewRequest("GET", "/api/portfolios/p1/market-summary", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "p1", body["portfolio_id"])
	assert.NotNil(t, body["status"])
	assert.Nil(t, body["summary"])
}

func newHoldingFixture(t *testing.T) (*HoldingHandler, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.SavePortfolio(ctx, &models.Portfolio{ID: "p1", OwnerID: "u1", Name: "Main"}))
	require.NoError(t, store.SaveHolding(ctx, &models.Holding{ID: "h1", PortfolioID: "p1", Symbol: "KRX:005930", Name: "Samsung Electronics"}))

	logger := arbor.NewLogger()
	return NewHoldingHandler(store, keywords.NewService(store, logger), logger), store
}

func TestKeywordLifecycle(t *testing.T) {
	h, _ := newHoldingFixture(t)

	rec := httptest.NewRecorder()
	h.KeywordsHandler(rec, httptest.NewRequest("POST", "/api/holdings/h1/keywords", strings.NewReader(`{"keyword":"HBM","priority":4}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "HBM", decode(t, rec)["text"])

	rec = httptest.NewRecorder()
	h.KeywordsHandler(rec, httptest.NewRequest("GET", "/api/holdings/h1/keywords", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "HBM")

	rec = httptest.NewRecorder()
	h.KeywordsHandler(rec, httptest.NewRequest("DELETE", "/api/holdings/h1/keywords?keyword=hbm", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.KeywordsHandler(rec, httptest.NewRequest("GET", "/api/holdings/h1/keywords", nil))
	assert.NotContains(t, rec.Body.String(), "HBM")
}

func TestKeywordValidation(t *testing.T) {
	h, _ := newHoldingFixture(t)

	rec := httptest.NewRecorder()
	h.KeywordsHandler(rec, httptest.NewRequest("POST", "/api/holdings/h1/keywords", strings.NewReader(`{"keyword":"HBM","priority":9}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.KeywordsHandler(rec, httptest.NewRequest("POST", "/api/holdings/h1/keywords", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.KeywordsHandler(rec, httptest.NewRequest("POST", "/api/holdings/missing/keywords", strings.NewReader(`{"keyword":"HBM","priority":3}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.KeywordsHandler(rec, httptest.NewRequest("DELETE", "/api/holdings/h1/keywords?keyword=never-added", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStrategyHandlerReturnsCurrentAndHistory(t *testing.T) {
	h, store := newHoldingFixture(t)
	ctx := context.Background()

	first := &models.StrategyDecision{ID: "d1", HoldingID: "h1", Action: models.ActionHold, CreatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, store.AppendStrategyDecision(ctx, first))
	second := &models.StrategyDecision{ID: "d2", HoldingID: "h1", Action: models.ActionBuy, SupersedesID: "d1", CreatedAt: time.Now()}
	require.NoError(t, store.AppendStrategyDecision(ctx, second))

	rec := httptest.NewRecorder()
	h.StrategyHandler(rec, httptest.NewRequest("GET", "/api/holdings/h1/strategy", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Current *models.StrategyDecision   `json:"current"`
		History []*models.StrategyDecision `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Current)
	assert.Equal(t, "d2", body.Current.ID)
	assert.Len(t, body.History, 2)

	rec = httptest.NewRecorder()
	h.StrategyHandler(rec, httptest.NewRequest("GET", "/api/holdings/nope/strategy", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewsSummaryHandler(t *testing.T) {
	h, store := newHoldingFixture(t)
	now := time.Now()

	require.NoError(t, store.SaveArticles(context.Background(), "h1", []*models.NewsArticle{
		{DedupKey: "a", HoldingID: "h1", Title: "Chip demand rises", PublishedAt: now.Add(-time.Hour), CollectedAt: now, Relevance: 0.8, Sentiment: models.SentimentPositive},
		{DedupKey: "b", HoldingID: "h1", Title: "Plant outage", PublishedAt: now.Add(-2 * time.Hour), CollectedAt: now, Relevance: 0.6, Sentiment: models.SentimentNegative},
	}))

	rec := httptest.NewRecorder()
	h.NewsSummaryHandler(rec, httptest.NewRequest("GET", "/api/holdings/h1/news-summary?days=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.NewsSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.Days)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Positive)
	assert.Equal(t, 1, summary.Negative)

	rec = httptest.NewRecorder()
	h.NewsSummaryHandler(rec, httptest.NewRequest("GET", "/api/holdings/zzz/news-summary", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIHandlers(t *testing.T) {
	h := NewAPIHandler(arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest("GET", "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = httptest.NewRecorder()
	h.VersionHandler(rec, httptest.NewRequest("GET", "/api/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "version")

	rec = httptest.NewRecorder()
	h.NotFoundHandler(rec, httptest.NewRequest("GET", "/api/nothing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

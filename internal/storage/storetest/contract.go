// Package storetest holds the behaviour every PortfolioStore must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) interfaces.PortfolioStore

// Run exercises the store contract against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("PortfoliosAndHoldings", func(t *testing.T) { testPortfoliosAndHoldings(t, factory(t)) })
	t.Run("Keywords", func(t *testing.T) { testKeywords(t, factory(t)) })
	t.Run("DecisionSingleCurrent", func(t *testing.T) { testDecisionSingleCurrent(t, factory(t)) })
	t.Run("DecisionConflict", func(t *testing.T) { testDecisionConflict(t, factory(t)) })
	t.Run("DecisionConcurrentWriters", func(t *testing.T) { testDecisionConcurrentWriters(t, factory(t)) })
	t.Run("SnapshotMonotonic", func(t *testing.T) { testSnapshotMonotonic(t, factory(t)) })
	t.Run("Articles", func(t *testing.T) { testArticles(t, factory(t)) })
}

func testPortfoliosAndHoldings(t *testing.T, store interfaces.PortfolioStore) {
	ctx := context.Background()

	require.NoError(t, store.SavePortfolio(ctx, &models.Portfolio{ID: "p1", OwnerID: "u1", Name: "Core"}))
	require.NoError(t, store.SaveHolding(ctx, &models.Holding{ID: "h2", PortfolioID: "p1", Symbol: "KRX:000660", Name: "SK하이닉스"}))
	require.NoError(t, store.SaveHolding(ctx, &models.Holding{ID: "h1", PortfolioID: "p1", Symbol: "KRX:005930", Name: "삼성전자", LastPrice: 70000}))
	require.NoError(t, store.SaveHolding(ctx, &models.Holding{ID: "hx", PortfolioID: "p2", Symbol: "KRX:035420"}))

	portfolios, err := store.ListPortfolios(ctx)
	require.NoError(t, err)
	require.Len(t, portfolios, 1)
	assert.Equal(t, "u1", portfolios[0].OwnerID)

	_, err = store.GetPortfolio(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	holdings, err := store.GetHoldings(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, "h1", holdings[0].ID)
	assert.Equal(t, "h2", holdings[1].ID)

	at := time.Date(2026, 10, 14, 1, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateHoldingPrice(ctx, "h1", 71000, at))
	h, err := store.GetHolding(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 71000.0, h.LastPrice)
	assert.True(t, at.Equal(h.LastUpdated))

	assert.ErrorIs(t, store.UpdateHoldingPrice(ctx, "missing", 1, at), common.ErrNotFound)
}

func testKeywords(t *testing.T, store interfaces.PortfolioStore) {
	ctx := context.Background()

	require.NoError(t, store.SaveKeyword(ctx, &models.Keyword{ID: "k1", HoldingID: "h1", Text: "실적", Priority: 3, Active: true}))
	require.NoError(t, store.SaveKeyword(ctx, &models.Keyword{ID: "k2", HoldingID: "h1", Text: "삼성전자", Priority: 5, Active: true}))
	require.NoError(t, store.SaveKeyword(ctx, &models.Keyword{ID: "k3", HoldingID: "h2", Text: "other", Priority: 5, Active: true}))

	keywords, err := store.GetKeywords(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, keywords, 2)
	assert.Equal(t, "삼성전자", keywords[0].Text)

	keywords[1].Active = false
	require.NoError(t, store.SaveKeyword(ctx, keywords[1]))
	keywords, err = store.GetKeywords(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, keywords[1].Active)
}

func decision(id, holdingID, supersedes string, action models.Action, confidence float64, at time.Time) *models.StrategyDecision {
	return &models.StrategyDecision{
		ID:           id,
		HoldingID:    holdingID,
		Action:       action,
		Confidence:   confidence,
		Rationale:    "test",
		CreatedAt:    at,
		SupersedesID: supersedes,
	}
}

func testDecisionSingleCurrent(t *testing.T, store interfaces.PortfolioStore) {
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	current, err := store.GetCurrentDecision(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, current)

	require.NoError(t, store.AppendStrategyDecision(ctx, decision("d1", "h1", "", models.ActionHold, 0.5, base)))
	require.NoError(t, store.AppendStrategyDecision(ctx, decision("d2", "h1", "d1", models.ActionBuy, 0.8, base.Add(time.Hour))))
	require.NoError(t, store.AppendStrategyDecision(ctx, decision("d3", "h1", "d2", models.ActionSell, 0.7, base.Add(2*time.Hour))))

	current, err = store.GetCurrentDecision(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "d3", current.ID)
	assert.Equal(t, "d2", current.SupersedesID)

	history, err := store.ListDecisions(ctx, "h1", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	currentCount := 0
	for _, d := range history {
		if d.Current {
			currentCount++
		}
	}
	assert.Equal(t, 1, currentCount)
	assert.Equal(t, "d3", history[0].ID)
	assert.Equal(t, models.ActionHold, history[2].Action)

	recent, err := store.ListDecisions(ctx, "h1", base.Add(90*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	limited, err := store.ListDecisions(ctx, "h1", time.Time{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func testDecisionConflict(t *testing.T, store interfaces.PortfolioStore) {
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.AppendStrategyDecision(ctx, decision("d1", "h1", "", models.ActionHold, 0.5, now)))

	// Stale writer still believes there is no current decision
	err := store.AppendStrategyDecision(ctx, decision("d2", "h1", "", models.ActionBuy, 0.9, now))
	assert.ErrorIs(t, err, common.ErrDecisionConflict)

	current, err := store.GetCurrentDecision(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "d1", current.ID)
}

func testDecisionConcurrentWriters(t *testing.T, store interfaces.PortfolioStore) {
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.AppendStrategyDecision(ctx, decision("seed", "h1", "", models.ActionHold, 0.5, now)))

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := decision(common.NewID("dec"), "h1", "seed", models.ActionBuy, 0.9, now.Add(time.Duration(i)*time.Millisecond))
			if err := store.AppendStrategyDecision(ctx, d); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, common.ErrDecisionConflict)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	history, err := store.ListDecisions(ctx, "h1", time.Time{}, 0)
	require.NoError(t, err)
	currentCount := 0
	for _, d := range history {
		if d.Current {
			currentCount++
		}
	}
	assert.Equal(t, 1, currentCount)
}

func testSnapshotMonotonic(t *testing.T, store interfaces.PortfolioStore) {
	ctx := context.Background()
	t0 := time.Date(2026, 10, 14, 0, 5, 0, 0, time.UTC)

	latest, err := store.LatestSnapshot(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, store.UpsertSnapshot(ctx, &models.PriceSnapshot{HoldingID: "h1", Price: 100, Timestamp: t0, Session: models.SessionOpen}))
	require.NoError(t, store.UpsertSnapshot(ctx, &models.PriceSnapshot{HoldingID: "h1", Price: 101, Timestamp: t0.Add(5 * time.Minute), Session: models.SessionOpen}))

	// Same timestamp updates in place
	require.NoError(t, store.UpsertSnapshot(ctx, &models.PriceSnapshot{HoldingID: "h1", Price: 101, Timestamp: t0.Add(5 * time.Minute), Session: models.SessionOpen, Stale: true}))

	// Older timestamp is rejected
	err = store.UpsertSnapshot(ctx, &models.PriceSnapshot{HoldingID: "h1", Price: 99, Timestamp: t0.Add(time.Minute)})
	assert.ErrorIs(t, err, common.ErrInvariantViolation)

	snapshots, err := store.ListSnapshots(ctx, "h1", 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, 100.0, snapshots[0].Price)
	assert.True(t, snapshots[1].Stale)
	for i := 1; i < len(snapshots); i++ {
		assert.True(t, snapshots[i].Timestamp.After(snapshots[i-1].Timestamp))
	}

	latest, err = store.LatestSnapshot(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 101.0, latest.Price)
	assert.True(t, latest.Stale)

	limited, err := store.ListSnapshots(ctx, "h1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 101.0, limited[0].Price)
}

func testArticles(t *testing.T, store interfaces.PortfolioStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	articles := []*models.NewsArticle{
		{DedupKey: "a", Title: "old", PublishedAt: now.Add(-10 * 24 * time.Hour), Sentiment: models.SentimentNeutral},
		{DedupKey: "b", Title: "new", PublishedAt: now.Add(-time.Hour), Sentiment: models.SentimentPositive, Relevance: 0.8},
	}
	require.NoError(t, store.SaveArticles(ctx, "h1", articles))
	// Re-saving the same key does not duplicate
	require.NoError(t, store.SaveArticles(ctx, "h1", articles[1:]))

	all, err := store.ListArticles(ctx, "h1", time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].DedupKey)
	assert.Equal(t, "h1", all[0].HoldingID)

	recent, err := store.ListArticles(ctx, "h1", now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)

	other, err := store.ListArticles(ctx, "h2", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

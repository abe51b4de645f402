package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/models"
	"github.com/ternarybob/tradepulse/internal/services/events"
	"github.com/ternarybob/tradepulse/internal/services/strategy"
)

type holdingOutcome int

const (
	outcomeFailed holdingOutcome = iota
	outcomeChanged
	outcomeUnchanged
	outcomeDegraded
)

// strategyCycle evaluates every holding of the portfolio concurrently. One
// holding failing never affects the others.
func (o *Orchestrator) strategyCycle(ctx context.Context, portfolio *models.Portfolio) (*models.StrategyCycleResult, error) {
	result := &models.StrategyCycleResult{PortfolioID: portfolio.ID, StartedAt: time.Now()}

	holdings, err := o.store.GetHoldings(ctx, portfolio.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load holdings for %s: %w", portfolio.ID, err)
	}
	result.Holdings = len(holdings)

	var mu sync.Mutex
	outcomes := make([]holdingOutcome, len(holdings))

	var wg sync.WaitGroup
	for i, holding := range holdings {
		common.SafeGoGroup(&wg, o.logger, "strategy-holding-"+holding.ID, func() {
			outcome := outcomeFailed
			eval, err := o.evaluateHolding(ctx, portfolio, holding)
			switch {
			case err != nil:
				o.logger.Warn().
					Str("portfolio_id", portfolio.ID).
					Str("holding_id", holding.ID).
					Str("symbol", holding.Symbol).
					Err(err).
					Msg("Holding pipeline failed")
			case eval.Degraded:
				outcome = outcomeDegraded
			case eval.Changed:
				outcome = outcomeChanged
			default:
				outcome = outcomeUnchanged
			}
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
		})
	}
	wg.Wait()

	for _, outcome := range outcomes {
		switch outcome {
		case outcomeChanged:
			result.Changed++
		case outcomeUnchanged:
			result.Unchanged++
		case outcomeDegraded:
			result.Degraded++
		default:
			result.Failed++
		}
	}
	result.CompletedAt = time.Now()

	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	o.logger.Info().
		Str("portfolio_id", portfolio.ID).
		Int("holdings", result.Holdings).
		Int("changed", result.Changed).
		Int("unchanged", result.Unchanged).
		Int("degraded", result.Degraded).
		Int("failed", result.Failed).
		Dur("duration", result.CompletedAt.Sub(result.StartedAt)).
		Msg("Strategy cycle complete")
	return result, nil
}

// evaluateHolding runs keywords, collect, rank, trend and evaluate for one
// holding, then keeps the ranked articles for news summaries.
func (o *Orchestrator) evaluateHolding(ctx context.Context, portfolio *models.Portfolio, holding *models.Holding) (*strategy.Evaluation, error) {
	keywords, err := o.keywords.Keywords(ctx, holding)
	if err != nil {
		return nil, fmt.Errorf("keywords: %w", err)
	}

	collected, err := o.crawler.Collect(ctx, keywords)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	ranked := o.ranker.Rank(collected.Articles, keywords, collected.Incomplete())
	o.alertHighImpact(ctx, portfolio, holding, ranked.Articles)

	snapshots, err := o.store.ListSnapshots(ctx, holding.ID, o.config.TrendWindow)
	if err != nil {
		return nil, fmt.Errorf("price trend: %w", err)
	}
	trend := models.NewPriceTrend(holding.Symbol, snapshots)

	eval, err := o.engine.Evaluate(ctx, holding, ranked, trend)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	if len(ranked.Articles) > 0 {
		if err := o.store.SaveArticles(ctx, holding.ID, ranked.Articles); err != nil {
			o.logger.Warn().Str("holding_id", holding.ID).Err(err).Msg("Failed to store ranked articles")
		}
	}
	return eval, nil
}

// alertHighImpact emits NEWS_ALERT for ranked articles at or above the alert
// threshold. Each article alerts once per holding within AlertTTL.
func (o *Orchestrator) alertHighImpact(ctx context.Context, portfolio *models.Portfolio, holding *models.Holding, articles []*models.NewsArticle) int {
	if o.config.AlertThreshold <= 0 || o.bus == nil {
		return 0
	}

	now := time.Now()
	var fresh []*models.NewsArticle

	o.alertMu.Lock()
	for key, at := range o.alerted {
		if now.Sub(at) > o.config.AlertTTL {
			delete(o.alerted, key)
		}
	}
	for _, article := range articles {
		if article.Relevance < o.config.AlertThreshold {
			continue
		}
		key := holding.ID + "|" + article.DedupKey
		if _, seen := o.alerted[key]; seen {
			continue
		}
		o.alerted[key] = now
		fresh = append(fresh, article)
	}
	o.alertMu.Unlock()

	for _, article := range fresh {
		err := events.Emit(ctx, o.bus, &models.NotificationEvent{
			Type:        models.NotificationNewsAlert,
			UserID:      portfolio.OwnerID,
			PortfolioID: portfolio.ID,
			HoldingID:   holding.ID,
			Payload: map[string]interface{}{
				"symbol":       holding.Symbol,
				"title":        article.Title,
				"url":          article.URL,
				"source":       article.SourceID,
				"relevance":    article.Relevance,
				"sentiment":    string(article.Sentiment),
				"published_at": article.PublishedAt,
			},
		})
		if err != nil {
			o.logger.Warn().Str("holding_id", holding.ID).Err(err).Msg("Failed to emit news alert")
		}
	}
	return len(fresh)
}

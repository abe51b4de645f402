package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
	"github.com/ternarybob/tradepulse/internal/services/analysis"
	"github.com/ternarybob/tradepulse/internal/services/events"
	"github.com/ternarybob/tradepulse/internal/services/relevance"
)

// Analyzer builds prompts and produces verdicts.
type Analyzer interface {
	BuildBundle(holding *models.Holding, articles []*models.NewsArticle, trend models.PriceTrend, current *models.StrategyDecision) *models.PromptBundle
	Analyze(ctx context.Context, bundle *models.PromptBundle) (*analysis.Verdict, error)
}

// Evaluation is the outcome of one holding evaluation.
type Evaluation struct {
	Decision *models.StrategyDecision // the current decision after evaluation, nil if none
	Previous *models.StrategyDecision
	Changed  bool
	Degraded bool
	Dropped  int
	Err      error // inference failure behind a degraded evaluation
}

// Engine turns verdicts into stored decisions with change detection. Writes
// are serialized per holding.
type Engine struct {
	analyzer        Analyzer
	store           interfaces.PortfolioStore
	bus             interfaces.EventService
	confidenceDelta float64
	logger          arbor.ILogger
	now             func() time.Time

	locks sync.Map // holding id -> *sync.Mutex
}

// NewEngine creates a strategy engine.
func NewEngine(analyzer Analyzer, store interfaces.PortfolioStore, bus interfaces.EventService, config common.StrategyConfig, logger arbor.ILogger) *Engine {
	return &Engine{
		analyzer:        analyzer,
		store:           store,
		bus:             bus,
		confidenceDelta: config.ConfidenceDelta,
		logger:          logger,
		now:             time.Now,
	}
}

func (e *Engine) lock(holdingID string) func() {
	m, _ := e.locks.LoadOrStore(holdingID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// IsChange reports whether next should replace current.
func (e *Engine) IsChange(current *models.StrategyDecision, next models.Verdict) bool {
	if current == nil {
		return true
	}
	if current.Action != next.Action {
		return true
	}
	return math.Abs(current.Confidence-next.Confidence) > e.confidenceDelta
}

// Evaluate analyses one holding and replaces its current decision when the
// verdict is a meaningful change. When inference fails the current decision
// is kept and a DEGRADED event is emitted; that is not an error.
func (e *Engine) Evaluate(ctx context.Context, holding *models.Holding, ranked *relevance.RankResult, trend models.PriceTrend) (*Evaluation, error) {
	unlock := e.lock(holding.ID)
	defer unlock()

	if ranked == nil {
		ranked = &relevance.RankResult{}
	}

	current, err := e.store.GetCurrentDecision(ctx, holding.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load current decision for %s: %w", holding.ID, err)
	}

	bundle := e.analyzer.BuildBundle(holding, ranked.Articles, trend, current)
	verdict, err := e.analyzer.Analyze(ctx, bundle)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn().
			Str("holding_id", holding.ID).
			Str("symbol", holding.Symbol).
			Str("kind", string(common.Classify(err))).
			Err(err).
			Msg("Inference failed, keeping current decision")

		e.emitDegraded(ctx, holding, current, err)
		return &Evaluation{Decision: current, Previous: current, Degraded: true, Dropped: bundle.DroppedArticles, Err: err}, nil
	}

	result := &Evaluation{Decision: current, Previous: current, Dropped: bundle.DroppedArticles}
	if !e.IsChange(current, verdict.Verdict) {
		e.logger.Debug().
			Str("holding_id", holding.ID).
			Str("action", string(verdict.Action)).
			Float64("confidence", verdict.Confidence).
			Msg("Verdict unchanged, discarded")
		return result, nil
	}

	decision := &models.StrategyDecision{
		ID:              common.NewID("dec"),
		HoldingID:       holding.ID,
		Action:          verdict.Action,
		Rationale:       rationale(verdict, bundle, ranked),
		Confidence:      verdict.Confidence,
		CreatedAt:       e.now(),
		Annotation:      verdict.Annotation,
		ArticleCount:    bundle.ArticleCount,
		DroppedArticles: bundle.DroppedArticles,
		Provider:        verdict.Provider,
	}
	if current != nil {
		decision.SupersedesID = current.ID
	}

	if err := e.store.AppendStrategyDecision(ctx, decision); err != nil {
		if errors.Is(err, common.ErrInvariantViolation) {
			e.logger.Error().Str("holding_id", holding.ID).Err(err).Msg("Decision history invariant violated")
		}
		return nil, fmt.Errorf("failed to store decision for %s: %w", holding.ID, err)
	}

	result.Decision = decision
	result.Changed = true

	e.logger.Info().
		Str("holding_id", holding.ID).
		Str("symbol", holding.Symbol).
		Str("action", string(decision.Action)).
		Float64("confidence", decision.Confidence).
		Msg("Strategy decision changed")

	e.emitChanged(ctx, holding, decision, current)
	return result, nil
}

func rationale(verdict *analysis.Verdict, bundle *models.PromptBundle, ranked *relevance.RankResult) string {
	text := verdict.Rationale
	if bundle.DroppedArticles > 0 {
		text += fmt.Sprintf(" [%d lower-ranked articles omitted to fit the prompt budget]", bundle.DroppedArticles)
	}
	if ranked.Incomplete {
		text += " [news coverage incomplete]"
	}
	return text
}

func (e *Engine) ownerOf(ctx context.Context, holding *models.Holding) string {
	portfolio, err := e.store.GetPortfolio(ctx, holding.PortfolioID)
	if err != nil {
		e.logger.Warn().Str("portfolio_id", holding.PortfolioID).Err(err).Msg("Portfolio owner lookup failed")
		return ""
	}
	return portfolio.OwnerID
}

func (e *Engine) emitChanged(ctx context.Context, holding *models.Holding, decision, previous *models.StrategyDecision) {
	payload := map[string]interface{}{
		"decision_id":   decision.ID,
		"symbol":        holding.Symbol,
		"name":          holding.Name,
		"action":        string(decision.Action),
		"confidence":    decision.Confidence,
		"rationale":     decision.Rationale,
		"article_count": decision.ArticleCount,
	}
	if previous != nil {
		payload["previous_action"] = string(previous.Action)
		payload["previous_confidence"] = previous.Confidence
	}
	if decision.Annotation != "" {
		payload["annotation"] = decision.Annotation
	}

	err := events.Emit(ctx, e.bus, &models.NotificationEvent{
		Type:        models.NotificationStrategyChanged,
		UserID:      e.ownerOf(ctx, holding),
		PortfolioID: holding.PortfolioID,
		HoldingID:   holding.ID,
		Payload:     payload,
	})
	if err != nil {
		e.logger.Warn().Str("holding_id", holding.ID).Err(err).Msg("Failed to emit strategy change")
	}
}

func (e *Engine) emitDegraded(ctx context.Context, holding *models.Holding, current *models.StrategyDecision, cause error) {
	payload := map[string]interface{}{
		"component": "strategy",
		"symbol":    holding.Symbol,
		"reason":    string(common.Classify(cause)),
		"message":   cause.Error(),
	}
	if current != nil {
		payload["current_action"] = string(current.Action)
	}

	err := events.Emit(ctx, e.bus, &models.NotificationEvent{
		Type:        models.NotificationDegraded,
		UserID:      e.ownerOf(ctx, holding),
		PortfolioID: holding.PortfolioID,
		HoldingID:   holding.ID,
		Payload:     payload,
	})
	if err != nil {
		e.logger.Warn().Str("holding_id", holding.ID).Err(err).Msg("Failed to emit degraded event")
	}
}

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/tradepulse/internal/models"
)

// PortfolioReader exposes read access to portfolios and holdings.
type PortfolioReader interface {
	ListPortfolios(ctx context.Context) ([]*models.Portfolio, error)
	GetPortfolio(ctx context.Context, portfolioID string) (*models.Portfolio, error)
	GetHoldings(ctx context.Context, portfolioID string) ([]*models.Holding, error)
	GetHolding(ctx context.Context, holdingID string) (*models.Holding, error)
}

// PortfolioWriter seeds portfolios and applies price updates.
type PortfolioWriter interface {
	SavePortfolio(ctx context.Context, portfolio *models.Portfolio) error
	SaveHolding(ctx context.Context, holding *models.Holding) error
	UpdateHoldingPrice(ctx context.Context, holdingID string, price float64, at time.Time) error
}

// KeywordStore persists per-holding keywords.
type KeywordStore interface {
	GetKeywords(ctx context.Context, holdingID string) ([]*models.Keyword, error)
	SaveKeyword(ctx context.Context, keyword *models.Keyword) error
}

// DecisionStore persists strategy decisions.
type DecisionStore interface {
	// AppendStrategyDecision archives the current decision named by
	// decision.SupersedesID and stores decision as current, atomically. It
	// returns ErrDecisionConflict when SupersedesID is not the stored current.
	AppendStrategyDecision(ctx context.Context, decision *models.StrategyDecision) error
	// GetCurrentDecision returns nil, nil when the holding has no decision.
	GetCurrentDecision(ctx context.Context, holdingID string) (*models.StrategyDecision, error)
	// ListDecisions returns newest first; since zero means all time.
	ListDecisions(ctx context.Context, holdingID string, since time.Time, limit int) ([]*models.StrategyDecision, error)
}

// SnapshotStore persists price snapshots.
type SnapshotStore interface {
	// UpsertSnapshot inserts a newer snapshot or updates the latest in place.
	// An older timestamp is an ErrInvariantViolation.
	UpsertSnapshot(ctx context.Context, snapshot *models.PriceSnapshot) error
	// LatestSnapshot returns nil, nil when the holding has none.
	LatestSnapshot(ctx context.Context, holdingID string) (*models.PriceSnapshot, error)
	// ListSnapshots returns up to limit snapshots, oldest first.
	ListSnapshots(ctx context.Context, holdingID string, limit int) ([]*models.PriceSnapshot, error)
}

// ArticleStore persists ranked articles for summary queries.
type ArticleStore interface {
	SaveArticles(ctx context.Context, holdingID string, articles []*models.NewsArticle) error
	ListArticles(ctx context.Context, holdingID string, since time.Time) ([]*models.NewsArticle, error)
}

// PortfolioStore is the full persistence contract used by the pipeline.
type PortfolioStore interface {
	PortfolioReader
	PortfolioWriter
	KeywordStore
	DecisionStore
	SnapshotStore
	ArticleStore
	Close() error
}

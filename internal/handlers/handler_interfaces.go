package handlers

import (
	"context"

	"github.com/ternarybob/tradepulse/internal/models"
	"github.com/ternarybob/tradepulse/internal/services/keywords"
	"github.com/ternarybob/tradepulse/internal/services/prices"
)

// CycleRunner runs portfolio cycles on demand.
type CycleRunner interface {
	TriggerStrategyCycle(ctx context.Context, portfolioID string) error
	RunPriceCycle(ctx context.Context, portfolioID string) (*models.CycleSummary, error)
}

// MarketStatusReader exposes the price scheduler's last results.
type MarketStatusReader interface {
	MarketSummary(portfolioID string) (*models.CycleSummary, bool)
	Status(portfolioID string) prices.Status
}

// KeywordEditor edits a holding's custom keywords.
type KeywordEditor interface {
	Keywords(ctx context.Context, holding *models.Holding) ([]*models.Keyword, error)
	AddKeyword(ctx context.Context, holdingID string, req keywords.AddKeywordRequest) (*models.Keyword, error)
	RemoveKeyword(ctx context.Context, holdingID, text string) error
}

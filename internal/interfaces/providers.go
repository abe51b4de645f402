package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/tradepulse/internal/models"
)

// QuoteProvider returns the latest price for an exchange-qualified symbol.
// It returns an error wrapping common.ErrProviderUnavailable when down.
type QuoteProvider interface {
	GetPrice(ctx context.Context, symbol string, asOf time.Time) (*models.Quote, error)
}

// NewsSource searches one upstream for articles matching a keyword.
type NewsSource interface {
	ID() string
	Search(ctx context.Context, keyword string) ([]models.RawArticle, error)
}

// InferenceService turns a prompt bundle into raw model text.
type InferenceService interface {
	Analyze(ctx context.Context, bundle *models.PromptBundle) (*models.InferenceResponse, error)
}

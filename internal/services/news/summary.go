package news

import (
	"github.com/ternarybob/tradepulse/internal/models"
)

// SummaryLatest is the number of articles carried in a NewsSummary.
const SummaryLatest = 5

// Summarize aggregates stored articles, given newest first, into sentiment
// counts and average relevance.
func Summarize(holdingID string, days int, articles []*models.NewsArticle) *models.NewsSummary {
	summary := &models.NewsSummary{
		HoldingID: holdingID,
		Days:      days,
		Total:     len(articles),
		Latest:    []*models.NewsArticle{},
	}

	relevance := 0.0
	for _, a := range articles {
		switch a.Sentiment {
		case models.SentimentPositive:
			summary.Positive++
		case models.SentimentNegative:
			summary.Negative++
		default:
			summary.Neutral++
		}
		relevance += a.Relevance
	}
	if len(articles) > 0 {
		summary.AverageRelevance = relevance / float64(len(articles))
	}

	latest := articles
	if len(latest) > SummaryLatest {
		latest = latest[:SummaryLatest]
	}
	summary.Latest = append(summary.Latest, latest...)
	return summary
}

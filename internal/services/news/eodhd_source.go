package news

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/eodhd"
	"github.com/ternarybob/tradepulse/internal/models"
)

// EODHDSourceID identifies articles from the EODHD news endpoint.
const EODHDSourceID = "eodhd"

var symbolLike = regexp.MustCompile(`^([A-Za-z]+[:.])?[0-9A-Z]{1,8}$`)

// EODHDSource searches the EODHD news API. Code-like keywords are queried as
// symbols, anything else as a topic tag.
type EODHDSource struct {
	client *eodhd.Client
	limit  int
	window time.Duration
}

// NewEODHDSource creates a news source over an EODHD client.
func NewEODHDSource(client *eodhd.Client, limit int, window time.Duration) *EODHDSource {
	if limit <= 0 {
		limit = 20
	}
	return &EODHDSource{client: client, limit: limit, window: window}
}

func (s *EODHDSource) ID() string {
	return EODHDSourceID
}

func (s *EODHDSource) Search(ctx context.Context, keyword string) ([]models.RawArticle, error) {
	opts := []eodhd.QueryOption{eodhd.WithLimit(s.limit)}
	if s.window > 0 {
		now := time.Now()
		opts = append(opts, eodhd.WithDateRange(now.Add(-s.window), now))
	}

	var symbols []string
	keyword = strings.TrimSpace(keyword)
	if symbolLike.MatchString(strings.ToUpper(keyword)) && strings.ContainsAny(keyword, "0123456789:.") {
		symbols = []string{common.ParseTicker(keyword).EODHDSymbol()}
	} else {
		opts = append(opts, eodhd.WithTopic(strings.ToLower(keyword)))
	}

	items, err := s.client.GetNews(ctx, symbols, opts...)
	if err != nil {
		return nil, err
	}

	articles := make([]models.RawArticle, 0, len(items))
	for _, item := range items {
		article := models.RawArticle{
			SourceID:    EODHDSourceID,
			Title:       item.Title,
			URL:         item.Link,
			Body:        item.Content,
			PublishedAt: item.Date,
		}
		if item.Sentiment != nil {
			polarity := item.Sentiment.Polarity
			article.Polarity = &polarity
		}
		articles = append(articles, article)
	}
	return articles, nil
}

package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/tradepulse/internal/models"
)

// SaveArticles upserts ranked articles keyed by holding and dedup key.
func (s *Store) SaveArticles(ctx context.Context, holdingID string, articles []*models.NewsArticle) error {
	if len(articles) == 0 {
		return nil
	}

	hold := s.db.Store()
	return hold.Badger().Update(func(tx *badger.Txn) error {
		for _, article := range articles {
			article.HoldingID = holdingID
			if err := hold.TxUpsert(tx, article.StorageKey(), article); err != nil {
				return fmt.Errorf("failed to save article %s: %w", article.DedupKey, err)
			}
		}
		return nil
	})
}

// ListArticles returns stored articles newest first.
func (s *Store) ListArticles(ctx context.Context, holdingID string, since time.Time) ([]*models.NewsArticle, error) {
	query := badgerhold.Where("HoldingID").Eq(holdingID)
	if !since.IsZero() {
		query = query.And("PublishedAt").Ge(since)
	}
	query = query.SortBy("PublishedAt").Reverse()

	var articles []models.NewsArticle
	if err := s.db.Store().Find(&articles, query); err != nil {
		return nil, fmt.Errorf("failed to list articles for %s: %w", holdingID, err)
	}

	result := make([]*models.NewsArticle, len(articles))
	for i := range articles {
		result[i] = &articles[i]
	}
	return result, nil
}

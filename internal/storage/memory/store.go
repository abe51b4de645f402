// Package memory provides an in-process PortfolioStore.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/models"
)

// Store keeps everything in maps guarded by one mutex. It enforces the same
// invariants as the badger store.
type Store struct {
	mu         sync.RWMutex
	portfolios map[string]*models.Portfolio
	holdings   map[string]*models.Holding
	keywords   map[string]*models.Keyword
	decisions  map[string][]*models.StrategyDecision // holding -> oldest first
	snapshots  map[string][]*models.PriceSnapshot    // holding -> oldest first
	articles   map[string]map[string]*models.NewsArticle
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		portfolios: make(map[string]*models.Portfolio),
		holdings:   make(map[string]*models.Holding),
		keywords:   make(map[string]*models.Keyword),
		decisions:  make(map[string][]*models.StrategyDecision),
		snapshots:  make(map[string][]*models.PriceSnapshot),
		articles:   make(map[string]map[string]*models.NewsArticle),
	}
}

func (s *Store) ListPortfolios(ctx context.Context) ([]*models.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Portfolio, 0, len(s.portfolios))
	for _, p := range s.portfolios {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetPortfolio(ctx context.Context, portfolioID string) (*models.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[portfolioID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetHoldings(ctx context.Context, portfolioID string) ([]*models.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*models.Holding{}
	for _, h := range s.holdings {
		if h.PortfolioID == portfolioID {
			cp := *h
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetHolding(ctx context.Context, holdingID string) (*models.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *Store) SavePortfolio(ctx context.Context, portfolio *models.Portfolio) error {
	if portfolio.ID == "" {
		return common.NewValidationError("portfolio id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *portfolio
	s.portfolios[cp.ID] = &cp
	return nil
}

func (s *Store) SaveHolding(ctx context.Context, holding *models.Holding) error {
	if holding.ID == "" || holding.PortfolioID == "" {
		return common.NewValidationError("holding id and portfolio id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *holding
	s.holdings[cp.ID] = &cp
	return nil
}

func (s *Store) UpdateHoldingPrice(ctx context.Context, holdingID string, price float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holdings[holdingID]
	if !ok {
		return common.ErrNotFound
	}
	h.LastPrice = price
	h.LastUpdated = at
	return nil
}

func (s *Store) GetKeywords(ctx context.Context, holdingID string) ([]*models.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*models.Keyword{}
	for _, k := range s.keywords {
		if k.HoldingID == holdingID {
			cp := *k
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].Text < result[j].Text
	})
	return result, nil
}

func (s *Store) SaveKeyword(ctx context.Context, keyword *models.Keyword) error {
	if keyword.ID == "" || keyword.HoldingID == "" {
		return common.NewValidationError("keyword id and holding id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *keyword
	s.keywords[cp.ID] = &cp
	return nil
}

func (s *Store) AppendStrategyDecision(ctx context.Context, decision *models.StrategyDecision) error {
	if decision.ID == "" || decision.HoldingID == "" {
		return common.NewValidationError("decision id and holding id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.decisions[decision.HoldingID]

	var current *models.StrategyDecision
	for _, d := range history {
		if d.Current {
			if current != nil {
				return common.NewInvariantViolation("holding %s has more than one current decision", decision.HoldingID)
			}
			current = d
		}
	}

	currentID := ""
	if current != nil {
		currentID = current.ID
	}
	if decision.SupersedesID != currentID {
		return common.ErrDecisionConflict
	}

	if current != nil {
		current.Current = false
	}
	cp := *decision
	cp.Current = true
	s.decisions[decision.HoldingID] = append(history, &cp)
	decision.Current = true
	return nil
}

func (s *Store) GetCurrentDecision(ctx context.Context, holdingID string) (*models.StrategyDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *models.StrategyDecision
	for _, d := range s.decisions[holdingID] {
		if d.Current {
			if current != nil {
				return nil, common.NewInvariantViolation("holding %s has more than one current decision", holdingID)
			}
			current = d
		}
	}
	if current == nil {
		return nil, nil
	}
	cp := *current
	return &cp, nil
}

func (s *Store) ListDecisions(ctx context.Context, holdingID string, since time.Time, limit int) ([]*models.StrategyDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.decisions[holdingID]
	result := []*models.StrategyDecision{}
	for i := len(history) - 1; i >= 0; i-- {
		d := history[i]
		if !since.IsZero() && d.CreatedAt.Before(since) {
			continue
		}
		cp := *d
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) UpsertSnapshot(ctx context.Context, snapshot *models.PriceSnapshot) error {
	if snapshot.HoldingID == "" {
		return common.NewValidationError("snapshot holding id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.snapshots[snapshot.HoldingID]
	if n := len(series); n > 0 {
		latest := series[n-1]
		switch {
		case snapshot.Timestamp.Equal(latest.Timestamp):
			cp := *snapshot
			cp.ID = latest.ID
			series[n-1] = &cp
			snapshot.ID = latest.ID
			return nil
		case snapshot.Timestamp.Before(latest.Timestamp):
			return common.NewInvariantViolation("snapshot for %s at %s precedes latest %s",
				snapshot.HoldingID, snapshot.Timestamp.Format(time.RFC3339), latest.Timestamp.Format(time.RFC3339))
		}
	}

	if snapshot.ID == "" {
		snapshot.ID = models.SnapshotKey(snapshot.HoldingID, snapshot.Timestamp)
	}
	cp := *snapshot
	s.snapshots[snapshot.HoldingID] = append(series, &cp)
	return nil
}

func (s *Store) LatestSnapshot(ctx context.Context, holdingID string) (*models.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.snapshots[holdingID]
	if len(series) == 0 {
		return nil, nil
	}
	cp := *series[len(series)-1]
	return &cp, nil
}

func (s *Store) ListSnapshots(ctx context.Context, holdingID string, limit int) ([]*models.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.snapshots[holdingID]
	start := 0
	if limit > 0 && len(series) > limit {
		start = len(series) - limit
	}
	result := make([]*models.PriceSnapshot, 0, len(series)-start)
	for _, snap := range series[start:] {
		cp := *snap
		result = append(result, &cp)
	}
	return result, nil
}

func (s *Store) SaveArticles(ctx context.Context, holdingID string, articles []*models.NewsArticle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.articles[holdingID]
	if !ok {
		bucket = make(map[string]*models.NewsArticle)
		s.articles[holdingID] = bucket
	}
	for _, a := range articles {
		cp := *a
		cp.HoldingID = holdingID
		bucket[cp.DedupKey] = &cp
	}
	return nil
}

func (s *Store) ListArticles(ctx context.Context, holdingID string, since time.Time) ([]*models.NewsArticle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*models.NewsArticle{}
	for _, a := range s.articles[holdingID] {
		if !since.IsZero() && a.PublishedAt.Before(since) {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PublishedAt.After(result[j].PublishedAt)
	})
	return result, nil
}

func (s *Store) Close() error {
	return nil
}

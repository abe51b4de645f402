package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
)

// Store implements interfaces.PortfolioStore on badgerhold.
type Store struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.PortfolioStore = (*Store)(nil)

// NewStore opens the database and wraps it as a PortfolioStore
func NewStore(logger arbor.ILogger, config *common.BadgerConfig) (*Store, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", config.Path).Msg("Badger portfolio store initialized")
	return &Store{db: db, logger: logger}, nil
}

// NewStoreWithDB wraps an already open database.
func NewStoreWithDB(db *BadgerDB, logger arbor.ILogger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListPortfolios(ctx context.Context) ([]*models.Portfolio, error) {
	var portfolios []models.Portfolio
	if err := s.db.Store().Find(&portfolios, nil); err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}

	result := make([]*models.Portfolio, len(portfolios))
	for i := range portfolios {
		result[i] = &portfolios[i]
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetPortfolio(ctx context.Context, portfolioID string) (*models.Portfolio, error) {
	var portfolio models.Portfolio
	err := s.db.Store().Get(portfolioID, &portfolio)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio %s: %w", portfolioID, err)
	}
	return &portfolio, nil
}

func (s *Store) SavePortfolio(ctx context.Context, portfolio *models.Portfolio) error {
	if portfolio.ID == "" {
		return common.NewValidationError("portfolio id is required")
	}
	if portfolio.CreatedAt.IsZero() {
		portfolio.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(portfolio.ID, portfolio); err != nil {
		return fmt.Errorf("failed to save portfolio %s: %w", portfolio.ID, err)
	}
	return nil
}

func (s *Store) GetHoldings(ctx context.Context, portfolioID string) ([]*models.Holding, error) {
	var holdings []models.Holding
	query := badgerhold.Where("PortfolioID").Eq(portfolioID).SortBy("ID")
	if err := s.db.Store().Find(&holdings, query); err != nil {
		return nil, fmt.Errorf("failed to list holdings for %s: %w", portfolioID, err)
	}

	result := make([]*models.Holding, len(holdings))
	for i := range holdings {
		result[i] = &holdings[i]
	}
	return result, nil
}

func (s *Store) GetHolding(ctx context.Context, holdingID string) (*models.Holding, error) {
	var holding models.Holding
	err := s.db.Store().Get(holdingID, &holding)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding %s: %w", holdingID, err)
	}
	return &holding, nil
}

func (s *Store) SaveHolding(ctx context.Context, holding *models.Holding) error {
	if holding.ID == "" || holding.PortfolioID == "" {
		return common.NewValidationError("holding id and portfolio id are required")
	}
	if holding.CreatedAt.IsZero() {
		holding.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(holding.ID, holding); err != nil {
		return fmt.Errorf("failed to save holding %s: %w", holding.ID, err)
	}
	return nil
}

func (s *Store) UpdateHoldingPrice(ctx context.Context, holdingID string, price float64, at time.Time) error {
	var holding models.Holding
	err := s.db.Store().Get(holdingID, &holding)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load holding %s: %w", holdingID, err)
	}

	holding.LastPrice = price
	holding.LastUpdated = at
	if err := s.db.Store().Update(holdingID, &holding); err != nil {
		return fmt.Errorf("failed to update holding price %s: %w", holdingID, err)
	}
	return nil
}

func (s *Store) GetKeywords(ctx context.Context, holdingID string) ([]*models.Keyword, error) {
	var keywords []models.Keyword
	query := badgerhold.Where("HoldingID").Eq(holdingID)
	if err := s.db.Store().Find(&keywords, query); err != nil {
		return nil, fmt.Errorf("failed to list keywords for %s: %w", holdingID, err)
	}

	result := make([]*models.Keyword, len(keywords))
	for i := range keywords {
		result[i] = &keywords[i]
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
	if err := s.db.Store().Upsert(keyword.ID, keyword); err != nil {
		return fmt.Errorf("failed to save keyword %s: %w", keyword.ID, err)
	}
	return nil
}

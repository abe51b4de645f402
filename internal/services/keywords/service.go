package keywords

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/interfaces"
	"github.com/ternarybob/tradepulse/internal/models"
)

const (
	namePriority    = models.MaxKeywordPriority
	codePriority    = 4
	derivedPriority = 3
)

// sectorTerms maps a word found in a holding name to search terms that
// usually carry news about that sector.
var sectorTerms = []struct {
	match []string
	terms []string
}{
	{match: []string{"전자", "electronics"}, terms: []string{"실적", "매출"}},
	{match: []string{"반도체", "semiconductor"}, terms: []string{"HBM", "수출"}},
	{match: []string{"바이오", "제약", "bio", "pharma"}, terms: []string{"신약", "임상"}},
	{match: []string{"자동차", "motor", "auto"}, terms: []string{"판매", "전기차"}},
	{match: []string{"화학", "chemical"}, terms: []string{"배터리", "유가"}},
	{match: []string{"금융", "은행", "bank", "financial"}, terms: []string{"금리", "배당"}},
}

// AddKeywordRequest is the validated input for a custom keyword.
type AddKeywordRequest struct {
	Keyword  string `json:"keyword" validate:"required,min=1,max=64"`
	Priority int    `json:"priority" validate:"gte=1,lte=5"`
}

// Service maintains each holding's keyword set.
type Service struct {
	store    interfaces.PortfolioStore
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewService creates a new keyword service
func NewService(store interfaces.PortfolioStore, logger arbor.ILogger) *Service {
	return &Service{
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

func keywordID(holdingID, text string) string {
	return holdingID + "/" + strings.ToLower(strings.TrimSpace(text))
}

// BaseKeywords returns the name, code and sector terms implied by a holding.
func BaseKeywords(holding *models.Holding) []*models.Keyword {
	var result []*models.Keyword
	seen := map[string]bool{}
	add := func(text string, priority int, origin models.KeywordOrigin) {
		text = strings.TrimSpace(text)
		key := strings.ToLower(text)
		if text == "" || seen[key] {
			return
		}
		seen[key] = true
		result = append(result, &models.Keyword{
			ID:        keywordID(holding.ID, text),
			HoldingID: holding.ID,
			Text:      text,
			Priority:  priority,
			Active:    true,
			Origin:    origin,
		})
	}

	add(holding.Name, namePriority, models.KeywordOriginBase)
	if holding.Symbol != "" {
		add(common.ParseTicker(holding.Symbol).Code, codePriority, models.KeywordOriginBase)
	}

	name := strings.ToLower(holding.Name)
	for _, sector := range sectorTerms {
		for _, m := range sector.match {
			if strings.Contains(name, m) {
				for _, term := range sector.terms {
					add(term, derivedPriority, models.KeywordOriginDerived)
				}
				break
			}
		}
	}
	return result
}

// Keywords returns the active keywords of a holding, seeding the base and
// derived keywords the first time they are missing. A base keyword that the
// user deactivated stays inactive.
func (s *Service) Keywords(ctx context.Context, holding *models.Holding) ([]*models.Keyword, error) {
	stored, err := s.store.GetKeywords(ctx, holding.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords for %s: %w", holding.ID, err)
	}

	known := make(map[string]bool, len(stored))
	for _, k := range stored {
		known[strings.ToLower(k.Text)] = true
	}

	now := time.Now()
	seeded := 0
	for _, k := range BaseKeywords(holding) {
		if known[strings.ToLower(k.Text)] {
			continue
		}
		k.CreatedAt = now
		if err := s.store.SaveKeyword(ctx, k); err != nil {
			return nil, fmt.Errorf("failed to seed keyword %q: %w", k.Text, err)
		}
		stored = append(stored, k)
		seeded++
	}
	if seeded > 0 {
		s.logger.Debug().
			Str("holding_id", holding.ID).
			Int("seeded", seeded).
			Msg("Seeded holding keywords")
	}

	active := make([]*models.Keyword, 0, len(stored))
	for _, k := range stored {
		if k.Active {
			active = append(active, k)
		}
	}
	return active, nil
}

// AddKeyword adds a custom keyword or re-activates an existing one with the
// new priority.
func (s *Service) AddKeyword(ctx context.Context, holdingID string, req AddKeywordRequest) (*models.Keyword, error) {
	req.Keyword = strings.TrimSpace(req.Keyword)
	if err := s.validate.Struct(req); err != nil {
		return nil, common.NewValidationError("invalid keyword: %v", err)
	}

	if _, err := s.store.GetHolding(ctx, holdingID); err != nil {
		return nil, err
	}

	existing, err := s.find(ctx, holdingID, req.Keyword)
	if err != nil {
		return nil, err
	}

	keyword := existing
	if keyword == nil {
		keyword = &models.Keyword{
			ID:        keywordID(holdingID, req.Keyword),
			HoldingID: holdingID,
			Text:      req.Keyword,
			Origin:    models.KeywordOriginCustom,
			CreatedAt: time.Now(),
		}
	}
	keyword.Priority = req.Priority
	keyword.Active = true

	if err := s.store.SaveKeyword(ctx, keyword); err != nil {
		s.logger.Error().Err(err).Str("holding_id", holdingID).Str("keyword", req.Keyword).Msg("Failed to save keyword")
		return nil, err
	}

	s.logger.Info().
		Str("holding_id", holdingID).
		Str("keyword", keyword.Text).
		Int("priority", keyword.Priority).
		Msg("Keyword added")
	return keyword, nil
}

// RemoveKeyword deactivates a keyword. History is kept so a later add
// re-activates it.
func (s *Service) RemoveKeyword(ctx context.Context, holdingID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return common.NewValidationError("keyword is required")
	}

	keyword, err := s.find(ctx, holdingID, text)
	if err != nil {
		return err
	}
	if keyword == nil {
		return fmt.Errorf("%w: keyword %q on holding %s", common.ErrNotFound, text, holdingID)
	}
	if !keyword.Active {
		return nil
	}

	keyword.Active = false
	if err := s.store.SaveKeyword(ctx, keyword); err != nil {
		return err
	}

	s.logger.Info().Str("holding_id", holdingID).Str("keyword", keyword.Text).Msg("Keyword deactivated")
	return nil
}

func (s *Service) find(ctx context.Context, holdingID, text string) (*models.Keyword, error) {
	stored, err := s.store.GetKeywords(ctx, holdingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords for %s: %w", holdingID, err)
	}
	for _, k := range stored {
		if strings.EqualFold(k.Text, text) {
			return k, nil
		}
	}
	return nil, nil
}

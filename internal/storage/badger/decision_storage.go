package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/models"
)

// AppendStrategyDecision flips the prior current decision to archived and
// inserts the new one inside a single badger transaction.
func (s *Store) AppendStrategyDecision(ctx context.Context, decision *models.StrategyDecision) error {
	if decision.ID == "" || decision.HoldingID == "" {
		return common.NewValidationError("decision id and holding id are required")
	}

	hold := s.db.Store()
	err := hold.Badger().Update(func(tx *badger.Txn) error {
		var currents []models.StrategyDecision
		query := badgerhold.Where("HoldingID").Eq(decision.HoldingID).And("Current").Eq(true)
		if err := hold.TxFind(tx, &currents, query); err != nil {
			return fmt.Errorf("failed to load current decision: %w", err)
		}
		if len(currents) > 1 {
			return common.NewInvariantViolation("holding %s has %d current decisions", decision.HoldingID, len(currents))
		}

		currentID := ""
		if len(currents) == 1 {
			currentID = currents[0].ID
		}
		if decision.SupersedesID != currentID {
			return fmt.Errorf("%w: holding %s expected current %q, found %q",
				common.ErrDecisionConflict, decision.HoldingID, decision.SupersedesID, currentID)
		}

		if len(currents) == 1 {
			archived := currents[0]
			archived.Current = false
			if err := hold.TxUpdate(tx, archived.ID, &archived); err != nil {
				return fmt.Errorf("failed to archive decision %s: %w", archived.ID, err)
			}
		}

		decision.Current = true
		if err := hold.TxInsert(tx, decision.ID, decision); err != nil {
			decision.Current = false
			return fmt.Errorf("failed to insert decision %s: %w", decision.ID, err)
		}
		return nil
	})

	if errors.Is(err, badger.ErrConflict) {
		decision.Current = false
		return fmt.Errorf("%w: concurrent write for holding %s", common.ErrDecisionConflict, decision.HoldingID)
	}
	return err
}

func (s *Store) GetCurrentDecision(ctx context.Context, holdingID string) (*models.StrategyDecision, error) {
	var currents []models.StrategyDecision
	query := badgerhold.Where("HoldingID").Eq(holdingID).And("Current").Eq(true)
	if err := s.db.Store().Find(&currents, query); err != nil {
		return nil, fmt.Errorf("failed to get current decision for %s: %w", holdingID, err)
	}

	switch len(currents) {
	case 0:
		return nil, nil
	case 1:
		return &currents[0], nil
	default:
		return nil, common.NewInvariantViolation("holding %s has %d current decisions", holdingID, len(currents))
	}
}

func (s *Store) ListDecisions(ctx context.Context, holdingID string, since time.Time, limit int) ([]*models.StrategyDecision, error) {
	query := badgerhold.Where("HoldingID").Eq(holdingID)
	if !since.IsZero() {
		query = query.And("CreatedAt").Ge(since)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var decisions []models.StrategyDecision
	if err := s.db.Store().Find(&decisions, query); err != nil {
		return nil, fmt.Errorf("failed to list decisions for %s: %w", holdingID, err)
	}

	result := make([]*models.StrategyDecision, len(decisions))
	for i := range decisions {
		result[i] = &decisions[i]
	}
	return result, nil
}

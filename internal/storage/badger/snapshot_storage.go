package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/tradepulse/internal/common"
	"github.com/ternarybob/tradepulse/internal/models"
)

// UpsertSnapshot enforces strictly increasing timestamps per holding. A
// snapshot at the latest timestamp replaces it (used to set the stale flag).
func (s *Store) UpsertSnapshot(ctx context.Context, snapshot *models.PriceSnapshot) error {
	if snapshot.HoldingID == "" {
		return common.NewValidationError("snapshot holding id is required")
	}

	hold := s.db.Store()
	return hold.Badger().Update(func(tx *badger.Txn) error {
		var latest []models.PriceSnapshot
		query := badgerhold.Where("HoldingID").Eq(snapshot.HoldingID).SortBy("Timestamp").Reverse().Limit(1)
		if err := hold.TxFind(tx, &latest, query); err != nil {
			return fmt.Errorf("failed to load latest snapshot: %w", err)
		}

		key := models.SnapshotKey(snapshot.HoldingID, snapshot.Timestamp)
		if len(latest) == 1 {
			prev := latest[0]
			switch {
			case snapshot.Timestamp.Equal(prev.Timestamp):
				key = prev.ID
			case snapshot.Timestamp.Before(prev.Timestamp):
				return common.NewInvariantViolation("snapshot for %s at %s precedes latest %s",
					snapshot.HoldingID, snapshot.Timestamp.Format(time.RFC3339), prev.Timestamp.Format(time.RFC3339))
			}
		}

		snapshot.ID = key
		if err := hold.TxUpsert(tx, key, snapshot); err != nil {
			return fmt.Errorf("failed to upsert snapshot %s: %w", key, err)
		}
		return nil
	})
}

func (s *Store) LatestSnapshot(ctx context.Context, holdingID string) (*models.PriceSnapshot, error) {
	var latest []models.PriceSnapshot
	query := badgerhold.Where("HoldingID").Eq(holdingID).SortBy("Timestamp").Reverse().Limit(1)
	if err := s.db.Store().Find(&latest, query); err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot for %s: %w", holdingID, err)
	}
	if len(latest) == 0 {
		return nil, nil
	}
	return &latest[0], nil
}

func (s *Store) ListSnapshots(ctx context.Context, holdingID string, limit int) ([]*models.PriceSnapshot, error) {
	query := badgerhold.Where("HoldingID").Eq(holdingID).SortBy("Timestamp").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var snapshots []models.PriceSnapshot
	if err := s.db.Store().Find(&snapshots, query); err != nil {
		return nil, fmt.Errorf("failed to list snapshots for %s: %w", holdingID, err)
	}

	// Oldest first
	result := make([]*models.PriceSnapshot, len(snapshots))
	for i := range snapshots {
		result[len(snapshots)-1-i] = &snapshots[i]
	}
	return result, nil
}
